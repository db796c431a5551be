package anchor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no anchor record matches.
var ErrNotFound = errors.New("anchor: record not found")

// Store is the persistence surface required by the Service.
type Store interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	MarkSubmitted(ctx context.Context, id, receipt string) (Record, error)
	SetStatusByReceipt(ctx context.Context, receipt string, status Status) (Record, error)
	LastSubmitted(ctx context.Context) (Record, bool, error)
	EarliestFailed(ctx context.Context) (Record, bool, error)
	Pending(ctx context.Context) ([]Record, error)
	Covering(ctx context.Context, seq int64) (Record, bool, error)
}

// Repository persists anchor records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `id, from_seq, to_seq, root_hash, receipt, status, attempts, submitted_at, confirmed_at`

func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	const q = `
INSERT INTO anchor_records (id, from_seq, to_seq, root_hash, receipt, status, attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + recordColumns + `
`
	out, err := scanRecord(r.pool.QueryRow(ctx, q, rec.ID, rec.FromSeq, rec.ToSeq, rec.RootHash, rec.Receipt, rec.Status, rec.Attempts))
	if err != nil {
		return Record{}, fmt.Errorf("anchor: insert: %w", err)
	}
	return out, nil
}

// MarkSubmitted records a resubmission of a failed range: same bounds and
// root, fresh receipt, back to pending.
func (r *Repository) MarkSubmitted(ctx context.Context, id, receipt string) (Record, error) {
	const q = `
UPDATE anchor_records
SET receipt = $2,
    status = 'pending',
    attempts = attempts + 1,
    submitted_at = now()
WHERE id = $1
RETURNING ` + recordColumns + `
`
	out, err := scanRecord(r.pool.QueryRow(ctx, q, id, receipt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("anchor: mark submitted: %w", err)
	}
	return out, nil
}

// SetStatusByReceipt applies a confirmation or failure callback. Only
// pending records move; a late callback for an already-settled receipt is
// a no-op surfaced as ErrNotFound.
func (r *Repository) SetStatusByReceipt(ctx context.Context, receipt string, status Status) (Record, error) {
	const q = `
UPDATE anchor_records
SET status = $2,
    confirmed_at = CASE WHEN $2 = 'confirmed' THEN now() ELSE confirmed_at END
WHERE receipt = $1 AND status = 'pending'
RETURNING ` + recordColumns + `
`
	out, err := scanRecord(r.pool.QueryRow(ctx, q, receipt, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("anchor: set status: %w", err)
	}
	return out, nil
}

// LastSubmitted returns the record with the highest range end, regardless
// of status. New ranges start after it; failed ranges are resubmitted in
// place, so coverage never overlaps and never skips.
func (r *Repository) LastSubmitted(ctx context.Context) (Record, bool, error) {
	const q = `SELECT ` + recordColumns + ` FROM anchor_records ORDER BY to_seq DESC LIMIT 1`
	out, err := scanRecord(r.pool.QueryRow(ctx, q))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("anchor: last submitted: %w", err)
	}
	return out, true, nil
}

// EarliestFailed returns the oldest failed range awaiting resubmission.
func (r *Repository) EarliestFailed(ctx context.Context) (Record, bool, error) {
	const q = `SELECT ` + recordColumns + ` FROM anchor_records WHERE status = 'failed' ORDER BY from_seq ASC LIMIT 1`
	out, err := scanRecord(r.pool.QueryRow(ctx, q))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("anchor: earliest failed: %w", err)
	}
	return out, true, nil
}

// Pending returns unsettled records oldest first, for confirmation polls.
func (r *Repository) Pending(ctx context.Context) ([]Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM anchor_records WHERE status = 'pending' ORDER BY from_seq ASC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("anchor: pending: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("anchor: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("anchor: iterate: %w", err)
	}
	return out, nil
}

// Covering returns the confirmed record whose range contains seq.
func (r *Repository) Covering(ctx context.Context, seq int64) (Record, bool, error) {
	const q = `
SELECT ` + recordColumns + `
FROM anchor_records
WHERE status = 'confirmed' AND from_seq <= $1 AND to_seq >= $1
LIMIT 1
`
	out, err := scanRecord(r.pool.QueryRow(ctx, q, seq))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("anchor: covering: %w", err)
	}
	return out, true, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.FromSeq,
		&rec.ToSeq,
		&rec.RootHash,
		&rec.Receipt,
		&rec.Status,
		&rec.Attempts,
		&rec.SubmittedAt,
		&rec.ConfirmedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
