package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrWriteConflict signals a concurrent append raced past this one for
	// the same stream; the caller retries with a fresh prior hash.
	ErrWriteConflict = errors.New("ledger: write conflict")
)

// Store is the persistence surface required by the Service. The pgx-backed
// Repository implements it; tests substitute an in-memory fake.
type Store interface {
	LastEntry(ctx context.Context, tx pgx.Tx, txID string) (Entry, bool, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e Entry) (Entry, error)
	EntriesByStream(ctx context.Context, txID string) ([]Entry, error)
	StreamRange(ctx context.Context, txID string, fromSeq, toSeq, afterSeq int64, limit int) ([]Entry, error)
	GlobalRange(ctx context.Context, fromSeq, toSeq, afterSeq int64, limit int) ([]Entry, error)
	MaxGlobalSeq(ctx context.Context) (int64, error)
	HasBusinessEntries(ctx context.Context, fromSeq, toSeq int64) (bool, error)
}

// Repository persists audit entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `global_seq, tx_id, seq, prev_hash, hash, event, actor, from_state, to_state, at, metadata`

// LastEntry returns the newest entry of a stream, locking it so the next
// sequence number cannot be raced within the caller's transaction.
func (r *Repository) LastEntry(ctx context.Context, tx pgx.Tx, txID string) (Entry, bool, error) {
	const q = `
SELECT ` + entryColumns + `
FROM audit_entries
WHERE tx_id = $1
ORDER BY seq DESC
LIMIT 1
FOR UPDATE
`
	e, err := scanEntry(tx.QueryRow(ctx, q, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ledger: last entry: %w", err)
	}
	return e, true, nil
}

// InsertEntry appends the entry inside the caller's transaction. A unique
// violation on (tx_id, seq) means another append won the race.
func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e Entry) (Entry, error) {
	meta, err := json.Marshal(metaOrEmpty(e.Payload.Metadata))
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: marshal metadata: %w", err)
	}

	const q = `
INSERT INTO audit_entries (tx_id, seq, prev_hash, hash, event, actor, from_state, to_state, at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
RETURNING global_seq
`
	err = tx.QueryRow(ctx, q,
		e.TxID,
		e.Seq,
		e.PrevHash,
		e.Hash,
		e.Payload.Event,
		e.Payload.Actor,
		e.Payload.FromState,
		e.Payload.ToState,
		e.Payload.At.UTC(),
		meta,
	).Scan(&e.GlobalSeq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, ErrWriteConflict
		}
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return e, nil
}

// EntriesByStream returns the full ordered chain for a stream.
func (r *Repository) EntriesByStream(ctx context.Context, txID string) ([]Entry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM audit_entries
WHERE tx_id = $1
ORDER BY seq ASC
`
	rows, err := r.pool.Query(ctx, q, txID)
	if err != nil {
		return nil, fmt.Errorf("ledger: entries by stream: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// StreamRange pages through a stream's entries by per-stream sequence.
func (r *Repository) StreamRange(ctx context.Context, txID string, fromSeq, toSeq, afterSeq int64, limit int) ([]Entry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM audit_entries
WHERE tx_id = $1 AND seq >= $2 AND seq <= $3 AND seq > $4
ORDER BY seq ASC
LIMIT $5
`
	rows, err := r.pool.Query(ctx, q, txID, fromSeq, toSeq, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: stream range: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GlobalRange pages through the whole ledger by global sequence.
func (r *Repository) GlobalRange(ctx context.Context, fromSeq, toSeq, afterSeq int64, limit int) ([]Entry, error) {
	const q = `
SELECT ` + entryColumns + `
FROM audit_entries
WHERE global_seq >= $1 AND global_seq <= $2 AND global_seq > $3
ORDER BY global_seq ASC
LIMIT $4
`
	rows, err := r.pool.Query(ctx, q, fromSeq, toSeq, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: global range: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// MaxGlobalSeq returns the highest global sequence, zero when empty.
func (r *Repository) MaxGlobalSeq(ctx context.Context) (int64, error) {
	var max int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(global_seq), 0) FROM audit_entries`).Scan(&max); err != nil {
		return 0, fmt.Errorf("ledger: max global seq: %w", err)
	}
	return max, nil
}

// HasBusinessEntries reports whether the global range contains any entry
// outside the reserved sync stream. Ranges holding only sync events are
// not worth an anchor cycle of their own.
func (r *Repository) HasBusinessEntries(ctx context.Context, fromSeq, toSeq int64) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM audit_entries
    WHERE global_seq >= $1 AND global_seq <= $2 AND tx_id <> $3
)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, fromSeq, toSeq, SyncStream).Scan(&exists); err != nil {
		return false, fmt.Errorf("ledger: has business entries: %w", err)
	}
	return exists, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	out := make([]Entry, 0, 16)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e    Entry
		meta []byte
	)
	err := row.Scan(
		&e.GlobalSeq,
		&e.TxID,
		&e.Seq,
		&e.PrevHash,
		&e.Hash,
		&e.Payload.Event,
		&e.Payload.Actor,
		&e.Payload.FromState,
		&e.Payload.ToState,
		&e.Payload.At,
		&meta,
	)
	if err != nil {
		return Entry{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Payload.Metadata); err != nil {
			return Entry{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return e, nil
}

func metaOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
