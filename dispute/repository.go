package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateDispute signals an open link already exists for the
	// transaction; the existing link is untouched.
	ErrDuplicateDispute = errors.New("dispute: already open for transaction")
	// ErrNotFound is returned when no link exists for the identifier.
	ErrNotFound = errors.New("dispute: not found")
	// ErrAlreadyResolved rejects resolving a link twice.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
)

// Repository persists dispute links in PostgreSQL. Its tx-taking methods
// also implement the state machine's DisputeGate.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const linkColumns = `id, tx_id, opened_at, resolution, resolved_at`

// InsertLink reserves the single open link for a transaction inside the
// caller's transaction. The partial unique index on open links turns a
// concurrent duplicate into ErrDuplicateDispute.
func (r *Repository) InsertLink(ctx context.Context, tx pgx.Tx, id, txID string) (Link, error) {
	if id == "" {
		return Link{}, fmt.Errorf("dispute: missing dispute id")
	}
	const q = `
INSERT INTO dispute_links (id, tx_id)
VALUES ($1, $2)
RETURNING ` + linkColumns + `
`
	link, err := scanLink(tx.QueryRow(ctx, q, id, txID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Link{}, ErrDuplicateDispute
		}
		return Link{}, fmt.Errorf("dispute: insert link: %w", err)
	}
	return link, nil
}

// OpenLink reports the open link for a transaction, if any. Part of the
// transition guard, so it reads within the caller's transaction.
func (r *Repository) OpenLink(ctx context.Context, tx pgx.Tx, txID string) (string, bool, error) {
	const q = `SELECT id FROM dispute_links WHERE tx_id = $1 AND resolution IS NULL`
	var id string
	err := tx.QueryRow(ctx, q, txID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dispute: open link: %w", err)
	}
	return id, true, nil
}

// Resolution reports the recorded outcome of the transaction's most recent
// link. Unresolved links yield ok=false.
func (r *Repository) Resolution(ctx context.Context, tx pgx.Tx, txID string) (string, bool, error) {
	const q = `
SELECT resolution
FROM dispute_links
WHERE tx_id = $1
ORDER BY opened_at DESC
LIMIT 1
`
	var resolution *string
	err := tx.QueryRow(ctx, q, txID).Scan(&resolution)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dispute: resolution: %w", err)
	}
	if resolution == nil {
		return "", false, nil
	}
	return *resolution, true, nil
}

// Resolve records the outcome on an open link.
func (r *Repository) Resolve(ctx context.Context, disputeID string, outcome Outcome) (Link, error) {
	const q = `
UPDATE dispute_links
SET resolution = $2,
    resolved_at = now()
WHERE id = $1 AND resolution IS NULL
RETURNING ` + linkColumns + `
`
	link, err := scanLink(r.pool.QueryRow(ctx, q, disputeID, outcome))
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Link{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	const check = `SELECT resolution FROM dispute_links WHERE id = $1`
	var resolution *string
	if err := r.pool.QueryRow(ctx, check, disputeID).Scan(&resolution); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrNotFound
		}
		return Link{}, fmt.Errorf("dispute: resolve fetch: %w", err)
	}
	if resolution != nil {
		return Link{}, ErrAlreadyResolved
	}
	return Link{}, ErrNotFound
}

// Get returns a link by dispute id.
func (r *Repository) Get(ctx context.Context, disputeID string) (Link, error) {
	const q = `SELECT ` + linkColumns + ` FROM dispute_links WHERE id = $1`
	link, err := scanLink(r.pool.QueryRow(ctx, q, disputeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, ErrNotFound
	}
	if err != nil {
		return Link{}, fmt.Errorf("dispute: get: %w", err)
	}
	return link, nil
}

// ListByTx returns all links for a transaction, newest first.
func (r *Repository) ListByTx(ctx context.Context, txID string) ([]Link, error) {
	const q = `SELECT ` + linkColumns + ` FROM dispute_links WHERE tx_id = $1 ORDER BY opened_at DESC`
	rows, err := r.pool.Query(ctx, q, txID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Link, 0, 4)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	if err := row.Scan(&l.ID, &l.TxID, &l.OpenedAt, &l.Resolution, &l.ResolvedAt); err != nil {
		return Link{}, err
	}
	return l, nil
}
