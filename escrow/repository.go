package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no transaction exists for the identifier.
	ErrNotFound = errors.New("escrow: transaction not found")
	// ErrStaleVersion signals the optimistic version check failed; under the
	// row lock this indicates a raced writer and the unit is retried.
	ErrStaleVersion = errors.New("escrow: stale version")
)

// Store is the persistence surface the state machine needs. The pgx-backed
// Repository implements it; unit tests substitute fakes.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error)
	ApplyTransition(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	List(ctx context.Context, filters ListFilters) ([]Transaction, int, error)
}

// Repository persists escrow transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const txColumns = `id, buyer_id, seller_id, asset_ref, amount, currency, state, deadline, open_dispute_id, version, created_at, updated_at`

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	const q = `
INSERT INTO escrow_transactions (id, buyer_id, seller_id, asset_ref, amount, currency, state, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
RETURNING ` + txColumns + `
`
	rec, err := scanTransaction(tx.QueryRow(ctx, q, t.ID, t.BuyerID, t.SellerID, t.AssetRef, t.Amount, t.Currency, t.State))
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: insert: %w", err)
	}
	return rec, nil
}

// GetForUpdate locks the transaction row, serializing transitions per id.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	const q = `SELECT ` + txColumns + ` FROM escrow_transactions WHERE id = $1 FOR UPDATE`
	rec, err := scanTransaction(tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: get for update: %w", err)
	}
	return rec, nil
}

// ApplyTransition writes the new state guarded by the optimistic version.
// t carries the pre-transition version; the row ends at t.Version+1.
func (r *Repository) ApplyTransition(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	const q = `
UPDATE escrow_transactions
SET state = $1,
    deadline = $2,
    open_dispute_id = $3,
    version = version + 1,
    updated_at = now()
WHERE id = $4 AND version = $5
RETURNING ` + txColumns + `
`
	rec, err := scanTransaction(tx.QueryRow(ctx, q, t.State, t.Deadline, t.OpenDisputeID, t.ID, t.Version))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrStaleVersion
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: apply transition: %w", err)
	}
	return rec, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Transaction, error) {
	const q = `SELECT ` + txColumns + ` FROM escrow_transactions WHERE id = $1`
	rec, err := scanTransaction(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: get: %w", err)
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Transaction, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := `SELECT ` + txColumns + ` FROM escrow_transactions WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM escrow_transactions WHERE 1=1`
	args := []any{}
	if filters.PartyID != "" {
		args = append(args, filters.PartyID)
		cond := fmt.Sprintf(" AND (buyer_id = $%d OR seller_id = $%d)", len(args), len(args))
		query += cond
		countQuery += cond
	}
	if filters.State != "" {
		args = append(args, filters.State)
		cond := fmt.Sprintf(" AND state = $%d", len(args))
		query += cond
		countQuery += cond
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	rows, err := r.pool.Query(ctx, query, append(args, filters.PageSize, (filters.Page-1)*filters.PageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("escrow: list: %w", err)
	}
	defer rows.Close()

	records := []Transaction{}
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("escrow: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("escrow: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("escrow: count: %w", err)
	}
	return records, total, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID,
		&t.BuyerID,
		&t.SellerID,
		&t.AssetRef,
		&t.Amount,
		&t.Currency,
		&t.State,
		&t.Deadline,
		&t.OpenDisputeID,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}
	return t, nil
}
