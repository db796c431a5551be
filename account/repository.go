package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that no party exists for the identifier.
var ErrNotFound = errors.New("account: party not found")

// Repository persists parties in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id string) (Party, error) {
	const q = `SELECT id, name, kind, created_at FROM parties WHERE id = $1`
	var p Party
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.Kind, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Party{}, ErrNotFound
	}
	if err != nil {
		return Party{}, fmt.Errorf("account: get party: %w", err)
	}
	return p, nil
}

func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM parties WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("account: exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]Party, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, kind, created_at FROM parties ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("account: list: %w", err)
	}
	defer rows.Close()

	out := make([]Party, 0, limit)
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("account: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterate: %w", err)
	}
	return out, nil
}
