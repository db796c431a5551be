package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend periodically kills one random database session of
// the current database, forcing connection loss mid-transaction. Every
// service under test must survive this: row locks release on abort and the
// retry layer picks the work back up.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	const query = `
		SELECT pg_terminate_backend(pid)
		FROM pg_stat_activity
		WHERE datname = current_database() AND pid <> pg_backend_pid()
		ORDER BY random()
		LIMIT 1`

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			// one kill per ~10s on average
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, query)
			}
		}
	}
}
