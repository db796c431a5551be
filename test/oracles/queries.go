package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_version_matches_audit_count",
			SQL: `SELECT t.id, t.version, COUNT(e.global_seq) AS entries
                  FROM escrow_transactions t
                  LEFT JOIN audit_entries e ON e.tx_id = t.id
                  GROUP BY t.id, t.version
                  HAVING t.version <> COUNT(e.global_seq)`,
		},
		{
			Name: "O2_audit_seq_dense",
			SQL: `WITH seqs AS (
                      SELECT tx_id, seq,
                             LAG(seq) OVER (PARTITION BY tx_id ORDER BY seq) AS prev
                      FROM audit_entries)
                  SELECT * FROM seqs
                  WHERE (prev IS NULL AND seq <> 1)
                     OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O3_single_open_dispute",
			SQL: `SELECT tx_id, COUNT(*) FROM dispute_links
                  WHERE resolution IS NULL
                  GROUP BY tx_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_disputed_state_has_open_link",
			SQL: `SELECT t.id, t.state, t.open_dispute_id FROM escrow_transactions t
                  WHERE t.state = 'disputed'
                    AND (t.open_dispute_id IS NULL
                         OR NOT EXISTS (SELECT 1 FROM dispute_links l
                                        WHERE l.tx_id = t.id AND l.resolution IS NULL))`,
		},
		{
			Name: "O5_deadline_only_while_held",
			SQL: `SELECT id, state, deadline FROM escrow_transactions
                  WHERE deadline IS NOT NULL AND state <> 'held'`,
		},
		{
			Name: "O6_anchor_ranges_disjoint",
			SQL: `SELECT a.id, a.from_seq, a.to_seq, b.id, b.from_seq, b.to_seq
                  FROM anchor_records a
                  JOIN anchor_records b ON a.id < b.id
                  WHERE a.from_seq <= b.to_seq AND b.from_seq <= a.to_seq`,
		},
		{
			Name: "O7_anchor_coverage_contiguous",
			SQL: `WITH ranges AS (
                      SELECT from_seq, to_seq,
                             LAG(to_seq) OVER (ORDER BY from_seq) AS prev_to
                      FROM anchor_records)
                  SELECT * FROM ranges
                  WHERE (prev_to IS NULL AND from_seq <> 1)
                     OR (prev_to IS NOT NULL AND from_seq <> prev_to + 1)`,
		},
		{
			Name: "O8_terminal_states_settled",
			SQL: `SELECT id, state, open_dispute_id FROM escrow_transactions
                  WHERE state IN ('released', 'refunded') AND open_dispute_id IS NOT NULL`,
		},
		{
			Name: "O9_audit_worm_guard",
			SQL: `SELECT 'missing_worm_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_modify_audit_entries')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
