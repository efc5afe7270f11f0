// Package oracles holds the SQL invariants checked during concurrency runs.
// Each query returns rows only when its invariant is violated.
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
			Name: "O1_single_accepted_offer",
			SQL: `SELECT order_id, COUNT(*) FROM offers
                  WHERE status = 'accepted'
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_acceptance_consistent",
			SQL: `SELECT o.id FROM orders o
                  JOIN offers f ON f.id = o.accepted_offer_id
                  WHERE f.status <> 'accepted'
                     OR f.technician_id <> o.technician_id
                     OR f.price <> o.final_price`,
		},
		{
			Name: "O3_split_sums_to_hold",
			SQL: `SELECT order_id FROM escrow_holds
                  WHERE state = 'split'
                    AND amount_to_client + amount_to_technician <> amount`,
		},
		{
			Name: "O4_terminal_escrow_state",
			SQL: `SELECT o.id, o.status, h.state FROM orders o
                  JOIN escrow_holds h ON h.order_id = o.id
                  WHERE (o.status = 'COMPLETED' AND h.state <> 'released')
                     OR (o.status = 'REFUNDED' AND h.state <> 'refunded')
                     OR (o.status = 'SETTLED' AND h.state <> 'split')`,
		},
		{
			Name: "O5_no_hold_before_acceptance",
			SQL: `SELECT o.id FROM orders o
                  JOIN escrow_holds h ON h.order_id = o.id
                  WHERE o.status IN ('OPEN', 'PENDING', 'CANCELLED')`,
		},
		{
			Name: "O6_resolved_dispute_complete",
			SQL: `SELECT id FROM disputes
                  WHERE status IN ('RESOLVED', 'CLOSED') AND decision IS NOT NULL
                    AND (amount_to_client IS NULL OR amount_to_technician IS NULL
                         OR resolver_id IS NULL OR resolved_at IS NULL)`,
		},
		{
			Name: "O7_disputed_order_has_dispute",
			SQL: `SELECT o.id FROM orders o
                  WHERE o.status = 'DISPUTED'
                    AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = o.id)`,
		},
		{
			Name: "O8_event_statuses_known",
			SQL: `SELECT id FROM order_events
                  WHERE type = 'ORDER_STATUS_CHANGED'
                    AND payload->>'next_status' NOT IN (
                        'OPEN', 'PENDING', 'AWAITING_CLIENT_ESCROW_CONFIRMATION', 'ACCEPTED',
                        'IN_PROGRESS', 'AWAITING_RELEASE', 'COMPLETED', 'DISPUTED',
                        'CANCELLED', 'REFUNDED', 'SETTLED')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name when every invariant holds.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
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
