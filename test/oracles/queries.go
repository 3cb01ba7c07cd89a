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
			// Remaining stock plus every live reservation must equal what was
			// seeded. Cancelled orders returned their units; everything else
			// still holds them.
			Name: "O1_stock_conservation",
			SQL: `SELECT l.id, l.quantity, s.initial_quantity FROM listings l
                  JOIN stress_listing_seed s ON s.listing_id = l.id
                  WHERE l.quantity + COALESCE((
                      SELECT SUM(o.quantity) FROM orders o
                      WHERE o.listing_id = l.id AND o.status <> 'cancelled'
                  ), 0) <> s.initial_quantity`,
		},
		{
			Name: "O2_no_negative_stock",
			SQL:  `SELECT id, quantity FROM listings WHERE quantity < 0`,
		},
		{
			Name: "O3_single_open_dispute",
			SQL: `SELECT order_id, COUNT(*) FROM disputes
                  WHERE status = 'open'
                  GROUP BY order_id HAVING COUNT(*) > 1`,
		},
		{
			// A resolved dispute must have left its order in a terminal state.
			Name: "O4_resolved_dispute_terminal_order",
			SQL: `SELECT d.id, o.status FROM disputes d
                  JOIN orders o ON o.id = d.order_id
                  WHERE d.status = 'resolved'
                    AND NOT EXISTS (
                        SELECT 1 FROM disputes d2
                        WHERE d2.order_id = o.id AND d2.status = 'open')
                    AND o.status NOT IN ('delivered','cancelled')`,
		},
		{
			Name: "O5_disputed_order_has_open_dispute",
			SQL: `SELECT o.id FROM orders o
                  WHERE o.status = 'disputed'
                    AND NOT EXISTS (
                        SELECT 1 FROM disputes d
                        WHERE d.order_id = o.id AND d.status = 'open')`,
		},
		{
			// Terminal transitions stamp their timestamp column.
			Name: "O6_terminal_timestamps",
			SQL: `SELECT id, status FROM orders
                  WHERE (status = 'delivered' AND delivered_at IS NULL)
                     OR (status = 'cancelled' AND cancelled_at IS NULL)
                     OR (status = 'shipped' AND shipped_at IS NULL)`,
		},
		{
			// The unit price snapshot never changes after placement and always
			// matches the listing price (the stress run never edits prices).
			Name: "O7_price_snapshot",
			SQL: `SELECT o.id FROM orders o
                  JOIN listings l ON l.id = o.listing_id
                  WHERE o.unit_price <> l.price OR o.unit_price <= 0`,
		},
		{
			Name: "O8_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			// Every order has a placement event on its timeline.
			Name: "O9_timeline_placement",
			SQL: `SELECT o.id FROM orders o
                  WHERE NOT EXISTS (
                      SELECT 1 FROM order_events e
                      WHERE e.order_id = o.id AND e.type = 'ORDER_PLACED')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name if all pass.
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
