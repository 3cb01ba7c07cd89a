package timeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Writer appends immutable audit events to order_events. Entries are written
// inside the caller's transaction so the audit trail and the state change it
// records commit or roll back together.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Append(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error {
	if orderID == "" {
		return fmt.Errorf("timeline: missing order id")
	}
	if eventType == "" {
		return fmt.Errorf("timeline: missing event type")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("timeline: marshal payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const insertSQL = `
		INSERT INTO order_events (order_id, type, actor_id, payload)
		VALUES ($1, $2, $3::uuid, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, insertSQL, orderID, eventType, actor, body); err != nil {
		return fmt.Errorf("timeline: insert event: %w", err)
	}
	return nil
}
