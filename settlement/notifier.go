package settlement

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"marketflow/order"
)

// OutboxWriter is the slice of the outbox package the notifier needs.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// OutboxNotifier implements order.Settlement by enqueuing payment
// instructions on the transactional outbox. The payment processor consumes
// them downstream; no money moves inside this process.
type OutboxNotifier struct {
	outbox OutboxWriter
}

func NewOutboxNotifier(outbox OutboxWriter) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox}
}

// Release instructs the processor to pay the seller the escrowed amount.
func (n *OutboxNotifier) Release(ctx context.Context, tx pgx.Tx, o order.Order) error {
	if err := n.outbox.Enqueue(ctx, tx, "payment.release", payload(o)); err != nil {
		return fmt.Errorf("settlement: enqueue release: %w", err)
	}
	return nil
}

// Refund instructs the processor to return the escrowed amount to the buyer.
func (n *OutboxNotifier) Refund(ctx context.Context, tx pgx.Tx, o order.Order) error {
	if err := n.outbox.Enqueue(ctx, tx, "payment.refund", payload(o)); err != nil {
		return fmt.Errorf("settlement: enqueue refund: %w", err)
	}
	return nil
}

func payload(o order.Order) map[string]any {
	return map[string]any{
		"order_id":  o.ID,
		"buyer_id":  o.BuyerID,
		"seller_id": o.SellerID,
		// minor units; amount = unit price snapshot times quantity
		"amount":   o.UnitPrice * int64(o.Quantity),
		"currency": o.Currency,
	}
}
