package main

import (
	"context"
	"log"
	"os"
	"time"

	"marketflow/db"
	"marketflow/order"
	"marketflow/outbox"
	"marketflow/settlement"
	"marketflow/timeline"
)

const (
	defaultPendingMaxAge = 72 * time.Hour
	defaultShippedMaxAge = 14 * 24 * time.Hour
	sweepBatchSize       = 100
)

// The sweep binary runs on a schedule and applies the two time-driven
// transitions: stale pending orders are cancelled with restock, and shipped
// orders past the delivery window are auto-delivered. Both act as the
// configured system actor so the resulting events are attributable.
func main() {
	connString := os.Getenv("DATABASE_URL")
	systemActor := os.Getenv("SYSTEM_ACTOR_ID")
	if systemActor == "" {
		log.Fatal("sweep: SYSTEM_ACTOR_ID is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("sweep: connect database: %v", err)
	}
	defer pool.Close()

	outboxWriter := outbox.NewWriter()
	orders := order.NewService(
		pool,
		order.NewRepository(pool),
		timeline.NewWriter(),
		outboxWriter,
		settlement.NewOutboxNotifier(outboxWriter),
	).WithSystemActor(systemActor)

	now := time.Now()

	cancelled, err := orders.CancelStalePending(ctx, now.Add(-maxAge("PENDING_MAX_AGE", defaultPendingMaxAge)), sweepBatchSize)
	if err != nil {
		log.Fatalf("sweep: cancel stale pending: %v", err)
	}
	delivered, err := orders.DeliverOverdueShipped(ctx, now.Add(-maxAge("SHIPPED_MAX_AGE", defaultShippedMaxAge)), sweepBatchSize)
	if err != nil {
		log.Fatalf("sweep: deliver overdue shipped: %v", err)
	}

	log.Printf("sweep: cancelled %d stale pending, delivered %d overdue shipped", len(cancelled), len(delivered))
}

func maxAge(env string, fallback time.Duration) time.Duration {
	raw := os.Getenv(env)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Fatalf("sweep: parse %s: %v", env, err)
	}
	return d
}
