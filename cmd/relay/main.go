package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"marketflow/db"
	"marketflow/outbox"
)

func main() {
	connString := os.Getenv("DATABASE_URL")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		log.Fatal("relay: KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("relay: connect database: %v", err)
	}
	defer pool.Close()

	publisher := outbox.NewKafkaPublisher(strings.Split(brokers, ","))
	defer publisher.Close()

	relay := outbox.NewRelay(pool, publisher)
	if raw := os.Getenv("RELAY_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("relay: parse RELAY_INTERVAL: %v", err)
		}
		relay = relay.WithInterval(interval)
	}

	// Multiple drain loops are safe; claiming uses SKIP LOCKED so workers
	// never hand the same row to two publishers.
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < relayWorkers(); i++ {
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	log.Printf("relay: draining outbox to %s", brokers)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("relay: stopped: %v", err)
	}
}

func relayWorkers() int {
	if raw := os.Getenv("RELAY_WORKERS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 2
}
