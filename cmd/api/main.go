package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"marketflow/auth"
	"marketflow/db"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/market"
	"marketflow/order"
	"marketflow/outbox"
	"marketflow/settlement"
	"marketflow/timeline"
)

func main() {
	connString := os.Getenv("DATABASE_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("api: JWT_SECRET is required")
	}
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("api: connect database: %v", err)
	}
	defer pool.Close()

	timelineWriter := timeline.NewWriter()
	outboxWriter := outbox.NewWriter()
	settle := settlement.NewOutboxNotifier(outboxWriter)

	orders := order.NewService(pool, order.NewRepository(pool), timelineWriter, outboxWriter, settle)
	if systemActor := os.Getenv("SYSTEM_ACTOR_ID"); systemActor != "" {
		orders = orders.WithSystemActor(systemActor)
	}

	server := &Server{
		listingService: listing.NewService(pool, listing.NewRepository(pool), outboxWriter),
		orderService:   orders,
		disputeService: dispute.NewService(pool, dispute.NewRepository(pool), orders),
		marketService:  market.NewService(market.NewRepository(pool)),
		authService:    auth.NewService(auth.NewRepository(pool), jwtSecret),
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("api: listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("api: server stopped: %v", err)
	}
}
