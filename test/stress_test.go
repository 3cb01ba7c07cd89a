package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/order"
	"marketflow/outbox"
	"marketflow/settlement"
	"marketflow/test/actors"
	"marketflow/test/chaos"
	"marketflow/test/infra"
	"marketflow/test/oracles"
	"marketflow/timeline"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent buyer actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "kill random backends during the run")
)

const initialStock = 400

func TestMarketplaceConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	timelineWriter := timeline.NewWriter()
	outboxWriter := outbox.NewWriter()
	orders := order.NewService(
		pool,
		order.NewRepository(pool),
		timelineWriter,
		outboxWriter,
		settlement.NewOutboxNotifier(outboxWriter),
	).WithSystemActor(seedData.adminID)
	disputes := dispute.NewService(pool, dispute.NewRepository(pool), orders)
	listings := listing.NewService(pool, listing.NewRepository(pool), outboxWriter)

	l, err := listings.Create(ctx, listing.CreateParams{
		SellerID:  seedData.sellerID,
		ProductID: "stress-widget",
		Price:     1999,
		Currency:  "USD",
		Quantity:  initialStock,
		Condition: "new",
	})
	if err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO stress_listing_seed (listing_id, initial_quantity) VALUES ($1, $2)`, l.ID, initialStock); err != nil {
		t.Fatalf("record seed stock: %v", err)
	}

	relay := outbox.NewRelay(pool, actors.FlakyPublisher{})

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		buyerID := seedData.buyerIDs[i%len(seedData.buyerIDs)]
		g.Go(func() error { return actors.Buyer(ctx2, orders, l.ID, buyerID, stop) })
	}
	for _, buyerID := range seedData.buyerIDs {
		id := buyerID
		g.Go(func() error { return actors.Receiver(ctx2, orders, pool, id, stop) })
	}
	// two seller loops racing over the same order set
	g.Go(func() error { return actors.Seller(ctx2, orders, pool, seedData.sellerID, stop) })
	g.Go(func() error { return actors.Seller(ctx2, orders, pool, seedData.sellerID, stop) })
	g.Go(func() error { return actors.Disputer(ctx2, disputes, pool, stop) })
	g.Go(func() error { return actors.Arbiter(ctx2, disputes, pool, seedData.adminID, stop) })
	g.Go(func() error { return actors.Sweeper(ctx2, orders, stop) })
	g.Go(func() error { return actors.RelayWorker(ctx2, relay, stop) })
	g.Go(func() error { return actors.RelayWorker(ctx2, relay, stop) })

	if *flChaos {
		go chaos.TerminateRandomBackend(ctx2, pool, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	sellerID string
	adminID  string
	buyerIDs []string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs

	insertUser := func(role, name string) string {
		var id string
		email := fmt.Sprintf("%s-%d@example.com", name, rand.Int63())
		if err := pool.QueryRow(ctx, `
			INSERT INTO users (email, full_name, password_hash, role)
			VALUES ($1, $2, 'stress-hash', $3) RETURNING id
		`, email, name, role).Scan(&id); err != nil {
			t.Fatalf("seed %s user: %v", role, err)
		}
		return id
	}

	s.sellerID = insertUser("seller", "Stress Seller")
	s.adminID = insertUser("admin", "Stress Admin")
	for i := 0; i < 4; i++ {
		s.buyerIDs = append(s.buyerIDs, insertUser("buyer", fmt.Sprintf("Stress Buyer %d", i)))
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"orders", `SELECT id, listing_id, status, quantity, unit_price FROM orders ORDER BY updated_at DESC LIMIT 50`},
		{"disputes", `SELECT id, order_id, status, resolution FROM disputes ORDER BY created_at DESC LIMIT 50`},
		{"order_events", `SELECT id, order_id, type, created_at FROM order_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
