package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers a single outbox message to the downstream broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// KafkaPublisher publishes outbox messages to Kafka, one topic per message.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Relay drains pending outbox rows and hands them to the Publisher. Claiming
// uses FOR UPDATE SKIP LOCKED so multiple relay workers can run concurrently
// without double delivery. Messages that keep failing are parked as dead.
type Relay struct {
	pool        *pgxpool.Pool
	publisher   Publisher
	batchSize   int
	interval    time.Duration
	maxAttempts int
}

func NewRelay(pool *pgxpool.Pool, publisher Publisher) *Relay {
	return &Relay{
		pool:        pool,
		publisher:   publisher,
		batchSize:   50,
		interval:    250 * time.Millisecond,
		maxAttempts: 10,
	}
}

func (r *Relay) WithInterval(d time.Duration) *Relay {
	r.interval = d
	return r
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := r.DrainOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Printf("outbox relay: drain: %v", err)
		}
	}
}

type pendingMessage struct {
	ID       string
	Topic    string
	Payload  []byte
	Attempts int
}

// DrainOnce claims and delivers one batch. Returns the number of messages
// successfully published.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}

	batch := make([]pendingMessage, 0, r.batchSize)
	for rows.Next() {
		var m pendingMessage
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}

	published := 0
	for _, m := range batch {
		if err := r.publisher.Publish(ctx, m.Topic, m.ID, m.Payload); err != nil {
			next := NextDisposition(m.Attempts+1, r.maxAttempts)
			if _, uerr := tx.Exec(ctx, `
				UPDATE outbox SET status=$2, attempts=attempts+1, last_attempt=now() WHERE id=$1
			`, m.ID, next); uerr != nil {
				return published, fmt.Errorf("outbox: record failure: %w", uerr)
			}
			log.Printf("outbox relay: publish %s to %s failed (attempt %d): %v", m.ID, m.Topic, m.Attempts+1, err)
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET status='processed', attempts=attempts+1, last_attempt=now() WHERE id=$1
		`, m.ID); err != nil {
			return published, fmt.Errorf("outbox: mark processed: %w", err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return published, fmt.Errorf("outbox: commit batch: %w", err)
	}
	return published, nil
}

// NextDisposition decides the status of a message after a failed attempt.
func NextDisposition(attempts, maxAttempts int) string {
	if attempts >= maxAttempts {
		return "dead"
	}
	return "pending"
}
