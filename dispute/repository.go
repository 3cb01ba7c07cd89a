package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("dispute: not found")
	// ErrDuplicate signals an open dispute already exists for the order.
	ErrDuplicate = errors.New("dispute: open dispute already exists for order")
	// ErrAlreadyResolved signals the dispute was resolved earlier and is
	// immutable.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
)

const disputeColumns = `id, order_id, initiator_id, reason, evidence, status::text, resolution, resolver_id, created_at, resolved_at`

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error)
	GetByID(ctx context.Context, id string) (Dispute, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error)
	Resolve(ctx context.Context, tx pgx.Tx, id string, resolution Resolution, resolverID string) (Dispute, error)
	ListForOrder(ctx context.Context, orderID string) ([]Dispute, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	const query = `
        INSERT INTO disputes (id, order_id, initiator_id, reason, evidence)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
        RETURNING ` + disputeColumns

	created, err := scanDispute(tx.QueryRow(ctx, query, d.ID, d.OrderID, d.InitiatorID, d.Reason, d.Evidence))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispute{}, ErrDuplicate
		}
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Dispute, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get by id: %w", err)
	}
	return d, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`

	d, err := scanDispute(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return d, nil
}

func (r *PGRepository) Resolve(ctx context.Context, tx pgx.Tx, id string, resolution Resolution, resolverID string) (Dispute, error) {
	const query = `
		UPDATE disputes
		SET status = 'resolved',
		    resolution = $2,
		    resolver_id = $3,
		    resolved_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + disputeColumns

	d, err := scanDispute(tx.QueryRow(ctx, query, id, resolution, resolverID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrAlreadyResolved
		}
		return Dispute{}, fmt.Errorf("dispute: resolve: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListForOrder(ctx context.Context, orderID string) ([]Dispute, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE order_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list for order: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 4)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	return d, row.Scan(
		&d.ID,
		&d.OrderID,
		&d.InitiatorID,
		&d.Reason,
		&d.Evidence,
		&d.Status,
		&d.Resolution,
		&d.ResolverID,
		&d.CreatedAt,
		&d.ResolvedAt,
	)
}
