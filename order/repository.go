package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/listing"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrListingNotFound = errors.New("order: listing not found")
)

const orderColumns = `id, listing_id, buyer_id, seller_id, quantity, unit_price, currency,
       status::text, prior_status::text, tracking_number,
       created_at, updated_at, confirmed_at, shipped_at, delivered_at, cancelled_at`

// StatusUpdate carries the fields a transition may set alongside the status.
type StatusUpdate struct {
	Status         Status
	PriorStatus    *Status
	TrackingNumber *string
}

type Repository interface {
	LockListing(ctx context.Context, tx pgx.Tx, listingID string) (listing.Listing, error)
	AdjustListingQuantity(ctx context.Context, tx pgx.Tx, listingID string, delta int) error
	Create(ctx context.Context, tx pgx.Tx, o Order) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, update StatusUpdate) (Order, error)
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]string, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LockListing loads the listing row under FOR UPDATE so the quantity check
// and decrement that follow are serialized against concurrent placements.
func (r *PGRepository) LockListing(ctx context.Context, tx pgx.Tx, listingID string) (listing.Listing, error) {
	const query = `
		SELECT id, seller_id, product_id, price, currency, quantity, condition, location, created_at, updated_at, expires_at
		FROM listings
		WHERE id = $1
		FOR UPDATE
	`

	var l listing.Listing
	err := tx.QueryRow(ctx, query, listingID).Scan(
		&l.ID,
		&l.SellerID,
		&l.ProductID,
		&l.Price,
		&l.Currency,
		&l.Quantity,
		&l.Condition,
		&l.Location,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return listing.Listing{}, ErrListingNotFound
		}
		return listing.Listing{}, fmt.Errorf("order: lock listing: %w", err)
	}
	return l, nil
}

// AdjustListingQuantity applies a reservation (negative delta) or a
// compensating restock (positive delta). The quantity check constraint
// backstops the service-level precondition.
func (r *PGRepository) AdjustListingQuantity(ctx context.Context, tx pgx.Tx, listingID string, delta int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE listings
		SET quantity = quantity + $2,
		    updated_at = now()
		WHERE id = $1
	`, listingID, delta)
	if err != nil {
		return fmt.Errorf("order: adjust listing quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	const query = `
        INSERT INTO orders (id, listing_id, buyer_id, seller_id, quantity, unit_price, currency, status)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8::order_status)
        RETURNING ` + orderColumns

	row := tx.QueryRow(ctx, query,
		o.ID,
		o.ListingID,
		o.BuyerID,
		o.SellerID,
		o.Quantity,
		o.UnitPrice,
		o.Currency,
		o.Status,
	)

	created, err := scanOrder(row)
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get by id: %w", err)
	}
	return o, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get for update: %w", err)
	}
	return o, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, update StatusUpdate) (Order, error) {
	const query = `
		UPDATE orders
		SET status = $2::order_status,
		    prior_status = COALESCE($3::order_status, prior_status),
		    tracking_number = COALESCE($4, tracking_number),
		    updated_at = now(),
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN now() ELSE confirmed_at END,
		    shipped_at   = CASE WHEN $2 = 'shipped'   THEN now() ELSE shipped_at END,
		    delivered_at = CASE WHEN $2 = 'delivered' THEN now() ELSE delivered_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN now() ELSE cancelled_at END
		WHERE id = $1
		RETURNING ` + orderColumns

	o, err := scanOrder(tx.QueryRow(ctx, query, id, update.Status, update.PriorStatus, update.TrackingNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: update status: %w", err)
	}
	return o, nil
}

// ListStale returns ids of orders sitting in status since before the cutoff.
// Used by the sweep binary to drive expiry and timeout policies.
func (r *PGRepository) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	column := "created_at"
	if status == StatusShipped {
		column = "shipped_at"
	}

	query := fmt.Sprintf(`
		SELECT id FROM orders
		WHERE status = $1::order_status AND %s < $2
		ORDER BY %s
		LIMIT $3
	`, column, column)

	rows, err := r.pool.Query(ctx, query, status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("order: list stale: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("order: scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate stale: %w", err)
	}
	return ids, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	return o, row.Scan(
		&o.ID,
		&o.ListingID,
		&o.BuyerID,
		&o.SellerID,
		&o.Quantity,
		&o.UnitPrice,
		&o.Currency,
		&o.Status,
		&o.PriorStatus,
		&o.TrackingNumber,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ConfirmedAt,
		&o.ShippedAt,
		&o.DeliveredAt,
		&o.CancelledAt,
	)
}
