package market

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/order"
)

type Repository interface {
	Stats(ctx context.Context) (Stats, error)
	UserActivity(ctx context.Context, userID string) (Activity, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{VolumeByCurrency: map[string]int64{}}

	const countsSQL = `
		SELECT
			(SELECT COUNT(*) FROM listings WHERE quantity > 0 AND expires_at > now()),
			(SELECT COUNT(*) FROM orders WHERE status = 'delivered'),
			(SELECT COUNT(*) FROM disputes WHERE status = 'open')
	`
	if err := r.pool.QueryRow(ctx, countsSQL).Scan(&stats.ActiveListings, &stats.CompletedOrders, &stats.OpenDisputes); err != nil {
		return Stats{}, fmt.Errorf("market: stats counts: %w", err)
	}

	const volumeSQL = `
		SELECT currency, SUM(unit_price * quantity)::bigint
		FROM orders
		WHERE status = 'delivered'
		GROUP BY currency
	`
	rows, err := r.pool.Query(ctx, volumeSQL)
	if err != nil {
		return Stats{}, fmt.Errorf("market: stats volume: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var currency string
		var volume int64
		if err := rows.Scan(&currency, &volume); err != nil {
			return Stats{}, fmt.Errorf("market: scan volume: %w", err)
		}
		stats.VolumeByCurrency[currency] = volume
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("market: iterate volume: %w", err)
	}

	return stats, nil
}

func (r *PGRepository) UserActivity(ctx context.Context, userID string) (Activity, error) {
	activity := Activity{}

	const listingsSQL = `
		SELECT id, seller_id, product_id, price, currency, quantity, condition, location, created_at, updated_at, expires_at
		FROM listings WHERE seller_id = $1 ORDER BY created_at DESC
	`
	if err := r.collectListings(ctx, listingsSQL, userID, &activity.Listings); err != nil {
		return Activity{}, err
	}

	const orderColumns = `id, listing_id, buyer_id, seller_id, quantity, unit_price, currency,
       status::text, prior_status::text, tracking_number,
       created_at, updated_at, confirmed_at, shipped_at, delivered_at, cancelled_at`

	if err := r.collectOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`,
		userID, &activity.OrdersPlaced); err != nil {
		return Activity{}, err
	}
	if err := r.collectOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE seller_id = $1 ORDER BY created_at DESC`,
		userID, &activity.OrdersReceived); err != nil {
		return Activity{}, err
	}

	const disputesSQL = `
		SELECT id, order_id, initiator_id, reason, evidence, status::text, resolution, resolver_id, created_at, resolved_at
		FROM disputes WHERE initiator_id = $1 ORDER BY created_at DESC
	`
	if err := r.collectDisputes(ctx, disputesSQL, userID, &activity.Disputes); err != nil {
		return Activity{}, err
	}

	return activity, nil
}

func (r *PGRepository) collectListings(ctx context.Context, query, userID string, out *[]listing.Listing) error {
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("market: query listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l listing.Listing
		if err := rows.Scan(&l.ID, &l.SellerID, &l.ProductID, &l.Price, &l.Currency, &l.Quantity,
			&l.Condition, &l.Location, &l.CreatedAt, &l.UpdatedAt, &l.ExpiresAt); err != nil {
			return fmt.Errorf("market: scan listing: %w", err)
		}
		*out = append(*out, l)
	}
	return rowsErr(rows, "listings")
}

func (r *PGRepository) collectOrders(ctx context.Context, query, userID string, out *[]order.Order) error {
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("market: query orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Quantity, &o.UnitPrice, &o.Currency,
			&o.Status, &o.PriorStatus, &o.TrackingNumber,
			&o.CreatedAt, &o.UpdatedAt, &o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt); err != nil {
			return fmt.Errorf("market: scan order: %w", err)
		}
		*out = append(*out, o)
	}
	return rowsErr(rows, "orders")
}

func (r *PGRepository) collectDisputes(ctx context.Context, query, userID string, out *[]dispute.Dispute) error {
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("market: query disputes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d dispute.Dispute
		if err := rows.Scan(&d.ID, &d.OrderID, &d.InitiatorID, &d.Reason, &d.Evidence, &d.Status,
			&d.Resolution, &d.ResolverID, &d.CreatedAt, &d.ResolvedAt); err != nil {
			return fmt.Errorf("market: scan dispute: %w", err)
		}
		*out = append(*out, d)
	}
	return rowsErr(rows, "disputes")
}

func rowsErr(rows pgx.Rows, what string) error {
	if err := rows.Err(); err != nil {
		return fmt.Errorf("market: iterate %s: %w", what, err)
	}
	return nil
}
