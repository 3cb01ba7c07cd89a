package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/dispute"
	"marketflow/order"
	"marketflow/outbox"
)

// Buyer hammers placeOrder against a single listing. Under contention most
// attempts fail with insufficient inventory once stock runs low; that is the
// point of the exercise.
func Buyer(ctx context.Context, orders *order.Service, listingID, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := orders.Place(ctx, order.PlaceParams{
			BuyerID:   buyerID,
			ListingID: listingID,
			Quantity:  1 + rand.Intn(3),
		})
		if err != nil && !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Seller confirms or rejects pending orders and ships confirmed ones.
func Seller(ctx context.Context, orders *order.Service, pool *pgxpool.Pool, sellerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if id, ok := randomOrder(ctx, pool, sellerID, "seller_id", "pending"); ok {
			var err error
			if rand.Intn(5) == 0 {
				_, err = orders.Cancel(ctx, id, sellerID, "out of stock")
			} else {
				_, err = orders.Confirm(ctx, id, sellerID)
			}
			if err != nil && !tolerable(err) {
				return err
			}
		}

		if id, ok := randomOrder(ctx, pool, sellerID, "seller_id", "confirmed"); ok {
			tracking := "TRK-" + id[:8]
			if _, err := orders.Ship(ctx, order.ShipParams{
				OrderID:        id,
				SellerID:       sellerID,
				TrackingNumber: &tracking,
			}); err != nil && !tolerable(err) {
				return err
			}
		}

		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Receiver confirms delivery of the buyer's shipped orders.
func Receiver(ctx context.Context, orders *order.Service, pool *pgxpool.Pool, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if id, ok := randomOrder(ctx, pool, buyerID, "buyer_id", "shipped"); ok {
			if _, err := orders.Deliver(ctx, id, buyerID); err != nil && !tolerable(err) {
				return err
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Disputer opens disputes against in-flight orders as the order's buyer.
// Racing disputers on the same order exercise the one-open-dispute guarantee.
func Disputer(ctx context.Context, disputes *dispute.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var orderID, buyerID string
		err := pool.QueryRow(ctx, `
			SELECT id, buyer_id FROM orders
			WHERE status IN ('pending','confirmed','shipped')
			ORDER BY random() LIMIT 1
		`).Scan(&orderID, &buyerID)
		if err == nil {
			_, err = disputes.Create(ctx, dispute.CreateParams{
				OrderID:     orderID,
				InitiatorID: buyerID,
				Reason:      "item not as described",
			})
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) && !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// Arbiter resolves open disputes with a random resolution, acting as admin.
func Arbiter(ctx context.Context, disputes *dispute.Service, pool *pgxpool.Pool, adminID string, stop <-chan struct{}) error {
	resolutions := []dispute.Resolution{
		dispute.ResolutionReleaseToSeller,
		dispute.ResolutionComplete,
		dispute.ResolutionRefundBuyer,
		dispute.ResolutionPartialRefund,
		dispute.ResolutionCancel,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var disputeID string
		err := pool.QueryRow(ctx, `
			SELECT id FROM disputes WHERE status='open' ORDER BY random() LIMIT 1
		`).Scan(&disputeID)
		if err == nil {
			_, err = disputes.Resolve(ctx, dispute.ResolveParams{
				DisputeID:  disputeID,
				Resolution: resolutions[rand.Intn(len(resolutions))],
				ResolverID: adminID,
			})
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) && !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

// Sweeper runs the timeout transitions with aggressive cutoffs so they race
// the human actors constantly.
func Sweeper(ctx context.Context, orders *order.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		cutoff := time.Now().Add(-2 * time.Second)
		if _, err := orders.CancelStalePending(ctx, cutoff, 10); err != nil && !tolerable(err) {
			return err
		}
		if _, err := orders.DeliverOverdueShipped(ctx, cutoff, 10); err != nil && !tolerable(err) {
			return err
		}
		time.Sleep(time.Duration(200+rand.Intn(200)) * time.Millisecond)
	}
}

// RelayWorker drains the outbox through a publisher that fails now and then,
// exercising the retry and dead-letter path.
func RelayWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := relay.DrainOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// FlakyPublisher accepts most messages and rejects a random tenth.
type FlakyPublisher struct{}

func (FlakyPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if rand.Intn(10) == 0 {
		return errors.New("transient publish failure")
	}
	return nil
}

func randomOrder(ctx context.Context, pool *pgxpool.Pool, partyID, partyColumn, status string) (string, bool) {
	var id string
	query := `SELECT id FROM orders WHERE ` + partyColumn + `=$1 AND status=$2 ORDER BY random() LIMIT 1`
	if err := pool.QueryRow(ctx, query, partyID, status).Scan(&id); err != nil {
		return "", false
	}
	return id, true
}

// tolerable reports whether the error is an expected business-rule rejection
// under contention rather than a defect.
func tolerable(err error) bool {
	return errors.Is(err, order.ErrInsufficientInventory) ||
		errors.Is(err, order.ErrListingInactive) ||
		errors.Is(err, order.ErrInvalidState) ||
		errors.Is(err, order.ErrNotFound) ||
		errors.Is(err, order.ErrAlreadyDisputed) ||
		errors.Is(err, dispute.ErrDuplicate) ||
		errors.Is(err, dispute.ErrAlreadyResolved) ||
		errors.Is(err, dispute.ErrNotFound)
}
