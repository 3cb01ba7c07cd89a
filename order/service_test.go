package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marketflow/listing"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) (*Service, *fakePool) {
	pool := &fakePool{}
	svc := NewService(pool, repo, nil, nil, nil).
		WithIDGenerator(func() string { return "order-1" }).
		WithClock(func() time.Time { return testTime })
	return svc, pool
}

func TestPlace_ReservesInventory(t *testing.T) {
	repo := &fakeRepo{
		listing: listing.Listing{
			ID:        "listing-1",
			SellerID:  "seller-1",
			Price:     2499,
			Currency:  "USD",
			Quantity:  5,
			ExpiresAt: testTime.Add(24 * time.Hour),
		},
	}
	svc, pool := newTestService(repo)

	o, err := svc.Place(context.Background(), PlaceParams{
		BuyerID:   "buyer-1",
		ListingID: "listing-1",
		Quantity:  3,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if !pool.tx.committed {
		t.Errorf("expected commit to be called")
	}
	if repo.adjusted != -3 {
		t.Errorf("expected quantity adjustment -3, got %d", repo.adjusted)
	}
	if o.Status != StatusPending {
		t.Errorf("expected pending status, got %s", o.Status)
	}
	if o.UnitPrice != 2499 || o.Currency != "USD" {
		t.Errorf("expected price snapshot 2499 USD, got %d %s", o.UnitPrice, o.Currency)
	}
	if o.SellerID != "seller-1" {
		t.Errorf("expected seller from listing, got %s", o.SellerID)
	}
}

func TestPlace_InsufficientInventory(t *testing.T) {
	repo := &fakeRepo{
		listing: listing.Listing{
			ID:        "listing-1",
			SellerID:  "seller-1",
			Price:     2499,
			Currency:  "USD",
			Quantity:  2,
			ExpiresAt: testTime.Add(24 * time.Hour),
		},
	}
	svc, pool := newTestService(repo)

	_, err := svc.Place(context.Background(), PlaceParams{
		BuyerID:   "buyer-1",
		ListingID: "listing-1",
		Quantity:  3,
	})
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}

	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
	if repo.adjusted != 0 {
		t.Errorf("expected no quantity adjustment, got %d", repo.adjusted)
	}
	if repo.created {
		t.Errorf("expected no order row")
	}
}

func TestPlace_SoldOutListing(t *testing.T) {
	repo := &fakeRepo{
		listing: listing.Listing{
			ID:        "listing-1",
			SellerID:  "seller-1",
			Quantity:  0,
			ExpiresAt: testTime.Add(24 * time.Hour),
		},
	}
	svc, _ := newTestService(repo)

	_, err := svc.Place(context.Background(), PlaceParams{
		BuyerID:   "buyer-1",
		ListingID: "listing-1",
		Quantity:  1,
	})
	if !errors.Is(err, ErrListingInactive) {
		t.Fatalf("expected ErrListingInactive, got %v", err)
	}
}

func TestPlace_ExpiredListing(t *testing.T) {
	repo := &fakeRepo{
		listing: listing.Listing{
			ID:        "listing-1",
			SellerID:  "seller-1",
			Quantity:  5,
			ExpiresAt: testTime.Add(-time.Hour),
		},
	}
	svc, _ := newTestService(repo)

	_, err := svc.Place(context.Background(), PlaceParams{
		BuyerID:   "buyer-1",
		ListingID: "listing-1",
		Quantity:  1,
	})
	if !errors.Is(err, ErrListingInactive) {
		t.Fatalf("expected ErrListingInactive, got %v", err)
	}
}

func TestPlace_OwnListingRejected(t *testing.T) {
	repo := &fakeRepo{
		listing: listing.Listing{
			ID:        "listing-1",
			SellerID:  "seller-1",
			Quantity:  5,
			ExpiresAt: testTime.Add(24 * time.Hour),
		},
	}
	svc, _ := newTestService(repo)

	_, err := svc.Place(context.Background(), PlaceParams{
		BuyerID:   "seller-1",
		ListingID: "listing-1",
		Quantity:  1,
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestConfirm_SellerOnly(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:       "order-1",
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Status:   StatusPending,
	}}
	svc, _ := newTestService(repo)

	if _, err := svc.Confirm(context.Background(), "order-1", "buyer-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for buyer, got %v", err)
	}

	o, err := svc.Confirm(context.Background(), "order-1", "seller-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", o.Status)
	}
}

func TestConfirm_InvalidState(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:       "order-1",
		SellerID: "seller-1",
		Status:   StatusShipped,
	}}
	svc, pool := newTestService(repo)

	_, err := svc.Confirm(context.Background(), "order-1", "seller-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected commit to be skipped")
	}
}

func TestShip_RecordsTracking(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:       "order-1",
		SellerID: "seller-1",
		Status:   StatusConfirmed,
	}}
	svc, _ := newTestService(repo)

	tracking := "  TRK-900 "
	o, err := svc.Ship(context.Background(), ShipParams{
		OrderID:        "order-1",
		SellerID:       "seller-1",
		TrackingNumber: &tracking,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.Status != StatusShipped {
		t.Errorf("expected shipped, got %s", o.Status)
	}
	if repo.lastUpdate.TrackingNumber == nil || *repo.lastUpdate.TrackingNumber != "TRK-900" {
		t.Errorf("expected trimmed tracking number, got %v", repo.lastUpdate.TrackingNumber)
	}
}

func TestDeliver_BuyerOrSystemActor(t *testing.T) {
	base := Order{ID: "order-1", BuyerID: "buyer-1", SellerID: "seller-1", Status: StatusShipped}

	repo := &fakeRepo{order: base}
	svc, _ := newTestService(repo)

	if _, err := svc.Deliver(context.Background(), "order-1", "seller-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for seller, got %v", err)
	}
	if _, err := svc.Deliver(context.Background(), "order-1", "system"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without configured system actor, got %v", err)
	}

	if _, err := svc.Deliver(context.Background(), "order-1", "buyer-1"); err != nil {
		t.Fatalf("expected buyer delivery to succeed, got %v", err)
	}

	repo = &fakeRepo{order: base}
	svc, _ = newTestService(repo)
	svc = svc.WithSystemActor("system")
	if _, err := svc.Deliver(context.Background(), "order-1", "system"); err != nil {
		t.Fatalf("expected system delivery to succeed, got %v", err)
	}
}

func TestDeliver_ReleasesFunds(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:      "order-1",
		BuyerID: "buyer-1",
		Status:  StatusShipped,
	}}
	settle := &fakeSettlement{}
	pool := &fakePool{}
	svc := NewService(pool, repo, nil, nil, settle)

	if _, err := svc.Deliver(context.Background(), "order-1", "buyer-1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !settle.released {
		t.Errorf("expected funds release on delivery")
	}
	if settle.refunded {
		t.Errorf("unexpected refund on delivery")
	}
}

func TestCancel_RestocksAndRefunds(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:        "order-1",
		ListingID: "listing-1",
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		Quantity:  4,
		Status:    StatusPending,
	}}
	settle := &fakeSettlement{}
	pool := &fakePool{}
	svc := NewService(pool, repo, nil, nil, settle)

	o, err := svc.Cancel(context.Background(), "order-1", "seller-1", "out of stock")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", o.Status)
	}
	if repo.adjusted != 4 {
		t.Errorf("expected restock of 4 units, got %d", repo.adjusted)
	}
	if !settle.refunded {
		t.Errorf("expected refund on cancellation")
	}
}

func TestCancel_OnlyFromPending(t *testing.T) {
	for _, status := range []Status{StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled} {
		repo := &fakeRepo{order: Order{
			ID:       "order-1",
			SellerID: "seller-1",
			Status:   status,
		}}
		svc, _ := newTestService(repo)

		_, err := svc.Cancel(context.Background(), "order-1", "seller-1", "change of mind")
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("status %s: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestCancel_BuyerNotPermitted(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:       "order-1",
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Status:   StatusPending,
	}}
	svc, _ := newTestService(repo)

	_, err := svc.Cancel(context.Background(), "order-1", "buyer-1", "changed my mind")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMarkDisputed_SuspendsOrder(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:       "order-1",
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Status:   StatusConfirmed,
	}}
	svc, _ := newTestService(repo)

	o, err := svc.MarkDisputed(context.Background(), &fakeTx{}, "order-1", "buyer-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.Status != StatusDisputed {
		t.Errorf("expected disputed, got %s", o.Status)
	}
	if repo.lastUpdate.PriorStatus == nil || *repo.lastUpdate.PriorStatus != StatusConfirmed {
		t.Errorf("expected prior status confirmed, got %v", repo.lastUpdate.PriorStatus)
	}
}

func TestMarkDisputed_AlreadyDisputed(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:      "order-1",
		BuyerID: "buyer-1",
		Status:  StatusDisputed,
	}}
	svc, _ := newTestService(repo)

	_, err := svc.MarkDisputed(context.Background(), &fakeTx{}, "order-1", "buyer-1")
	if !errors.Is(err, ErrAlreadyDisputed) {
		t.Fatalf("expected ErrAlreadyDisputed, got %v", err)
	}
}

func TestMarkDisputed_TerminalOrder(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:      "order-1",
		BuyerID: "buyer-1",
		Status:  StatusDelivered,
	}}
	svc, _ := newTestService(repo)

	_, err := svc.MarkDisputed(context.Background(), &fakeTx{}, "order-1", "buyer-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestMarkDisputed_ThirdPartyRejected(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:       "order-1",
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Status:   StatusPending,
	}}
	svc, _ := newTestService(repo)

	_, err := svc.MarkDisputed(context.Background(), &fakeTx{}, "order-1", "stranger")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestApplyResolution_CancelledRestocks(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:        "order-1",
		ListingID: "listing-1",
		Quantity:  2,
		Status:    StatusDisputed,
	}}
	settle := &fakeSettlement{}
	svc := NewService(&fakePool{}, repo, nil, nil, settle)

	o, err := svc.ApplyResolution(context.Background(), &fakeTx{}, "order-1", StatusCancelled, "admin-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", o.Status)
	}
	if repo.adjusted != 2 {
		t.Errorf("expected restock of 2 units, got %d", repo.adjusted)
	}
	if !settle.refunded {
		t.Errorf("expected refund on cancelled resolution")
	}
}

func TestApplyResolution_DeliveredReleases(t *testing.T) {
	repo := &fakeRepo{order: Order{
		ID:        "order-1",
		ListingID: "listing-1",
		Quantity:  2,
		Status:    StatusDisputed,
	}}
	settle := &fakeSettlement{}
	svc := NewService(&fakePool{}, repo, nil, nil, settle)

	o, err := svc.ApplyResolution(context.Background(), &fakeTx{}, "order-1", StatusDelivered, "admin-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if o.Status != StatusDelivered {
		t.Errorf("expected delivered, got %s", o.Status)
	}
	if repo.adjusted != 0 {
		t.Errorf("expected no restock, got %d", repo.adjusted)
	}
	if !settle.released {
		t.Errorf("expected funds release on delivered resolution")
	}
}

func TestApplyResolution_RequiresDisputedOrder(t *testing.T) {
	repo := &fakeRepo{order: Order{ID: "order-1", Status: StatusShipped}}
	svc, _ := newTestService(repo)

	_, err := svc.ApplyResolution(context.Background(), &fakeTx{}, "order-1", StatusDelivered, "admin-1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestSweep_RequiresSystemActor(t *testing.T) {
	svc, _ := newTestService(&fakeRepo{})

	if _, err := svc.CancelStalePending(context.Background(), testTime, 10); err == nil {
		t.Fatalf("expected error without system actor")
	}
}

func TestSweep_SkipsRacedOrders(t *testing.T) {
	// The listed order already progressed past pending by the time the sweep
	// reaches it; the sweep must move on rather than abort.
	repo := &fakeRepo{
		order:    Order{ID: "order-1", SellerID: "seller-1", Status: StatusConfirmed},
		staleIDs: []string{"order-1"},
	}
	svc, _ := newTestService(repo)
	svc = svc.WithSystemActor("system")

	done, err := svc.CancelStalePending(context.Background(), testTime, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(done) != 0 {
		t.Errorf("expected no orders cancelled, got %v", done)
	}
}

type fakeSettlement struct {
	released bool
	refunded bool
}

func (f *fakeSettlement) Release(ctx context.Context, tx pgx.Tx, o Order) error {
	f.released = true
	return nil
}

func (f *fakeSettlement) Refund(ctx context.Context, tx pgx.Tx, o Order) error {
	f.refunded = true
	return nil
}

type fakeRepo struct {
	listing    listing.Listing
	order      Order
	staleIDs   []string
	adjusted   int
	created    bool
	lastUpdate StatusUpdate
}

func (f *fakeRepo) LockListing(ctx context.Context, tx pgx.Tx, listingID string) (listing.Listing, error) {
	if f.listing.ID == "" {
		return listing.Listing{}, ErrListingNotFound
	}
	return f.listing, nil
}

func (f *fakeRepo) AdjustListingQuantity(ctx context.Context, tx pgx.Tx, listingID string, delta int) error {
	f.adjusted += delta
	return nil
}

func (f *fakeRepo) Create(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	f.created = true
	return o, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (Order, error) {
	if f.order.ID == "" {
		return Order{}, ErrNotFound
	}
	return f.order, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	if f.order.ID == "" {
		return Order{}, ErrNotFound
	}
	return f.order, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, update StatusUpdate) (Order, error) {
	f.lastUpdate = update
	updated := f.order
	updated.Status = update.Status
	if update.PriorStatus != nil {
		updated.PriorStatus = update.PriorStatus
	}
	if update.TrackingNumber != nil {
		updated.TrackingNumber = update.TrackingNumber
	}
	f.order = updated
	return updated, nil
}

func (f *fakeRepo) ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]string, error) {
	return f.staleIDs, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
