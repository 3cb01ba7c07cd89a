package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrInsufficientInventory signals the requested quantity exceeds what the
	// listing has left. The wrapped message names the remaining amount.
	ErrInsufficientInventory = errors.New("order: insufficient inventory")
	// ErrListingInactive signals the listing is sold out or expired.
	ErrListingInactive = errors.New("order: listing inactive")
	// ErrUnauthorized signals the caller is not the party entitled to perform
	// the transition.
	ErrUnauthorized = errors.New("order: actor not permitted")
	// ErrInvalidState signals the transition is not allowed from the order's
	// current status.
	ErrInvalidState = errors.New("order: invalid state for operation")
	// ErrAlreadyDisputed signals an open dispute already suspends the order.
	ErrAlreadyDisputed = errors.New("order: already disputed")

	// ErrInvalidArgument marks caller input rejected before any repository access.
	ErrInvalidArgument = errors.New("order: invalid argument")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TimelineWriter appends an audit event inside the caller's transaction.
type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, orderID, eventType, actorID string, payload map[string]any) error
}

// OutboxWriter enqueues an event inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Settlement is the funds-disposition hook. Release is invoked when an order
// completes, Refund when a reservation is undone. Implementations run inside
// the transition's transaction; actual money movement happens downstream.
type Settlement interface {
	Release(ctx context.Context, tx pgx.Tx, o Order) error
	Refund(ctx context.Context, tx pgx.Tx, o Order) error
}

// Service drives the order state machine:
//
//	pending -> confirmed -> shipped -> delivered
//	pending -> cancelled
//	pending|confirmed|shipped -> disputed -> delivered|cancelled
//
// Every transition runs in one transaction with the order row locked, so a
// stale caller observes the already-updated status and fails the
// precondition instead of overwriting a concurrent change.
type Service struct {
	pool          TxBeginner
	repo          Repository
	timeline      TimelineWriter
	outbox        OutboxWriter
	settlement    Settlement
	systemActorID string
	idGenerator   func() string
	now           func() time.Time
}

func NewService(pool TxBeginner, repo Repository, timeline TimelineWriter, outbox OutboxWriter, settlement Settlement) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		timeline:    timeline,
		outbox:      outbox,
		settlement:  settlement,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithSystemActor authorizes the given identity to perform timeout-driven
// transitions (delivery confirmation, stale-order cancellation). Without it
// no system actor exists and only the order parties may act.
func (s *Service) WithSystemActor(id string) *Service {
	s.systemActorID = id
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type PlaceParams struct {
	BuyerID   string
	ListingID string
	Quantity  int
}

// Place reserves stock and creates the order as one atomic unit. The listing
// row is locked for the duration of the transaction, so two buyers racing
// for the last unit serialize: exactly one succeeds, the other observes the
// decremented quantity and fails with ErrInsufficientInventory.
func (s *Service) Place(ctx context.Context, params PlaceParams) (Order, error) {
	if params.BuyerID == "" {
		return Order{}, fmt.Errorf("%w: missing buyer id", ErrInvalidArgument)
	}
	if params.ListingID == "" {
		return Order{}, fmt.Errorf("%w: missing listing id", ErrInvalidArgument)
	}
	if params.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, params.Quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.LockListing(ctx, tx, params.ListingID)
	if err != nil {
		return Order{}, err
	}
	if params.BuyerID == l.SellerID {
		return Order{}, fmt.Errorf("%w: buyer cannot purchase own listing", ErrInvalidArgument)
	}
	if l.Quantity <= 0 {
		return Order{}, fmt.Errorf("%w: listing is sold out", ErrListingInactive)
	}
	if !l.ExpiresAt.After(s.now()) {
		return Order{}, fmt.Errorf("%w: listing expired at %s", ErrListingInactive, l.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if params.Quantity > l.Quantity {
		return Order{}, fmt.Errorf("%w: only %d units remaining", ErrInsufficientInventory, l.Quantity)
	}

	if err := s.repo.AdjustListingQuantity(ctx, tx, l.ID, -params.Quantity); err != nil {
		return Order{}, err
	}

	o := Order{
		ID:        s.idGenerator(),
		ListingID: l.ID,
		BuyerID:   params.BuyerID,
		SellerID:  l.SellerID,
		Quantity:  params.Quantity,
		UnitPrice: l.Price,
		Currency:  l.Currency,
		Status:    StatusPending,
	}

	created, err := s.repo.Create(ctx, tx, o)
	if err != nil {
		return Order{}, err
	}

	if err := s.record(ctx, tx, created, "ORDER_PLACED", params.BuyerID, "order.placed", map[string]any{
		"listing_id": l.ID,
		"quantity":   params.Quantity,
		"unit_price": l.Price,
		"currency":   l.Currency,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit tx: %w", err)
	}

	return created, nil
}

// Confirm moves a pending order to confirmed. Seller only.
func (s *Service) Confirm(ctx context.Context, orderID, sellerID string) (Order, error) {
	return s.transition(ctx, orderID, transitionSpec{
		actorID:   sellerID,
		from:      []Status{StatusPending},
		to:        StatusConfirmed,
		authorize: func(o Order, actor string) bool { return actor == o.SellerID },
		event:     "ORDER_CONFIRMED",
		topic:     "order.confirmed",
	})
}

type ShipParams struct {
	OrderID        string
	SellerID       string
	TrackingNumber *string
}

// Ship moves a confirmed order to shipped and records the tracking number.
func (s *Service) Ship(ctx context.Context, params ShipParams) (Order, error) {
	var tracking *string
	if params.TrackingNumber != nil {
		trimmed := strings.TrimSpace(*params.TrackingNumber)
		if trimmed != "" {
			tracking = &trimmed
		}
	}

	return s.transition(ctx, params.OrderID, transitionSpec{
		actorID:   params.SellerID,
		from:      []Status{StatusConfirmed},
		to:        StatusShipped,
		tracking:  tracking,
		authorize: func(o Order, actor string) bool { return actor == o.SellerID },
		event:     "ORDER_SHIPPED",
		topic:     "order.shipped",
	})
}

// Deliver completes a shipped order. The buyer confirms receipt; the
// configured system actor may also confirm on timeout (driven by the sweep
// binary). Funds are released to the seller on this transition.
func (s *Service) Deliver(ctx context.Context, orderID, actorID string) (Order, error) {
	return s.transition(ctx, orderID, transitionSpec{
		actorID: actorID,
		from:    []Status{StatusShipped},
		to:      StatusDelivered,
		authorize: func(o Order, actor string) bool {
			return actor == o.BuyerID || (s.systemActorID != "" && actor == s.systemActorID)
		},
		event:  "ORDER_DELIVERED",
		topic:  "order.delivered",
		settle: settleRelease,
	})
}

// Cancel rejects a pending order. Seller rejection or the system actor's
// expiry sweep. The reservation is returned to the listing and the escrowed
// funds are refunded.
func (s *Service) Cancel(ctx context.Context, orderID, actorID, reason string) (Order, error) {
	return s.transition(ctx, orderID, transitionSpec{
		actorID: actorID,
		from:    []Status{StatusPending},
		to:      StatusCancelled,
		authorize: func(o Order, actor string) bool {
			return actor == o.SellerID || (s.systemActorID != "" && actor == s.systemActorID)
		},
		event:   "ORDER_CANCELLED",
		topic:   "order.cancelled",
		payload: map[string]any{"reason": reason},
		restock: true,
		settle:  settleRefund,
	})
}

// Get returns the order by id.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	if id == "" {
		return Order{}, fmt.Errorf("%w: missing order id", ErrInvalidArgument)
	}
	return s.repo.GetByID(ctx, id)
}

// MarkDisputed suspends normal progression while a dispute is open. It runs
// inside the dispute subsystem's transaction so the dispute row and the
// order transition commit together. The order's prior status is retained for
// audit.
func (s *Service) MarkDisputed(ctx context.Context, tx pgx.Tx, orderID, initiatorID string) (Order, error) {
	o, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if initiatorID != o.BuyerID && initiatorID != o.SellerID {
		return Order{}, fmt.Errorf("%w: only the buyer or seller may open a dispute", ErrUnauthorized)
	}
	if o.Status == StatusDisputed {
		return Order{}, ErrAlreadyDisputed
	}
	if o.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: order is already %s", ErrInvalidState, o.Status)
	}

	prior := o.Status
	updated, err := s.repo.UpdateStatus(ctx, tx, o.ID, StatusUpdate{Status: StatusDisputed, PriorStatus: &prior})
	if err != nil {
		return Order{}, err
	}

	if err := s.record(ctx, tx, updated, "ORDER_DISPUTED", initiatorID, "order.disputed", map[string]any{
		"prior_status": prior,
	}); err != nil {
		return Order{}, err
	}

	return updated, nil
}

// ApplyResolution moves a disputed order to the terminal state the dispute
// resolution dictates. Delivered releases funds; cancelled restocks the
// listing and refunds. Runs inside the dispute subsystem's transaction.
func (s *Service) ApplyResolution(ctx context.Context, tx pgx.Tx, orderID string, terminal Status, resolverID string) (Order, error) {
	if terminal != StatusDelivered && terminal != StatusCancelled {
		return Order{}, fmt.Errorf("order: resolution must map to a terminal status, got %q", terminal)
	}

	o, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusDisputed {
		return Order{}, fmt.Errorf("%w: order is %s, not disputed", ErrInvalidState, o.Status)
	}

	if terminal == StatusCancelled {
		if err := s.repo.AdjustListingQuantity(ctx, tx, o.ListingID, o.Quantity); err != nil {
			return Order{}, err
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, o.ID, StatusUpdate{Status: terminal})
	if err != nil {
		return Order{}, err
	}

	if s.settlement != nil {
		if terminal == StatusDelivered {
			err = s.settlement.Release(ctx, tx, updated)
		} else {
			err = s.settlement.Refund(ctx, tx, updated)
		}
		if err != nil {
			return Order{}, fmt.Errorf("order: settlement on resolution: %w", err)
		}
	}

	if err := s.record(ctx, tx, updated, "ORDER_RESOLVED", resolverID, "order.resolved", map[string]any{
		"terminal_status": terminal,
	}); err != nil {
		return Order{}, err
	}

	return updated, nil
}

// CancelStalePending cancels pending orders older than the cutoff under the
// system actor identity. Returns the ids that were cancelled.
func (s *Service) CancelStalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.sweep(ctx, StatusPending, before, limit, func(ctx context.Context, id string) error {
		_, err := s.Cancel(ctx, id, s.systemActorID, "expired before seller confirmation")
		return err
	})
}

// DeliverOverdueShipped confirms delivery for orders shipped before the
// cutoff under the system actor identity. Returns the ids delivered.
func (s *Service) DeliverOverdueShipped(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.sweep(ctx, StatusShipped, before, limit, func(ctx context.Context, id string) error {
		_, err := s.Deliver(ctx, id, s.systemActorID)
		return err
	})
}

func (s *Service) sweep(ctx context.Context, status Status, before time.Time, limit int, apply func(context.Context, string) error) ([]string, error) {
	if s.systemActorID == "" {
		return nil, fmt.Errorf("order: no system actor configured for sweep")
	}

	ids, err := s.repo.ListStale(ctx, status, before, limit)
	if err != nil {
		return nil, err
	}

	done := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := apply(ctx, id); err != nil {
			// A racing party transition is fine; anything else aborts the sweep.
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
				continue
			}
			return done, err
		}
		done = append(done, id)
	}
	return done, nil
}

type settleMode int

const (
	settleNone settleMode = iota
	settleRelease
	settleRefund
)

type transitionSpec struct {
	actorID   string
	from      []Status
	to        Status
	tracking  *string
	authorize func(o Order, actor string) bool
	event     string
	topic     string
	payload   map[string]any
	restock   bool
	settle    settleMode
}

func (s *Service) transition(ctx context.Context, orderID string, spec transitionSpec) (Order, error) {
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: missing order id", ErrInvalidArgument)
	}
	if spec.actorID == "" {
		return Order{}, fmt.Errorf("%w: missing actor id", ErrInvalidArgument)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := s.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !spec.authorize(o, spec.actorID) {
		return Order{}, fmt.Errorf("%w: %s may not move order to %s", ErrUnauthorized, spec.actorID, spec.to)
	}
	if !statusIn(o.Status, spec.from) {
		return Order{}, fmt.Errorf("%w: order is %s, expected %s", ErrInvalidState, o.Status, statusList(spec.from))
	}

	if spec.restock {
		if err := s.repo.AdjustListingQuantity(ctx, tx, o.ListingID, o.Quantity); err != nil {
			return Order{}, err
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, o.ID, StatusUpdate{Status: spec.to, TrackingNumber: spec.tracking})
	if err != nil {
		return Order{}, err
	}

	if s.settlement != nil && spec.settle != settleNone {
		if spec.settle == settleRelease {
			err = s.settlement.Release(ctx, tx, updated)
		} else {
			err = s.settlement.Refund(ctx, tx, updated)
		}
		if err != nil {
			return Order{}, fmt.Errorf("order: settlement on %s: %w", spec.to, err)
		}
	}

	payload := map[string]any{"from_status": o.Status}
	for k, v := range spec.payload {
		payload[k] = v
	}
	if spec.tracking != nil {
		payload["tracking_number"] = *spec.tracking
	}
	if err := s.record(ctx, tx, updated, spec.event, spec.actorID, spec.topic, payload); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit tx: %w", err)
	}

	return updated, nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, o Order, event, actorID, topic string, payload map[string]any) error {
	if s.timeline != nil {
		if err := s.timeline.Append(ctx, tx, o.ID, event, actorID, payload); err != nil {
			return fmt.Errorf("order: append timeline: %w", err)
		}
	}
	if s.outbox != nil {
		body := map[string]any{
			"order_id":  o.ID,
			"buyer_id":  o.BuyerID,
			"seller_id": o.SellerID,
			"status":    o.Status,
		}
		for k, v := range payload {
			body[k] = v
		}
		if err := s.outbox.Enqueue(ctx, tx, topic, body); err != nil {
			return fmt.Errorf("order: enqueue outbox: %w", err)
		}
	}
	return nil
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func statusList(set []Status) string {
	parts := make([]string, len(set))
	for i, v := range set {
		parts[i] = string(v)
	}
	return strings.Join(parts, " or ")
}
