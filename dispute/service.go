package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"marketflow/order"
)

// ErrInvalidArgument marks caller input rejected before any repository access.
var ErrInvalidArgument = errors.New("dispute: invalid argument")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderEngine is the callback surface into the order lifecycle engine. The
// dispute subsystem never writes order status itself; both methods run
// inside the dispute transaction so the two domains stay consistent.
type OrderEngine interface {
	MarkDisputed(ctx context.Context, tx pgx.Tx, orderID, initiatorID string) (order.Order, error)
	ApplyResolution(ctx context.Context, tx pgx.Tx, orderID string, terminal order.Status, resolverID string) (order.Order, error)
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	orders      OrderEngine
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, orders OrderEngine) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		orders:      orders,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

type CreateParams struct {
	OrderID     string
	InitiatorID string
	Reason      string
	Evidence    []string
}

// Create opens a dispute and suspends the parent order in the same
// transaction. Orders already in a terminal state cannot be disputed, and at
// most one open dispute exists per order.
func (s *Service) Create(ctx context.Context, params CreateParams) (Dispute, error) {
	if params.OrderID == "" {
		return Dispute{}, fmt.Errorf("%w: missing order id", ErrInvalidArgument)
	}
	if params.InitiatorID == "" {
		return Dispute{}, fmt.Errorf("%w: missing initiator id", ErrInvalidArgument)
	}
	if strings.TrimSpace(params.Reason) == "" {
		return Dispute{}, fmt.Errorf("%w: reason required", ErrInvalidArgument)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.orders.MarkDisputed(ctx, tx, params.OrderID, params.InitiatorID); err != nil {
		if errors.Is(err, order.ErrAlreadyDisputed) {
			return Dispute{}, ErrDuplicate
		}
		return Dispute{}, err
	}

	d := Dispute{
		ID:          s.idGenerator(),
		OrderID:     params.OrderID,
		InitiatorID: params.InitiatorID,
		Reason:      strings.TrimSpace(params.Reason),
		Evidence:    params.Evidence,
	}

	created, err := s.repo.Create(ctx, tx, d)
	if err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}

	return created, nil
}

type ResolveParams struct {
	DisputeID  string
	Resolution Resolution
	ResolverID string
}

// Resolve closes the dispute and applies the resolution's terminal
// transition to the parent order atomically. The resolution vocabulary is
// total: every accepted value maps to delivered or cancelled, so a resolved
// dispute never leaves its order in an intermediate state.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (Dispute, error) {
	if params.DisputeID == "" {
		return Dispute{}, fmt.Errorf("%w: missing dispute id", ErrInvalidArgument)
	}
	if params.ResolverID == "" {
		return Dispute{}, fmt.Errorf("%w: missing resolver id", ErrInvalidArgument)
	}
	terminal, ok := params.Resolution.TerminalStatus()
	if !ok {
		return Dispute{}, fmt.Errorf("%w: unknown resolution %q", ErrInvalidArgument, params.Resolution)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status == StatusResolved {
		return Dispute{}, ErrAlreadyResolved
	}

	if _, err := s.orders.ApplyResolution(ctx, tx, d.OrderID, terminal, params.ResolverID); err != nil {
		return Dispute{}, err
	}

	resolved, err := s.repo.Resolve(ctx, tx, d.ID, params.Resolution, params.ResolverID)
	if err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit tx: %w", err)
	}

	return resolved, nil
}

// Get returns the dispute by id.
func (s *Service) Get(ctx context.Context, id string) (Dispute, error) {
	if id == "" {
		return Dispute{}, fmt.Errorf("%w: missing dispute id", ErrInvalidArgument)
	}
	return s.repo.GetByID(ctx, id)
}

// ListForOrder returns the order's dispute history, newest first.
func (s *Service) ListForOrder(ctx context.Context, orderID string) ([]Dispute, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrInvalidArgument)
	}
	return s.repo.ListForOrder(ctx, orderID)
}
