package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInvalidArgument marks caller input that fails validation before any
// repository access.
var ErrInvalidArgument = errors.New("listing: invalid argument")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutboxWriter enqueues an event inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

const defaultExpiresInDays = 30

type Service struct {
	pool        TxBeginner
	repo        Repository
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
}

type CreateParams struct {
	SellerID      string
	ProductID     string
	Price         int64 // minor units
	Currency      string
	Quantity      int
	Condition     string
	Location      string
	ExpiresInDays int
}

func NewService(pool TxBeginner, repo Repository, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create persists a new active listing owned by the seller.
func (s *Service) Create(ctx context.Context, params CreateParams) (Listing, error) {
	if params.SellerID == "" {
		return Listing{}, fmt.Errorf("%w: missing seller id", ErrInvalidArgument)
	}
	if params.ProductID == "" {
		return Listing{}, fmt.Errorf("%w: missing product id", ErrInvalidArgument)
	}
	if params.Price <= 0 {
		return Listing{}, fmt.Errorf("%w: price must be positive, got %d", ErrInvalidArgument, params.Price)
	}
	if params.Quantity <= 0 {
		return Listing{}, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, params.Quantity)
	}
	if strings.TrimSpace(params.Currency) == "" {
		return Listing{}, fmt.Errorf("%w: currency required", ErrInvalidArgument)
	}
	if params.ExpiresInDays < 0 {
		return Listing{}, fmt.Errorf("%w: expires-in days must be positive, got %d", ErrInvalidArgument, params.ExpiresInDays)
	}
	if params.ExpiresInDays == 0 {
		params.ExpiresInDays = defaultExpiresInDays
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Listing{}, fmt.Errorf("listing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l := Listing{
		ID:        s.idGenerator(),
		SellerID:  params.SellerID,
		ProductID: params.ProductID,
		Price:     params.Price,
		Currency:  strings.ToUpper(strings.TrimSpace(params.Currency)),
		Quantity:  params.Quantity,
		Condition: params.Condition,
		Location:  params.Location,
		ExpiresAt: s.now().AddDate(0, 0, params.ExpiresInDays),
	}

	created, err := s.repo.Create(ctx, tx, l)
	if err != nil {
		return Listing{}, fmt.Errorf("listing: create: %w", err)
	}

	if s.outbox != nil {
		payload := map[string]any{
			"listing_id": created.ID,
			"seller_id":  created.SellerID,
			"product_id": created.ProductID,
			"price":      created.Price,
			"currency":   created.Currency,
			"quantity":   created.Quantity,
		}
		if err := s.outbox.Enqueue(ctx, tx, "listing.created", payload); err != nil {
			return Listing{}, fmt.Errorf("listing: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Listing{}, fmt.Errorf("listing: commit tx: %w", err)
	}

	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (Listing, error) {
	if id == "" {
		return Listing{}, fmt.Errorf("%w: missing listing id", ErrInvalidArgument)
	}
	return s.repo.GetByID(ctx, id)
}

// ListActive returns listings with remaining stock and a future expiry.
func (s *Service) ListActive(ctx context.Context, filters Filters) ([]Listing, int, error) {
	if err := validateFilters(filters); err != nil {
		return nil, 0, err
	}
	return s.repo.ListActive(ctx, filters)
}

// Search adds a free-text match over product, condition and location fields.
func (s *Service) Search(ctx context.Context, query string, filters Filters) ([]Listing, int, error) {
	if err := validateFilters(filters); err != nil {
		return nil, 0, err
	}
	return s.repo.SearchActive(ctx, query, filters)
}

func validateFilters(filters Filters) error {
	if filters.PriceMin < 0 || filters.PriceMax < 0 {
		return fmt.Errorf("%w: negative price bound", ErrInvalidArgument)
	}
	if filters.PriceMin > 0 && filters.PriceMax > 0 && filters.PriceMin > filters.PriceMax {
		return fmt.Errorf("%w: price range inverted (%d > %d)", ErrInvalidArgument, filters.PriceMin, filters.PriceMax)
	}
	if filters.Page < 0 || filters.PageSize < 0 {
		return fmt.Errorf("%w: negative pagination value", ErrInvalidArgument)
	}
	return nil
}
