package market

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidArgument marks caller input rejected before any repository access.
var ErrInvalidArgument = errors.New("market: invalid argument")

// Service is the read-side composition over listings, orders and disputes.
// It holds no state and enforces no invariants of its own.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Stats returns marketplace-wide aggregates.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// UserActivity returns the union of listings created and orders placed or
// received by the user, plus disputes they initiated.
func (s *Service) UserActivity(ctx context.Context, userID string) (Activity, error) {
	if userID == "" {
		return Activity{}, fmt.Errorf("%w: missing user id", ErrInvalidArgument)
	}
	return s.repo.UserActivity(ctx, userID)
}
