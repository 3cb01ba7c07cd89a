package dispute

import (
	"time"

	"marketflow/order"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Resolution is the closed vocabulary of dispute outcomes. Every value maps
// to exactly one terminal order status; unknown values are rejected before
// any write.
type Resolution string

const (
	ResolutionReleaseToSeller Resolution = "release-to-seller"
	ResolutionComplete        Resolution = "complete"
	ResolutionRefundBuyer     Resolution = "refund-buyer"
	ResolutionPartialRefund   Resolution = "partial-refund"
	ResolutionCancel          Resolution = "cancel"
)

// TerminalStatus returns the order status this resolution produces. The
// second return is false for values outside the vocabulary.
func (r Resolution) TerminalStatus() (order.Status, bool) {
	switch r {
	case ResolutionReleaseToSeller, ResolutionComplete:
		return order.StatusDelivered, true
	case ResolutionRefundBuyer, ResolutionPartialRefund, ResolutionCancel:
		return order.StatusCancelled, true
	default:
		return "", false
	}
}

// Dispute suspends an order's normal progression until resolved. A record is
// written once at creation and once at resolution, then never again.
type Dispute struct {
	ID          string
	OrderID     string
	InitiatorID string
	Reason      string
	Evidence    []string
	Status      Status
	Resolution  *Resolution
	ResolverID  *string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
