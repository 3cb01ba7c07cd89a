package order

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Order is a buyer's purchase against a listing. UnitPrice is a snapshot of
// the listing price at placement time and is never updated afterwards, so
// later listing price changes cannot affect an existing order. PriorStatus
// records the state a dispute suspended, for audit only; resolution always
// produces an explicit terminal decision, never a resumption.
type Order struct {
	ID             string
	ListingID      string
	BuyerID        string
	SellerID       string
	Quantity       int
	UnitPrice      int64 // minor units of Currency
	Currency       string
	Status         Status
	PriorStatus    *Status
	TrackingNumber *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
}
