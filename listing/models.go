package listing

import "time"

// Listing is a seller's sale offer. Quantity is the number of units still
// available; it is decremented by the order engine when an order reserves
// stock and restored when a reservation is cancelled. A listing with zero
// quantity or a past expiry is inactive but kept as a historical record.
type Listing struct {
	ID        string
	SellerID  string
	ProductID string
	Price     int64 // minor units of Currency
	Currency  string
	Quantity  int
	Condition string
	Location  string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Filters narrows active-listing queries. Zero values mean "no constraint".
type Filters struct {
	ProductID string
	SellerID  string
	Currency  string
	Condition string
	Location  string
	PriceMin  int64
	PriceMax  int64
	Page      int
	PageSize  int
	SortKey   string
	SortOrder string
}
