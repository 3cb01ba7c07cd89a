package market

import (
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/order"
)

// Stats is a point-in-time aggregate over the marketplace. Computed from
// plain reads, so it may trail in-flight transactions slightly.
type Stats struct {
	ActiveListings   int
	CompletedOrders  int
	OpenDisputes     int
	VolumeByCurrency map[string]int64 // delivered order value, minor units
}

// Activity is the union of a user's footprint on the marketplace.
type Activity struct {
	Listings       []listing.Listing
	OrdersPlaced   []order.Order
	OrdersReceived []order.Order
	Disputes       []dispute.Dispute
}
