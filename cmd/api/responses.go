package main

import (
	"time"

	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/market"
	"marketflow/order"
)

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type listingResponse struct {
	ID        string `json:"id"`
	SellerID  string `json:"sellerId"`
	ProductID string `json:"productId"`
	Price     int64  `json:"price"` // minor units
	Currency  string `json:"currency"`
	Quantity  int    `json:"quantity"`
	Condition string `json:"condition,omitempty"`
	Location  string `json:"location,omitempty"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
}

func toListingResponse(l listing.Listing) listingResponse {
	return listingResponse{
		ID:        l.ID,
		SellerID:  l.SellerID,
		ProductID: l.ProductID,
		Price:     l.Price,
		Currency:  l.Currency,
		Quantity:  l.Quantity,
		Condition: l.Condition,
		Location:  l.Location,
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: l.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func toListingResponses(items []listing.Listing) []listingResponse {
	out := make([]listingResponse, len(items))
	for i, l := range items {
		out[i] = toListingResponse(l)
	}
	return out
}

type orderResponse struct {
	ID             string  `json:"id"`
	ListingID      string  `json:"listingId"`
	BuyerID        string  `json:"buyerId"`
	SellerID       string  `json:"sellerId"`
	Quantity       int     `json:"quantity"`
	UnitPrice      int64   `json:"unitPrice"` // minor units snapshot
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	TrackingNumber *string `json:"trackingNumber,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	ConfirmedAt    *string `json:"confirmedAt,omitempty"`
	ShippedAt      *string `json:"shippedAt,omitempty"`
	DeliveredAt    *string `json:"deliveredAt,omitempty"`
	CancelledAt    *string `json:"cancelledAt,omitempty"`
}

func toOrderResponse(o order.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		ListingID:      o.ListingID,
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		Quantity:       o.Quantity,
		UnitPrice:      o.UnitPrice,
		Currency:       o.Currency,
		Status:         string(o.Status),
		TrackingNumber: o.TrackingNumber,
		CreatedAt:      o.CreatedAt.UTC().Format(time.RFC3339),
		ConfirmedAt:    formatTimePtr(o.ConfirmedAt),
		ShippedAt:      formatTimePtr(o.ShippedAt),
		DeliveredAt:    formatTimePtr(o.DeliveredAt),
		CancelledAt:    formatTimePtr(o.CancelledAt),
	}
}

func toOrderResponses(items []order.Order) []orderResponse {
	out := make([]orderResponse, len(items))
	for i, o := range items {
		out[i] = toOrderResponse(o)
	}
	return out
}

type disputeResponse struct {
	ID          string   `json:"id"`
	OrderID     string   `json:"orderId"`
	InitiatorID string   `json:"initiatorId"`
	Reason      string   `json:"reason"`
	Evidence    []string `json:"evidence,omitempty"`
	Status      string   `json:"status"`
	Resolution  *string  `json:"resolution,omitempty"`
	ResolverID  *string  `json:"resolverId,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	ResolvedAt  *string  `json:"resolvedAt,omitempty"`
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	var resolution *string
	if d.Resolution != nil {
		v := string(*d.Resolution)
		resolution = &v
	}
	return disputeResponse{
		ID:          d.ID,
		OrderID:     d.OrderID,
		InitiatorID: d.InitiatorID,
		Reason:      d.Reason,
		Evidence:    d.Evidence,
		Status:      string(d.Status),
		Resolution:  resolution,
		ResolverID:  d.ResolverID,
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339),
		ResolvedAt:  formatTimePtr(d.ResolvedAt),
	}
}

func toDisputeResponses(items []dispute.Dispute) []disputeResponse {
	out := make([]disputeResponse, len(items))
	for i, d := range items {
		out[i] = toDisputeResponse(d)
	}
	return out
}

type statsResponse struct {
	ActiveListings   int              `json:"activeListings"`
	CompletedOrders  int              `json:"completedOrders"`
	OpenDisputes     int              `json:"openDisputes"`
	VolumeByCurrency map[string]int64 `json:"volumeByCurrency"`
}

func toStatsResponse(s market.Stats) statsResponse {
	return statsResponse{
		ActiveListings:   s.ActiveListings,
		CompletedOrders:  s.CompletedOrders,
		OpenDisputes:     s.OpenDisputes,
		VolumeByCurrency: s.VolumeByCurrency,
	}
}

type activityResponse struct {
	Listings       []listingResponse `json:"listings"`
	OrdersPlaced   []orderResponse   `json:"ordersPlaced"`
	OrdersReceived []orderResponse   `json:"ordersReceived"`
	Disputes       []disputeResponse `json:"disputes"`
}

func toActivityResponse(a market.Activity) activityResponse {
	return activityResponse{
		Listings:       toListingResponses(a.Listings),
		OrdersPlaced:   toOrderResponses(a.OrdersPlaced),
		OrdersReceived: toOrderResponses(a.OrdersReceived),
		Disputes:       toDisputeResponses(a.Disputes),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}
