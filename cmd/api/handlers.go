package main

import (
	"net/http"
	"strconv"

	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/order"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	items, total, err := s.listingService.ListActive(r.Context(), filtersFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": toListingResponses(items),
		"total":    total,
	})
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.listingService.Get(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(l))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	items, total, err := s.listingService.Search(r.Context(), r.URL.Query().Get("q"), filtersFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": toListingResponses(items),
		"total":    total,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.marketService.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

// handleUserActivity returns the caller's own footprint unless an explicit
// user_id is requested, which only admins may do.
func (s *Server) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	actorID, role := actorFromContext(r.Context())
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = actorID
	}
	if userID != actorID && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "cannot view another user's activity")
		return
	}
	activity, err := s.marketService.UserActivity(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityResponse(activity))
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	actorID, role := actorFromContext(r.Context())
	if role != auth.RoleSeller && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "only sellers can create listings")
		return
	}
	var req struct {
		ProductID     string `json:"product_id"`
		Price         int64  `json:"price"`
		Currency      string `json:"currency"`
		Quantity      int    `json:"quantity"`
		Condition     string `json:"condition"`
		Location      string `json:"location"`
		ExpiresInDays int    `json:"expires_in_days"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := s.listingService.Create(r.Context(), listing.CreateParams{
		SellerID:      actorID,
		ProductID:     req.ProductID,
		Price:         req.Price,
		Currency:      req.Currency,
		Quantity:      req.Quantity,
		Condition:     req.Condition,
		Location:      req.Location,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingResponse(l))
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := actorFromContext(r.Context())
	var req struct {
		ListingID string `json:"listing_id"`
		Quantity  int    `json:"quantity"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orderService.Place(r.Context(), order.PlaceParams{
		BuyerID:   actorID,
		ListingID: req.ListingID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := actorFromContext(r.Context())
	var req struct {
		OrderID string `json:"order_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orderService.Confirm(r.Context(), req.OrderID, actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleShipOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := actorFromContext(r.Context())
	var req struct {
		OrderID        string  `json:"order_id"`
		TrackingNumber *string `json:"tracking_number"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orderService.Ship(r.Context(), order.ShipParams{
		OrderID:        req.OrderID,
		SellerID:       actorID,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleDeliverOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := actorFromContext(r.Context())
	var req struct {
		OrderID string `json:"order_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orderService.Deliver(r.Context(), req.OrderID, actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _ := actorFromContext(r.Context())
	var req struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := s.orderService.Cancel(r.Context(), req.OrderID, actorID, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	actorID, role := actorFromContext(r.Context())
	o, err := s.orderService.Get(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if o.BuyerID != actorID && o.SellerID != actorID && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "order belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	actorID, role := actorFromContext(r.Context())
	d, err := s.disputeService.Get(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if d.InitiatorID != actorID && role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "dispute belongs to another user")
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	actorID, _ := actorFromContext(r.Context())
	var req struct {
		OrderID  string   `json:"order_id"`
		Reason   string   `json:"reason"`
		Evidence []string `json:"evidence"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.disputeService.Create(r.Context(), dispute.CreateParams{
		OrderID:     req.OrderID,
		InitiatorID: actorID,
		Reason:      req.Reason,
		Evidence:    req.Evidence,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(d))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	actorID, role := actorFromContext(r.Context())
	if role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "only admins can resolve disputes")
		return
	}
	var req struct {
		DisputeID  string `json:"dispute_id"`
		Resolution string `json:"resolution"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.disputeService.Resolve(r.Context(), dispute.ResolveParams{
		DisputeID:  req.DisputeID,
		Resolution: dispute.Resolution(req.Resolution),
		ResolverID: actorID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

func filtersFromQuery(r *http.Request) listing.Filters {
	q := r.URL.Query()
	return listing.Filters{
		ProductID: q.Get("product_id"),
		SellerID:  q.Get("seller_id"),
		Currency:  q.Get("currency"),
		Condition: q.Get("condition"),
		Location:  q.Get("location"),
		PriceMin:  parseInt64(q.Get("price_min")),
		PriceMax:  parseInt64(q.Get("price_max")),
		Page:      parseInt(q.Get("page")),
		PageSize:  parseInt(q.Get("page_size")),
		SortKey:   q.Get("sort"),
		SortOrder: q.Get("order"),
	}
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
