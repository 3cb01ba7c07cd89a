package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"marketflow/auth"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/market"
	"marketflow/order"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

type listingService interface {
	Create(ctx context.Context, params listing.CreateParams) (listing.Listing, error)
	Get(ctx context.Context, id string) (listing.Listing, error)
	ListActive(ctx context.Context, filters listing.Filters) ([]listing.Listing, int, error)
	Search(ctx context.Context, query string, filters listing.Filters) ([]listing.Listing, int, error)
}

type orderService interface {
	Place(ctx context.Context, params order.PlaceParams) (order.Order, error)
	Confirm(ctx context.Context, orderID, sellerID string) (order.Order, error)
	Ship(ctx context.Context, params order.ShipParams) (order.Order, error)
	Deliver(ctx context.Context, orderID, actorID string) (order.Order, error)
	Cancel(ctx context.Context, orderID, actorID, reason string) (order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
}

type disputeService interface {
	Create(ctx context.Context, params dispute.CreateParams) (dispute.Dispute, error)
	Resolve(ctx context.Context, params dispute.ResolveParams) (dispute.Dispute, error)
	Get(ctx context.Context, id string) (dispute.Dispute, error)
}

type marketService interface {
	Stats(ctx context.Context) (market.Stats, error)
	UserActivity(ctx context.Context, userID string) (market.Activity, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, auth.Role, error)
}

// Server wires the marketplace services to the HTTP action surface.
type Server struct {
	listingService listingService
	orderService   orderService
	disputeService disputeService
	marketService  marketService
	authService    authService
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/marketplace/", s.handleMarketplace)
	return mux
}

// handleMarketplace dispatches /api/marketplace/<action>. The action names
// are the public contract; route shape around them is glue.
func (s *Server) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/marketplace/"), "/")

	switch action {
	case "listings":
		s.requireMethod(w, r, http.MethodGet, s.handleListings)
	case "listing":
		s.requireMethod(w, r, http.MethodGet, s.handleListing)
	case "search":
		s.requireMethod(w, r, http.MethodGet, s.handleSearch)
	case "stats":
		s.requireMethod(w, r, http.MethodGet, s.handleStats)
	case "user-activity":
		s.requireMethod(w, r, http.MethodGet, s.withAuth(s.handleUserActivity))
	case "create-listing":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handleCreateListing))
	case "place-order":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handlePlaceOrder))
	case "confirm-order":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handleConfirmOrder))
	case "ship-order":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handleShipOrder))
	case "deliver-order":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handleDeliverOrder))
	case "cancel-order":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handleCancelOrder))
	case "order":
		s.requireMethod(w, r, http.MethodGet, s.withAuth(s.handleOrder))
	case "dispute":
		s.requireMethod(w, r, http.MethodGet, s.withAuth(s.handleDispute))
	case "create-dispute":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handleCreateDispute))
	case "resolve-dispute":
		s.requireMethod(w, r, http.MethodPost, s.withAuth(s.handleResolveDispute))
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	next(w, r)
}

// withAuth requires a Bearer token and places the caller's id and role on
// the request context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func actorFromContext(ctx context.Context) (string, auth.Role) {
	userID, _ := ctx.Value(ctxKeyUserID).(string)
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return userID, role
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain failures onto HTTP statuses. Business-rule
// violations surface their message so clients can see which invariant was
// violated; infrastructure failures stay generic.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, listing.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrListingNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrInsufficientInventory),
		errors.Is(err, dispute.ErrDuplicate),
		errors.Is(err, order.ErrAlreadyDisputed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrListingInactive),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, auth.ErrInvalidArgument),
		errors.Is(err, listing.ErrInvalidArgument),
		errors.Is(err, order.ErrInvalidArgument),
		errors.Is(err, dispute.ErrInvalidArgument),
		errors.Is(err, market.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
