package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/educonnect/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Friends FriendService
	// FriendRequestLimiter throttles sending friend requests per user. Nil disables it.
	FriendRequestLimiter RateLimiter
	Health               HealthChecker
}

// NewRouter wires HTTP handlers into a router. Everything under
// /api/v1/users requires the X-User-ID header.
func NewRouter(deps Dependencies) *mux.Router {
	router := mux.NewRouter()
	RegisterRoutes(router, deps)
	return router
}

// RegisterRoutes wires HTTP handlers into the provided router.
func RegisterRoutes(router *mux.Router, deps Dependencies) {
	health := HealthHandler{Store: deps.Health}
	friends := FriendHandler{Friends: deps.Friends}

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	router.HandleFunc("/healthz", health.Handle).Methods(http.MethodGet)

	users := router.PathPrefix("/api/v1/users").Subrouter()
	users.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	users.Use(middleware.RequireUser)

	limitSend := middleware.Limit(deps.FriendRequestLimiter, rateLimitKey("friend-request"))

	users.HandleFunc("", friends.Recommend).Methods(http.MethodGet)
	users.HandleFunc("/friends", friends.ListFriends).Methods(http.MethodGet)
	users.Handle("/friend-request/{id}", limitSend(http.HandlerFunc(friends.Send))).Methods(http.MethodPost)
	users.HandleFunc("/friend-request/{id}/accept", friends.Accept).Methods(http.MethodPut)
	users.HandleFunc("/friend-request/{id}/decline", friends.Decline).Methods(http.MethodDelete)
	users.HandleFunc("/friend-requests", friends.Requests).Methods(http.MethodGet)
	users.HandleFunc("/outgoing-friend-requests", friends.Outgoing).Methods(http.MethodGet)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
