package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/educonnect/backend/internal/friends"
	"github.com/educonnect/backend/internal/logging"
	"github.com/educonnect/backend/internal/models"
)

const maxRecommendationLimit = 100

// FriendHandler exposes recommendations, friend lists and the friend request lifecycle.
type FriendHandler struct {
	Friends FriendService
}

type userResponse struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName"`
	Bio        string `json:"bio,omitempty"`
	College    string `json:"college,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Location   string `json:"location,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

type friendRequestResponse struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	RecipientID string        `json:"recipientId"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	RespondedAt *time.Time    `json:"respondedAt,omitempty"`
	Sender      *userResponse `json:"sender,omitempty"`
	Recipient   *userResponse `json:"recipient,omitempty"`
}

type friendRequestsResponse struct {
	IncomingReqs []friendRequestResponse `json:"incomingReqs"`
	AcceptedReqs []friendRequestResponse `json:"acceptedReqs"`
}

type requestActionResponse struct {
	Message string                 `json:"message"`
	Request *friendRequestResponse `json:"request,omitempty"`
}

// Recommend handles GET /api/v1/users.
func (h FriendHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	query := r.URL.Query()
	criteria := friends.Criteria{
		Search:   query.Get("search"),
		College:  query.Get("college"),
		Branch:   query.Get("branch"),
		Location: query.Get("location"),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		criteria.Limit = min(limit, maxRecommendationLimit)
	}

	users, err := h.Friends.Recommend(ctx, actingUser(r), criteria)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, toUserResponses(users))
}

// ListFriends handles GET /api/v1/users/friends.
func (h FriendHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	users, err := h.Friends.ListFriends(ctx, actingUser(r))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, toUserResponses(users))
}

// Send handles POST /api/v1/users/friend-request/{id}. A request that
// completes a mutual pair comes back accepted with 200 instead of 201.
func (h FriendHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	request, err := h.Friends.SendFriendRequest(ctx, actingUser(r), mux.Vars(r)["id"])
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	resp := toFriendRequestResponse(request)
	if request.Status == models.RequestStatusAccepted {
		respondJSON(ctx, w, http.StatusOK, requestActionResponse{Message: "friend request accepted", Request: &resp})
		return
	}
	respondJSON(ctx, w, http.StatusCreated, requestActionResponse{Message: "friend request sent", Request: &resp})
}

// Accept handles PUT /api/v1/users/friend-request/{id}/accept.
func (h FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	request, err := h.Friends.AcceptFriendRequest(ctx, mux.Vars(r)["id"], actingUser(r))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	resp := toFriendRequestResponse(request)
	respondJSON(ctx, w, http.StatusOK, requestActionResponse{Message: "friend request accepted", Request: &resp})
}

// Decline handles DELETE /api/v1/users/friend-request/{id}/decline.
func (h FriendHandler) Decline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	if err := h.Friends.DeclineFriendRequest(ctx, mux.Vars(r)["id"], actingUser(r)); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, requestActionResponse{Message: "friend request declined"})
}

// Requests handles GET /api/v1/users/friend-requests: pending requests
// addressed to the user with sender profiles, and the user's accepted
// requests with recipient profiles.
func (h FriendHandler) Requests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	notifications, err := h.Friends.Notifications(ctx, actingUser(r))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	ids := make([]string, 0, len(notifications.Incoming)+len(notifications.Accepted))
	for _, request := range notifications.Incoming {
		ids = append(ids, request.SenderID)
	}
	for _, request := range notifications.Accepted {
		ids = append(ids, request.RecipientID)
	}
	profiles, err := h.Friends.Profiles(ctx, ids)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	resp := friendRequestsResponse{
		IncomingReqs: make([]friendRequestResponse, 0, len(notifications.Incoming)),
		AcceptedReqs: make([]friendRequestResponse, 0, len(notifications.Accepted)),
	}
	for _, request := range notifications.Incoming {
		item := toFriendRequestResponse(request)
		item.Sender = profileFor(profiles, request.SenderID)
		resp.IncomingReqs = append(resp.IncomingReqs, item)
	}
	for _, request := range notifications.Accepted {
		item := toFriendRequestResponse(request)
		item.Recipient = profileFor(profiles, request.RecipientID)
		resp.AcceptedReqs = append(resp.AcceptedReqs, item)
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Outgoing handles GET /api/v1/users/outgoing-friend-requests.
func (h FriendHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}

	requests, err := h.Friends.ListOutgoingRequests(ctx, actingUser(r))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	ids := make([]string, 0, len(requests))
	for _, request := range requests {
		ids = append(ids, request.RecipientID)
	}
	profiles, err := h.Friends.Profiles(ctx, ids)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	resp := make([]friendRequestResponse, 0, len(requests))
	for _, request := range requests {
		item := toFriendRequestResponse(request)
		item.Recipient = profileFor(profiles, request.RecipientID)
		resp = append(resp, item)
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

func (h FriendHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.Friends != nil {
		return true
	}
	logging.FromContext(r.Context()).Error("friend service unavailable")
	respondJSON(r.Context(), w, http.StatusInternalServerError, map[string]string{"error": "friend service unavailable"})
	return false
}

func actingUser(r *http.Request) string {
	return logging.UserIDFromContext(r.Context())
}

func toUserResponse(user models.User) userResponse {
	return userResponse{
		ID:         user.ID,
		FullName:   user.FullName,
		Bio:        user.Bio,
		College:    user.College,
		Branch:     user.Branch,
		Location:   user.Location,
		ProfilePic: user.ProfilePic,
	}
}

func toUserResponses(users []models.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, user := range users {
		out = append(out, toUserResponse(user))
	}
	return out
}

func toFriendRequestResponse(request models.FriendRequest) friendRequestResponse {
	return friendRequestResponse{
		ID:          request.ID,
		SenderID:    request.SenderID,
		RecipientID: request.RecipientID,
		Status:      string(request.Status),
		CreatedAt:   request.CreatedAt,
		RespondedAt: request.RespondedAt,
	}
}

func profileFor(profiles map[string]models.User, id string) *userResponse {
	user, ok := profiles[id]
	if !ok {
		return nil
	}
	resp := toUserResponse(user)
	return &resp
}
