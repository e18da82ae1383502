package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/educonnect/backend/internal/friends"
	"github.com/educonnect/backend/internal/logging"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps engine errors onto HTTP statuses.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, friends.ErrInvalidTarget):
		status, message = http.StatusBadRequest, "invalid friend request target"
	case errors.Is(err, friends.ErrAlreadyFriends):
		status, message = http.StatusConflict, "you are already friends with this user"
	case errors.Is(err, friends.ErrDuplicateRequest):
		status, message = http.StatusConflict, "a friend request already exists between you and this user"
	case errors.Is(err, friends.ErrNotFound):
		status, message = http.StatusNotFound, "friend request not found"
	case errors.Is(err, friends.ErrUnknownUser):
		status, message = http.StatusNotFound, "user not found"
	case errors.Is(err, friends.ErrForbidden):
		status, message = http.StatusForbidden, "you are not authorized to perform this action"
	default:
		logging.FromContext(ctx).Error("friend operation failed", "error", err)
	}
	respondJSON(ctx, w, status, map[string]string{"error": message})
}
