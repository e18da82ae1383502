package handlers

import (
	"context"

	"github.com/educonnect/backend/internal/friends"
	"github.com/educonnect/backend/internal/models"
)

// FriendService captures the friend engine operations exposed over HTTP.
type FriendService interface {
	SendFriendRequest(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error)
	AcceptFriendRequest(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error)
	DeclineFriendRequest(ctx context.Context, requestID, actingUserID string) error
	ListFriends(ctx context.Context, userID string) ([]models.User, error)
	ListOutgoingRequests(ctx context.Context, userID string) ([]models.FriendRequest, error)
	Notifications(ctx context.Context, userID string) (friends.Notifications, error)
	Profiles(ctx context.Context, ids []string) (map[string]models.User, error)
	Recommend(ctx context.Context, userID string, criteria friends.Criteria) ([]models.User, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}
