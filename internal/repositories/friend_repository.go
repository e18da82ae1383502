package repositories

import (
	"context"

	"github.com/educonnect/backend/internal/models"
)

// FriendRepository defines data access for friend requests.
type FriendRepository interface {
	CreateRequest(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error)
	GetRequest(ctx context.Context, id string) (models.FriendRequest, error)
	// FindRequestBetween returns the request between a and b in either
	// direction, or ErrNotFound.
	FindRequestBetween(ctx context.Context, a, b string) (models.FriendRequest, error)
	SetAccepted(ctx context.Context, id string) error
	DeleteRequest(ctx context.Context, id string) error
	ListByRecipient(ctx context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error)
	ListBySender(ctx context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error)
}
