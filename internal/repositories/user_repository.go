package repositories

import (
	"context"
	"iter"

	"github.com/educonnect/backend/internal/models"
)

// UserRepository is the user directory consulted by the friend engine.
type UserRepository interface {
	// GetUser returns the user with its friend set, or ErrNotFound.
	GetUser(ctx context.Context, id string) (models.User, error)
	// AddMutualFriend records a and b as friends of each other in one step.
	AddMutualFriend(ctx context.Context, a, b string) error
	// ListOnboardedUsers streams onboarded users in a stable order. A failure
	// is yielded once as the final element.
	ListOnboardedUsers(ctx context.Context) iter.Seq2[models.User, error]
}
