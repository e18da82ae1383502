package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/educonnect/backend/internal/config"
	"github.com/educonnect/backend/internal/db"
	"github.com/educonnect/backend/internal/friends"
	"github.com/educonnect/backend/internal/handlers"
	"github.com/educonnect/backend/internal/middleware"
	"github.com/educonnect/backend/internal/models"
	"github.com/educonnect/backend/internal/repositories"
)

const rateLimiterTTL = 10 * time.Minute

// buildDependencies opens the configured store and wires the HTTP collaborators.
// The returned cleanup releases the store.
func buildDependencies(ctx context.Context, cfg config.Config) (handlers.Dependencies, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		store := repositories.NewMemoryStore()
		if cfg.MemorySeedPath != "" {
			if err := loadMemorySeed(store, cfg.MemorySeedPath); err != nil {
				return handlers.Dependencies{}, nil, err
			}
		}
		return wireDependencies(store, nil, cfg), func() {}, nil
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return handlers.Dependencies{}, nil, err
		}
		return postgresDependencies(pool, cfg), pool.Close, nil
	}
}

func postgresDependencies(pool db.Pool, cfg config.Config) handlers.Dependencies {
	return wireDependencies(repositories.NewPostgresStore(pool), pool, cfg)
}

func wireDependencies(store repositories.Store, health handlers.HealthChecker, cfg config.Config) handlers.Dependencies {
	engine := friends.NewEngine(store, friends.Config{AutoAcceptMutual: cfg.Friends.AutoAcceptMutual})

	deps := handlers.Dependencies{Friends: engine, Health: health}
	if cfg.Friends.RequestRate > 0 {
		deps.FriendRequestLimiter = middleware.NewKeyedRateLimiter(
			cfg.Friends.RequestRate,
			cfg.Friends.RequestWindow,
			cfg.Friends.RequestBurst,
			rateLimiterTTL,
		)
	}
	return deps
}

type seedUser struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	FullName    string   `json:"fullName"`
	Bio         string   `json:"bio"`
	College     string   `json:"college"`
	Branch      string   `json:"branch"`
	Location    string   `json:"location"`
	ProfilePic  string   `json:"profilePic"`
	IsOnboarded bool     `json:"isOnboarded"`
	Friends     []string `json:"friends"`
}

// loadMemorySeed fills the in-memory directory from a JSON array of users.
// Friendships are linked after every user exists so order does not matter.
func loadMemorySeed(store *repositories.MemoryStore, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read memory seed: %w", err)
	}

	var users []seedUser
	if err := json.Unmarshal(raw, &users); err != nil {
		return fmt.Errorf("decode memory seed %s: %w", path, err)
	}

	now := time.Now().UTC()
	for _, u := range users {
		err := store.AddUser(models.User{
			ID:          u.ID,
			Email:       u.Email,
			FullName:    u.FullName,
			Bio:         u.Bio,
			College:     u.College,
			Branch:      u.Branch,
			Location:    u.Location,
			ProfilePic:  u.ProfilePic,
			IsOnboarded: u.IsOnboarded,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
	}

	ctx := context.Background()
	for _, u := range users {
		for _, friendID := range u.Friends {
			if err := store.AddMutualFriend(ctx, u.ID, friendID); err != nil {
				return fmt.Errorf("seed friendship %s-%s: %w", u.ID, friendID, err)
			}
		}
	}

	slog.Info("loaded memory seed", "path", path, "users", len(users))
	return nil
}
