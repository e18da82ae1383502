package friends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/educonnect/backend/internal/logging"
	"github.com/educonnect/backend/internal/models"
	"github.com/educonnect/backend/internal/repositories"
)

const defaultProfileWorkers = 8

// Config tunes engine behaviour.
type Config struct {
	// AutoAcceptMutual accepts a pending request in the reverse direction
	// instead of rejecting the new request as a duplicate.
	AutoAcceptMutual bool
	// ProfileWorkers bounds concurrent directory lookups when resolving profiles.
	ProfileWorkers int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{AutoAcceptMutual: true, ProfileWorkers: defaultProfileWorkers}
}

// Engine owns the friend request state machine. It keeps no state between
// calls; every operation reads the store afresh.
type Engine struct {
	store repositories.Store
	cfg   Config
}

// NewEngine constructs an engine over the given store.
func NewEngine(store repositories.Store, cfg Config) *Engine {
	if cfg.ProfileWorkers <= 0 {
		cfg.ProfileWorkers = defaultProfileWorkers
	}
	return &Engine{store: store, cfg: cfg}
}

// Notifications groups the requests a user is notified about.
type Notifications struct {
	Incoming []models.FriendRequest
	Accepted []models.FriendRequest
}

// SendFriendRequest creates a pending request from senderID to recipientID.
// When the recipient already has a pending request to the sender and
// AutoAcceptMutual is set, that request is accepted and returned instead.
func (e *Engine) SendFriendRequest(ctx context.Context, senderID, recipientID string) (models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.SendFriendRequest")
	logger := logging.FromContext(ctx)

	senderID = strings.TrimSpace(senderID)
	recipientID = strings.TrimSpace(recipientID)
	if senderID == "" || recipientID == "" || senderID == recipientID {
		span.EndWithError(ErrInvalidTarget)
		return models.FriendRequest{}, ErrInvalidTarget
	}

	var result models.FriendRequest
	err := e.store.WithinTx(ctx, repositories.PairScope(senderID, recipientID), func(ctx context.Context, tx repositories.Tx) error {
		sender, err := tx.GetUser(ctx, senderID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return ErrUnknownUser
		case err != nil:
			return fmt.Errorf("load sender: %w", err)
		case !sender.IsOnboarded:
			return ErrForbidden
		}

		recipient, err := tx.GetUser(ctx, recipientID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return ErrInvalidTarget
		case err != nil:
			return fmt.Errorf("load recipient: %w", err)
		case !recipient.IsOnboarded:
			return ErrInvalidTarget
		}

		if sender.IsFriend(recipientID) {
			return ErrAlreadyFriends
		}

		existing, err := tx.FindRequestBetween(ctx, senderID, recipientID)
		switch {
		case err == nil:
			if !e.cfg.AutoAcceptMutual || existing.SenderID != recipientID || existing.Status != models.RequestStatusPending {
				return ErrDuplicateRequest
			}
			result, err = accept(ctx, tx, existing)
			return err
		case !errors.Is(err, repositories.ErrNotFound):
			return fmt.Errorf("find existing request: %w", err)
		}

		result, err = tx.CreateRequest(ctx, senderID, recipientID)
		switch {
		case errors.Is(err, repositories.ErrConflict):
			return ErrDuplicateRequest
		case errors.Is(err, repositories.ErrNotFound):
			return ErrInvalidTarget
		case err != nil:
			return fmt.Errorf("create friend request: %w", err)
		}
		return nil
	})
	span.EndWithError(err)
	if err != nil {
		logger.Debug("friend request rejected",
			slog.String("sender_id", senderID),
			slog.String("recipient_id", recipientID),
			slog.String("error", err.Error()),
		)
		return models.FriendRequest{}, err
	}

	logger.Info("friend request sent",
		slog.String("friend_request_id", result.ID),
		slog.String("sender_id", result.SenderID),
		slog.String("recipient_id", result.RecipientID),
		slog.String("status", string(result.Status)),
	)
	return result, nil
}

// AcceptFriendRequest accepts a pending request on behalf of its recipient
// and connects both users.
func (e *Engine) AcceptFriendRequest(ctx context.Context, requestID, actingUserID string) (models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.AcceptFriendRequest")
	ctx, logger := logging.WithFriendRequest(ctx, requestID)

	var accepted models.FriendRequest
	err := e.respond(ctx, requestID, actingUserID, func(ctx context.Context, tx repositories.Tx, request models.FriendRequest) error {
		var err error
		accepted, err = accept(ctx, tx, request)
		return err
	})
	span.EndWithError(err)
	if err != nil {
		logger.Debug("accept rejected", slog.String("error", err.Error()))
		return models.FriendRequest{}, err
	}

	logger.Info("friend request accepted",
		slog.String("sender_id", accepted.SenderID),
		slog.String("recipient_id", accepted.RecipientID),
	)
	return accepted, nil
}

// DeclineFriendRequest deletes a pending request on behalf of its recipient.
// The sender may send a new request afterwards.
func (e *Engine) DeclineFriendRequest(ctx context.Context, requestID, actingUserID string) error {
	ctx, span := logging.StartSpan(ctx, "friends.DeclineFriendRequest")
	ctx, logger := logging.WithFriendRequest(ctx, requestID)

	err := e.respond(ctx, requestID, actingUserID, func(ctx context.Context, tx repositories.Tx, request models.FriendRequest) error {
		if err := tx.DeleteRequest(ctx, request.ID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("delete friend request: %w", err)
		}
		return nil
	})
	span.EndWithError(err)
	if err != nil {
		logger.Debug("decline rejected", slog.String("error", err.Error()))
		return err
	}

	logger.Info("friend request declined")
	return nil
}

// respond locks the request and its pair, re-reads the request and runs fn
// when actingUserID is the recipient of a pending request.
func (e *Engine) respond(ctx context.Context, requestID, actingUserID string, fn func(context.Context, repositories.Tx, models.FriendRequest) error) error {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ErrNotFound
	}

	request, err := e.store.GetRequest(ctx, requestID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("load friend request: %w", err)
	case request.RecipientID != actingUserID:
		return ErrForbidden
	}

	scope := repositories.RequestScope(request.ID, request.SenderID, request.RecipientID)
	return e.store.WithinTx(ctx, scope, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetRequest(ctx, request.ID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("reload friend request: %w", err)
		case current.Status != models.RequestStatusPending:
			return ErrNotFound
		}
		return fn(ctx, tx, current)
	})
}

func accept(ctx context.Context, tx repositories.Tx, request models.FriendRequest) (models.FriendRequest, error) {
	if err := tx.SetAccepted(ctx, request.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("mark request accepted: %w", err)
	}
	if err := tx.AddMutualFriend(ctx, request.SenderID, request.RecipientID); err != nil {
		return models.FriendRequest{}, fmt.Errorf("add friendship: %w", err)
	}

	accepted, err := tx.GetRequest(ctx, request.ID)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("reload accepted request: %w", err)
	}
	return accepted, nil
}

// ListFriends resolves the user's friends to their profiles, ordered by id.
// Friends missing from the directory are skipped.
func (e *Engine) ListFriends(ctx context.Context, userID string) ([]models.User, error) {
	ctx, span := logging.StartSpan(ctx, "friends.ListFriends")

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		span.EndWithError(err)
		return nil, err
	}

	profiles, err := e.resolve(ctx, user.Friends)
	span.EndWithError(err)
	if err != nil {
		return nil, err
	}

	friends := make([]models.User, 0, len(profiles))
	for _, id := range user.Friends {
		if profile, ok := profiles[id]; ok {
			friends = append(friends, profile)
		}
	}
	return friends, nil
}

// Profiles resolves ids to directory profiles. Unknown ids are omitted.
func (e *Engine) Profiles(ctx context.Context, ids []string) (map[string]models.User, error) {
	ctx, span := logging.StartSpan(ctx, "friends.Profiles")

	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	profiles, err := e.resolve(ctx, unique)
	span.EndWithError(err)
	return profiles, err
}

func (e *Engine) resolve(ctx context.Context, ids []string) (map[string]models.User, error) {
	resolved := make([]*models.User, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ProfileWorkers)
	for i, id := range ids {
		g.Go(func() error {
			profile, err := e.store.GetUser(gctx, id)
			if errors.Is(err, repositories.ErrNotFound) {
				logging.FromContext(ctx).Warn("profile missing from directory", slog.String("user_id", id))
				return nil
			}
			if err != nil {
				return fmt.Errorf("load profile %s: %w", id, err)
			}
			resolved[i] = &profile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	profiles := make(map[string]models.User, len(ids))
	for _, profile := range resolved {
		if profile != nil {
			profiles[profile.ID] = *profile
		}
	}
	return profiles, nil
}

// ListIncomingRequests returns pending requests addressed to userID, newest first.
func (e *Engine) ListIncomingRequests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.ListIncomingRequests")
	requests, err := e.store.ListByRecipient(ctx, userID, models.RequestStatusPending)
	if err != nil {
		err = fmt.Errorf("list incoming requests: %w", err)
	}
	span.EndWithError(err)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// ListOutgoingRequests returns pending requests sent by userID, newest first.
func (e *Engine) ListOutgoingRequests(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.ListOutgoingRequests")
	requests, err := e.store.ListBySender(ctx, userID, models.RequestStatusPending)
	if err != nil {
		err = fmt.Errorf("list outgoing requests: %w", err)
	}
	span.EndWithError(err)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// ListAcceptedNotifications returns requests sent by userID that were accepted.
func (e *Engine) ListAcceptedNotifications(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.ListAcceptedNotifications")
	requests, err := e.store.ListBySender(ctx, userID, models.RequestStatusAccepted)
	if err != nil {
		err = fmt.Errorf("list accepted requests: %w", err)
	}
	span.EndWithError(err)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// Notifications loads incoming and accepted requests for userID concurrently.
func (e *Engine) Notifications(ctx context.Context, userID string) (Notifications, error) {
	ctx, span := logging.StartSpan(ctx, "friends.Notifications")

	var n Notifications
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		n.Incoming, err = e.ListIncomingRequests(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		n.Accepted, err = e.ListAcceptedNotifications(gctx, userID)
		return err
	})

	err := g.Wait()
	span.EndWithError(err)
	if err != nil {
		return Notifications{}, err
	}
	return n, nil
}

// Recommend returns onboarded users matching criteria, excluding the user
// and their friends, in directory order.
func (e *Engine) Recommend(ctx context.Context, userID string, criteria Criteria) ([]models.User, error) {
	ctx, span := logging.StartSpan(ctx, "friends.Recommend")

	requester, err := e.lookupUser(ctx, userID)
	if err != nil {
		span.EndWithError(err)
		return nil, err
	}

	var iterErr error
	candidates := func(yield func(models.User) bool) {
		for user, err := range e.store.ListOnboardedUsers(ctx) {
			if err != nil {
				iterErr = err
				return
			}
			if !yield(user) {
				return
			}
		}
	}

	users := []models.User{}
	for user := range Recommend(requester, candidates, criteria) {
		users = append(users, user)
	}
	if iterErr != nil {
		err = fmt.Errorf("list candidates: %w", iterErr)
	}
	span.EndWithError(err)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (e *Engine) lookupUser(ctx context.Context, userID string) (models.User, error) {
	user, err := e.store.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, ErrUnknownUser
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
