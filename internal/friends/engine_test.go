package friends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educonnect/backend/internal/logging"
	"github.com/educonnect/backend/internal/models"
	"github.com/educonnect/backend/internal/repositories"
)

func newTestStore(t *testing.T, users ...models.User) *repositories.MemoryStore {
	t.Helper()

	store := repositories.NewMemoryStore()
	var tick atomic.Int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.WithNowFunc(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})

	for _, user := range users {
		require.NoError(t, store.AddUser(user))
	}
	return store
}

func onboarded(id string) models.User {
	return models.User{ID: id, FullName: "User " + id, IsOnboarded: true}
}

func TestSendFriendRequestRejectsSelf(t *testing.T) {
	engine := NewEngine(newTestStore(t, onboarded("a")), DefaultConfig())

	_, err := engine.SendFriendRequest(context.Background(), "a", "a")
	require.ErrorIs(t, err, ErrInvalidTarget)

	_, err = engine.SendFriendRequest(context.Background(), "a", " ")
	require.ErrorIs(t, err, ErrInvalidTarget)
}

func TestSendFriendRequestValidatesParticipants(t *testing.T) {
	pending := models.User{ID: "pending", IsOnboarded: false}
	store := newTestStore(t, onboarded("a"), pending)
	engine := NewEngine(store, DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name      string
		sender    string
		recipient string
		want      error
	}{
		{name: "missing recipient", sender: "a", recipient: "ghost", want: ErrInvalidTarget},
		{name: "recipient not onboarded", sender: "a", recipient: "pending", want: ErrInvalidTarget},
		{name: "missing sender", sender: "ghost", recipient: "a", want: ErrUnknownUser},
		{name: "sender not onboarded", sender: "pending", recipient: "a", want: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.SendFriendRequest(ctx, tt.sender, tt.recipient)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := store.FindRequestBetween(ctx, "a", "pending")
	require.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestAcceptScenario(t *testing.T) {
	store := newTestStore(t, onboarded("a"), onboarded("b"))
	engine := NewEngine(store, DefaultConfig())
	ctx := context.Background()

	r1, err := engine.SendFriendRequest(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, r1.Status)
	assert.NotEmpty(t, r1.ID)

	incoming, err := engine.ListIncomingRequests(ctx, "b")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, r1.ID, incoming[0].ID)

	outgoing, err := engine.ListOutgoingRequests(ctx, "a")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)

	accepted, err := engine.AcceptFriendRequest(ctx, r1.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.RespondedAt)

	friendsOfA, err := engine.ListFriends(ctx, "a")
	require.NoError(t, err)
	require.Len(t, friendsOfA, 1)
	assert.Equal(t, "b", friendsOfA[0].ID)

	friendsOfB, err := engine.ListFriends(ctx, "b")
	require.NoError(t, err)
	require.Len(t, friendsOfB, 1)
	assert.Equal(t, "a", friendsOfB[0].ID)

	notifications, err := engine.ListAcceptedNotifications(ctx, "a")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, r1.ID, notifications[0].ID)

	incoming, err = engine.ListIncomingRequests(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, incoming)

	_, err = engine.SendFriendRequest(ctx, "b", "a")
	require.ErrorIs(t, err, ErrAlreadyFriends)
	_, err = engine.SendFriendRequest(ctx, "a", "b")
	require.ErrorIs(t, err, ErrAlreadyFriends)
}

func TestDeclineScenario(t *testing.T) {
	store := newTestStore(t, onboarded("a"), onboarded("b"))
	engine := NewEngine(store, DefaultConfig())
	ctx := context.Background()

	r1, err := engine.SendFriendRequest(ctx, "a", "b")
	require.NoError(t, err)

	require.NoError(t, engine.DeclineFriendRequest(ctx, r1.ID, "b"))

	_, err = store.GetRequest(ctx, r1.ID)
	require.ErrorIs(t, err, repositories.ErrNotFound)

	r2, err := engine.SendFriendRequest(ctx, "a", "b")
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID)

	friendsOfA, err := engine.ListFriends(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, friendsOfA)
}

func TestAcceptLogsFriendRequestAlongsideHTTPRequest(t *testing.T) {
	engine := NewEngine(newTestStore(t, onboarded("a"), onboarded("b")), DefaultConfig())

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil)).With("request_id", "http-1")
	ctx := logging.WithUser(logging.WithLogger(context.Background(), logger), "b")

	request, err := engine.SendFriendRequest(context.Background(), "a", "b")
	require.NoError(t, err)
	_, err = engine.AcceptFriendRequest(ctx, request.ID, "b")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	assert.Equal(t, "friend request accepted", entry["msg"])
	assert.Equal(t, "http-1", entry["request_id"])
	assert.Equal(t, request.ID, entry["friend_request_id"])
	assert.Equal(t, "b", entry["user_id"])
	assert.Equal(t, 1, strings.Count(lines[len(lines)-1], `"user_id"`))
}

func TestSendFriendRequestRejectsDuplicate(t *testing.T) {
	engine := NewEngine(newTestStore(t, onboarded("a"), onboarded("b")), DefaultConfig())
	ctx := context.Background()

	_, err := engine.SendFriendRequest(ctx, "a", "b")
	require.NoError(t, err)

	_, err = engine.SendFriendRequest(ctx, "a", "b")
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestSendFriendRequestReversePending(t *testing.T) {
	t.Run("auto accept", func(t *testing.T) {
		engine := NewEngine(newTestStore(t, onboarded("a"), onboarded("b")), DefaultConfig())
		ctx := context.Background()

		r1, err := engine.SendFriendRequest(ctx, "a", "b")
		require.NoError(t, err)

		mutual, err := engine.SendFriendRequest(ctx, "b", "a")
		require.NoError(t, err)
		assert.Equal(t, r1.ID, mutual.ID)
		assert.Equal(t, models.RequestStatusAccepted, mutual.Status)

		friendsOfB, err := engine.ListFriends(ctx, "b")
		require.NoError(t, err)
		require.Len(t, friendsOfB, 1)
		assert.Equal(t, "a", friendsOfB[0].ID)

		notifications, err := engine.ListAcceptedNotifications(ctx, "a")
		require.NoError(t, err)
		require.Len(t, notifications, 1)
	})

	t.Run("rejected when disabled", func(t *testing.T) {
		engine := NewEngine(newTestStore(t, onboarded("a"), onboarded("b")), Config{})
		ctx := context.Background()

		_, err := engine.SendFriendRequest(ctx, "a", "b")
		require.NoError(t, err)

		_, err = engine.SendFriendRequest(ctx, "b", "a")
		require.ErrorIs(t, err, ErrDuplicateRequest)

		friendsOfB, err := engine.ListFriends(ctx, "b")
		require.NoError(t, err)
		assert.Empty(t, friendsOfB)
	})
}

func TestRespondChecks(t *testing.T) {
	engine := NewEngine(newTestStore(t, onboarded("a"), onboarded("b"), onboarded("c")), DefaultConfig())
	ctx := context.Background()

	r1, err := engine.SendFriendRequest(ctx, "a", "b")
	require.NoError(t, err)

	_, err = engine.AcceptFriendRequest(ctx, "missing", "b")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, engine.DeclineFriendRequest(ctx, "", "b"), ErrNotFound)

	_, err = engine.AcceptFriendRequest(ctx, r1.ID, "a")
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, engine.DeclineFriendRequest(ctx, r1.ID, "c"), ErrForbidden)

	_, err = engine.AcceptFriendRequest(ctx, r1.ID, "b")
	require.NoError(t, err)

	_, err = engine.AcceptFriendRequest(ctx, r1.ID, "b")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, engine.DeclineFriendRequest(ctx, r1.ID, "b"), ErrNotFound)

	notifications, err := engine.ListAcceptedNotifications(ctx, "a")
	require.NoError(t, err)
	require.Len(t, notifications, 1, "accepted requests are kept")
}

func TestConcurrentSendCreatesOneRequest(t *testing.T) {
	store := newTestStore(t, onboarded("a"), onboarded("b"))
	engine := NewEngine(store, Config{})
	ctx := context.Background()

	const workers = 16
	var (
		wg         sync.WaitGroup
		successes  atomic.Int32
		duplicates atomic.Int32
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sender, recipient := "a", "b"
			if i%2 == 1 {
				sender, recipient = "b", "a"
			}
			_, err := engine.SendFriendRequest(ctx, sender, recipient)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrDuplicateRequest):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), duplicates.Load())
}

func TestConcurrentAcceptAndDecline(t *testing.T) {
	store := newTestStore(t, onboarded("a"), onboarded("b"))
	engine := NewEngine(store, DefaultConfig())
	ctx := context.Background()

	r1, err := engine.SendFriendRequest(ctx, "a", "b")
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		acceptErr  error
		declineErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, acceptErr = engine.AcceptFriendRequest(ctx, r1.ID, "b")
	}()
	go func() {
		defer wg.Done()
		declineErr = engine.DeclineFriendRequest(ctx, r1.ID, "b")
	}()
	wg.Wait()

	friendsOfA, err := engine.ListFriends(ctx, "a")
	require.NoError(t, err)

	if acceptErr == nil {
		require.ErrorIs(t, declineErr, ErrNotFound)
		require.Len(t, friendsOfA, 1)
		got, err := store.GetRequest(ctx, r1.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusAccepted, got.Status)
	} else {
		require.ErrorIs(t, acceptErr, ErrNotFound)
		require.NoError(t, declineErr)
		assert.Empty(t, friendsOfA)
	}
}

func TestAcceptIsAtomicForReaders(t *testing.T) {
	store := newTestStore(t, onboarded("a"), onboarded("b"))
	engine := NewEngine(store, DefaultConfig())
	ctx := context.Background()

	r1, err := engine.SendFriendRequest(ctx, "a", "b")
	require.NoError(t, err)

	done := make(chan struct{})
	var torn atomic.Bool
	go func() {
		defer close(done)
		for range 2000 {
			a, errA := store.GetUser(ctx, "a")
			b, errB := store.GetUser(ctx, "b")
			if errA != nil || errB != nil {
				continue
			}
			if a.IsFriend("b") && !b.IsFriend("a") {
				torn.Store(true)
			}
		}
	}()

	_, err = engine.AcceptFriendRequest(ctx, r1.ID, "b")
	require.NoError(t, err)
	<-done

	assert.False(t, torn.Load())
}

func TestListFriendsOrderedByID(t *testing.T) {
	store := newTestStore(t, onboarded("a"), onboarded("c"), onboarded("b"))
	require.NoError(t, store.AddMutualFriend(context.Background(), "a", "c"))
	require.NoError(t, store.AddMutualFriend(context.Background(), "a", "b"))

	engine := NewEngine(store, Config{ProfileWorkers: 1})
	friends, err := engine.ListFriends(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, friends, 2)
	assert.Equal(t, "b", friends[0].ID)
	assert.Equal(t, "c", friends[1].ID)

	_, err = engine.ListFriends(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUnknownUser)
}

func TestProfilesDeduplicatesAndOmitsUnknown(t *testing.T) {
	engine := NewEngine(newTestStore(t, onboarded("a"), onboarded("b")), DefaultConfig())

	profiles, err := engine.Profiles(context.Background(), []string{"b", "a", "b", "ghost"})
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, "User a", profiles["a"].FullName)
}

func TestNotificationsNewestFirst(t *testing.T) {
	store := newTestStore(t, onboarded("a"), onboarded("b"), onboarded("c"), onboarded("d"))
	engine := NewEngine(store, DefaultConfig())
	ctx := context.Background()

	r1, err := engine.SendFriendRequest(ctx, "b", "a")
	require.NoError(t, err)
	r2, err := engine.SendFriendRequest(ctx, "c", "a")
	require.NoError(t, err)
	r3, err := engine.SendFriendRequest(ctx, "a", "d")
	require.NoError(t, err)
	_, err = engine.AcceptFriendRequest(ctx, r3.ID, "d")
	require.NoError(t, err)

	n, err := engine.Notifications(ctx, "a")
	require.NoError(t, err)
	require.Len(t, n.Incoming, 2)
	assert.Equal(t, r2.ID, n.Incoming[0].ID)
	assert.Equal(t, r1.ID, n.Incoming[1].ID)
	require.Len(t, n.Accepted, 1)
	assert.Equal(t, r3.ID, n.Accepted[0].ID)
}

func TestRecommendThroughEngine(t *testing.T) {
	store := newTestStore(t,
		models.User{ID: "me", College: "MIT", IsOnboarded: true},
		models.User{ID: "friend", College: "MIT Tech", IsOnboarded: true},
		models.User{ID: "mit", College: "MIT Tech", IsOnboarded: true},
		models.User{ID: "stanford", College: "Stanford", IsOnboarded: true},
		models.User{ID: "draft", College: "MIT", IsOnboarded: false},
	)
	require.NoError(t, store.AddMutualFriend(context.Background(), "me", "friend"))
	engine := NewEngine(store, DefaultConfig())

	users, err := engine.Recommend(context.Background(), "me", Criteria{College: "mit"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "mit", users[0].ID)

	all, err := engine.Recommend(context.Background(), "me", Criteria{})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, u := range all {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"mit", "stanford"}, ids)

	_, err = engine.Recommend(context.Background(), "ghost", Criteria{})
	require.ErrorIs(t, err, ErrUnknownUser)
}

type failingStore struct {
	*repositories.MemoryStore
	err error
}

func (s failingStore) ListByRecipient(context.Context, string, models.RequestStatus) ([]models.FriendRequest, error) {
	return nil, s.err
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	engine := NewEngine(failingStore{MemoryStore: newTestStore(t, onboarded("a")), err: boom}, DefaultConfig())

	_, err := engine.ListIncomingRequests(context.Background(), "a")
	require.ErrorIs(t, err, boom)

	_, err = engine.Notifications(context.Background(), "a")
	require.ErrorIs(t, err, boom)
}
