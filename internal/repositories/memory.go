package repositories

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/educonnect/backend/internal/models"
)

// MemoryStore implements Store in process memory for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*memoryUser
	order    []string
	requests map[string]models.FriendRequest

	locks *keyedMutex
	now   func() time.Time
}

type memoryUser struct {
	user    models.User
	friends map[string]struct{}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*memoryUser),
		requests: make(map[string]models.FriendRequest),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// WithNowFunc allows tests to override the time source.
func (s *MemoryStore) WithNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser inserts or replaces a directory record. Friend ids on the record
// are applied symmetrically. Replacing a user keeps its existing friendships
// and adds any new ones from the record.
func (s *MemoryStore) AddUser(user models.User) error {
	if user.ID == "" {
		return fmt.Errorf("add user: id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	friends := user.Friends
	user.Friends = nil
	if existing, ok := s.users[user.ID]; ok {
		existing.user = user
	} else {
		s.order = append(s.order, user.ID)
		s.users[user.ID] = &memoryUser{user: user, friends: make(map[string]struct{})}
	}

	for _, friendID := range friends {
		if err := s.linkLocked(user.ID, friendID); err != nil {
			return err
		}
	}
	return nil
}

// GetUser returns a copy of the user with its friend set.
func (s *MemoryStore) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUserLocked(id, nil)
}

// AddMutualFriend links a and b in both directions.
func (s *MemoryStore) AddMutualFriend(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkLocked(a, b)
}

// ListOnboardedUsers yields onboarded users in insertion order from a
// snapshot taken when iteration starts.
func (s *MemoryStore) ListOnboardedUsers(_ context.Context) iter.Seq2[models.User, error] {
	return func(yield func(models.User, error) bool) {
		s.mu.RLock()
		snapshot := make([]models.User, 0, len(s.order))
		for _, id := range s.order {
			if u := s.users[id]; u.user.IsOnboarded {
				snapshot = append(snapshot, u.user)
			}
		}
		s.mu.RUnlock()

		for _, user := range snapshot {
			if !yield(user, nil) {
				return
			}
		}
	}
}

// CreateRequest stores a new pending request.
func (s *MemoryStore) CreateRequest(_ context.Context, senderID, recipientID string) (models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, err := s.newRequestLocked(senderID, recipientID, nil)
	if err != nil {
		return models.FriendRequest{}, err
	}
	s.requests[request.ID] = request
	return request, nil
}

// GetRequest returns the request by id.
func (s *MemoryStore) GetRequest(_ context.Context, id string) (models.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	request, ok := s.requests[id]
	if !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	return request, nil
}

// FindRequestBetween returns the request between a and b in either direction.
func (s *MemoryStore) FindRequestBetween(_ context.Context, a, b string) (models.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBetween(s.requests, a, b)
}

// SetAccepted marks a pending request accepted.
func (s *MemoryStore) SetAccepted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptLocked(id)
}

// DeleteRequest removes a request.
func (s *MemoryStore) DeleteRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[id]; !ok {
		return ErrNotFound
	}
	delete(s.requests, id)
	return nil
}

// ListByRecipient returns requests addressed to userID with the given status.
func (s *MemoryStore) ListByRecipient(_ context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRequests(s.requests, func(r models.FriendRequest) bool {
		return r.RecipientID == userID && r.Status == status
	}), nil
}

// ListBySender returns requests sent by userID with the given status.
func (s *MemoryStore) ListBySender(_ context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterRequests(s.requests, func(r models.FriendRequest) bool {
		return r.SenderID == userID && r.Status == status
	}), nil
}

// WithinTx holds the scope's keyed locks while fn runs and applies its staged
// writes under the store's write lock, so readers see all of them or none.
func (s *MemoryStore) WithinTx(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx Tx) error) error {
	keys := scope.Keys()
	if err := s.locks.Lock(ctx, keys); err != nil {
		return err
	}
	defer s.locks.Unlock(keys)

	tx := &memoryTx{
		store:    s,
		created:  make(map[string]models.FriendRequest),
		accepted: make(map[string]time.Time),
		deleted:  make(map[string]struct{}),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) getUserLocked(id string, extraFriends [][2]string) (models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}

	user := u.user
	friends := make([]string, 0, len(u.friends))
	for friendID := range u.friends {
		friends = append(friends, friendID)
	}
	for _, pair := range extraFriends {
		switch id {
		case pair[0]:
			friends = append(friends, pair[1])
		case pair[1]:
			friends = append(friends, pair[0])
		}
	}
	slices.Sort(friends)
	user.Friends = slices.Compact(friends)
	return user, nil
}

func (s *MemoryStore) linkLocked(a, b string) error {
	if a == b {
		return fmt.Errorf("add friendship %s: %w", a, ErrSelfReference)
	}
	ua, okA := s.users[a]
	ub, okB := s.users[b]
	if !okA || !okB {
		return ErrNotFound
	}
	ua.friends[b] = struct{}{}
	ub.friends[a] = struct{}{}
	return nil
}

func (s *MemoryStore) newRequestLocked(senderID, recipientID string, staged map[string]models.FriendRequest) (models.FriendRequest, error) {
	if senderID == recipientID {
		return models.FriendRequest{}, ErrSelfReference
	}
	if _, ok := s.users[senderID]; !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	if _, ok := s.users[recipientID]; !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	if _, err := findBetween(mergeRequests(s.requests, staged), senderID, recipientID); err == nil {
		return models.FriendRequest{}, ErrConflict
	}

	return models.FriendRequest{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      models.RequestStatusPending,
		CreatedAt:   s.now().UTC(),
	}, nil
}

func (s *MemoryStore) acceptLocked(id string) error {
	request, ok := s.requests[id]
	if !ok || request.Status != models.RequestStatusPending {
		return ErrNotFound
	}
	respondedAt := s.now().UTC()
	request.Status = models.RequestStatusAccepted
	request.RespondedAt = &respondedAt
	s.requests[id] = request
	return nil
}

// memoryTx stages writes until commit. Reads overlay the staged writes on
// the committed state.
type memoryTx struct {
	store *MemoryStore

	created  map[string]models.FriendRequest
	accepted map[string]time.Time
	deleted  map[string]struct{}
	friends  [][2]string
}

func (t *memoryTx) GetUser(_ context.Context, id string) (models.User, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.getUserLocked(id, t.friends)
}

func (t *memoryTx) AddMutualFriend(_ context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("add friendship %s: %w", a, ErrSelfReference)
	}

	t.store.mu.RLock()
	_, okA := t.store.users[a]
	_, okB := t.store.users[b]
	t.store.mu.RUnlock()
	if !okA || !okB {
		return ErrNotFound
	}

	t.friends = append(t.friends, [2]string{a, b})
	return nil
}

func (t *memoryTx) ListOnboardedUsers(ctx context.Context) iter.Seq2[models.User, error] {
	return t.store.ListOnboardedUsers(ctx)
}

func (t *memoryTx) CreateRequest(_ context.Context, senderID, recipientID string) (models.FriendRequest, error) {
	t.store.mu.RLock()
	request, err := t.store.newRequestLocked(senderID, recipientID, t.view())
	t.store.mu.RUnlock()
	if err != nil {
		return models.FriendRequest{}, err
	}

	t.created[request.ID] = request
	return request, nil
}

func (t *memoryTx) GetRequest(_ context.Context, id string) (models.FriendRequest, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	request, ok := t.merged()[id]
	if !ok {
		return models.FriendRequest{}, ErrNotFound
	}
	return request, nil
}

func (t *memoryTx) FindRequestBetween(_ context.Context, a, b string) (models.FriendRequest, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return findBetween(t.merged(), a, b)
}

func (t *memoryTx) SetAccepted(_ context.Context, id string) error {
	t.store.mu.RLock()
	request, ok := t.merged()[id]
	now := t.store.now().UTC()
	t.store.mu.RUnlock()

	if !ok || request.Status != models.RequestStatusPending {
		return ErrNotFound
	}
	t.accepted[id] = now
	return nil
}

func (t *memoryTx) DeleteRequest(_ context.Context, id string) error {
	t.store.mu.RLock()
	_, ok := t.merged()[id]
	t.store.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	delete(t.created, id)
	delete(t.accepted, id)
	t.deleted[id] = struct{}{}
	return nil
}

func (t *memoryTx) ListByRecipient(_ context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return filterRequests(t.merged(), func(r models.FriendRequest) bool {
		return r.RecipientID == userID && r.Status == status
	}), nil
}

func (t *memoryTx) ListBySender(_ context.Context, userID string, status models.RequestStatus) ([]models.FriendRequest, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return filterRequests(t.merged(), func(r models.FriendRequest) bool {
		return r.SenderID == userID && r.Status == status
	}), nil
}

// view returns the staged requests with deletions applied, for conflict checks.
func (t *memoryTx) view() map[string]models.FriendRequest {
	staged := make(map[string]models.FriendRequest, len(t.created)+len(t.deleted))
	for id, request := range t.created {
		staged[id] = request
	}
	for id := range t.deleted {
		staged[id] = models.FriendRequest{}
	}
	return staged
}

// merged must be called with the store's read lock held.
func (t *memoryTx) merged() map[string]models.FriendRequest {
	out := mergeRequests(t.store.requests, t.view())
	for id, at := range t.accepted {
		request, ok := out[id]
		if !ok {
			continue
		}
		respondedAt := at
		request.Status = models.RequestStatusAccepted
		request.RespondedAt = &respondedAt
		out[id] = request
	}
	return out
}

func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, request := range t.created {
		for _, existing := range s.requests {
			if sameRequestPair(existing, request) {
				if _, gone := t.deleted[existing.ID]; !gone {
					return ErrConflict
				}
			}
		}
	}
	for _, pair := range t.friends {
		if _, okA := s.users[pair[0]]; !okA {
			return ErrNotFound
		}
		if _, okB := s.users[pair[1]]; !okB {
			return ErrNotFound
		}
	}

	for id := range t.deleted {
		delete(s.requests, id)
	}
	for id, request := range t.created {
		s.requests[id] = request
	}
	for id, at := range t.accepted {
		request, ok := s.requests[id]
		if !ok {
			continue
		}
		respondedAt := at
		request.Status = models.RequestStatusAccepted
		request.RespondedAt = &respondedAt
		s.requests[id] = request
	}
	for _, pair := range t.friends {
		if err := s.linkLocked(pair[0], pair[1]); err != nil {
			return err
		}
	}
	return nil
}

// mergeRequests overlays staged on committed. A zero-valued staged entry
// marks a deletion.
func mergeRequests(committed, staged map[string]models.FriendRequest) map[string]models.FriendRequest {
	out := make(map[string]models.FriendRequest, len(committed)+len(staged))
	for id, request := range committed {
		out[id] = request
	}
	for id, request := range staged {
		if request.ID == "" {
			delete(out, id)
			continue
		}
		out[id] = request
	}
	return out
}

func findBetween(requests map[string]models.FriendRequest, a, b string) (models.FriendRequest, error) {
	probe := models.FriendRequest{SenderID: a, RecipientID: b}
	for _, request := range requests {
		if sameRequestPair(request, probe) {
			return request, nil
		}
	}
	return models.FriendRequest{}, ErrNotFound
}

func sameRequestPair(x, y models.FriendRequest) bool {
	xl, xh := models.PairKey(x.SenderID, x.RecipientID)
	yl, yh := models.PairKey(y.SenderID, y.RecipientID)
	return xl == yl && xh == yh
}

func filterRequests(requests map[string]models.FriendRequest, keep func(models.FriendRequest) bool) []models.FriendRequest {
	out := []models.FriendRequest{}
	for _, request := range requests {
		if keep(request) {
			out = append(out, request)
		}
	}
	slices.SortFunc(out, func(a, b models.FriendRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

var _ Store = (*MemoryStore)(nil)
var _ Tx = (*memoryTx)(nil)
