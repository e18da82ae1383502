package repositories

import (
	"context"
	"slices"

	"github.com/educonnect/backend/internal/models"
)

// Tx is the view of the directory and the request store inside one unit of work.
type Tx interface {
	UserRepository
	FriendRepository
}

// Store exposes committed reads and writes plus transactional units of work.
type Store interface {
	Tx
	// WithinTx runs fn atomically while holding exclusive locks for scope.
	// Writes made through tx become visible to other readers all at once
	// when fn returns nil and are discarded otherwise.
	WithinTx(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx Tx) error) error
}

// LockScope names the users and the request a unit of work must hold exclusively.
type LockScope struct {
	RequestID string
	UserIDs   []string
}

// PairScope locks the unordered pair {a, b}.
func PairScope(a, b string) LockScope {
	low, high := models.PairKey(a, b)
	return LockScope{UserIDs: []string{low, high}}
}

// RequestScope locks a request together with the pair it connects.
func RequestScope(requestID, senderID, recipientID string) LockScope {
	scope := PairScope(senderID, recipientID)
	scope.RequestID = requestID
	return scope
}

// Keys returns the lock keys for the scope in acquisition order.
func (s LockScope) Keys() []string {
	keys := make([]string, 0, len(s.UserIDs)+1)
	for _, id := range s.UserIDs {
		keys = append(keys, "user:"+id)
	}
	if s.RequestID != "" {
		keys = append(keys, "request:"+s.RequestID)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}
