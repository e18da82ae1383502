package models

import (
	"slices"
	"time"
)

// User is a directory profile as seen by the friend engine.
type User struct {
	ID          string
	Email       string
	FullName    string
	Bio         string
	College     string
	Branch      string
	Location    string
	ProfilePic  string
	IsOnboarded bool
	// Friends holds the ids of the user's friends, sorted. It is only
	// populated by single-user lookups.
	Friends   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsFriend reports whether id is in the user's friend set.
func (u User) IsFriend(id string) bool {
	_, found := slices.BinarySearch(u.Friends, id)
	return found
}

// RequestStatus is the lifecycle state of a friend request. Declined
// requests are deleted, so there is no declined status.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
)

// FriendRequest is a directed proposal from SenderID to RecipientID.
type FriendRequest struct {
	ID          string
	SenderID    string
	RecipientID string
	Status      RequestStatus
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// Involves reports whether userID is either side of the request.
func (r FriendRequest) Involves(userID string) bool {
	return r.SenderID == userID || r.RecipientID == userID
}

// Counterpart returns the other side of the request relative to userID.
func (r FriendRequest) Counterpart(userID string) string {
	if r.SenderID == userID {
		return r.RecipientID
	}
	return r.SenderID
}

// PairKey returns the unordered pair of user ids, lowest first.
func PairKey(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
