package friends

import "errors"

var (
	// ErrInvalidTarget indicates a self request or a recipient that is missing or not onboarded.
	ErrInvalidTarget = errors.New("invalid friend request target")
	// ErrAlreadyFriends indicates the two users are already connected.
	ErrAlreadyFriends = errors.New("users are already friends")
	// ErrDuplicateRequest indicates a request already exists between the pair.
	ErrDuplicateRequest = errors.New("friend request already exists")
	// ErrNotFound indicates there is no pending request with the given id.
	ErrNotFound = errors.New("friend request not found")
	// ErrForbidden indicates the acting user may not perform the action.
	ErrForbidden = errors.New("action not permitted for this user")
	// ErrUnknownUser indicates the acting user is not in the directory.
	ErrUnknownUser = errors.New("unknown user")
)
