package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record, or a user it references, does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the write would create a second request for the same pair of users.
	ErrConflict = errors.New("record conflict")
	// ErrSelfReference indicates a request or friendship that points a user at itself.
	ErrSelfReference = errors.New("user cannot reference itself")
)
