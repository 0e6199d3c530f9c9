package storage

import "errors"

// Sentinel errors for admin writes.
var (
	// ErrNotFound is returned when a credential does not exist.
	ErrNotFound = errors.New("credential not found")

	// ErrConflict is returned when a credential with the given ID already exists.
	ErrConflict = errors.New("credential already exists")
)
