package storage

import "errors"

// Storage errors
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists. Append-only stores do not allow updates.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when the backend cannot be reached. Callers
	// may retry; it never means the record is missing.
	ErrUnavailable = errors.New("store unavailable")
)
