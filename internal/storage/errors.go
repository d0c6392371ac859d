package storage

import "errors"

// Storage errors shared by sink implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned by a Buffer after Close has been called.
	ErrClosed = errors.New("storage: buffer closed")
)
