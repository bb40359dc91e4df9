package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced chat does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrPersistence wraps every failure reported by a storage backend.
	ErrPersistence = errors.New("store: persistence failure")
)

// ValidationError reports a structurally invalid input value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// persistErr tags a backend error with ErrPersistence.
func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
