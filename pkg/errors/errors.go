package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrInvalidInput is returned when the caller supplied empty or
	// malformed input (text, agent id, memory id, query parameters).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a requested memory or agent is not found
	ErrNotFound = errors.New("memory not found")

	// ErrDuplicateID is returned when an insert collides with an existing
	// record id. Record ids are unique across the whole store, so this
	// indicates an internal bug rather than a caller mistake.
	ErrDuplicateID = errors.New("duplicate memory id")

	// ErrDimensionMismatch is returned when a vector does not match the
	// dimensionality the index was configured with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmbedderUnavailable is returned when the embedding provider keeps
	// failing after retries have been exhausted.
	ErrEmbedderUnavailable = errors.New("embedding provider unavailable")

	// ErrIndexUnavailable is returned when the vector index backend cannot
	// be reached or refuses the operation for backend-specific reasons.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
