package store

import (
	"errors"
	"fmt"
)

// Common store errors.
var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrUnavailable indicates that the backend could not serve the request
	// within its bounded timeout. Verification-path callers treat this as an
	// authorization failure.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// UnknownPolicyModeError reports an operation policy with a mode outside the
// closed set.
type UnknownPolicyModeError struct {
	Mode string
}

// Error implements the error interface.
func (e *UnknownPolicyModeError) Error() string {
	return fmt.Sprintf("store: unknown operation policy mode %q", e.Mode)
}

// IsNotFound checks if an error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable checks if an error indicates backend unavailability.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
