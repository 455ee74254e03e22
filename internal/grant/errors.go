package grant

import (
	"errors"
	"fmt"
)

// Sentinel errors for grant resolution.
var (
	// ErrPrincipalNotFound indicates that no principal exists for the id.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrPrincipalInactive indicates that the principal is deactivated.
	ErrPrincipalInactive = errors.New("principal is inactive")
)

// ResolveError wraps a store failure during grant resolution. Resolution
// fails closed: a store error is an authorization failure, never an
// implicit allow.
type ResolveError struct {
	PrincipalID int64
	Step        string
	Cause       error
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("grant resolution error (principal=%d, step=%s): %v", e.PrincipalID, e.Step, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// NewResolveError creates a new ResolveError.
func NewResolveError(principalID int64, step string, cause error) *ResolveError {
	return &ResolveError{PrincipalID: principalID, Step: step, Cause: cause}
}
