package access

import (
	"errors"
	"fmt"
)

// Sentinel errors for access decisions.
var (
	// ErrServiceDenied indicates that the grant does not cover the service.
	ErrServiceDenied = errors.New("service access denied")

	// ErrOperationDenied indicates that the service's operation policy
	// rejects the operation.
	ErrOperationDenied = errors.New("operation access denied")
)

// AccessError carries the details of a deny decision.
type AccessError struct {
	PrincipalID int64
	Service     string
	Operation   string
	Cause       error
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("access denied (principal=%d, service=%s, operation=%s): %v",
			e.PrincipalID, e.Service, e.Operation, e.Cause)
	}
	return fmt.Sprintf("access denied (principal=%d, service=%s): %v", e.PrincipalID, e.Service, e.Cause)
}

// Unwrap returns the underlying error.
func (e *AccessError) Unwrap() error {
	return e.Cause
}

// IsDenied checks if an error represents an access denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrServiceDenied) || errors.Is(err, ErrOperationDenied)
}
