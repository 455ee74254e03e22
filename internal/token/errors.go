package token

import (
	"errors"
	"fmt"
)

// Sentinel errors for token operations.
var (
	// ErrEmptyToken indicates that the presented token is empty.
	ErrEmptyToken = errors.New("token is empty")

	// ErrTokenMalformed indicates that the token could not be parsed.
	ErrTokenMalformed = errors.New("token is malformed")

	// ErrTokenExpired indicates that the token has expired.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalidSignature indicates that the token signature is invalid.
	ErrTokenInvalidSignature = errors.New("token signature is invalid")

	// ErrTokenRevoked indicates that the token has been revoked.
	ErrTokenRevoked = errors.New("token has been revoked")

	// ErrTokenWrongType indicates that the token type claim does not match
	// the expected discriminator.
	ErrTokenWrongType = errors.New("token type is wrong")

	// ErrInvalidKey indicates that the signing key is invalid.
	ErrInvalidKey = errors.New("signing key is invalid")

	// ErrKeyNotFound indicates that the signing key could not be loaded.
	ErrKeyNotFound = errors.New("signing key not found")
)

// VerificationError wraps a token verification failure with context.
type VerificationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token verification error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("token verification error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *VerificationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *VerificationError) Is(target error) bool {
	_, ok := target.(*VerificationError)
	return ok || errors.Is(e.Cause, target)
}

// NewVerificationError creates a new VerificationError.
func NewVerificationError(message string, cause error) *VerificationError {
	return &VerificationError{Message: message, Cause: cause}
}

// KeyError wraps a key loading or parsing failure.
type KeyError struct {
	Source  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token key error (source=%s): %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("token key error (source=%s): %s", e.Source, e.Message)
}

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *KeyError) Is(target error) bool {
	if errors.Is(target, ErrKeyNotFound) || errors.Is(target, ErrInvalidKey) {
		return true
	}
	_, ok := target.(*KeyError)
	return ok || errors.Is(e.Cause, target)
}

// NewKeyError creates a new KeyError.
func NewKeyError(source, message string, cause error) *KeyError {
	return &KeyError{Source: source, Message: message, Cause: cause}
}

// IsExpiredError checks if an error indicates token expiration.
func IsExpiredError(err error) bool {
	return errors.Is(err, ErrTokenExpired)
}

// IsRevokedError checks if an error indicates a revoked token.
func IsRevokedError(err error) bool {
	return errors.Is(err, ErrTokenRevoked)
}
