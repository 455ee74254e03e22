package server

import (
	"errors"

	"github.com/authcore-io/authcore/internal/access"
	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/token"
)

// Machine-readable reason strings returned with 401/403 responses.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonPrincipalInactive  = "principal_inactive"
	ReasonPrincipalNotFound  = "principal_not_found"
	ReasonTokenExpired       = "token_expired"
	ReasonTokenRevoked       = "token_revoked"
	ReasonTokenMalformed     = "token_malformed"
	ReasonTokenInvalid       = "token_invalid"
	ReasonServiceDenied      = "service_denied"
	ReasonOperationDenied    = "operation_denied"
	ReasonStoreUnavailable   = "store_unavailable"
	ReasonRateLimited        = "rate_limited"
)

// verifyReason maps a token verification failure to a reason string.
func verifyReason(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenRevoked):
		return ReasonTokenRevoked
	case errors.Is(err, token.ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, token.ErrTokenMalformed), errors.Is(err, token.ErrEmptyToken):
		return ReasonTokenMalformed
	case errors.Is(err, token.ErrTokenInvalidSignature):
		return ReasonTokenInvalid
	default:
		return ReasonStoreUnavailable
	}
}

// resolveReason maps a grant resolution failure to a reason string.
func resolveReason(err error) string {
	switch {
	case errors.Is(err, grant.ErrPrincipalNotFound):
		return ReasonPrincipalNotFound
	case errors.Is(err, grant.ErrPrincipalInactive):
		return ReasonPrincipalInactive
	default:
		return ReasonStoreUnavailable
	}
}

// accessReason maps an access denial to a reason string.
func accessReason(err error) string {
	if errors.Is(err, access.ErrOperationDenied) {
		return ReasonOperationDenied
	}
	return ReasonServiceDenied
}
