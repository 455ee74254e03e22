package token

import (
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Token type discriminator values.
const (
	// TypeAccess marks a short-lived access token.
	TypeAccess = "access"

	// TypeRefresh marks a longer-lived refresh token.
	TypeRefresh = "refresh"
)

// Private claim names.
const (
	claimHandle    = "handle"
	claimRole      = "role"
	claimTokenType = "typ"
)

// Claims holds the decoded contents of a verified token.
type Claims struct {
	// PrincipalID is the numeric principal identifier from the subject claim.
	PrincipalID int64

	// Handle is the principal's login handle. Empty on refresh tokens.
	Handle string

	// Role is the principal's role name. Empty on refresh tokens.
	Role string

	// TokenType is the type discriminator, TypeAccess or TypeRefresh.
	TokenType string

	// ID is the unique token identifier (jti claim).
	ID string

	// IssuedAt is the token issue time.
	IssuedAt time.Time

	// ExpiresAt is the token expiry time.
	ExpiresAt time.Time
}

// claimsFromToken extracts Claims from a parsed token.
func claimsFromToken(tok jwt.Token) (*Claims, error) {
	principalID, err := strconv.ParseInt(tok.Subject(), 10, 64)
	if err != nil {
		return nil, NewVerificationError("subject is not a principal id", ErrTokenMalformed)
	}

	claims := &Claims{
		PrincipalID: principalID,
		ID:          tok.JwtID(),
		IssuedAt:    tok.IssuedAt(),
		ExpiresAt:   tok.Expiration(),
	}
	if v, ok := tok.Get(claimHandle); ok {
		claims.Handle, _ = v.(string)
	}
	if v, ok := tok.Get(claimRole); ok {
		claims.Role, _ = v.(string)
	}
	if v, ok := tok.Get(claimTokenType); ok {
		claims.TokenType, _ = v.(string)
	}
	if claims.TokenType != TypeAccess && claims.TokenType != TypeRefresh {
		return nil, NewVerificationError("unknown token type", ErrTokenMalformed)
	}
	return claims, nil
}
