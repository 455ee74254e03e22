package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/store"
	"github.com/authcore-io/authcore/internal/token"
)

// Identity headers set on successful validation, consumed by the reverse
// proxy in front of protected services.
const (
	HeaderPrincipalID = "X-Auth-Principal-Id"
	HeaderHandle      = "X-Auth-Handle"
	HeaderRole        = "X-Auth-Role"

	// HeaderService and HeaderOperation optionally scope a validation to
	// an access decision for the proxied request's target.
	HeaderService   = "X-Auth-Service"
	HeaderOperation = "X-Auth-Operation"
)

const claimsKey = "claims"

type loginRequest struct {
	Handle string `json:"handle"`
	Secret string `json:"secret"`
	APIKey string `json:"apiKey"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		unauthorized(c, ReasonInvalidCredentials)
		return
	}

	ctx := c.Request.Context()
	subject := &audit.Subject{Handle: req.Handle, RemoteAddr: c.ClientIP()}

	var (
		principal store.Principal
		err       error
	)
	switch {
	case req.APIKey != "":
		principal, err = s.opts.Records.FindPrincipalByAPIKey(ctx, token.Hash(req.APIKey))
	case req.Handle != "" && req.Secret != "":
		principal, err = s.opts.Records.FindPrincipalByHandle(ctx, req.Handle)
	default:
		s.auditLogin(c, audit.OutcomeFailure, subject, ReasonInvalidCredentials)
		unauthorized(c, ReasonInvalidCredentials)
		return
	}
	if err != nil {
		reason := ReasonStoreUnavailable
		if errors.Is(err, store.ErrNotFound) {
			reason = ReasonInvalidCredentials
		}
		s.auditLogin(c, audit.OutcomeFailure, subject, reason)
		unauthorized(c, reason)
		return
	}
	subject.PrincipalID = principal.ID
	subject.Handle = principal.Handle

	if req.APIKey == "" {
		if bcrypt.CompareHashAndPassword([]byte(principal.SecretHash), []byte(req.Secret)) != nil {
			s.auditLogin(c, audit.OutcomeFailure, subject, ReasonInvalidCredentials)
			unauthorized(c, ReasonInvalidCredentials)
			return
		}
	}

	// A correct secret for a deactivated principal is reported distinctly
	// from a wrong one.
	if !principal.Active {
		s.auditLogin(c, audit.OutcomeFailure, subject, ReasonPrincipalInactive)
		unauthorized(c, ReasonPrincipalInactive)
		return
	}

	_, role, err := s.opts.Records.GetPrincipalWithRole(ctx, principal.ID)
	if err != nil {
		reason := ReasonStoreUnavailable
		if errors.Is(err, store.ErrNotFound) {
			reason = ReasonInvalidCredentials
		}
		s.auditLogin(c, audit.OutcomeFailure, subject, reason)
		unauthorized(c, reason)
		return
	}

	pair, ok := s.issuePair(c, &principal, role.TokenTTL)
	if !ok {
		return
	}

	if err := s.opts.Records.TouchLogin(ctx, principal.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("last-login update failed",
			observability.Int64("principal_id", principal.ID),
			observability.Error(err),
		)
	}

	s.auditLogin(c, audit.OutcomeSuccess, subject, "")
	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleValidate(c *gin.Context) {
	claims, ok := s.verifyAccessToken(c)
	if !ok {
		return
	}

	g, err := s.opts.Resolver.Resolve(c.Request.Context(), claims.PrincipalID)
	if err != nil {
		unauthorized(c, resolveReason(err))
		return
	}

	if s.opts.Limits != nil && !s.opts.Limits.Allow(g.PrincipalID, g.RateLimit) {
		if s.opts.Auditor != nil {
			s.opts.Auditor.LogEvent(c.Request.Context(), rateLimitEvent(g.PrincipalID, g.Handle, c.ClientIP()))
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"reason": ReasonRateLimited})
		return
	}

	// The proxy may scope validation to the request's target service and
	// operation.
	if service := c.GetHeader(HeaderService); service != "" {
		operation := c.GetHeader(HeaderOperation)
		var decision error
		if operation != "" {
			decision = s.opts.Filter.IsOperationAllowed(c.Request.Context(), g, service, operation)
		} else {
			decision = s.opts.Filter.IsAllowed(c.Request.Context(), g, service)
		}
		if decision != nil {
			forbidden(c, accessReason(decision))
			return
		}
	}

	c.Header(HeaderPrincipalID, formatID(g.PrincipalID))
	c.Header(HeaderHandle, g.Handle)
	c.Header(HeaderRole, g.RoleName)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRefresh(c *gin.Context) {
	raw := bearerToken(c)
	claims, err := s.opts.Authority.Verify(c.Request.Context(), raw)
	if err != nil {
		unauthorized(c, verifyReason(err))
		return
	}
	if claims.TokenType != token.TypeRefresh {
		unauthorized(c, ReasonTokenInvalid)
		return
	}

	ctx := c.Request.Context()
	principal, role, err := s.opts.Records.GetPrincipalWithRole(ctx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			unauthorized(c, ReasonPrincipalNotFound)
			return
		}
		unauthorized(c, ReasonStoreUnavailable)
		return
	}
	if !principal.Active {
		unauthorized(c, ReasonPrincipalInactive)
		return
	}

	// Rotation: the presented refresh token dies with this exchange.
	if err := s.opts.Authority.Revoke(ctx, raw); err != nil {
		unauthorized(c, ReasonStoreUnavailable)
		return
	}

	pair, ok := s.issuePair(c, &principal, role.TokenTTL)
	if !ok {
		return
	}

	if s.opts.Auditor != nil {
		s.opts.Auditor.LogAuthentication(ctx, audit.ActionTokenRefresh, audit.OutcomeSuccess,
			&audit.Subject{PrincipalID: principal.ID, Handle: principal.Handle, RemoteAddr: c.ClientIP()}, "")
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) handleLogout(c *gin.Context) {
	raw := bearerToken(c)

	err := s.opts.Authority.Revoke(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, token.ErrTokenMalformed) || errors.Is(err, token.ErrEmptyToken) {
			unauthorized(c, ReasonTokenMalformed)
			return
		}
		unauthorized(c, ReasonStoreUnavailable)
		return
	}

	// Audit is best-effort: logout succeeded the moment the revocation
	// landed.
	if s.opts.Auditor != nil {
		s.opts.Auditor.LogAuthentication(c.Request.Context(), audit.ActionLogout, audit.OutcomeSuccess,
			&audit.Subject{RemoteAddr: c.ClientIP()}, "")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAccessToken gates a route group behind a verified access token.
func (s *Server) requireAccessToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := s.verifyAccessToken(c)
		if !ok {
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// verifyAccessToken verifies the bearer token and rejects non-access
// types. Writes the error response itself when verification fails.
func (s *Server) verifyAccessToken(c *gin.Context) (*token.Claims, bool) {
	claims, err := s.opts.Authority.Verify(c.Request.Context(), bearerToken(c))
	if err != nil {
		unauthorized(c, verifyReason(err))
		return nil, false
	}
	if claims.TokenType != token.TypeAccess {
		unauthorized(c, ReasonTokenInvalid)
		return nil, false
	}
	return claims, true
}

// issuePair mints an access and refresh token pair. Writes a 500 on
// signing failures.
func (s *Server) issuePair(c *gin.Context, principal *store.Principal, ttl time.Duration) (*tokenPairResponse, bool) {
	ctx := c.Request.Context()

	accessToken, expiresAt, err := s.opts.Authority.IssueAccessToken(ctx, principal, ttl)
	if err != nil {
		s.logger.Error("access token issue failed", observability.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}

	refreshToken, _, err := s.opts.Authority.IssueRefreshToken(ctx, principal)
	if err != nil {
		s.logger.Error("refresh token issue failed", observability.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}

	return &tokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(expiresAt).Seconds()),
	}, true
}

func (s *Server) auditLogin(c *gin.Context, outcome audit.Outcome, subject *audit.Subject, reason string) {
	if s.opts.Auditor == nil {
		return
	}
	s.opts.Auditor.LogAuthentication(c.Request.Context(), audit.ActionLogin, outcome, subject, reason)
}

func rateLimitEvent(principalID int64, handle, remoteAddr string) *audit.Event {
	event := audit.NewEvent(audit.EventTypeSecurity, audit.ActionRateLimitExceeded, audit.OutcomeDenied)
	event.Subject = &audit.Subject{PrincipalID: principalID, Handle: handle, RemoteAddr: remoteAddr}
	event.Reason = ReasonRateLimited
	return event
}
