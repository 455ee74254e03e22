package token

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/store"
)

// Default token lifetimes and issuer.
const (
	DefaultIssuer     = "authcore"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
)

// Config configures the token authority.
type Config struct {
	// Issuer is the iss claim value. Defaults to DefaultIssuer.
	Issuer string

	// AccessTTL is the access token lifetime when the role carries none.
	AccessTTL time.Duration

	// RefreshTTL is the refresh token lifetime.
	RefreshTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
}

// Authority issues, verifies, and revokes bearer tokens.
type Authority interface {
	// IssueAccessToken mints an access token for the principal. A positive
	// ttl overrides the configured access lifetime. The session record is
	// written best-effort; a session store failure does not fail issuance.
	IssueAccessToken(ctx context.Context, principal *store.Principal, ttl time.Duration) (string, time.Time, error)

	// IssueRefreshToken mints a refresh token and attaches its hash to the
	// principal's most recent live session, best-effort.
	IssueRefreshToken(ctx context.Context, principal *store.Principal) (string, time.Time, error)

	// Verify checks a presented token. The revocation set is consulted
	// first, then the signature, then expiry. Returns the decoded claims.
	Verify(ctx context.Context, raw string) (*Claims, error)

	// Revoke adds the token's hash to the revocation set. Revoking an
	// already-revoked or already-expired token succeeds.
	Revoke(ctx context.Context, raw string) error
}

// authority implements the Authority interface.
type authority struct {
	config      Config
	keys        KeySource
	sessions    store.SessionStore
	revocations store.RevocationStore
	logger      observability.Logger
	metrics     *Metrics
	now         func() time.Time
}

// AuthorityOption is a functional option for the authority.
type AuthorityOption func(*authority)

// WithLogger sets the logger for the authority.
func WithLogger(logger observability.Logger) AuthorityOption {
	return func(a *authority) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics for the authority.
func WithMetrics(metrics *Metrics) AuthorityOption {
	return func(a *authority) {
		a.metrics = metrics
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *authority) {
		a.now = now
	}
}

// NewAuthority creates a token authority.
func NewAuthority(config Config, keys KeySource, sessions store.SessionStore, revocations store.RevocationStore, opts ...AuthorityOption) (Authority, error) {
	if keys == nil {
		return nil, NewKeyError("config", "key source is required", ErrKeyNotFound)
	}
	config.setDefaults()

	a := &authority{
		config:      config,
		keys:        keys,
		sessions:    sessions,
		revocations: revocations,
		logger:      observability.NopLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// IssueAccessToken implements Authority.
func (a *authority) IssueAccessToken(ctx context.Context, principal *store.Principal, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = a.config.AccessTTL
	}
	now := a.now().UTC()
	expiresAt := now.Add(ttl)

	tok, err := jwt.NewBuilder().
		Issuer(a.config.Issuer).
		Subject(strconv.FormatInt(principal.ID, 10)).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(expiresAt).
		Claim(claimHandle, principal.Handle).
		Claim(claimRole, principal.RoleName).
		Claim(claimTokenType, TypeAccess).
		Build()
	if err != nil {
		return "", time.Time{}, NewVerificationError("building access token", err)
	}

	signed, err := a.sign(ctx, tok)
	if err != nil {
		return "", time.Time{}, err
	}
	a.metrics.RecordIssued(TypeAccess)

	if a.sessions != nil {
		if err := a.sessions.InsertSession(ctx, principal.ID, Hash(signed), expiresAt); err != nil {
			a.metrics.RecordSessionWriteFailure()
			a.logger.Warn("session insert failed",
				observability.Int64("principal_id", principal.ID),
				observability.Error(err),
			)
		}
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken implements Authority.
func (a *authority) IssueRefreshToken(ctx context.Context, principal *store.Principal) (string, time.Time, error) {
	now := a.now().UTC()
	expiresAt := now.Add(a.config.RefreshTTL)

	tok, err := jwt.NewBuilder().
		Issuer(a.config.Issuer).
		Subject(strconv.FormatInt(principal.ID, 10)).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(expiresAt).
		Claim(claimTokenType, TypeRefresh).
		Build()
	if err != nil {
		return "", time.Time{}, NewVerificationError("building refresh token", err)
	}

	signed, err := a.sign(ctx, tok)
	if err != nil {
		return "", time.Time{}, err
	}
	a.metrics.RecordIssued(TypeRefresh)

	if a.sessions != nil {
		if err := a.sessions.LinkRefreshToken(ctx, principal.ID, Hash(signed)); err != nil {
			a.metrics.RecordSessionWriteFailure()
			a.logger.Warn("refresh token link failed",
				observability.Int64("principal_id", principal.ID),
				observability.Error(err),
			)
		}
	}
	return signed, expiresAt, nil
}

// Verify implements Authority.
func (a *authority) Verify(ctx context.Context, raw string) (*Claims, error) {
	start := a.now()
	claims, err := a.verify(ctx, raw)
	a.metrics.RecordVerification(verificationResult(err), a.now().Sub(start))
	return claims, err
}

func (a *authority) verify(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrEmptyToken
	}

	// Revocation takes precedence over every cryptographic check, and the
	// lookup always goes to the store.
	revoked, err := a.revocations.IsRevoked(ctx, Hash(raw))
	if err != nil {
		return nil, NewVerificationError("revocation lookup failed", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	key, err := a.keys.VerificationKey(ctx)
	if err != nil {
		return nil, NewKeyError("keysource", "loading verification key", err)
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(a.keys.Algorithm(), key),
		jwt.WithValidate(false),
	)
	if err != nil {
		if _, parseErr := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false)); parseErr != nil {
			return nil, NewVerificationError("parsing token", ErrTokenMalformed)
		}
		return nil, NewVerificationError("checking signature", ErrTokenInvalidSignature)
	}

	if !a.now().Before(tok.Expiration()) {
		return nil, ErrTokenExpired
	}
	return claimsFromToken(tok)
}

// Revoke implements Authority.
func (a *authority) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return ErrEmptyToken
	}

	key, err := a.keys.VerificationKey(ctx)
	if err != nil {
		return NewKeyError("keysource", "loading verification key", err)
	}

	// Expiry is not validated here so an expired token can still be
	// revoked; the store expiry bound makes the entry prune itself.
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(a.keys.Algorithm(), key),
		jwt.WithValidate(false),
	)
	if err != nil {
		return NewVerificationError("parsing token", ErrTokenMalformed)
	}

	if err := a.revocations.InsertRevocation(ctx, Hash(raw), tok.Expiration()); err != nil {
		return NewVerificationError("recording revocation", err)
	}
	a.metrics.RecordRevocation()
	return nil
}

func (a *authority) sign(ctx context.Context, tok jwt.Token) (string, error) {
	key, err := a.keys.SigningKey(ctx)
	if err != nil {
		return "", NewKeyError("keysource", "loading signing key", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(a.keys.Algorithm(), key))
	if err != nil {
		return "", NewKeyError("keysource", "signing token", err)
	}
	return string(signed), nil
}

func verificationResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsRevokedError(err):
		return "revoked"
	case IsExpiredError(err):
		return "expired"
	default:
		return "error"
	}
}

var _ Authority = (*authority)(nil)
