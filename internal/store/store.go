package store

import (
	"context"
	"time"
)

// PolicyMode describes how a role restricts operations on a service.
type PolicyMode string

// Operation policy modes. The set is closed: anything else fails
// OperationPolicy.Validate.
const (
	// PolicyModeAll permits every operation on the service.
	PolicyModeAll PolicyMode = "all"

	// PolicyModeNone denies every operation on the service.
	PolicyModeNone PolicyMode = "none"

	// PolicyModeAllow permits only the operations in the declared list.
	PolicyModeAllow PolicyMode = "allow"

	// PolicyModeDeny permits every operation except those in the declared list.
	PolicyModeDeny PolicyMode = "deny"
)

// OperationPolicy restricts the operations a grant may invoke on one service.
type OperationPolicy struct {
	// Mode selects the restriction semantics.
	Mode PolicyMode `json:"mode" yaml:"mode"`

	// Operations is the declared operation list for allow and deny modes.
	Operations []string `json:"operations,omitempty" yaml:"operations,omitempty"`
}

// Validate checks that the policy uses a known mode.
func (p OperationPolicy) Validate() error {
	switch p.Mode {
	case PolicyModeAll, PolicyModeNone, PolicyModeAllow, PolicyModeDeny:
		return nil
	default:
		return &UnknownPolicyModeError{Mode: string(p.Mode)}
	}
}

// WildcardService is the sentinel service name meaning "all services".
const WildcardService = "*"

// Principal is an authenticated actor. The role is an assignment, not
// ownership: many principals share a role.
type Principal struct {
	ID          int64
	Handle      string
	DisplayName string
	Active      bool
	RoleName    string

	// SecretHash is the bcrypt hash of the login secret. Never serialized.
	SecretHash string

	// RateLimitOverride, when set, is a per-principal rate ceiling applied
	// as a final minimum over everything the role, teams and override
	// record produce.
	RateLimitOverride *int

	LastLoginAt *time.Time
}

// Role is a named policy template shared by many principals.
type Role struct {
	Name string

	// AllowedServices lists accessible upstream service names. A single
	// WildcardService entry grants access to all services.
	AllowedServices []string

	// OperationPolicies restricts operations per service name. A service
	// with no entry defaults to PolicyModeAll.
	OperationPolicies map[string]OperationPolicy

	RateLimit      int
	DailyCostLimit float64
	TokenTTL       time.Duration
}

// Wildcard reports whether the role grants access to all services.
func (r Role) Wildcard() bool {
	return len(r.AllowedServices) == 1 && r.AllowedServices[0] == WildcardService
}

// Team is a named grouping of principals. Teams only ever impose additional
// ceilings, never expansions.
type Team struct {
	Name string

	// ServiceRestriction, when non-empty, narrows the member's service set.
	// An empty list means the team does not restrict services at all; it is
	// not an empty grant.
	ServiceRestriction []string

	RateLimit      *int
	DailyCostLimit *float64
}

// Override is a per-principal restriction record, at most one per principal.
// Overrides only ever narrow the role/team-derived grant.
type Override struct {
	PrincipalID int64

	// DeniedServices are removed from the resolved service set.
	DeniedServices []string

	// DeniedOperations maps service name to operations removed from that
	// service's allow list, if one exists in the grant.
	DeniedOperations map[string][]string

	RateLimit      *int
	DailyCostLimit *float64
}

// Session records one issued access token. Sessions are audit/management
// bookkeeping, not the source of truth for token validity.
type Session struct {
	PrincipalID      int64
	TokenHash        string
	ExpiresAt        time.Time
	RefreshTokenHash string
	CreatedAt        time.Time
}

// RevocationEntry marks a token hash as invalidated before its natural
// expiry. Entries are prunable once ExpiresAt has passed.
type RevocationEntry struct {
	TokenHash string
	ExpiresAt time.Time
}

// PrincipalStore reads principal, role, team and override records.
type PrincipalStore interface {
	// GetPrincipalWithRole returns the principal and its assigned role.
	// Returns ErrNotFound if no such principal exists.
	GetPrincipalWithRole(ctx context.Context, id int64) (Principal, Role, error)

	// FindPrincipalByHandle looks a principal up by handle for login.
	FindPrincipalByHandle(ctx context.Context, handle string) (Principal, error)

	// FindPrincipalByAPIKey looks a principal up by the SHA-256 hash of an
	// opaque pre-shared key.
	FindPrincipalByAPIKey(ctx context.Context, keyHash string) (Principal, error)

	// GetTeamsForPrincipal returns every team the principal belongs to.
	GetTeamsForPrincipal(ctx context.Context, id int64) ([]Team, error)

	// GetOverride returns the principal's override record, or nil if none.
	GetOverride(ctx context.Context, id int64) (*Override, error)

	// TouchLogin records a successful login timestamp. Best-effort.
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

// SessionStore records issued tokens. All writes are best-effort from the
// caller's perspective; failures must not invalidate issued tokens.
type SessionStore interface {
	// InsertSession records a newly issued access token by hash.
	InsertSession(ctx context.Context, principalID int64, tokenHash string, expiresAt time.Time) error

	// LinkRefreshToken associates a refresh token hash with the most recent
	// still-unexpired session for the principal.
	LinkRefreshToken(ctx context.Context, principalID int64, refreshHash string) error

	// DeleteExpiredSessions removes sessions whose expiry has passed and
	// returns how many were removed.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// RevocationStore is the revocation set. Membership checks always go to the
// backend directly; callers must not cache results.
type RevocationStore interface {
	// IsRevoked reports whether the token hash is in the revocation set and
	// not yet past its recorded expiry.
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)

	// InsertRevocation adds a token hash with its original expiry.
	// Idempotent; a repeated insert overwrites the expiry.
	InsertRevocation(ctx context.Context, tokenHash string, expiresAt time.Time) error

	// PruneExpired removes entries whose expiry has passed and returns how
	// many were removed.
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full credential store.
type Store interface {
	PrincipalStore
	SessionStore
	RevocationStore

	// Ping checks backend connectivity for readiness probes.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
