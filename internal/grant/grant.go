package grant

import (
	"slices"

	"github.com/authcore-io/authcore/internal/store"
)

// EffectiveGrant is the resolved permission snapshot for one principal.
// Resolution order is role, then teams, then override, then the principal
// rate floor; each layer can only narrow the previous one.
type EffectiveGrant struct {
	// PrincipalID is the principal the grant was resolved for.
	PrincipalID int64

	// Handle is the principal's login handle.
	Handle string

	// RoleName is the seeding role.
	RoleName string

	// Teams lists team names the principal belongs to. Display only.
	Teams []string

	// AllServices marks a wildcard service set that survived resolution.
	AllServices bool

	// Services is the resolved service-access set. Ignored when
	// AllServices is set.
	Services []string

	// DeniedServices lists override-denied services. Only consulted when
	// AllServices is set, since a name cannot be removed from a wildcard.
	DeniedServices []string

	// OperationPolicies maps service name to its operation policy. A
	// service with no entry permits every operation.
	OperationPolicies map[string]store.OperationPolicy

	// RateLimit is the resolved requests-per-minute ceiling.
	RateLimit int

	// DailyCostLimit is the resolved daily cost ceiling.
	DailyCostLimit float64
}

// HasService reports whether the grant covers the named service.
func (g *EffectiveGrant) HasService(service string) bool {
	if g.AllServices {
		return !slices.Contains(g.DeniedServices, service)
	}
	return slices.Contains(g.Services, service)
}

// PolicyFor returns the operation policy for a service. A service without
// a declared policy permits every operation.
func (g *EffectiveGrant) PolicyFor(service string) store.OperationPolicy {
	if policy, ok := g.OperationPolicies[service]; ok {
		return policy
	}
	return store.OperationPolicy{Mode: store.PolicyModeAll}
}
