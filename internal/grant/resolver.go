package grant

import (
	"context"
	"errors"
	"slices"

	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/store"
)

// Resolver computes effective grants.
type Resolver interface {
	// Resolve builds the EffectiveGrant for a principal. Fails with
	// ErrPrincipalNotFound or ErrPrincipalInactive; store failures are
	// wrapped in a ResolveError.
	Resolve(ctx context.Context, principalID int64) (*EffectiveGrant, error)
}

// resolver implements the Resolver interface.
type resolver struct {
	records store.PrincipalStore
	logger  observability.Logger
	metrics *Metrics
}

// ResolverOption is a functional option for the resolver.
type ResolverOption func(*resolver)

// WithLogger sets the logger for the resolver.
func WithLogger(logger observability.Logger) ResolverOption {
	return func(r *resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics for the resolver.
func WithMetrics(metrics *Metrics) ResolverOption {
	return func(r *resolver) {
		r.metrics = metrics
	}
}

// NewResolver creates a grant resolver over the principal records.
func NewResolver(records store.PrincipalStore, opts ...ResolverOption) Resolver {
	r := &resolver{
		records: records,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve implements Resolver.
func (r *resolver) Resolve(ctx context.Context, principalID int64) (*EffectiveGrant, error) {
	grant, err := r.resolve(ctx, principalID)
	r.metrics.RecordResolution(resolutionResult(err))
	return grant, err
}

func (r *resolver) resolve(ctx context.Context, principalID int64) (*EffectiveGrant, error) {
	principal, role, err := r.records.GetPrincipalWithRole(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, NewResolveError(principalID, "principal", err)
	}
	if !principal.Active {
		return nil, ErrPrincipalInactive
	}

	grant := seedFromRole(principal, role)

	teams, err := r.records.GetTeamsForPrincipal(ctx, principalID)
	if err != nil {
		return nil, NewResolveError(principalID, "teams", err)
	}
	applyTeams(grant, teams)

	override, err := r.records.GetOverride(ctx, principalID)
	if err != nil {
		return nil, NewResolveError(principalID, "override", err)
	}
	if override != nil {
		applyOverride(grant, override)
	}

	// The principal rate floor is a final minimum on the rate limit only.
	if principal.RateLimitOverride != nil {
		grant.RateLimit = min(grant.RateLimit, *principal.RateLimitOverride)
	}

	r.logger.Debug("grant resolved",
		observability.Int64("principal_id", principalID),
		observability.String("role", grant.RoleName),
		observability.Bool("all_services", grant.AllServices),
		observability.Int("services", len(grant.Services)),
		observability.Int("rate_limit", grant.RateLimit),
	)
	return grant, nil
}

// seedFromRole copies the role's access shape into a fresh grant.
func seedFromRole(principal store.Principal, role store.Role) *EffectiveGrant {
	grant := &EffectiveGrant{
		PrincipalID:    principal.ID,
		Handle:         principal.Handle,
		RoleName:       role.Name,
		AllServices:    role.Wildcard(),
		RateLimit:      role.RateLimit,
		DailyCostLimit: role.DailyCostLimit,
	}
	if !grant.AllServices {
		grant.Services = slices.Clone(role.AllowedServices)
	}
	if len(role.OperationPolicies) > 0 {
		grant.OperationPolicies = make(map[string]store.OperationPolicy, len(role.OperationPolicies))
		for service, policy := range role.OperationPolicies {
			policy.Operations = slices.Clone(policy.Operations)
			grant.OperationPolicies[service] = policy
		}
	}
	return grant
}

// applyTeams narrows the grant by team restrictions and ceilings. A
// wildcard seed is replaced by the union of team restriction lists, never
// intersected with it.
func applyTeams(grant *EffectiveGrant, teams []store.Team) {
	if len(teams) == 0 {
		return
	}

	var union []string
	restricted := false
	for _, team := range teams {
		grant.Teams = append(grant.Teams, team.Name)

		if team.ServiceRestriction != nil {
			restricted = true
			for _, service := range team.ServiceRestriction {
				if !slices.Contains(union, service) {
					union = append(union, service)
				}
			}
		}
		if team.RateLimit != nil {
			grant.RateLimit = min(grant.RateLimit, *team.RateLimit)
		}
		if team.DailyCostLimit != nil {
			grant.DailyCostLimit = min(grant.DailyCostLimit, *team.DailyCostLimit)
		}
	}
	if !restricted {
		return
	}

	if grant.AllServices {
		grant.AllServices = false
		grant.Services = union
		return
	}

	kept := grant.Services[:0]
	for _, service := range grant.Services {
		if slices.Contains(union, service) {
			kept = append(kept, service)
		}
	}
	grant.Services = kept
}

// applyOverride removes denied services and operations and applies the
// override ceilings. An override only narrows.
func applyOverride(grant *EffectiveGrant, override *store.Override) {
	if len(override.DeniedServices) > 0 {
		if grant.AllServices {
			grant.DeniedServices = slices.Clone(override.DeniedServices)
		} else {
			grant.Services = slices.DeleteFunc(grant.Services, func(service string) bool {
				return slices.Contains(override.DeniedServices, service)
			})
		}
	}

	for service, denied := range override.DeniedOperations {
		if len(denied) == 0 {
			continue
		}
		policy := grant.PolicyFor(service)
		switch policy.Mode {
		case store.PolicyModeAll:
			policy = store.OperationPolicy{Mode: store.PolicyModeDeny, Operations: slices.Clone(denied)}
		case store.PolicyModeAllow:
			policy.Operations = slices.DeleteFunc(slices.Clone(policy.Operations), func(op string) bool {
				return slices.Contains(denied, op)
			})
		case store.PolicyModeDeny:
			merged := slices.Clone(policy.Operations)
			for _, op := range denied {
				if !slices.Contains(merged, op) {
					merged = append(merged, op)
				}
			}
			policy.Operations = merged
		case store.PolicyModeNone:
			// Already denies everything.
		}
		if grant.OperationPolicies == nil {
			grant.OperationPolicies = make(map[string]store.OperationPolicy)
		}
		grant.OperationPolicies[service] = policy
	}

	if override.RateLimit != nil {
		grant.RateLimit = min(grant.RateLimit, *override.RateLimit)
	}
	if override.DailyCostLimit != nil {
		grant.DailyCostLimit = min(grant.DailyCostLimit, *override.DailyCostLimit)
	}
}

func resolutionResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPrincipalNotFound):
		return "not_found"
	case errors.Is(err, ErrPrincipalInactive):
		return "inactive"
	default:
		return "error"
	}
}

var _ Resolver = (*resolver)(nil)
