package access

import (
	"context"
	"slices"

	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/store"
)

// Filter decides whether a grant permits access to services and operations.
type Filter interface {
	// IsAllowed returns nil when the grant covers the service and an
	// AccessError wrapping ErrServiceDenied otherwise.
	IsAllowed(ctx context.Context, g *grant.EffectiveGrant, service string) error

	// IsOperationAllowed checks service access first, then the service's
	// operation policy.
	IsOperationAllowed(ctx context.Context, g *grant.EffectiveGrant, service, operation string) error

	// FilterOperations returns the subsequence of candidates the grant
	// permits on the service, preserving input order. A service outside
	// the grant yields an empty result.
	FilterOperations(ctx context.Context, g *grant.EffectiveGrant, service string, candidates []string) []string
}

// filter implements the Filter interface.
type filter struct {
	auditor audit.Logger
	metrics *Metrics
}

// FilterOption is a functional option for the filter.
type FilterOption func(*filter)

// WithAuditor sets the audit logger for decisions.
func WithAuditor(auditor audit.Logger) FilterOption {
	return func(f *filter) {
		f.auditor = auditor
	}
}

// WithMetrics sets the metrics for the filter.
func WithMetrics(metrics *Metrics) FilterOption {
	return func(f *filter) {
		f.metrics = metrics
	}
}

// NewFilter creates an access filter.
func NewFilter(opts ...FilterOption) Filter {
	f := &filter{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsAllowed implements Filter.
func (f *filter) IsAllowed(ctx context.Context, g *grant.EffectiveGrant, service string) error {
	if !g.HasService(service) {
		f.record(ctx, g, service, "", ErrServiceDenied)
		return &AccessError{PrincipalID: g.PrincipalID, Service: service, Cause: ErrServiceDenied}
	}
	f.record(ctx, g, service, "", nil)
	return nil
}

// IsOperationAllowed implements Filter.
func (f *filter) IsOperationAllowed(ctx context.Context, g *grant.EffectiveGrant, service, operation string) error {
	if !g.HasService(service) {
		f.record(ctx, g, service, operation, ErrServiceDenied)
		return &AccessError{PrincipalID: g.PrincipalID, Service: service, Operation: operation, Cause: ErrServiceDenied}
	}
	if !operationPermitted(g.PolicyFor(service), operation) {
		f.record(ctx, g, service, operation, ErrOperationDenied)
		return &AccessError{PrincipalID: g.PrincipalID, Service: service, Operation: operation, Cause: ErrOperationDenied}
	}
	f.record(ctx, g, service, operation, nil)
	return nil
}

// FilterOperations implements Filter.
func (f *filter) FilterOperations(_ context.Context, g *grant.EffectiveGrant, service string, candidates []string) []string {
	if !g.HasService(service) {
		return nil
	}

	policy := g.PolicyFor(service)
	permitted := make([]string, 0, len(candidates))
	for _, operation := range candidates {
		if operationPermitted(policy, operation) {
			permitted = append(permitted, operation)
		}
	}
	return permitted
}

// operationPermitted applies the closed mode table. An unknown mode denies.
func operationPermitted(policy store.OperationPolicy, operation string) bool {
	switch policy.Mode {
	case store.PolicyModeAll:
		return true
	case store.PolicyModeNone:
		return false
	case store.PolicyModeAllow:
		return slices.Contains(policy.Operations, operation)
	case store.PolicyModeDeny:
		return !slices.Contains(policy.Operations, operation)
	default:
		return false
	}
}

func (f *filter) record(ctx context.Context, g *grant.EffectiveGrant, service, operation string, cause error) {
	scope := "service"
	if operation != "" {
		scope = "operation"
	}

	outcome := audit.OutcomeSuccess
	reason := ""
	switch cause {
	case nil:
		f.metrics.RecordDecision(scope, "allow")
	case ErrOperationDenied:
		f.metrics.RecordDecision(scope, "deny")
		outcome, reason = audit.OutcomeDenied, "operation_denied"
	default:
		f.metrics.RecordDecision(scope, "deny")
		outcome, reason = audit.OutcomeDenied, "service_denied"
	}

	if f.auditor != nil {
		f.auditor.LogAuthorization(ctx, outcome,
			&audit.Subject{PrincipalID: g.PrincipalID, Handle: g.Handle},
			&audit.Resource{Service: service, Operation: operation},
			reason,
		)
	}
}

var _ Filter = (*filter)(nil)
