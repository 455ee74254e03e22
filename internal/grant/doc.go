// Package grant implements the permission resolver. It folds a principal's
// role, team memberships, and per-principal override into a single
// EffectiveGrant under a most-restrictive-wins precedence: service sets only
// ever shrink and numeric ceilings take the minimum across layers.
package grant
