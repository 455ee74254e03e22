// Package store defines the credential store consumed by the authorization
// core: principal, role, team and override records, issued sessions, and the
// revocation set.
//
// The core never owns persistence. It issues read/write operations against
// the interfaces in this package; concrete backends live in the postgres,
// redis and memory subpackages. Conflicting writes (a session insert racing
// a revocation insert for the same token hash) are serialized by the
// backend, not by the core.
//
// All operations take a context and are expected to complete or fail within
// a bounded timeout. A timeout or connectivity failure surfaces as
// ErrUnavailable, which callers on the verification path must treat as an
// authorization failure.
package store
