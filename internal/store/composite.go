package store

import "context"

// Composite assembles a full Store from independently chosen backends.
// The usual deployment keeps principal records in Postgres and moves
// session and revocation state to Redis.
type Composite struct {
	PrincipalStore
	SessionStore
	RevocationStore

	// Pinger reports backend health. Optional.
	Pinger func(ctx context.Context) error

	// Closer releases backend resources. Optional.
	Closer func() error
}

// Ping implements Store.
func (c *Composite) Ping(ctx context.Context) error {
	if c.Pinger == nil {
		return nil
	}
	return c.Pinger(ctx)
}

// Close implements Store.
func (c *Composite) Close() error {
	if c.Closer == nil {
		return nil
	}
	return c.Closer()
}

var _ Store = (*Composite)(nil)
