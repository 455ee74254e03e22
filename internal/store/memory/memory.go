// Package memory provides an in-memory credential store used by tests and
// the dev profile.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/authcore-io/authcore/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	principals map[int64]store.Principal
	roles      map[string]store.Role
	teams      map[int64][]store.Team
	overrides  map[int64]store.Override
	apiKeys    map[string]int64 // key hash -> principal id

	sessions    map[string]store.Session // token hash -> session
	revocations map[string]time.Time     // token hash -> original expiry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		principals:  make(map[int64]store.Principal),
		roles:       make(map[string]store.Role),
		teams:       make(map[int64][]store.Team),
		overrides:   make(map[int64]store.Override),
		apiKeys:     make(map[string]int64),
		sessions:    make(map[string]store.Session),
		revocations: make(map[string]time.Time),
	}
}

// AddPrincipal seeds a principal record.
func (s *Store) AddPrincipal(p store.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.ID] = p
}

// AddRole seeds a role record.
func (s *Store) AddRole(r store.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.Name] = r
}

// AddTeam adds a principal to a team.
func (s *Store) AddTeam(principalID int64, t store.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[principalID] = append(s.teams[principalID], t)
}

// SetOverride seeds the principal's override record.
func (s *Store) SetOverride(o store.Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[o.PrincipalID] = o
}

// AddAPIKey associates an API key hash with a principal.
func (s *Store) AddAPIKey(keyHash string, principalID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[keyHash] = principalID
}

// GetPrincipalWithRole implements store.PrincipalStore.
func (s *Store) GetPrincipalWithRole(_ context.Context, id int64) (store.Principal, store.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return store.Principal{}, store.Role{}, store.ErrNotFound
	}
	role, ok := s.roles[p.RoleName]
	if !ok {
		return p, store.Role{}, store.ErrNotFound
	}
	return p, role, nil
}

// FindPrincipalByHandle implements store.PrincipalStore.
func (s *Store) FindPrincipalByHandle(_ context.Context, handle string) (store.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.principals {
		if p.Handle == handle {
			return p, nil
		}
	}
	return store.Principal{}, store.ErrNotFound
}

// FindPrincipalByAPIKey implements store.PrincipalStore.
func (s *Store) FindPrincipalByAPIKey(_ context.Context, keyHash string) (store.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.apiKeys[keyHash]
	if !ok {
		return store.Principal{}, store.ErrNotFound
	}
	p, ok := s.principals[id]
	if !ok {
		return store.Principal{}, store.ErrNotFound
	}
	return p, nil
}

// GetTeamsForPrincipal implements store.PrincipalStore.
func (s *Store) GetTeamsForPrincipal(_ context.Context, id int64) ([]store.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]store.Team, len(s.teams[id]))
	copy(teams, s.teams[id])
	return teams, nil
}

// GetOverride implements store.PrincipalStore.
func (s *Store) GetOverride(_ context.Context, id int64) (*store.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overrides[id]
	if !ok {
		return nil, nil
	}
	out := o
	return &out, nil
}

// TouchLogin implements store.PrincipalStore.
func (s *Store) TouchLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.principals[id]
	if !ok {
		return store.ErrNotFound
	}
	p.LastLoginAt = &at
	s.principals[id] = p
	return nil
}

// InsertSession implements store.SessionStore.
func (s *Store) InsertSession(_ context.Context, principalID int64, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[tokenHash] = store.Session{
		PrincipalID: principalID,
		TokenHash:   tokenHash,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

// LinkRefreshToken implements store.SessionStore. The refresh hash attaches
// to the most recent still-unexpired session for the principal.
func (s *Store) LinkRefreshToken(_ context.Context, principalID int64, refreshHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []store.Session
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID && sess.ExpiresAt.After(now) {
			candidates = append(candidates, sess)
		}
	}
	if len(candidates) == 0 {
		return store.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	latest := candidates[0]
	latest.RefreshTokenHash = refreshHash
	s.sessions[latest.TokenHash] = latest
	return nil
}

// DeleteExpiredSessions implements store.SessionStore.
func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, hash)
			removed++
		}
	}
	return removed, nil
}

// Session returns the recorded session for a token hash. Test helper.
func (s *Store) Session(tokenHash string) (store.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[tokenHash]
	return sess, ok
}

// IsRevoked implements store.RevocationStore.
func (s *Store) IsRevoked(_ context.Context, tokenHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiry, ok := s.revocations[tokenHash]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}

// InsertRevocation implements store.RevocationStore.
func (s *Store) InsertRevocation(_ context.Context, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revocations[tokenHash] = expiresAt
	return nil
}

// PruneExpired implements store.RevocationStore.
func (s *Store) PruneExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for hash, expiry := range s.revocations {
		if !expiry.After(now) {
			delete(s.revocations, hash)
			removed++
		}
	}
	return removed, nil
}

// Ping implements store.Store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)
