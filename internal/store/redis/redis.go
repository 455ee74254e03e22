// Package redis implements the session and revocation stores on Redis.
// Record data (principals, roles, teams, overrides) stays in the SQL
// backend; Redis only carries the token-hash keyed state whose natural
// lifetime matches key TTLs.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/store"
)

const (
	sessionKeyPrefix  = "authcore:session:"
	latestKeyPrefix   = "authcore:session:latest:"
	revocationPrefix  = "authcore:revoked:"
	defaultDialTimout = 5 * time.Second
)

// Options configures the Redis store.
type Options struct {
	// Addr is the Redis server address.
	Addr string

	// Password is the optional server password.
	Password string

	// DB is the Redis database number.
	DB int

	// Logger is the structured logger. Defaults to a nop logger.
	Logger observability.Logger
}

// Store implements store.SessionStore and store.RevocationStore on Redis.
// Keys expire with the token they describe, so pruning is implicit.
type Store struct {
	client *redis.Client
	logger observability.Logger
}

// New connects to Redis.
func New(opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: defaultDialTimout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", store.ErrUnavailable, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{client: client, logger: logger}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, logger observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{client: client, logger: logger}
}

// sessionRecord is the JSON shape stored per session key.
type sessionRecord struct {
	PrincipalID      int64     `json:"principal_id"`
	TokenHash        string    `json:"token_hash"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshTokenHash string    `json:"refresh_token_hash,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// InsertSession implements store.SessionStore.
func (s *Store) InsertSession(ctx context.Context, principalID int64, tokenHash string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	rec := sessionRecord{
		PrincipalID: principalID,
		TokenHash:   tokenHash,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+tokenHash, data, ttl)
	pipe.Set(ctx, latestKeyPrefix+formatPrincipalID(principalID), tokenHash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

// LinkRefreshToken implements store.SessionStore. The refresh hash attaches
// to the principal's most recently inserted, still-live session key.
func (s *Store) LinkRefreshToken(ctx context.Context, principalID int64, refreshHash string) error {
	latest, err := s.client.Get(ctx, latestKeyPrefix+formatPrincipalID(principalID)).Result()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return wrapErr(err)
	}

	key := sessionKeyPrefix + latest
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return wrapErr(err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	rec.RefreshTokenHash = refreshHash

	updated, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, updated, redis.KeepTTL).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// DeleteExpiredSessions implements store.SessionStore. Redis TTLs already
// drop expired session keys.
func (s *Store) DeleteExpiredSessions(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// IsRevoked implements store.RevocationStore. A live key means the token
// hash is revoked and its recorded expiry has not yet passed; the TTL
// enforces the expiry bound.
func (s *Store) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.client.Exists(ctx, revocationPrefix+tokenHash).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

// InsertRevocation implements store.RevocationStore. An already-expired
// expiry is accepted and dropped immediately; the token is rejected by the
// expiry check anyway.
func (s *Store) InsertRevocation(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revocationPrefix+tokenHash, expiresAt.Unix(), ttl).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// PruneExpired implements store.RevocationStore. TTL expiry prunes for us.
func (s *Store) PruneExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrapErr(err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

func formatPrincipalID(id int64) string {
	return fmt.Sprintf("%d", id)
}

func wrapErr(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// Ensure Store implements the session and revocation interfaces.
var (
	_ store.SessionStore    = (*Store)(nil)
	_ store.RevocationStore = (*Store)(nil)
)
