package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore-io/authcore/internal/store"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client, nil), mr
}

func TestInsertSession(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.InsertSession(ctx, 7, "hash-a", expiry))

	require.True(t, mr.Exists("authcore:session:hash-a"))
	require.True(t, mr.Exists("authcore:session:latest:7"))

	latest, err := mr.Get("authcore:session:latest:7")
	require.NoError(t, err)
	assert.Equal(t, "hash-a", latest)

	raw, err := mr.Get("authcore:session:hash-a")
	require.NoError(t, err)

	var rec sessionRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, int64(7), rec.PrincipalID)
	assert.Empty(t, rec.RefreshTokenHash)

	ttl := mr.TTL("authcore:session:hash-a")
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestInsertSessionAlreadyExpired(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)

	require.NoError(t, s.InsertSession(context.Background(), 7, "hash-old", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("authcore:session:hash-old"))
}

func TestLinkRefreshToken(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertSession(ctx, 7, "hash-a", time.Now().Add(time.Hour)))
	require.NoError(t, s.LinkRefreshToken(ctx, 7, "refresh-a"))

	raw, err := mr.Get("authcore:session:hash-a")
	require.NoError(t, err)

	var rec sessionRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, "refresh-a", rec.RefreshTokenHash)

	// The session TTL must survive the rewrite.
	ttl := mr.TTL("authcore:session:hash-a")
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestLinkRefreshTokenAttachesToNewest(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertSession(ctx, 7, "hash-a", time.Now().Add(time.Hour)))
	require.NoError(t, s.InsertSession(ctx, 7, "hash-b", time.Now().Add(time.Hour)))
	require.NoError(t, s.LinkRefreshToken(ctx, 7, "refresh-b"))

	raw, err := mr.Get("authcore:session:hash-a")
	require.NoError(t, err)
	var first sessionRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &first))
	assert.Empty(t, first.RefreshTokenHash)

	raw, err = mr.Get("authcore:session:hash-b")
	require.NoError(t, err)
	var second sessionRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &second))
	assert.Equal(t, "refresh-b", second.RefreshTokenHash)
}

func TestLinkRefreshTokenNoSession(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	err := s.LinkRefreshToken(context.Background(), 99, "refresh-x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLinkRefreshTokenSessionGone(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertSession(ctx, 7, "hash-a", time.Now().Add(time.Hour)))
	mr.Del("authcore:session:hash-a")

	err := s.LinkRefreshToken(ctx, 7, "refresh-a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevocation(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()

	revoked, err := s.IsRevoked(ctx, "hash-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, s.InsertRevocation(ctx, "hash-a", time.Now().Add(30*time.Minute)))

	revoked, err = s.IsRevoked(ctx, "hash-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Revoking twice is idempotent.
	require.NoError(t, s.InsertRevocation(ctx, "hash-a", time.Now().Add(30*time.Minute)))

	// Once the key TTL passes the token is no longer reported revoked.
	mr.FastForward(time.Hour)

	revoked, err = s.IsRevoked(ctx, "hash-a")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestInsertRevocationExpiredToken(t *testing.T) {
	t.Parallel()

	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRevocation(ctx, "hash-old", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("authcore:revoked:hash-old"))
}

func TestPruneIsImplicit(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.DeleteExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.PruneExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewWithClient(client, nil)
	mr.Close()
	t.Cleanup(func() { _ = client.Close() })

	_, err := s.IsRevoked(context.Background(), "hash-a")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	err = s.Ping(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
