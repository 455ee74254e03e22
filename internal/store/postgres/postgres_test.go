package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authcore-io/authcore/internal/store"
)

func newMockStore(t *testing.T, opts Options) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewWithDB(db, opts), mock
}

func TestGetPrincipalWithRole(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	rows := sqlmock.NewRows([]string{
		"id", "handle", "display_name", "active", "role_name",
		"secret_hash", "rate_limit_override", "last_login_at",
		"allowed_services", "operation_policies",
		"rate_limit", "daily_cost_limit", "token_ttl_seconds",
	}).AddRow(
		int64(1), "ada", "Ada L", true, "viewer",
		"$2a$10$hash", nil, nil,
		[]byte(`["search","reports"]`),
		[]byte(`{"reports":{"mode":"allow","operations":["read"]}}`),
		100, 25.0, int64(900),
	)
	mock.ExpectQuery(`from principals p`).WithArgs(int64(1)).WillReturnRows(rows)

	p, role, err := s.GetPrincipalWithRole(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", p.Handle)
	assert.True(t, p.Active)
	assert.Equal(t, []string{"search", "reports"}, role.AllowedServices)
	assert.Equal(t, store.PolicyModeAllow, role.OperationPolicies["reports"].Mode)
	assert.Equal(t, 15*time.Minute, role.TokenTTL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPrincipalWithRole_NotFound(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	mock.ExpectQuery(`from principals p`).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, _, err := s.GetPrincipalWithRole(context.Background(), 9)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTeamsForPrincipal(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	limit := 20
	rows := sqlmock.NewRows([]string{"name", "service_restriction", "rate_limit", "daily_cost_limit"}).
		AddRow("ops", []byte(`["search","deploy"]`), limit, nil).
		AddRow("support", nil, nil, nil)
	mock.ExpectQuery(`from teams t`).WithArgs(int64(1)).WillReturnRows(rows)

	teams, err := s.GetTeamsForPrincipal(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, []string{"search", "deploy"}, teams[0].ServiceRestriction)
	require.NotNil(t, teams[0].RateLimit)
	assert.Equal(t, 20, *teams[0].RateLimit)
	assert.Nil(t, teams[1].ServiceRestriction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOverride_None(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	mock.ExpectQuery(`from overrides`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"principal_id"}))

	o, err := s.GetOverride(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOverride_Found(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	rows := sqlmock.NewRows([]string{
		"principal_id", "denied_services", "denied_operations", "rate_limit", "daily_cost_limit",
	}).AddRow(int64(1), []byte(`["deploy"]`), []byte(`{"deploy":["restart"]}`), 80, nil)
	mock.ExpectQuery(`from overrides`).WithArgs(int64(1)).WillReturnRows(rows)

	o, err := s.GetOverride(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, []string{"deploy"}, o.DeniedServices)
	assert.Equal(t, []string{"restart"}, o.DeniedOperations["deploy"])
	require.NotNil(t, o.RateLimit)
	assert.Equal(t, 80, *o.RateLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRevoked(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	mock.ExpectQuery(`from revocations`).WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	revoked, err := s.IsRevoked(context.Background(), "hash")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRevocation(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	expiry := time.Now().Add(time.Hour)
	mock.ExpectExec(`insert into revocations`).WithArgs("hash", expiry).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertRevocation(context.Background(), "hash", expiry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchLogin_NotFound(t *testing.T) {
	s, mock := newMockStore(t, Options{})

	at := time.Now()
	mock.ExpectExec(`update principals`).WithArgs(int64(9), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.TouchLogin(context.Background(), 9, at), store.ErrNotFound)
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	s, mock := newMockStore(t, Options{BreakerMaxFailures: 2})

	boom := errors.New("connection refused")
	mock.ExpectQuery(`from revocations`).WillReturnError(boom)
	mock.ExpectQuery(`from revocations`).WillReturnError(boom)

	for i := 0; i < 2; i++ {
		_, err := s.IsRevoked(context.Background(), "h")
		assert.ErrorIs(t, err, store.ErrUnavailable)
	}

	// Circuit is open now; the call fails without touching the database.
	_, err := s.IsRevoked(context.Background(), "h")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	s, mock := newMockStore(t, Options{BreakerMaxFailures: 2})

	for i := 0; i < 4; i++ {
		mock.ExpectQuery(`from principals p`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}

	for i := 0; i < 4; i++ {
		_, _, err := s.GetPrincipalWithRole(context.Background(), 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NotErrorIs(t, err, store.ErrUnavailable)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
