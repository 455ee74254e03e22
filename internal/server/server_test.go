package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/authcore-io/authcore/internal/access"
	"github.com/authcore-io/authcore/internal/config"
	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/ratelimit"
	"github.com/authcore-io/authcore/internal/store"
	"github.com/authcore-io/authcore/internal/store/memory"
	"github.com/authcore-io/authcore/internal/token"
)

type testEnv struct {
	backing   *memory.Store
	authority token.Authority
	server    *Server
}

func intPtr(v int) *int { return &v }

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	backing := memory.New()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	backing.AddRole(store.Role{
		Name:            "operator",
		AllowedServices: []string{"search", "deploy"},
		OperationPolicies: map[string]store.OperationPolicy{
			"deploy": {Mode: store.PolicyModeAllow, Operations: []string{"status"}},
		},
		RateLimit: 100,
	})
	backing.AddPrincipal(store.Principal{
		ID: 1, Handle: "alice", Active: true, RoleName: "operator", SecretHash: string(hash),
	})
	backing.AddPrincipal(store.Principal{
		ID: 2, Handle: "bob", Active: false, RoleName: "operator", SecretHash: string(hash),
	})
	backing.AddPrincipal(store.Principal{
		ID: 3, Handle: "carla", Active: true, RoleName: "operator",
		SecretHash: string(hash), RateLimitOverride: intPtr(1),
	})
	backing.AddAPIKey(token.Hash("opaque-key-1"), 1)

	keys, err := token.NewHMACKeySource([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	authority, err := token.NewAuthority(token.Config{}, keys, backing, backing)
	require.NoError(t, err)

	srv := New(Options{
		Config:    config.ServerConfig{Addr: ":0"},
		Records:   backing,
		Pinger:    backing.Ping,
		Authority: authority,
		Resolver:  grant.NewResolver(backing),
		Filter:    access.NewFilter(),
		Limits:    ratelimit.NewRegistry(),
	})

	return &testEnv{backing: backing, authority: authority, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, handle, secret string) tokenPairResponse {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/login", loginRequest{Handle: handle, Secret: secret}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair tokenPairResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func reason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["reason"]
}

func TestLogin(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Greater(t, pair.ExpiresIn, int64(0))
}

func TestLoginWrongSecret(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/login", loginRequest{Handle: "alice", Secret: "wrong"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonInvalidCredentials, reason(t, rec))
}

func TestLoginUnknownHandle(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/login", loginRequest{Handle: "nobody", Secret: "s3cret"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonInvalidCredentials, reason(t, rec))
}

func TestLoginInactivePrincipalIsDistinct(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	// Correct secret, deactivated principal: the reason string differs
	// from a bad credential.
	rec := env.do(t, http.MethodPost, "/login", loginRequest{Handle: "bob", Secret: "s3cret"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonPrincipalInactive, reason(t, rec))
}

func TestLoginWithAPIKey(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/login", loginRequest{APIKey: "opaque-key-1"}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/login", loginRequest{APIKey: "bogus"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonInvalidCredentials, reason(t, rec))
}

func TestLoginEmptyBody(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/login", map[string]string{}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	rec := env.do(t, http.MethodGet, "/validate", nil, bearer(pair.AccessToken))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(HeaderPrincipalID))
	assert.Equal(t, "alice", rec.Header().Get(HeaderHandle))
	assert.Equal(t, "operator", rec.Header().Get(HeaderRole))
}

func TestValidateRejectsRefreshToken(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	rec := env.do(t, http.MethodGet, "/validate", nil, bearer(pair.RefreshToken))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonTokenInvalid, reason(t, rec))
}

func TestValidateMissingToken(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/validate", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonTokenMalformed, reason(t, rec))
}

func TestValidateScopedToService(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	headers := bearer(pair.AccessToken)
	headers[HeaderService] = "search"
	rec := env.do(t, http.MethodGet, "/validate", nil, headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	headers[HeaderService] = "billing"
	rec = env.do(t, http.MethodGet, "/validate", nil, headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonServiceDenied, reason(t, rec))

	headers[HeaderService] = "deploy"
	headers[HeaderOperation] = "status"
	rec = env.do(t, http.MethodGet, "/validate", nil, headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	headers[HeaderOperation] = "restart"
	rec = env.do(t, http.MethodGet, "/validate", nil, headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ReasonOperationDenied, reason(t, rec))
}

func TestValidateRateLimited(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "carla", "s3cret")

	// Carla's principal floor is one request per minute.
	rec := env.do(t, http.MethodGet, "/validate", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/validate", nil, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ReasonRateLimited, reason(t, rec))
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	rec := env.do(t, http.MethodPost, "/refresh", nil, bearer(pair.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code)

	var renewed tokenPairResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &renewed))
	assert.NotEmpty(t, renewed.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, renewed.RefreshToken)

	// The exchanged refresh token is dead.
	rec = env.do(t, http.MethodPost, "/refresh", nil, bearer(pair.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonTokenRevoked, reason(t, rec))
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	rec := env.do(t, http.MethodPost, "/refresh", nil, bearer(pair.AccessToken))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonTokenInvalid, reason(t, rec))
}

func TestLogoutRevokesToken(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	rec := env.do(t, http.MethodPost, "/logout", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/validate", nil, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonTokenRevoked, reason(t, rec))
}

func TestLogoutMalformedToken(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/logout", nil, bearer("garbage"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ReasonTokenMalformed, reason(t, rec))
}

func TestPermissionsRequiresToken(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/permissions/1", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPermissionsReturnsGrant(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	rec := env.do(t, http.MethodGet, "/permissions/1", nil, bearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc grantDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, int64(1), doc.PrincipalID)
	assert.Equal(t, "operator", doc.Role)
	assert.Equal(t, []string{"search", "deploy"}, doc.Services)
	assert.Equal(t, 100, doc.RateLimit)
	require.Contains(t, doc.OperationPolicies, "deploy")
	assert.Equal(t, "allow", doc.OperationPolicies["deploy"].Mode)
}

func TestPermissionsUnknownPrincipal(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	rec := env.do(t, http.MethodGet, "/permissions/404", nil, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ReasonPrincipalNotFound, reason(t, rec))

	rec = env.do(t, http.MethodGet, "/permissions/abc", nil, bearer(pair.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissionCheck(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	pair := env.login(t, "alice", "s3cret")

	tests := []struct {
		name       string
		path       string
		wantAllow  bool
		wantReason string
	}{
		{name: "allowed operation", path: "/permissions/check/1/deploy/status", wantAllow: true},
		{name: "denied operation", path: "/permissions/check/1/deploy/restart", wantReason: ReasonOperationDenied},
		{name: "denied service", path: "/permissions/check/1/billing/read", wantReason: ReasonServiceDenied},
		{name: "inactive principal", path: "/permissions/check/2/search/read", wantReason: ReasonPrincipalInactive},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, nil, bearer(pair.AccessToken))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var check checkResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
			assert.Equal(t, tt.wantAllow, check.Allowed)
			assert.Equal(t, tt.wantReason, check.Reason)
		})
	}
}

func TestHealthProbes(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzUnavailableStore(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.server.opts.Pinger = func(_ context.Context) error { return store.ErrUnavailable }

	rec := env.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
