package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  addr: ":9090"
store:
  backend: memory
token:
  key:
    source: inline
    secret: test-secret
logging:
  level: debug
  format: console
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, "test-secret", cfg.Token.Key.Secret)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Defaults fill the gaps.
	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 24*time.Hour, cfg.Token.RefreshTTL)
	assert.Equal(t, "authcore", cfg.Token.Issuer)
	assert.Equal(t, "authcore", cfg.Metrics.Namespace)
	assert.Equal(t, 2*time.Second, cfg.Store.QueryTimeout)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("AUTHCORE_TEST_SECRET", "from-env")

	yaml := `
store:
  backend: memory
token:
  key:
    source: inline
    secret: ${AUTHCORE_TEST_SECRET}
server:
  addr: "${AUTHCORE_TEST_ADDR:-:8088}"
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Token.Key.Secret)
	assert.Equal(t, ":8088", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg := &Config{}
		cfg.Store.Backend = StoreBackendMemory
		cfg.Token.Key.Source = KeySourceInline
		cfg.Token.Key.Secret = "s"
		cfg.SetDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid memory config",
			mutate: func(_ *Config) {},
		},
		{
			name:    "postgres requires dsn",
			mutate:  func(c *Config) { c.Store.Backend = StoreBackendPostgres },
			wantErr: "dsn is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "etcd" },
			wantErr: "unknown backend",
		},
		{
			name:    "redis requires addr",
			mutate:  func(c *Config) { c.Store.Redis.Enabled = true },
			wantErr: "redis.addr is required",
		},
		{
			name:    "inline requires secret",
			mutate:  func(c *Config) { c.Token.Key.Secret = "" },
			wantErr: "key.secret is required",
		},
		{
			name: "file requires path",
			mutate: func(c *Config) {
				c.Token.Key.Source = KeySourceFile
			},
			wantErr: "key.path is required",
		},
		{
			name: "vault requires addr",
			mutate: func(c *Config) {
				c.Token.Key.Source = KeySourceVault
				c.Token.Key.Path = "authcore/token"
			},
			wantErr: "key.vault.addr is required",
		},
		{
			name:    "unknown key source",
			mutate:  func(c *Config) { c.Token.Key.Source = "hsm" },
			wantErr: "unknown key source",
		},
		{
			name: "refresh ttl must exceed access ttl",
			mutate: func(c *Config) {
				c.Token.AccessTTL = time.Hour
				c.Token.RefreshTTL = time.Hour
			},
			wantErr: "refreshTTL must exceed",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromReaderRejectsBadYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server: [not a map"))
	assert.Error(t, err)
}
