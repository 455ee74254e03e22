// Package config loads, validates, and watches the service configuration.
// Files are YAML with ${VAR} and ${VAR:-default} environment substitution.
package config

import (
	"fmt"
	"time"
)

// Store backend names.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Token key source names.
const (
	KeySourceInline = "inline"
	KeySourceFile   = "file"
	KeySourceVault  = "vault"
)

// Config is the root service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Token   TokenConfig   `yaml:"token"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Janitor JanitorConfig `yaml:"janitor"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// RequestTimeout bounds handler execution per request.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StoreConfig configures the credential store backends.
type StoreConfig struct {
	// Backend selects the record store, "postgres" or "memory".
	Backend string `yaml:"backend"`

	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`

	// QueryTimeout bounds individual store calls.
	QueryTimeout time.Duration `yaml:"queryTimeout"`

	// Redis optionally moves session and revocation state to Redis.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the optional Redis session backend.
type RedisConfig struct {
	// Enabled switches session and revocation storage to Redis.
	Enabled bool `yaml:"enabled"`

	// Addr is the Redis server address.
	Addr string `yaml:"addr"`

	// Password is the optional server password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`
}

// TokenConfig configures the token authority.
type TokenConfig struct {
	// Issuer is the iss claim value.
	Issuer string `yaml:"issuer"`

	// AccessTTL is the default access token lifetime.
	AccessTTL time.Duration `yaml:"accessTTL"`

	// RefreshTTL is the refresh token lifetime.
	RefreshTTL time.Duration `yaml:"refreshTTL"`

	// Key configures where signing key material comes from.
	Key KeyConfig `yaml:"key"`
}

// KeyConfig configures the signing key source.
type KeyConfig struct {
	// Source is "inline", "file", or "vault".
	Source string `yaml:"source"`

	// Secret is the HS256 shared secret for the inline source.
	Secret string `yaml:"secret"`

	// Path is the PEM file path for the file source, or the KV v2 secret
	// path for the vault source.
	Path string `yaml:"path"`

	// Vault configures the Vault connection for the vault source.
	Vault VaultConfig `yaml:"vault"`
}

// VaultConfig configures access to a Vault KV v2 mount.
type VaultConfig struct {
	// Addr is the Vault server address.
	Addr string `yaml:"addr"`

	// Token authenticates the client.
	Token string `yaml:"token"`

	// Mount is the KV v2 mount path.
	Mount string `yaml:"mount"`

	// Field is the secret field holding the signing key.
	Field string `yaml:"field"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or console.
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus surface.
type MetricsConfig struct {
	// Enabled exposes /metrics when set.
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// JanitorConfig configures background pruning of expired sessions and
// revocation entries.
type JanitorConfig struct {
	// Interval between pruning sweeps. Zero disables the janitor.
	Interval time.Duration `yaml:"interval"`
}

// SetDefaults fills unset fields with production defaults.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 5 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendPostgres
	}
	if c.Store.QueryTimeout <= 0 {
		c.Store.QueryTimeout = 2 * time.Second
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = "authcore"
	}
	if c.Token.AccessTTL <= 0 {
		c.Token.AccessTTL = 15 * time.Minute
	}
	if c.Token.RefreshTTL <= 0 {
		c.Token.RefreshTTL = 24 * time.Hour
	}
	if c.Token.Key.Source == "" {
		c.Token.Key.Source = KeySourceInline
	}
	if c.Token.Key.Vault.Mount == "" {
		c.Token.Key.Vault.Mount = "secret"
	}
	if c.Token.Key.Vault.Field == "" {
		c.Token.Key.Vault.Field = "signing_key"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "authcore"
	}
	if c.Janitor.Interval < 0 {
		c.Janitor.Interval = 0
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store: dsn is required for the postgres backend")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	if c.Store.Redis.Enabled && c.Store.Redis.Addr == "" {
		return fmt.Errorf("store: redis.addr is required when redis is enabled")
	}

	switch c.Token.Key.Source {
	case KeySourceInline:
		if c.Token.Key.Secret == "" {
			return fmt.Errorf("token: key.secret is required for the inline source")
		}
	case KeySourceFile:
		if c.Token.Key.Path == "" {
			return fmt.Errorf("token: key.path is required for the file source")
		}
	case KeySourceVault:
		if c.Token.Key.Vault.Addr == "" {
			return fmt.Errorf("token: key.vault.addr is required for the vault source")
		}
		if c.Token.Key.Path == "" {
			return fmt.Errorf("token: key.path is required for the vault source")
		}
	default:
		return fmt.Errorf("token: unknown key source %q", c.Token.Key.Source)
	}

	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return fmt.Errorf("token: refreshTTL must exceed accessTTL")
	}
	return nil
}
