// Package main is the entry point for the authcore service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/authcore-io/authcore/internal/access"
	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/config"
	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/ratelimit"
	"github.com/authcore-io/authcore/internal/server"
	"github.com/authcore-io/authcore/internal/store"
	"github.com/authcore-io/authcore/internal/store/memory"
	"github.com/authcore-io/authcore/internal/store/postgres"
	redisstore "github.com/authcore-io/authcore/internal/store/redis"
	"github.com/authcore-io/authcore/internal/token"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

type cliFlags struct {
	configPath  string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("authcore version %s\n", version)
		fmt.Printf("  Build time: %s\n", buildTime)
		fmt.Printf("  Git commit: %s\n", gitCommit)
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting authcore",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	if err := run(cfg, flags.configPath, logger); err != nil {
		logger.Error("authcore exited with error", observability.Error(err))
		os.Exit(1)
	}
}

func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AUTHCORE_CONFIG_PATH", "configs/authcore.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{configPath: *configPath, showVersion: *showVersion}
}

func run(cfg *config.Config, configPath string, logger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	namespace := cfg.Metrics.Namespace

	backing, err := buildStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("building store: %w", err)
	}
	defer func() { _ = backing.Close() }()

	keys, err := buildKeySource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building key source: %w", err)
	}

	authority, err := token.NewAuthority(
		token.Config{
			Issuer:     cfg.Token.Issuer,
			AccessTTL:  cfg.Token.AccessTTL,
			RefreshTTL: cfg.Token.RefreshTTL,
		},
		keys, backing, backing,
		token.WithLogger(logger.With(observability.String("component", "token"))),
		token.WithMetrics(token.NewMetrics(namespace, registry)),
	)
	if err != nil {
		return fmt.Errorf("building token authority: %w", err)
	}

	auditor := audit.NewLogger(
		audit.WithLogger(logger.With(observability.String("component", "audit"))),
		audit.WithMetrics(audit.NewMetricsWithRegisterer(namespace, registry)),
	)

	resolver := grant.NewResolver(backing,
		grant.WithLogger(logger.With(observability.String("component", "grant"))),
		grant.WithMetrics(grant.NewMetrics(namespace, registry)),
	)

	filter := access.NewFilter(
		access.WithAuditor(auditor),
		access.WithMetrics(access.NewMetrics(namespace, registry)),
	)

	limits := ratelimit.NewRegistry(
		ratelimit.WithMetrics(ratelimit.NewMetrics(namespace, registry)),
	)

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = registry
	}

	srv := server.New(server.Options{
		Config:    cfg.Server,
		Records:   backing,
		Pinger:    backing.Ping,
		Authority: authority,
		Resolver:  resolver,
		Filter:    filter,
		Auditor:   auditor,
		Limits:    limits,
		Logger:    logger.With(observability.String("component", "http")),
		Metrics:   server.NewMetrics(namespace, registry),
		Gatherer:  gatherer,
	})

	watcher, err := config.NewWatcher(configPath,
		func(updated *config.Config) {
			if err := logger.SetLevel(updated.Logging.Level); err != nil {
				logger.Warn("reloaded log level is invalid, keeping current level",
					observability.Error(err))
			}
			logger.Info("configuration reloaded, listener and store settings apply on restart",
				observability.String("level", updated.Logging.Level),
			)
		},
		config.WithWatcherLogger(logger.With(observability.String("component", "config"))),
	)
	if err != nil {
		return fmt.Errorf("building config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer func() { _ = watcher.Stop() }()

	if cfg.Janitor.Interval > 0 {
		go runJanitor(ctx, cfg.Janitor.Interval, backing, limits, logger)
	}

	return srv.Start(ctx)
}

// buildStore assembles the configured backends. Postgres always carries the
// principal records; Redis optionally takes over session and revocation
// state.
func buildStore(cfg *config.Config, logger observability.Logger) (store.Store, error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		logger.Warn("using the in-memory store, data is lost on restart")
		return memory.New(), nil
	}

	pg, err := postgres.Open(cfg.Store.DSN, postgres.Options{
		QueryTimeout: cfg.Store.QueryTimeout,
		Logger:       logger.With(observability.String("component", "postgres")),
	})
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Redis.Enabled {
		return pg, nil
	}

	rd, err := redisstore.New(redisstore.Options{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
		Logger:   logger.With(observability.String("component", "redis")),
	})
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	return &store.Composite{
		PrincipalStore:  pg,
		SessionStore:    rd,
		RevocationStore: rd,
		Pinger: func(ctx context.Context) error {
			if err := pg.Ping(ctx); err != nil {
				return err
			}
			return rd.Ping(ctx)
		},
		Closer: func() error {
			err := pg.Close()
			if rerr := rd.Close(); err == nil {
				err = rerr
			}
			return err
		},
	}, nil
}

// buildKeySource resolves signing key material from the configured source.
func buildKeySource(ctx context.Context, cfg *config.Config) (token.KeySource, error) {
	key := cfg.Token.Key
	switch key.Source {
	case config.KeySourceInline:
		return token.NewHMACKeySource([]byte(key.Secret))
	case config.KeySourceFile:
		return token.NewRSAKeySourceFromPEM(key.Path)
	case config.KeySourceVault:
		client, err := vaultapi.NewClient(&vaultapi.Config{Address: key.Vault.Addr})
		if err != nil {
			return nil, err
		}
		client.SetToken(key.Vault.Token)
		return token.NewVaultKeySource(ctx, client.KVv2(key.Vault.Mount), key.Path, key.Vault.Field)
	default:
		return nil, fmt.Errorf("unknown key source %q", key.Source)
	}
}

// runJanitor periodically prunes expired sessions, revocation entries, and
// idle rate limiter state.
func runJanitor(ctx context.Context, interval time.Duration, backing store.Store, limits *ratelimit.Registry, logger observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)

			sessions, err := backing.DeleteExpiredSessions(sweepCtx, now)
			if err != nil {
				logger.Warn("session sweep failed", observability.Error(err))
			}
			revocations, err := backing.PruneExpired(sweepCtx, now)
			if err != nil {
				logger.Warn("revocation sweep failed", observability.Error(err))
			}
			cancel()

			evicted := limits.Evict()
			if sessions > 0 || revocations > 0 || evicted > 0 {
				logger.Debug("janitor sweep completed",
					observability.Int64("sessions", sessions),
					observability.Int64("revocations", revocations),
					observability.Int("limiters", evicted),
				)
			}
		}
	}
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
