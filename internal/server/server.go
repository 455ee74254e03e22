package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authcore-io/authcore/internal/access"
	"github.com/authcore-io/authcore/internal/audit"
	"github.com/authcore-io/authcore/internal/config"
	"github.com/authcore-io/authcore/internal/grant"
	"github.com/authcore-io/authcore/internal/observability"
	"github.com/authcore-io/authcore/internal/ratelimit"
	"github.com/authcore-io/authcore/internal/store"
	"github.com/authcore-io/authcore/internal/token"
)

// ginModeOnce ensures gin.SetMode is only called once.
var ginModeOnce sync.Once

// Options wires the core subsystems into the HTTP surface.
type Options struct {
	// Config is the server section of the service configuration.
	Config config.ServerConfig

	// Records is the principal record store.
	Records store.PrincipalStore

	// Pinger reports store health for the readiness probe. Optional.
	Pinger func(ctx context.Context) error

	// Authority issues and verifies tokens.
	Authority token.Authority

	// Resolver computes effective grants.
	Resolver grant.Resolver

	// Filter makes access decisions.
	Filter access.Filter

	// Auditor records authentication events. Optional.
	Auditor audit.Logger

	// Limits enforces per-principal rate ceilings. Optional.
	Limits *ratelimit.Registry

	// Logger is the structured logger. Defaults to a nop logger.
	Logger observability.Logger

	// Metrics holds the HTTP metrics. Optional.
	Metrics *Metrics

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front of the authorization core.
type Server struct {
	opts       Options
	engine     *gin.Engine
	httpServer *http.Server
	logger     observability.Logger
}

// New creates the server and registers all routes.
func New(opts Options) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	engine := gin.New()
	engine.Use(
		requestID(),
		recovery(opts.Logger),
		requestLog(opts.Logger),
		httpMetrics(opts.Metrics),
		requestTimeout(opts.Config.RequestTimeout),
	)

	s := &Server{
		opts:   opts,
		engine: engine,
		logger: opts.Logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)
	if s.opts.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	s.engine.POST("/login", s.handleLogin)
	s.engine.GET("/validate", s.handleValidate)
	s.engine.POST("/refresh", s.handleRefresh)
	s.engine.POST("/logout", s.handleLogout)

	permissions := s.engine.Group("/permissions", s.requireAccessToken())
	permissions.GET("/:principalId", s.handlePermissions)
	permissions.GET("/check/:principalId/:service/:operation", s.handlePermissionCheck)
}

// Handler returns the underlying handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the listener until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.opts.Config.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.opts.Config.ReadTimeout,
		WriteTimeout: s.opts.Config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			observability.String("addr", s.opts.Config.Addr),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := s.opts.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	if s.opts.Pinger != nil {
		if err := s.opts.Pinger(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"reason": reason})
}

func forbidden(c *gin.Context, reason string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"reason": reason})
}
