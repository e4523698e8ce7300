package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sjscal/pkg/api/middleware"
	"sjscal/pkg/auth"
	"sjscal/pkg/coordination"
	tracing "sjscal/pkg/observability"
	"sjscal/pkg/resilience"
	"sjscal/pkg/scheduler"
	"sjscal/pkg/storage"
)

// Server encapsulates the HTTP API server and its dependencies.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	validator  *middleware.Validator

	dispatcher  *scheduler.Dispatcher
	store       storage.RunStore
	blobs       storage.BlobStore
	coordinator coordination.Coordinator
	election    string
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Dispatcher  *scheduler.Dispatcher
	Store       storage.RunStore
	Blobs       storage.BlobStore
	Coordinator coordination.Coordinator
	// ElectionName is the scheduler campaign reported by /cluster/leader.
	ElectionName string
	Auth         middleware.AuthConfig
	RateLimit    middleware.RateLimiterConfig
	Logger       *zap.Logger
}

// NewServer creates a new API server with all dependencies.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}

	router := gin.New()

	// Middleware stack (order matters)
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.TracingMiddleware("sjscal-api"))
	router.Use(middleware.MetricsMiddleware())
	router.Use(requestLogger(cfg.Logger))
	router.Use(middleware.RateLimitMiddlewareWithConfig(cfg.RateLimit))
	router.Use(middleware.BodySizeLimitMiddleware(1 << 20))

	s := &Server{
		router:      router,
		logger:      cfg.Logger,
		validator:   middleware.NewValidator(middleware.DefaultValidatorConfig()),
		dispatcher:  cfg.Dispatcher,
		store:       cfg.Store,
		blobs:       cfg.Blobs,
		coordinator: cfg.Coordinator,
		election:    cfg.ElectionName,
	}

	s.registerRoutes(cfg.Auth)

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(authCfg middleware.AuthConfig) {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authEnabled := authCfg.Enabled()
	v1 := s.router.Group("/api/v1")
	if authEnabled {
		v1.Use(middleware.AuthMiddleware(authCfg))
	}
	read := middleware.RequireRole(auth.RoleViewer, authEnabled)
	{
		workflows := v1.Group("/workflows")
		{
			workflows.GET("", read, s.listWorkflows)
			workflows.POST("/:name/dispatches", middleware.RequireRole(auth.RoleOperator, authEnabled), s.dispatchWorkflow)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", read, s.listRuns)
			runs.GET("/:id", read, s.getRun)
			runs.GET("/:id/logs", read, s.getRunLog)
			runs.GET("/:id/artifacts/:name", read, s.getArtifact)
		}

		cluster := v1.Group("/cluster")
		{
			cluster.GET("/nodes", read, s.listNodes)
			cluster.GET("/leader", read, s.getLeader)
		}
	}
}

// requestLogger logs each request once it completes.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		}
		if id := tracing.TraceID(c.Request.Context()); id != "" {
			fields = append(fields, zap.String("trace_id", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.Info("HTTP request", fields...)
	}
}

// healthCheck reports which backends the server was wired with.
func (s *Server) healthCheck(c *gin.Context) {
	deps := map[string]bool{
		"run_store":   s.store != nil,
		"queue":       s.dispatcher != nil,
		"blob_store":  s.blobs != nil,
		"coordinator": s.coordinator != nil,
	}

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	body := gin.H{"dependencies": deps}
	if b, ok := s.blobs.(interface{ Breaker() *resilience.CircuitBreaker }); ok {
		snap := b.Breaker().Snapshot()
		body["circuits"] = []resilience.Snapshot{snap}
		if snap.State == resilience.CircuitOpen.String() {
			healthy = false
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	body["status"] = status
	body["timestamp"] = time.Now().UTC()
	c.JSON(httpStatus, body)
}

func (s *Server) fail(c *gin.Context, status int, msg string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg})
}
