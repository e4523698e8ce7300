// Package bootstrap builds the collaborators shared by the sjscal binaries
// from the environment configuration.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	config "sjscal/configs"
	"sjscal/pkg/api/middleware"
	"sjscal/pkg/auth"
	"sjscal/pkg/logger"
	tracing "sjscal/pkg/observability"
	"sjscal/pkg/scraper"
	"sjscal/pkg/storage"
	"sjscal/pkg/workflow"
)

// Logger initializes the global logger for service. A broken configuration
// falls back to a development logger rather than running blind.
func Logger(cfg *config.Config, service string) *zap.Logger {
	l, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    service,
	})
	if err != nil {
		l, _ = zap.NewDevelopment()
		l.Warn("Falling back to development logger", zap.Error(err))
	}
	return l
}

// Tracing installs the OTLP exporter when OTEL_ENABLED is set.
func Tracing(ctx context.Context, cfg *config.Config, service string) (*tracing.Provider, error) {
	tc := tracing.DefaultConfig(service)
	tc.Enabled = cfg.OTelEnabled
	tc.Endpoint = cfg.OTelEndpoint
	return tracing.Init(ctx, tc)
}

// Blobs opens the artifact and log store selected by BLOB_BACKEND.
func Blobs(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case "", "local":
		return storage.NewLocalBlobStore(cfg.BlobDir)
	case "s3":
		return storage.NewS3BlobStore(ctx, storage.S3BlobStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// Engine returns a workflow engine wired to blobs. stream may be nil.
func Engine(cfg *config.Config, blobs storage.BlobStore, log *zap.Logger, stream io.Writer) *workflow.Engine {
	return workflow.NewEngine(workflow.EngineConfig{
		WorkspaceRoot: cfg.WorkspaceRoot,
		Blobs:         blobs,
		Logger:        log,
		Stream:        stream,
		RepoURL:       cfg.RepoURL,
		RepoToken:     cfg.RepoToken,
	})
}

// Workflows loads the configured definition, or the built-in one when the
// file is absent, and checks its actions against engine.
func Workflows(cfg *config.Config, engine *workflow.Engine) ([]*workflow.Definition, error) {
	def, err := workflow.LoadOrDefault(cfg.WorkflowFile)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(engine.KnownActions()); err != nil {
		return nil, fmt.Errorf("%s: %w", def.Name, err)
	}
	return []*workflow.Definition{def}, nil
}

// Auth enables JWT authentication when JWT_SECRET is set. API keys are
// checked against Redis when a client is given.
func Auth(cfg *config.Config, client *redis.Client) (middleware.AuthConfig, error) {
	if cfg.JWTSecret == "" {
		return middleware.AuthConfig{}, nil
	}
	jwtService, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
	if err != nil {
		return middleware.AuthConfig{}, err
	}
	authCfg := middleware.AuthConfig{
		JWTService: jwtService,
		SkipPaths:  []string{"/health", "/metrics"},
	}
	if client != nil {
		authCfg.APIKeyStore = auth.NewRedisAPIKeyStore(client)
	}
	return authCfg, nil
}

// Scraper builds a scraper from the SCRAPE_* settings.
func Scraper(cfg *config.Config, log *zap.Logger, now time.Time) (*scraper.Scraper, error) {
	month, err := scraper.ParseMonth(cfg.ScrapeMonth, now)
	if err != nil {
		return nil, err
	}
	return scraper.New(scraper.Config{
		URL:        cfg.ScrapeURL,
		RawBaseURL: cfg.ScrapeRawBaseURL,
		OutputDir:  cfg.ScrapeOutputDir,
		Month:      month,
		Timeout:    cfg.ScrapeTimeout,
		Logger:     log,
	}), nil
}

// NodeID names this process in the cluster as <role>-<hostname>-<random>.
func NodeID(role string) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	return role + "-" + hostname + "-" + uuid.NewString()[:8]
}
