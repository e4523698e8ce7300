package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Workflow
	WorkflowFile  string
	WorkspaceRoot string
	RepoURL       string
	RepoToken     string

	// Run history
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Queue
	RedisHost string
	RedisPort string

	// Coordination
	EtcdEndpoints     []string
	SchedulerInterval string
	LeaderElectionTTL int

	// Runner
	RunnerConcurrency int

	// API
	APIPort   string
	JWTSecret string

	// Blob storage for artifacts and run logs
	BlobBackend       string // local or s3
	BlobDir           string
	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Logging & tracing
	LogLevel     string
	LogEncoding  string
	OTelEnabled  bool
	OTelEndpoint string

	// Scraper
	ScrapeURL        string
	ScrapeRawBaseURL string
	ScrapeOutputDir  string
	ScrapeMonth      string // YYYY-MM; empty means the current UTC month
	ScrapeTimeout    time.Duration
}

func LoadConfig() *Config {
	return &Config{
		WorkflowFile:  getEnv("WORKFLOW_FILE", "workflows/scrape.yml"),
		WorkspaceRoot: getEnv("WORKSPACE_ROOT", os.TempDir()+"/sjscal"),
		RepoURL:       getEnv("REPO_URL", ""),
		RepoToken:     getEnv("REPO_TOKEN", os.Getenv("GITHUB_TOKEN")),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "sjscal"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "sjscal"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		EtcdEndpoints:     getEnvAsList("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		SchedulerInterval: getEnv("SCHEDULER_INTERVAL", "10s"),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		RunnerConcurrency: getEnvAsInt("RUNNER_CONCURRENCY", 0),

		APIPort:   getEnv("API_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		BlobBackend:       getEnv("BLOB_BACKEND", "local"),
		BlobDir:           getEnv("BLOB_DIR", "data/blobs"),
		S3Bucket:          getEnv("S3_BUCKET", "sjscal"),
		S3Prefix:          getEnv("S3_PREFIX", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogEncoding:  getEnv("LOG_ENCODING", "json"),
		OTelEnabled:  getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_ENDPOINT", "localhost:4318"),

		ScrapeURL:        getEnv("SCRAPE_URL", "https://jibe.sanjuansailing.com/a-vesseloverview.asp"),
		ScrapeRawBaseURL: getEnv("SCRAPE_RAW_BASE_URL", "https://raw.githubusercontent.com/sjs-calendar/ical/main/output"),
		ScrapeOutputDir:  getEnv("SCRAPE_OUTPUT_DIR", "output"),
		ScrapeMonth:      getEnv("SCRAPE_MONTH", ""),
		ScrapeTimeout:    getEnvAsDuration("SCRAPE_TIMEOUT", 30*time.Second),
	}
}

// SchedulerTick parses SchedulerInterval, defaulting to 10s.
func (c *Config) SchedulerTick() time.Duration {
	interval, _ := time.ParseDuration(c.SchedulerInterval)
	if interval <= 0 {
		return 10 * time.Second
	}
	return interval
}

func (c *Config) PostgresDSN() string {
	return "host=" + c.DBHost + " user=" + c.DBUser + " password=" + c.DBPassword +
		" dbname=" + c.DBName + " port=" + c.DBPort + " sslmode=disable TimeZone=UTC"
}

func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
