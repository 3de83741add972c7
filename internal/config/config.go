package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Workflow     WorkflowConfig
	Classifier   ClassifierConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Output is a zap sink such as "stdout", "stderr" or a file path.
	Output string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// WorkflowConfig tunes the workflow engine.
type WorkflowConfig struct {
	Retries            int
	InitialBackoffMs   int
	MaxBackoffMs       int
	MaxConcurrentRuns  int
	SweepSchedule      string
	SweepBatchSize     int
	StaleAfterSeconds  int
	RunRetentionHours  int
	RunLeaseSeconds    int
	ShutdownTimeoutSec int
}

// ClassifierConfig configures the OpenAI-compatible classifier. An empty
// APIKey disables classification.
type ClassifierConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// NotificationConfig holds outbound mail settings. Without SMTPHost mail is
// only logged.
type NotificationConfig struct {
	EmailFrom    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	retries := getEnvAsInt("WORKFLOW_RETRIES", 2)
	if retries < 0 {
		return nil, fmt.Errorf("invalid WORKFLOW_RETRIES: %d", retries)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-triage"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Workflow: WorkflowConfig{
			Retries:            retries,
			InitialBackoffMs:   getEnvAsInt("WORKFLOW_INITIAL_BACKOFF_MS", 1000),
			MaxBackoffMs:       getEnvAsInt("WORKFLOW_MAX_BACKOFF_MS", 30000),
			MaxConcurrentRuns:  getEnvAsInt("WORKFLOW_MAX_CONCURRENT_RUNS", 16),
			SweepSchedule:      getEnv("WORKFLOW_SWEEP_SCHEDULE", "@every 1m"),
			SweepBatchSize:     getEnvAsInt("WORKFLOW_SWEEP_BATCH_SIZE", 100),
			StaleAfterSeconds:  getEnvAsInt("WORKFLOW_STALE_AFTER_SECONDS", 120),
			RunRetentionHours:  getEnvAsInt("WORKFLOW_RUN_RETENTION_HOURS", 168),
			RunLeaseSeconds:    getEnvAsInt("WORKFLOW_RUN_LEASE_SECONDS", 30),
			ShutdownTimeoutSec: getEnvAsInt("WORKFLOW_SHUTDOWN_TIMEOUT_SECONDS", 15),
		},
		Classifier: ClassifierConfig{
			APIKey:         os.Getenv("CLASSIFIER_API_KEY"),
			BaseURL:        getEnv("CLASSIFIER_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
			TimeoutSeconds: getEnvAsInt("CLASSIFIER_TIMEOUT_SECONDS", 30),
		},
		Notification: NotificationConfig{
			EmailFrom:    getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			SMTPHost:     os.Getenv("SMTP_HOST"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: os.Getenv("SMTP_USERNAME"),
			SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the lifetime of issued bearer tokens.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// InitialBackoff returns the delay before the first retry.
func (w WorkflowConfig) InitialBackoff() time.Duration {
	return time.Duration(w.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff caps the retry delay.
func (w WorkflowConfig) MaxBackoff() time.Duration {
	return time.Duration(w.MaxBackoffMs) * time.Millisecond
}

// StaleAfter is how long a running run may go without progress before the
// sweeper resumes it.
func (w WorkflowConfig) StaleAfter() time.Duration {
	return time.Duration(w.StaleAfterSeconds) * time.Second
}

// RunRetention is how long finished runs are kept.
func (w WorkflowConfig) RunRetention() time.Duration {
	return time.Duration(w.RunRetentionHours) * time.Hour
}

// RunLease is how long a run stays claimed by an engine that stopped renewing it.
func (w WorkflowConfig) RunLease() time.Duration {
	return time.Duration(w.RunLeaseSeconds) * time.Second
}

// ShutdownTimeout bounds the wait for in-flight runs on shutdown.
func (w WorkflowConfig) ShutdownTimeout() time.Duration {
	return time.Duration(w.ShutdownTimeoutSec) * time.Second
}

// Timeout returns the classifier request timeout.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
