// Package config loads and validates the service configuration described in
// spec §6 ("Recognized configuration options") plus the connection settings
// SPEC_FULL.md §A.3 adds for Postgres, Redis, storage backends, and the
// media tool paths.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds Postgres connection settings, independent of
// internal/database.Config so this package has no import-cycle risk with it.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// RedisConfig holds the remote cache/lock/rate-limit backing store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig selects and configures the pluggable storage backends.
type StorageConfig struct {
	DefaultBackend string `yaml:"default_backend"` // "local" or "s3"
	LocalBaseDir   string `yaml:"local_base_dir"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint,omitempty"`
}

// MediaConfig points at the external media tool and analysis assets.
type MediaConfig struct {
	FFmpegPath   string `yaml:"ffmpeg_path"`
	FFprobePath  string `yaml:"ffprobe_path"`
	VMAFModelDir string `yaml:"vmaf_model_dir"`
	// WhitelistPath, if set, hot-reloads the command builder's codec/filter
	// whitelist from this YAML file (see pkg/cmdbuilder.WatchFile). Empty
	// means the built-in whitelist never changes at runtime.
	WhitelistPath string `yaml:"whitelist_path,omitempty"`
}

// CacheTTLs carries the default TTL-by-category table from spec §4.A.
type CacheTTLs struct {
	JobStatus      int `yaml:"job_status"`
	JobList        int `yaml:"job_list"`
	APIKey         int `yaml:"api_key"`
	StorageConfig  int `yaml:"storage_config"`
	Analysis       int `yaml:"analysis"`
	RateLimit      int `yaml:"rate_limit"`
	Default        int `yaml:"default"`
}

// CacheConfig configures the two-tier cache.
type CacheConfig struct {
	DefaultTTLs     CacheTTLs `yaml:"default_ttls"`
	MaxFallbackSize int       `yaml:"max_fallback_size"`
}

// WebhookConfig configures the webhook delivery engine.
type WebhookConfig struct {
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Secret         string `yaml:"secret"`
	SlackOpsURL    string `yaml:"slack_ops_url,omitempty"`
}

// LoggingConfig selects the logging encoder and level.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TracingConfig configures distributed tracing across the HTTP Surface, Job
// Orchestrator, Worker Pipeline, and Webhook Engine. When Enabled is false
// (the default), every span is recorded against a no-op tracer provider and
// the OTLP exporter is never dialed.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	// SampleRatio is the fraction (0.0-1.0) of traces recorded when a span
	// has no sampled parent. 1.0 means "sample everything".
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Config is the root configuration object.
type Config struct {
	Debug             bool            `yaml:"debug"`
	Environment       string          `yaml:"environment"`
	RateLimitEnabled  bool            `yaml:"rate_limit_enabled"`
	RateLimitCalls    int64           `yaml:"rate_limit_calls"`
	RateLimitPeriod   int             `yaml:"rate_limit_period"`
	MaxBodySize       int64           `yaml:"max_body_size"`
	CORSOrigins       []string        `yaml:"cors_origins"`
	AllowedIPs        []string        `yaml:"allowed_ips"`
	JobRetentionDays  int             `yaml:"job_retention_days"`
	// WorkerPoolSize caps how many jobs a single process dispatches
	// concurrently, independent of any per-credential concurrency cap — it
	// bounds the host's own ffmpeg process count.
	WorkerPoolSize    int             `yaml:"worker_pool_size"`
	MetricsPort       int             `yaml:"metrics_port"`
	Server            ServerConfig    `yaml:"server"`
	Database          DatabaseConfig  `yaml:"database"`
	Redis             RedisConfig     `yaml:"redis"`
	Storage           StorageConfig   `yaml:"storage"`
	Media             MediaConfig     `yaml:"media"`
	Cache             CacheConfig     `yaml:"cache"`
	Webhook           WebhookConfig   `yaml:"webhook"`
	Logging           LoggingConfig   `yaml:"logging"`
	Tracing           TracingConfig   `yaml:"tracing"`
}

const defaultMaxBodySize = 100 * 1024 * 1024 // 100 MiB, spec §6

// Default returns a Config populated with the defaults named in spec §4 and §6.
func Default() *Config {
	return &Config{
		Debug:            false,
		Environment:      "development",
		RateLimitEnabled: true,
		RateLimitCalls:   100,
		RateLimitPeriod:  3600,
		MaxBodySize:      defaultMaxBodySize,
		CORSOrigins:      []string{},
		AllowedIPs:       []string{},
		JobRetentionDays: 30,
		WorkerPoolSize:   8,
		MetricsPort:      9090,
		Server:           ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "transcoder",
			Database: "transcoder", SSLMode: "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379", DB: 0},
		Storage: StorageConfig{
			DefaultBackend: "local",
			LocalBaseDir:   "/var/lib/transcoder/storage",
		},
		Media: MediaConfig{
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
			VMAFModelDir: "/usr/share/model",
		},
		Cache: CacheConfig{
			DefaultTTLs: CacheTTLs{
				JobStatus: 30, JobList: 60, APIKey: 300,
				StorageConfig: 3600, Analysis: 86400,
				RateLimit: 3600, Default: 300,
			},
			MaxFallbackSize: 1000,
		},
		Webhook: WebhookConfig{
			MaxRetries:     5,
			TimeoutSeconds: 30,
		},
		Logging: LoggingConfig{Level: "info", Development: false},
		Tracing: TracingConfig{Enabled: false, ServiceName: "transcoder", SampleRatio: 1.0},
	}
}

// Load reads a YAML file at path, applies environment overrides, validates
// the result, and returns it.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to read config file: " + err.Error())
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse config file: " + err.Error())
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromEnv applies TRANSCODER_-prefixed environment variable overrides.
// Invalid integer values are silently ignored, matching the teacher's
// database.LoadFromEnv tolerance for malformed overrides.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("TRANSCODER_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TRANSCODER_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("TRANSCODER_DEBUG"); v != "" {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TRANSCODER_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("SLACK_OPS_WEBHOOK_URL"); v != "" {
		cfg.Webhook.SlackOpsURL = v
	}
	if v := os.Getenv("TRANSCODER_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TRANSCODER_TRACING_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
	return nil
}

var validBackends = map[string]bool{"local": true, "s3": true}

// validate enforces the invariants required for the service to start.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return apperrors.NewConfigurationError("server port must be between 1 and 65535")
	}
	if cfg.Database.Host == "" {
		return apperrors.NewConfigurationError("database host is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		return apperrors.NewConfigurationError("database port must be between 1 and 65535")
	}
	if cfg.Database.User == "" {
		return apperrors.NewConfigurationError("database user is required")
	}
	if cfg.Database.Database == "" {
		return apperrors.NewConfigurationError("database name is required")
	}
	if !validBackends[cfg.Storage.DefaultBackend] {
		return apperrors.NewConfigurationError(fmt.Sprintf("unsupported storage backend %q", cfg.Storage.DefaultBackend))
	}
	if cfg.Storage.DefaultBackend == "s3" && cfg.Storage.S3Bucket == "" {
		return apperrors.NewConfigurationError("s3 bucket is required when default_backend is s3")
	}
	if cfg.Webhook.MaxRetries <= 0 {
		return apperrors.NewConfigurationError("webhook max retries must be greater than 0")
	}
	if cfg.Webhook.TimeoutSeconds <= 0 {
		return apperrors.NewConfigurationError("webhook timeout seconds must be greater than 0")
	}
	if cfg.Cache.MaxFallbackSize <= 0 {
		return apperrors.NewConfigurationError("cache max fallback size must be greater than 0")
	}
	if cfg.MaxBodySize <= 0 {
		return apperrors.NewConfigurationError("max body size must be greater than 0")
	}
	if cfg.WorkerPoolSize <= 0 {
		return apperrors.NewConfigurationError("worker pool size must be greater than 0")
	}
	return nil
}
