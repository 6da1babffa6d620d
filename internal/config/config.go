// Package config provides configuration management for the sample-analysis
// orchestrator.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server           ServerConfig           `mapstructure:"server"`
	Database         DatabaseConfig         `mapstructure:"database"`
	Log              LogConfig              `mapstructure:"log"`
	River            RiverConfig            `mapstructure:"river"`
	Worker           WorkerConfig           `mapstructure:"worker"`
	ObjectStore      ObjectStoreConfig      `mapstructure:"object_store"`
	Pipeline         PipelineConfig         `mapstructure:"pipeline"`
	Poller           PollerConfig           `mapstructure:"poller"`
	Fetcher          FetcherConfig          `mapstructure:"fetcher"`
	Sweeper          SweeperConfig          `mapstructure:"sweeper"`
	DynamicSandbox   DynamicSandboxConfig   `mapstructure:"dynamic_sandbox"`
	FeatureExtractor FeatureExtractorConfig `mapstructure:"feature_extractor"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings shared by the
// store layer and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	// WorkerHost/WorkerPort optionally open a second pool at a separate
	// endpoint (e.g. a PgBouncer). When set, the task store runs on that
	// pool while River and the schema migration stay on the primary pool.
	// Empty means the store uses the primary pool too.
	WorkerHost string `mapstructure:"worker_host"`
	WorkerPort int    `mapstructure:"worker_port"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	BackendPoolSize int `mapstructure:"backend_pool_size"`
}

// ObjectStoreConfig configures the filesystem-backed object store (spec §1
// places the production object-store client out of core scope; this is the
// local-development/test stand-in's one setting).
type ObjectStoreConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// PipelineConfig mirrors internal/pipeline.Config (spec §4.4).
type PipelineConfig struct {
	SubmitIntervalMs int           `mapstructure:"submit_interval_ms"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	Multiplier       float64       `mapstructure:"multiplier"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	Jitter           bool          `mapstructure:"jitter"`
	TempDir          string        `mapstructure:"temp_dir"`
}

// PollerConfig mirrors internal/poller.Config (spec §4.5).
type PollerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	PerInstanceBatch int           `mapstructure:"per_instance_batch"`
}

// FetcherConfig mirrors internal/fetcher.Config (spec §4.6).
type FetcherConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	PerInstanceBatch int           `mapstructure:"per_instance_batch"`
}

// SweeperConfig mirrors internal/sweeper.Config (spec §4.7).
type SweeperConfig struct {
	BootDelay      time.Duration `mapstructure:"boot_delay"`
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`
	ResubmitGap    time.Duration `mapstructure:"resubmit_gap"`
}

// DynamicSandboxConfig holds a DynamicSandbox endpoint setting. Bootstrap
// does not read it and registers no instance from it; instances are
// registered via the API (spec §6 POST /api/<family>-instances).
type DynamicSandboxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// FeatureExtractorConfig is the FeatureExtractor analogue of
// DynamicSandboxConfig.
type FeatureExtractorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// Load reads configuration from file and environment variables.
// Standard environment variable names without prefix (DATABASE_URL,
// SERVER_PORT, LOG_LEVEL, ...); nested config maps database.max_conns ->
// DATABASE_MAX_CONNS.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/sampleforge")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Database.Host == "" && c.Database.URL == "" {
		return fmt.Errorf("database.host or database.url must be set")
	}
	if c.Sweeper.StuckThreshold < 120*time.Second {
		return fmt.Errorf("sweeper.stuck_threshold must be at least 120s")
	}
	if c.Sweeper.Interval < 60*time.Second {
		return fmt.Errorf("sweeper.interval must be at least 60s")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "sampleforge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "sampleforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.worker_host", "")
	v.SetDefault("database.worker_port", 5432)
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pool
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.backend_pool_size", 50)

	// Object store
	v.SetDefault("object_store.root_dir", "/var/lib/sampleforge/objects")

	// Pipeline (spec §4.4)
	v.SetDefault("pipeline.submit_interval_ms", 1000)
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.initial_backoff", "1s")
	v.SetDefault("pipeline.multiplier", 2.0)
	v.SetDefault("pipeline.max_backoff", "30s")
	v.SetDefault("pipeline.jitter", true)
	v.SetDefault("pipeline.temp_dir", "/tmp/sampleforge-submit")

	// Poller (spec §4.5)
	v.SetDefault("poller.interval", "30s")
	v.SetDefault("poller.per_instance_batch", 1000)

	// Fetcher (spec §4.6)
	v.SetDefault("fetcher.interval", "30s")
	v.SetDefault("fetcher.per_instance_batch", 1000)

	// Sweeper (spec §4.7)
	v.SetDefault("sweeper.boot_delay", "10s")
	v.SetDefault("sweeper.interval", "300s")
	v.SetDefault("sweeper.batch_size", 20)
	v.SetDefault("sweeper.stuck_threshold", "300s")
	v.SetDefault("sweeper.resubmit_gap", "100ms")

	// Backend families
	v.SetDefault("dynamic_sandbox.enabled", false)
	v.SetDefault("feature_extractor.enabled", false)
}
