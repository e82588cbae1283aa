// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Source backends.
const (
	SourceMaps    = "maps"
	SourceFixture = "fixture"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Source     SourceConfig     `mapstructure:"source"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// SourceConfig configures where listings come from.
type SourceConfig struct {
	Backend           string        `mapstructure:"backend"`
	FixturePath       string        `mapstructure:"fixture_path"`
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	SearchBaseURL     string        `mapstructure:"search_base_url"`
	MaxTabs           int           `mapstructure:"max_tabs"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	DetailTimeout     time.Duration `mapstructure:"detail_timeout"`
	ScrollIterations  int           `mapstructure:"scroll_iterations"`
	ScrollDelay       time.Duration `mapstructure:"scroll_delay"`
	MaxResults        int           `mapstructure:"max_results"`
}

// ResolverConfig configures website email discovery.
type ResolverConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	MaxPages      int           `mapstructure:"max_pages"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	BlockedHosts  []string      `mapstructure:"blocked_hosts"`
	HostRPS       float64       `mapstructure:"host_rps"`
	HostBurst     int           `mapstructure:"host_burst"`
	VerifyMX      bool          `mapstructure:"verify_mx"`
	DNSServers    []string      `mapstructure:"dns_servers"`
	DNSTimeout    time.Duration `mapstructure:"dns_timeout"`
}

// EnrichmentConfig sizes the email worker pool.
type EnrichmentConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
}

// SchedulerConfig bounds background pipelines.
type SchedulerConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// AdmissionConfig throttles job submissions per client IP. RPS <= 0 disables it.
type AdmissionConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ArchiveConfig selects where terminal job documents are exported.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for lifecycle event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LogEnabled     bool          `mapstructure:"log_enabled"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from an optional file, a .env file and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	// PORT is the platform convention and wins over everything else.
	if raw := strings.TrimSpace(os.Getenv("PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", raw, err)
		}
		v.Set("server.port", port)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.backend", StoreFile)
	v.SetDefault("store.dir", "jobs")
	v.SetDefault("database.table", "jobs")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.ensure_schema", true)
	v.SetDefault("source.backend", SourceMaps)
	v.SetDefault("source.headless", true)
	v.SetDefault("source.max_tabs", 2)
	v.SetDefault("source.navigation_timeout", "60s")
	v.SetDefault("source.detail_timeout", "25s")
	v.SetDefault("source.scroll_iterations", 5)
	v.SetDefault("source.scroll_delay", "1.5s")
	v.SetDefault("resolver.max_pages", 6)
	v.SetDefault("resolver.page_timeout", "15s")
	v.SetDefault("resolver.respect_robots", false)
	v.SetDefault("resolver.host_burst", 1)
	v.SetDefault("resolver.dns_timeout", "3s")
	v.SetDefault("enrichment.workers", 20)
	v.SetDefault("enrichment.queue_depth", 5000)
	v.SetDefault("enrichment.resolve_timeout", "60s")
	v.SetDefault("scheduler.max_concurrent_jobs", 0)
	v.SetDefault("scheduler.poll_interval", "250ms")
	v.SetDefault("admission.rps", 0)
	v.SetDefault("admission.burst", 5)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "jobs")
	v.SetDefault("archive.local_dir", "archive")
	v.SetDefault("pubsub.topic", "scraper-events")
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait", "250ms")
	v.SetDefault("events.sink_timeout", "5s")
}

// Validate enforces required values and reasonable limits.
//
//nolint:gocyclo // flat list of independent checks
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Backend {
	case StoreFile:
		if strings.TrimSpace(c.Store.Dir) == "" {
			return fmt.Errorf("store.dir is required for the file backend")
		}
	case StoreMemory:
	case StorePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of file, memory, postgres", c.Store.Backend)
	}
	switch c.Source.Backend {
	case SourceMaps:
	case SourceFixture:
		if c.Source.FixturePath == "" {
			return fmt.Errorf("source.fixture_path is required for the fixture backend")
		}
	default:
		return fmt.Errorf("source.backend %q is not one of maps, fixture", c.Source.Backend)
	}
	if c.Source.MaxResults < 0 {
		return fmt.Errorf("source.max_results must be >= 0")
	}
	if c.Enrichment.Workers <= 0 {
		return fmt.Errorf("enrichment.workers must be > 0")
	}
	if c.Scheduler.MaxConcurrentJobs < 0 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be >= 0")
	}
	if c.Resolver.MaxPages <= 0 {
		return fmt.Errorf("resolver.max_pages must be > 0")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, local, gcs, memory", c.Archive.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be > 0 when events are enabled")
	}
	return nil
}
