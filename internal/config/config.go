// Package config defines the top-level configuration for the CypherCast
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/cyphercast/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CYPHERCAST_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Genesis  []Allocation   `toml:"genesis"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	// Backend is one of memory, badger or postgres.
	Backend        string `toml:"backend"`
	BadgerDir      string `toml:"badger_dir"`
	BadgerInMemory bool   `toml:"badger_in_memory"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks,
// pub/sub, rate limiting and caching stay in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// EngineConfig tunes the command path in front of the engine.
type EngineConfig struct {
	// LockTTL bounds how long a per-stream lock survives a crashed holder.
	LockTTL duration `toml:"lock_ttl"`
	// LockWait is how long a command waits for a busy stream.
	LockWait duration `toml:"lock_wait"`
	// EnvelopeMaxAge rejects envelopes expiring further out than this.
	EnvelopeMaxAge duration `toml:"envelope_max_age"`
}

// ArchiveConfig controls export of settled streams to S3.
type ArchiveConfig struct {
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
	// AuditRetention prunes audit rows older than this. Zero keeps them.
	AuditRetention duration `toml:"audit_retention"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Allocation seeds a token account at startup.
type Allocation struct {
	Owner  string `toml:"owner"`
	Mint   string `toml:"mint"`
	Amount uint64 `toml:"amount"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Storage: StorageConfig{
			Backend:   "badger",
			BadgerDir: "data/badger",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "cyphercast",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cyphercast-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:               8080,
			RateLimitPerMinute: 600,
		},
		Engine: EngineConfig{
			LockTTL:        duration{10 * time.Second},
			LockWait:       duration{2 * time.Second},
			EnvelopeMaxAge: duration{10 * time.Minute},
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			Retention: duration{7 * 24 * time.Hour},
		},
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"badger":   true,
	"postgres": true,
}

// Validate checks the configuration for missing or invalid values. It collects
// every problem and returns them as a single error.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, badger, postgres)", c.Storage.Backend))
	}
	if strings.EqualFold(c.Storage.Backend, "badger") && !c.Storage.BadgerInMemory && c.Storage.BadgerDir == "" {
		errs = append(errs, "storage: badger_dir must be set unless badger_in_memory is true")
	}

	// Postgres
	if strings.EqualFold(c.Storage.Backend, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Mode == "archive" && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for archive mode")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server: rate_limit_per_minute must be >= 0")
	}

	// Engine
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be > 0")
	}
	if c.Engine.LockWait.Duration < 0 {
		errs = append(errs, "engine: lock_wait must be >= 0")
	}
	if c.Engine.EnvelopeMaxAge.Duration <= 0 {
		errs = append(errs, "engine: envelope_max_age must be > 0")
	}

	// Archive
	if c.S3.Enabled {
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration < 0 {
			errs = append(errs, "archive: retention must be >= 0")
		}
	}

	// Genesis
	for i, a := range c.Genesis {
		if _, err := domain.ParseAddress(a.Owner); err != nil {
			errs = append(errs, fmt.Sprintf("genesis[%d]: owner: %v", i, err))
		}
		if _, err := domain.ParseAddress(a.Mint); err != nil {
			errs = append(errs, fmt.Sprintf("genesis[%d]: mint: %v", i, err))
		}
		if a.Amount == 0 {
			errs = append(errs, fmt.Sprintf("genesis[%d]: amount must be > 0", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
