package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CYPHERCAST_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CYPHERCAST_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "CYPHERCAST_STORAGE_BACKEND")
	setStr(&cfg.Storage.BadgerDir, "CYPHERCAST_STORAGE_BADGER_DIR")
	setBool(&cfg.Storage.BadgerInMemory, "CYPHERCAST_STORAGE_BADGER_IN_MEMORY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CYPHERCAST_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CYPHERCAST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CYPHERCAST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CYPHERCAST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CYPHERCAST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CYPHERCAST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CYPHERCAST_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CYPHERCAST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CYPHERCAST_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CYPHERCAST_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CYPHERCAST_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CYPHERCAST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CYPHERCAST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CYPHERCAST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CYPHERCAST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CYPHERCAST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CYPHERCAST_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "CYPHERCAST_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CYPHERCAST_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CYPHERCAST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CYPHERCAST_S3_REGION")
	setStr(&cfg.S3.Bucket, "CYPHERCAST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CYPHERCAST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CYPHERCAST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CYPHERCAST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CYPHERCAST_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "CYPHERCAST_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CYPHERCAST_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CYPHERCAST_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "CYPHERCAST_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Engine ──
	setDuration(&cfg.Engine.LockTTL, "CYPHERCAST_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.LockWait, "CYPHERCAST_ENGINE_LOCK_WAIT")
	setDuration(&cfg.Engine.EnvelopeMaxAge, "CYPHERCAST_ENGINE_ENVELOPE_MAX_AGE")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "CYPHERCAST_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "CYPHERCAST_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.AuditRetention, "CYPHERCAST_ARCHIVE_AUDIT_RETENTION")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CYPHERCAST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CYPHERCAST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CYPHERCAST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CYPHERCAST_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CYPHERCAST_MODE")
	setStr(&cfg.LogLevel, "CYPHERCAST_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
