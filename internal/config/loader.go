package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MSP_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MSP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MSP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "MSP_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MSP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MSP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MSP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MSP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MSP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MSP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MSP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MSP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MSP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MSP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MSP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MSP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MSP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MSP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MSP_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.EventBacklog, "MSP_REDIS_EVENT_BACKLOG")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MSP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MSP_S3_REGION")
	setStr(&cfg.S3.Bucket, "MSP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MSP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MSP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MSP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MSP_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "MSP_KAFKA_BROKERS")
	setStr(&cfg.Kafka.ClientID, "MSP_KAFKA_CLIENT_ID")
	setStr(&cfg.Kafka.DecisionTopic, "MSP_KAFKA_DECISION_TOPIC")
	setStr(&cfg.Kafka.VerdictTopic, "MSP_KAFKA_VERDICT_TOPIC")
	setStr(&cfg.Kafka.CycleTopic, "MSP_KAFKA_CYCLE_TOPIC")

	// ── Risk ──
	setBool(&cfg.Risk.Enabled, "MSP_RISK_ENABLED")
	setFloat64(&cfg.Risk.RiskPerTrade, "MSP_RISK_RISK_PER_TRADE")
	setFloat64(&cfg.Risk.MaxPositionSize, "MSP_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxDailyR, "MSP_RISK_MAX_DAILY_R")
	setInt(&cfg.Risk.MaxTradesPerDay, "MSP_RISK_MAX_TRADES_PER_DAY")
	setDuration(&cfg.Risk.StaleAfter, "MSP_RISK_STALE_AFTER")
	setFloat64(&cfg.Risk.MaxDailyLossPct, "MSP_RISK_MAX_DAILY_LOSS_PCT")
	setFloat64(&cfg.Risk.MaxHeatPct, "MSP_RISK_MAX_HEAT_PCT")
	setInt(&cfg.Risk.MaxOpenTrades, "MSP_RISK_MAX_OPEN_TRADES")
	setFloat64(&cfg.Risk.MinRR, "MSP_RISK_MIN_RR")
	setBool(&cfg.Risk.RejectEstimatedInputs, "MSP_RISK_REJECT_ESTIMATED_INPUTS")

	// ── Exit ──
	setDuration(&cfg.Exit.MonitorInterval, "MSP_EXIT_MONITOR_INTERVAL")
	setDuration(&cfg.Exit.QuoteMaxAge, "MSP_EXIT_QUOTE_MAX_AGE")

	// ── Evolution ──
	setStringSlice(&cfg.Evolution.Groups, "MSP_EVOLUTION_GROUPS")
	setInt(&cfg.Evolution.Parallelism, "MSP_EVOLUTION_PARALLELISM")
	setDuration(&cfg.Evolution.GroupTimeout, "MSP_EVOLUTION_GROUP_TIMEOUT")
	setInt(&cfg.Evolution.MaxSamples, "MSP_EVOLUTION_MAX_SAMPLES")
	setStr(&cfg.Evolution.DailyCron, "MSP_EVOLUTION_DAILY_CRON")
	setStr(&cfg.Evolution.WeeklyCron, "MSP_EVOLUTION_WEEKLY_CRON")
	setStr(&cfg.Evolution.MonthlyCron, "MSP_EVOLUTION_MONTHLY_CRON")
	setDuration(&cfg.Evolution.ParamRefresh, "MSP_EVOLUTION_PARAM_REFRESH")

	// ── Session ──
	setStr(&cfg.Session.Timezone, "MSP_SESSION_TIMEZONE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "MSP_PIPELINE_ENABLED")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "MSP_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "MSP_PIPELINE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MSP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MSP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MSP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MSP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MSP_SERVER_RATE_LIMIT")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "MSP_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "MSP_METRICS_NAMESPACE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MSP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MSP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MSP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MSP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.AccountID, "MSP_ACCOUNT_ID")
	setStr(&cfg.Mode, "MSP_MODE")
	setStr(&cfg.LogLevel, "MSP_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
