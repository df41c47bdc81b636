// Package config defines the top-level configuration for the risk daemon and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/evolution"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MSP_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Risk      RiskConfig      `toml:"risk"`
	Exit      ExitConfig      `toml:"exit"`
	Evolution EvolutionConfig `toml:"evolution"`
	Session   SessionConfig   `toml:"session"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Server    ServerConfig    `toml:"server"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Notify    NotifyConfig    `toml:"notify"`
	AccountID string          `toml:"account_id"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// EventBacklog is how many events per bus channel are kept for
	// WebSocket clients that connect late.
	EventBacklog int `toml:"event_backlog"`
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds the event publisher settings. Publishing is skipped when
// no brokers are configured.
type KafkaConfig struct {
	Brokers       []string `toml:"brokers"`
	ClientID      string   `toml:"client_id"`
	DecisionTopic string   `toml:"decision_topic"`
	VerdictTopic  string   `toml:"verdict_topic"`
	CycleTopic    string   `toml:"cycle_topic"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// RiskConfig holds the snapshot, governor and exit-plan thresholds.
type RiskConfig struct {
	Enabled                 bool                          `toml:"enabled"`
	RiskPerTrade            float64                       `toml:"risk_per_trade"`
	MaxPositionSize         float64                       `toml:"max_position_size"`
	MaxDailyR               float64                       `toml:"max_daily_r"`
	MaxTradesPerDay         int                           `toml:"max_trades_per_day"`
	StaleAfter              duration                      `toml:"stale_after"`
	ConsecutiveLossThrottle int                           `toml:"consecutive_loss_throttle"`
	DailyLossThrottleR      float64                       `toml:"daily_loss_throttle_r"`
	ThrottleFactor          float64                       `toml:"throttle_factor"`
	MaxDailyLossPct         float64                       `toml:"max_daily_loss_pct"`
	MaxHeatPct              float64                       `toml:"max_heat_pct"`
	MaxOpenTrades           int                           `toml:"max_open_trades"`
	CorrelationThreshold    float64                       `toml:"correlation_threshold"`
	MinRR                   float64                       `toml:"min_rr"`
	RejectEstimatedInputs   bool                          `toml:"reject_estimated_inputs"`
	ConfidenceFloors        map[domain.Regime]float64     `toml:"confidence_floors"`
	StopMultipliers         map[domain.Regime]float64     `toml:"stop_multipliers"`
	LeverageCaps            map[domain.AssetClass]float64 `toml:"leverage_caps"`
	CorrelationGroups       map[string]string             `toml:"correlation_groups"`
	SnapshotTTL             duration                      `toml:"snapshot_ttl"`
}

// ExitConfig holds the exit monitor settings and the default adaptive policy
// used until a group has been calibrated.
type ExitConfig struct {
	MonitorInterval duration              `toml:"monitor_interval"`
	QuoteMaxAge     duration              `toml:"quote_max_age"`
	Policy          domain.AdaptivePolicy `toml:"policy"`
}

// EvolutionConfig holds the calibration runner settings.
type EvolutionConfig struct {
	Groups       []string         `toml:"groups"`
	Parallelism  int              `toml:"parallelism"`
	GroupTimeout duration         `toml:"group_timeout"`
	MaxSamples   int              `toml:"max_samples"`
	PageSize     int              `toml:"page_size"`
	LockTTL      duration         `toml:"lock_ttl"`
	DailyCron    string           `toml:"daily_cron"`
	WeeklyCron   string           `toml:"weekly_cron"`
	MonthlyCron  string           `toml:"monthly_cron"`
	Calibration  evolution.Config `toml:"calibration"`
	// ParamRefresh is how often processes pull parameter sets published by
	// other processes from Redis. Zero disables the pull.
	ParamRefresh duration `toml:"param_refresh"`
}

// SessionConfig selects the exchange clock.
type SessionConfig struct {
	Timezone string `toml:"timezone"`
}

// PipelineConfig holds the archive job parameters. Exit verdicts older than
// ArchiveRetentionDays move to object storage.
type PipelineConfig struct {
	Enabled              bool   `toml:"enabled"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveCron          string `toml:"archive_cron"`
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
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
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
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			EventBacklog: 500,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "msp-risk-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			ClientID:      "riskd",
			DecisionTopic: "risk.decisions",
			VerdictTopic:  "risk.exit-verdicts",
			CycleTopic:    "risk.evolution-cycles",
		},
		Risk: RiskConfig{
			Enabled:                 true,
			RiskPerTrade:            0.01,
			MaxPositionSize:         0.25,
			MaxDailyR:               3.0,
			MaxTradesPerDay:         10,
			StaleAfter:              duration{2 * time.Minute},
			ConsecutiveLossThrottle: 3,
			DailyLossThrottleR:      2.0,
			ThrottleFactor:          0.5,
			MaxDailyLossPct:         0.03,
			MaxHeatPct:              0.06,
			MaxOpenTrades:           5,
			CorrelationThreshold:    2.0,
			MinRR:                   1.0,
			SnapshotTTL:             duration{30 * time.Second},
		},
		Exit: ExitConfig{
			MonitorInterval: duration{30 * time.Second},
			QuoteMaxAge:     duration{2 * time.Minute},
			Policy:          domain.DefaultAdaptivePolicy(),
		},
		Evolution: EvolutionConfig{
			Parallelism:  4,
			GroupTimeout: duration{2 * time.Minute},
			MaxSamples:   1000,
			PageSize:     250,
			LockTTL:      duration{5 * time.Minute},
			DailyCron:    "15 21 * * 1-5",
			WeeklyCron:   "0 22 * * 5",
			MonthlyCron:  "0 23 1 * *",
			Calibration:  evolution.DefaultConfig(),
			ParamRefresh: duration{30 * time.Second},
		},
		Session: SessionConfig{
			Timezone: "America/New_York",
		},
		Pipeline: PipelineConfig{
			Enabled:              false,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "msp_risk",
		},
		Notify: NotifyConfig{
			Events: []string{"snapshot_locked", "exit_close", "evolution_cycle", "error"},
		},
		AccountID: "default",
		Mode:      "full",
		LogLevel:  "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"evolve":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, evolve, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.TrimSpace(c.AccountID) == "" {
		errs = append(errs, "account_id must not be empty")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is optional; an endpoint is required once a bucket is named.
	if c.S3.Bucket != "" && c.S3.Endpoint == "" && c.S3.Region == "" {
		errs = append(errs, "s3: endpoint or region must be set when bucket is set")
	}

	// Kafka
	if c.Kafka.Enabled() {
		if c.Kafka.DecisionTopic == "" || c.Kafka.VerdictTopic == "" || c.Kafka.CycleTopic == "" {
			errs = append(errs, "kafka: decision_topic, verdict_topic and cycle_topic must be set when brokers are configured")
		}
	}

	errs = append(errs, c.Risk.validate()...)

	// Exit
	if c.Exit.MonitorInterval.Duration <= 0 {
		errs = append(errs, "exit: monitor_interval must be > 0")
	}
	if c.Exit.QuoteMaxAge.Duration <= 0 {
		errs = append(errs, "exit: quote_max_age must be > 0")
	}
	if err := c.Exit.Policy.Validate(); err != nil {
		errs = append(errs, "exit: policy: "+err.Error())
	}

	// Evolution
	if c.Evolution.Parallelism < 1 {
		errs = append(errs, "evolution: parallelism must be >= 1")
	}
	if c.Evolution.GroupTimeout.Duration <= 0 {
		errs = append(errs, "evolution: group_timeout must be > 0")
	}
	if c.Evolution.ParamRefresh.Duration < 0 {
		errs = append(errs, "evolution: param_refresh must be >= 0")
	}
	if c.Evolution.MaxSamples < 1 || c.Evolution.PageSize < 1 {
		errs = append(errs, "evolution: max_samples and page_size must be >= 1")
	}
	if err := c.Evolution.Calibration.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	crons := [][2]string{
		{"evolution.daily_cron", c.Evolution.DailyCron},
		{"evolution.weekly_cron", c.Evolution.WeeklyCron},
		{"evolution.monthly_cron", c.Evolution.MonthlyCron},
		{"pipeline.archive_cron", c.Pipeline.ArchiveCron},
	}
	for _, cr := range crons {
		if cr[1] != "" && len(strings.Fields(cr[1])) != 5 {
			errs = append(errs, fmt.Sprintf("%s must have 5 fields, got %q", cr[0], cr[1]))
		}
	}

	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("session: timezone %q: %v", c.Session.Timezone, err))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r RiskConfig) validate() []string {
	var errs []string
	frac := func(name string, v float64) {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("risk: %s must be in (0, 1], got %v", name, v))
		}
	}
	frac("risk_per_trade", r.RiskPerTrade)
	frac("max_position_size", r.MaxPositionSize)
	frac("max_daily_loss_pct", r.MaxDailyLossPct)
	frac("max_heat_pct", r.MaxHeatPct)
	frac("throttle_factor", r.ThrottleFactor)
	if r.MaxDailyR <= 0 {
		errs = append(errs, "risk: max_daily_r must be > 0")
	}
	if r.MaxTradesPerDay < 1 || r.MaxOpenTrades < 1 {
		errs = append(errs, "risk: max_trades_per_day and max_open_trades must be >= 1")
	}
	if r.StaleAfter.Duration <= 0 {
		errs = append(errs, "risk: stale_after must be > 0")
	}
	if r.MinRR <= 0 {
		errs = append(errs, "risk: min_rr must be > 0")
	}
	if r.CorrelationThreshold <= 0 {
		errs = append(errs, "risk: correlation_threshold must be > 0")
	}
	return errs
}
