package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Evolution.MaxSamples)
	assert.Equal(t, domain.DefaultAdaptivePolicy(), cfg.Exit.Policy)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Redis.Addr = ""
	cfg.Risk.RiskPerTrade = 2
	cfg.Exit.Policy.TrailAtR = 10
	cfg.Evolution.WeeklyCron = "0 22 *"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed")
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "redis: addr must not be empty")
	assert.Contains(t, msg, "risk: risk_per_trade must be in (0, 1]")
	assert.Contains(t, msg, "exit: policy:")
	assert.Contains(t, msg, "evolution.weekly_cron must have 5 fields")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "riskd.toml")
	body := `
mode = "serve"
account_id = "acct-7"

[risk]
max_open_trades = 3
stale_after = "45s"

[risk.confidence_floors]
TREND_UP = 50.0

[exit.policy]
close_at_r = 4.0

[evolution]
groups = ["us-megacap", "crypto-majors"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("MSP_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MSP_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MSP_EXIT_MONITOR_INTERVAL", "10s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "acct-7", cfg.AccountID)
	assert.Equal(t, 3, cfg.Risk.MaxOpenTrades)
	assert.Equal(t, 45*time.Second, cfg.Risk.StaleAfter.Duration)
	assert.Equal(t, 50.0, cfg.Risk.ConfidenceFloors[domain.RegimeTrendUp])
	assert.Equal(t, 4.0, cfg.Exit.Policy.CloseAtR)
	assert.Equal(t, 1.5, cfg.Exit.Policy.TrailAtR)
	assert.Equal(t, []string{"us-megacap", "crypto-majors"}, cfg.Evolution.Groups)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Exit.MonitorInterval.Duration)
	assert.Len(t, cfg.Evolution.Calibration.Windows, 3)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.ErrorContains(t, err, "config: decode")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "k"
	cfg.Notify.TelegramToken = "tok"
	cfg.Kafka.Brokers = []string{"k1:9092"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Postgres.DSN)

	out.Kafka.Brokers[0] = "mutated"
	assert.Equal(t, "k1:9092", cfg.Kafka.Brokers[0])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
