package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir mirrors testing.T.Chdir (added in Go 1.24) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir()) // no config file present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"binance", "bybit", "okx"}, cfg.Exchanges)
	assert.Equal(t, 0.0001, cfg.Engine.MinSpread)
	assert.Equal(t, 3.0, cfg.Engine.Leverage)
	assert.Equal(t, -0.0005, cfg.Stickiness.CloseThreshold)
	assert.Equal(t, 0.0002, cfg.BreakEven.AssumedBookSpread)
	assert.Equal(t, 30, cfg.Allocator.CooldownMinutes)

	interval, err := cfg.EngineInterval()
	require.NoError(t, err)
	assert.Equal(t, "5m0s", interval.String())
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
environment: production
engine:
  min_spread: 0.0002
  leverage: 5
exchanges:
  - binance
  - okx
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))
	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 0.0002, cfg.Engine.MinSpread)
	assert.Equal(t, 5.0, cfg.Engine.Leverage)
	assert.Equal(t, []string{"binance", "okx"}, cfg.Exchanges)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.0005, cfg.Costs.TakerFeeRate)
}

func TestEnvironmentOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ENGINE_MIN_SPREAD", "0.0003")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.0003, cfg.Engine.MinSpread)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Exchanges: []string{"binance", "bybit"},
			Engine: EngineConfig{
				Interval:             "5m",
				CycleTimeout:         "2m",
				MinSpread:            0.0001,
				Leverage:             3,
				MaxCollateralPerPair: 10000,
			},
			Stickiness: StickinessConfig{CloseThreshold: -0.0005},
			BreakEven:  BreakEvenConfig{ReliabilityThreshold: 0.6, AssumedBookSpread: 0.0002},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"single exchange", func(c *Config) { c.Exchanges = c.Exchanges[:1] }},
		{"zero leverage", func(c *Config) { c.Engine.Leverage = 0 }},
		{"negative min spread", func(c *Config) { c.Engine.MinSpread = -0.0001 }},
		{"positive close threshold", func(c *Config) { c.Stickiness.CloseThreshold = 0.0005 }},
		{"confidence above one", func(c *Config) { c.BreakEven.ReliabilityThreshold = 1.5 }},
		{"zero assumed book spread", func(c *Config) { c.BreakEven.AssumedBookSpread = 0 }},
		{"bad interval", func(c *Config) { c.Engine.Interval = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", DBName: "fundarb", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@db:5432/fundarb?sslmode=disable", db.ConnectionString())

	db.DatabaseURL = "postgres://override"
	assert.Equal(t, "postgres://override", db.ConnectionString())
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6379}
	assert.Equal(t, "cache:6379", r.RedisAddr())
}
