package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
	Exchanges   []string         `mapstructure:"exchanges"`
	Engine      EngineConfig     `mapstructure:"engine"`
	Discovery   DiscoveryConfig  `mapstructure:"discovery"`
	Costs       CostsConfig      `mapstructure:"costs"`
	BreakEven   BreakEvenConfig  `mapstructure:"break_even"`
	Stickiness  StickinessConfig `mapstructure:"stickiness"`
	Allocator   AllocatorConfig  `mapstructure:"allocator"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	DatabaseURL string `mapstructure:"database_url"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type EngineConfig struct {
	Interval             string  `mapstructure:"interval"`
	CycleTimeout         string  `mapstructure:"cycle_timeout"`
	MinSpread            float64 `mapstructure:"min_spread"`
	Leverage             float64 `mapstructure:"leverage"`
	MaxCollateralPerPair float64 `mapstructure:"max_collateral_per_pair"`
	MaxTotalCapital      float64 `mapstructure:"max_total_capital"`
}

type DiscoveryConfig struct {
	AllowedAssets []string `mapstructure:"allowed_assets"`
	BatchSize     int      `mapstructure:"batch_size"`
	BatchDelay    string   `mapstructure:"batch_delay"`
	QueryTimeout  string   `mapstructure:"query_timeout"`
	MinExchanges  int      `mapstructure:"min_exchanges"`
}

type CostsConfig struct {
	MakerFeeRate float64 `mapstructure:"maker_fee_rate"`
	TakerFeeRate float64 `mapstructure:"taker_fee_rate"`
}

type BreakEvenConfig struct {
	MaxBreakEvenDays     float64 `mapstructure:"max_break_even_days"`
	ReliabilityThreshold float64 `mapstructure:"reliability_threshold"`
	MinMeaningfulSpread  float64 `mapstructure:"min_meaningful_spread"`
	AssumedBookSpread    float64 `mapstructure:"assumed_book_spread"`
}

type StickinessConfig struct {
	CloseThreshold      float64 `mapstructure:"close_threshold"`
	MinHoldHours        float64 `mapstructure:"min_hold_hours"`
	ChurnCostMultiplier float64 `mapstructure:"churn_cost_multiplier"`
}

type AllocatorConfig struct {
	MinPositionSize float64 `mapstructure:"min_position_size"`
	CooldownMinutes int     `mapstructure:"cooldown_minutes"`
}

// Load reads config.yaml (./configs or .), applies defaults, and overlays
// environment variables (ENGINE_MIN_SPREAD overrides engine.min_spread).
// A missing config file is fine; missing required values are not.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN: %w", err)
	}
	if err := v.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fundarb")
	v.SetDefault("database.dbname", "fundarb")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("exchanges", []string{"binance", "bybit", "okx"})

	v.SetDefault("engine.interval", "5m")
	v.SetDefault("engine.cycle_timeout", "2m")
	v.SetDefault("engine.min_spread", 0.0001)
	v.SetDefault("engine.leverage", 3.0)
	v.SetDefault("engine.max_collateral_per_pair", 10000.0)
	v.SetDefault("engine.max_total_capital", 0.0)

	v.SetDefault("discovery.batch_size", 5)
	v.SetDefault("discovery.batch_delay", "1s")
	v.SetDefault("discovery.query_timeout", "10s")
	v.SetDefault("discovery.min_exchanges", 2)

	v.SetDefault("costs.maker_fee_rate", 0.0002)
	v.SetDefault("costs.taker_fee_rate", 0.0005)

	v.SetDefault("break_even.max_break_even_days", 7.0)
	v.SetDefault("break_even.reliability_threshold", 0.6)
	v.SetDefault("break_even.min_meaningful_spread", 0.0001)
	v.SetDefault("break_even.assumed_book_spread", 0.0002)

	v.SetDefault("stickiness.close_threshold", -0.0005)
	v.SetDefault("stickiness.min_hold_hours", 4.0)
	v.SetDefault("stickiness.churn_cost_multiplier", 2.0)

	v.SetDefault("allocator.min_position_size", 1000.0)
	v.SetDefault("allocator.cooldown_minutes", 30)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Exchanges) < 2 {
		return fmt.Errorf("at least two exchanges are required, got %d", len(c.Exchanges))
	}
	if c.Engine.Leverage <= 0 {
		return fmt.Errorf("engine.leverage must be positive, got %v", c.Engine.Leverage)
	}
	if c.Engine.MaxCollateralPerPair <= 0 {
		return fmt.Errorf("engine.max_collateral_per_pair must be positive, got %v", c.Engine.MaxCollateralPerPair)
	}
	if c.Engine.MinSpread < 0 {
		return fmt.Errorf("engine.min_spread must not be negative, got %v", c.Engine.MinSpread)
	}
	if c.Stickiness.CloseThreshold >= 0 {
		return fmt.Errorf("stickiness.close_threshold must be negative, got %v", c.Stickiness.CloseThreshold)
	}
	if c.BreakEven.ReliabilityThreshold < 0 || c.BreakEven.ReliabilityThreshold > 1 {
		return fmt.Errorf("break_even.reliability_threshold must be in [0,1], got %v", c.BreakEven.ReliabilityThreshold)
	}
	if c.BreakEven.AssumedBookSpread <= 0 {
		return fmt.Errorf("break_even.assumed_book_spread must be positive, got %v", c.BreakEven.AssumedBookSpread)
	}
	if _, err := c.EngineInterval(); err != nil {
		return err
	}
	if _, err := c.CycleTimeout(); err != nil {
		return err
	}
	return nil
}

// EngineInterval parses the cycle interval.
func (c *Config) EngineInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.interval %q: %w", c.Engine.Interval, err)
	}
	return d, nil
}

// CycleTimeout parses the per-cycle timeout.
func (c *Config) CycleTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.CycleTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.cycle_timeout %q: %w", c.Engine.CycleTimeout, err)
	}
	return d, nil
}

// RedisAddr renders the host:port address for the Redis client.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConnectionString renders a pgx-compatible DSN, preferring DATABASE_URL.
func (c *DatabaseConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}
