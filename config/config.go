package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full engine configuration, assembled from defaults
// overlaid with environment variables.
type Config struct {
	Trading    TradingConfig    `json:"trading"`
	Simulation SimulationConfig `json:"simulation"`
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Feed       FeedConfig       `json:"feed"`
	Executor   ExecutorConfig   `json:"executor"`
	Redis      RedisConfig      `json:"redis"`
	Postgres   PostgresConfig   `json:"postgres"`
	Vault      VaultConfig      `json:"vault"`
}

// TradingConfig covers the instrument and live risk limits.
type TradingConfig struct {
	Symbol          string        `json:"symbol"`
	Interval        string        `json:"interval"`
	PointValue      float64       `json:"point_value"`
	Contracts       int           `json:"contracts"`
	MaxContracts    int           `json:"max_contracts"`
	MaxDailyLoss    float64       `json:"max_daily_loss"`
	MaxTradesPerDay int           `json:"max_trades_per_day"`
	RTHStartMinutes int           `json:"rth_start_minutes"` // exchange-local minutes after midnight
	RTHEndMinutes   int           `json:"rth_end_minutes"`
	Timezone        string        `json:"timezone"`
	EvaluateEvery   time.Duration `json:"evaluate_every"`
}

// SimulationConfig covers the backtest cost model.
type SimulationConfig struct {
	CommissionPerSide    float64 `json:"commission_per_side"`
	ExchangeFeePerSide   float64 `json:"exchange_fee_per_side"`
	RegulatoryFeePerSide float64 `json:"regulatory_fee_per_side"`
	SlippageATRFraction  float64 `json:"slippage_atr_fraction"`
	RejectionProbability float64 `json:"rejection_probability"`
	WarmupBars           int     `json:"warmup_bars"`
	TrainFraction        float64 `json:"train_fraction"`
	Seed                 int64   `json:"seed"` // 0 means time-derived
}

// ServerConfig covers the HTTP API surface.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	AllowedOrigins string `json:"allowed_origins"`
}

// LoggingConfig selects level and format.
type LoggingConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// FeedConfig points at the candle feed collaborator.
type FeedConfig struct {
	StreamURL string `json:"stream_url"`
	MaxWindow int    `json:"max_window"`
}

// ExecutorConfig points at the execution venue webhook.
type ExecutorConfig struct {
	Enabled    bool          `json:"enabled"`
	WebhookURL string        `json:"webhook_url"`
	Timeout    time.Duration `json:"timeout"`
}

// RedisConfig selects the Redis deployment; empty address disables it.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PostgresConfig selects the Postgres deployment; empty DSN disables it.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// VaultConfig selects the Vault deployment for secret resolution.
type VaultConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Token     string `json:"token"`
	MountPath string `json:"mount_path"`
	BasePath  string `json:"base_path"`
}

// ValidationError distinguishes configuration mistakes from runtime
// trading errors; the process refuses to start on one.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Load builds the configuration in three layers: built-in defaults,
// then an optional JSON file named by CONFIG_FILE, then environment
// variables. Later layers win.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		doc, err := os.ReadFile(path)
		if err != nil {
			return nil, &ValidationError{Field: "CONFIG_FILE", Reason: err.Error()}
		}
		if err := json.Unmarshal(doc, cfg); err != nil {
			return nil, &ValidationError{Field: "CONFIG_FILE", Reason: "malformed JSON: " + err.Error()}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Trading: TradingConfig{
			Symbol:          "ES",
			Interval:        "1m",
			PointValue:      50.0,
			Contracts:       1,
			MaxContracts:    3,
			MaxDailyLoss:    1000.0,
			MaxTradesPerDay: 5,
			RTHStartMinutes: 8*60 + 30,
			RTHEndMinutes:   15 * 60,
			Timezone:        "America/Chicago",
			EvaluateEvery:   time.Minute,
		},
		Simulation: SimulationConfig{
			CommissionPerSide:    2.25,
			ExchangeFeePerSide:   1.38,
			RegulatoryFeePerSide: 0.02,
			SlippageATRFraction:  0.05,
			RejectionProbability: 0.02,
			WarmupBars:           50,
			TrainFraction:        0.8,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: "*",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Feed: FeedConfig{
			MaxWindow: 500,
		},
		Executor: ExecutorConfig{
			Timeout: 5 * time.Second,
		},
		Vault: VaultConfig{
			Address:   "http://127.0.0.1:8200",
			MountPath: "secret",
			BasePath:  "trading-engine",
		},
	}
}

// applyEnv overlays environment variables onto the current values.
func applyEnv(cfg *Config) {
	cfg.Trading.Symbol = getEnvOrDefault("TRADING_SYMBOL", cfg.Trading.Symbol)
	cfg.Trading.Interval = getEnvOrDefault("TRADING_INTERVAL", cfg.Trading.Interval)
	cfg.Trading.PointValue = getEnvFloatOrDefault("TRADING_POINT_VALUE", cfg.Trading.PointValue)
	cfg.Trading.Contracts = getEnvIntOrDefault("TRADING_CONTRACTS", cfg.Trading.Contracts)
	cfg.Trading.MaxContracts = getEnvIntOrDefault("TRADING_MAX_CONTRACTS", cfg.Trading.MaxContracts)
	cfg.Trading.MaxDailyLoss = getEnvFloatOrDefault("TRADING_MAX_DAILY_LOSS", cfg.Trading.MaxDailyLoss)
	cfg.Trading.MaxTradesPerDay = getEnvIntOrDefault("TRADING_MAX_TRADES_PER_DAY", cfg.Trading.MaxTradesPerDay)
	cfg.Trading.RTHStartMinutes = getEnvIntOrDefault("TRADING_RTH_START_MINUTES", cfg.Trading.RTHStartMinutes)
	cfg.Trading.RTHEndMinutes = getEnvIntOrDefault("TRADING_RTH_END_MINUTES", cfg.Trading.RTHEndMinutes)
	cfg.Trading.Timezone = getEnvOrDefault("TRADING_TIMEZONE", cfg.Trading.Timezone)
	cfg.Trading.EvaluateEvery = getEnvDurationOrDefault("TRADING_EVALUATE_EVERY", cfg.Trading.EvaluateEvery)

	cfg.Simulation.CommissionPerSide = getEnvFloatOrDefault("SIM_COMMISSION_PER_SIDE", cfg.Simulation.CommissionPerSide)
	cfg.Simulation.ExchangeFeePerSide = getEnvFloatOrDefault("SIM_EXCHANGE_FEE_PER_SIDE", cfg.Simulation.ExchangeFeePerSide)
	cfg.Simulation.RegulatoryFeePerSide = getEnvFloatOrDefault("SIM_REGULATORY_FEE_PER_SIDE", cfg.Simulation.RegulatoryFeePerSide)
	cfg.Simulation.SlippageATRFraction = getEnvFloatOrDefault("SIM_SLIPPAGE_ATR_FRACTION", cfg.Simulation.SlippageATRFraction)
	cfg.Simulation.RejectionProbability = getEnvFloatOrDefault("SIM_REJECTION_PROBABILITY", cfg.Simulation.RejectionProbability)
	cfg.Simulation.WarmupBars = getEnvIntOrDefault("SIM_WARMUP_BARS", cfg.Simulation.WarmupBars)
	cfg.Simulation.TrainFraction = getEnvFloatOrDefault("SIM_TRAIN_FRACTION", cfg.Simulation.TrainFraction)
	cfg.Simulation.Seed = int64(getEnvIntOrDefault("SIM_SEED", int(cfg.Simulation.Seed)))

	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("SERVER_PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Pretty = getEnvBoolOrDefault("LOG_PRETTY", cfg.Logging.Pretty)

	cfg.Feed.StreamURL = getEnvOrDefault("FEED_STREAM_URL", cfg.Feed.StreamURL)
	cfg.Feed.MaxWindow = getEnvIntOrDefault("FEED_MAX_WINDOW", cfg.Feed.MaxWindow)

	cfg.Executor.Enabled = getEnvBoolOrDefault("EXECUTOR_ENABLED", cfg.Executor.Enabled)
	cfg.Executor.WebhookURL = getEnvOrDefault("EXECUTOR_WEBHOOK_URL", cfg.Executor.WebhookURL)
	cfg.Executor.Timeout = getEnvDurationOrDefault("EXECUTOR_TIMEOUT", cfg.Executor.Timeout)

	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Postgres.DSN = getEnvOrDefault("POSTGRES_DSN", cfg.Postgres.DSN)

	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDRESS", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.BasePath = getEnvOrDefault("VAULT_BASE_PATH", cfg.Vault.BasePath)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Trading.Symbol == "" {
		return &ValidationError{Field: "TRADING_SYMBOL", Reason: "must not be empty"}
	}
	if c.Trading.PointValue <= 0 {
		return &ValidationError{Field: "TRADING_POINT_VALUE", Reason: "must be positive"}
	}
	if c.Trading.Contracts <= 0 {
		return &ValidationError{Field: "TRADING_CONTRACTS", Reason: "must be positive"}
	}
	if c.Trading.RTHStartMinutes >= c.Trading.RTHEndMinutes {
		return &ValidationError{Field: "TRADING_RTH_START_MINUTES", Reason: "session start must precede end"}
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return &ValidationError{Field: "TRADING_TIMEZONE", Reason: fmt.Sprintf("unknown timezone: %v", err)}
	}
	if c.Simulation.RejectionProbability < 0 || c.Simulation.RejectionProbability >= 1 {
		return &ValidationError{Field: "SIM_REJECTION_PROBABILITY", Reason: "must be in [0, 1)"}
	}
	if c.Simulation.TrainFraction <= 0 || c.Simulation.TrainFraction >= 1 {
		return &ValidationError{Field: "SIM_TRAIN_FRACTION", Reason: "must be in (0, 1)"}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ValidationError{Field: "SERVER_PORT", Reason: "must be a valid port"}
	}
	if c.Executor.Enabled && c.Executor.WebhookURL == "" {
		return &ValidationError{Field: "EXECUTOR_WEBHOOK_URL", Reason: "required when the executor is enabled"}
	}
	if c.Vault.Enabled && c.Vault.Token == "" {
		return &ValidationError{Field: "VAULT_TOKEN", Reason: "required when vault is enabled"}
	}
	return nil
}

// Location resolves the exchange timezone. Validate guarantees success.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
