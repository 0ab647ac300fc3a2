package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"regime-trader/internal/api"
	"regime-trader/internal/database"
	"regime-trader/internal/logging"
	"regime-trader/internal/regime"
	"regime-trader/internal/scanner"
	"regime-trader/internal/strategy"
	"regime-trader/internal/vault"
)

// Config is the application configuration, loaded from config.json with
// environment variable overrides on top.
type Config struct {
	Data     DataConfig              `json:"data"`
	Regime   regime.Config           `json:"regime"`
	Ensemble strategy.EnsembleConfig `json:"ensemble"`
	// RegimeStrategyMap picks the ensemble per regime label in the live loop.
	RegimeStrategyMap map[string]strategy.EnsembleConfig `json:"regime_strategy_map"`
	Backtest          BacktestConfig                     `json:"backtest"`
	Scanner           scanner.Config                     `json:"scanner"`
	Risk              RiskConfig                         `json:"risk"`
	Server            api.ServerConfig                   `json:"server"`
	Redis             RedisConfig                        `json:"redis"`
	Database          database.Config                    `json:"database"`
	Vault             vault.Config                       `json:"vault"`
	Logging           logging.Config                     `json:"logging"`
}

// DataConfig describes where and what market data to pull.
type DataConfig struct {
	BaseURL      string   `json:"base_url"`
	StreamURL    string   `json:"stream_url"`
	Symbols      []string `json:"symbols"`
	Interval     string   `json:"interval"`
	HistoryBars  int      `json:"history_bars"`
	ScanInterval int      `json:"scan_interval_seconds"`
}

// BacktestConfig holds defaults for grid-search runs.
type BacktestConfig struct {
	InitialCapital float64 `json:"initial_capital"`
	Workers        int     `json:"workers"`
	SaveTradeLogs  bool    `json:"save_trade_logs"`
}

// RiskConfig holds live-trading risk thresholds.
type RiskConfig struct {
	StopLossPercent       float64 `json:"stop_loss_percent"`
	StopLossATRMultiplier float64 `json:"stop_loss_atr_multiplier"`
	TrailingStopPercent   float64 `json:"trailing_stop_percent"`
	PartialProfitTarget   float64 `json:"partial_profit_target"`
	PartialProfitRatio    float64 `json:"partial_profit_ratio"`
	MinOrderValue         float64 `json:"min_order_value"`
	CommissionRate        float64 `json:"commission_rate"`
	InitialCapitalPerAsset float64 `json:"initial_capital_per_asset"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// Load reads config.json (if present) and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Regime.Version {
	case "", regime.RuleV1, regime.RuleV2:
	default:
		return fmt.Errorf("unknown regime rule version %q", c.Regime.Version)
	}
	if c.Risk.CommissionRate < 0 || c.Risk.CommissionRate >= 1 {
		return fmt.Errorf("commission_rate must be in [0, 1), got %v", c.Risk.CommissionRate)
	}
	if c.Risk.PartialProfitRatio < 0 || c.Risk.PartialProfitRatio > 1 {
		return fmt.Errorf("partial_profit_ratio must be in [0, 1], got %v", c.Risk.PartialProfitRatio)
	}
	if c.Server.AuthEnabled && c.Server.JWTSecret == "" {
		return fmt.Errorf("auth enabled but no JWT secret configured")
	}
	for label := range c.RegimeStrategyMap {
		switch regime.Regime(label) {
		case regime.Bull, regime.Bear, regime.Sideways:
		default:
			return fmt.Errorf("regime_strategy_map has unknown regime %q", label)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Data.BaseURL = getEnvOrDefault("DATA_BASE_URL", cfg.Data.BaseURL)
	cfg.Data.StreamURL = getEnvOrDefault("DATA_STREAM_URL", cfg.Data.StreamURL)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)

	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.Server.AuthEnabled = v == "true"
	}
	cfg.Server.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Server.JWTSecret)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}
	cfg.Redis.Host = getEnvOrDefault("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvIntOrDefault("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)

	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.Vault.Enabled = v == "true"
	}
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
}

func applyDefaults(cfg *Config) {
	if cfg.Data.BaseURL == "" {
		cfg.Data.BaseURL = "https://api.binance.com"
	}
	if cfg.Data.StreamURL == "" {
		cfg.Data.StreamURL = "wss://stream.binance.com:9443"
	}
	if cfg.Data.Interval == "" {
		cfg.Data.Interval = "day"
	}
	if cfg.Data.HistoryBars <= 0 {
		cfg.Data.HistoryBars = 400
	}
	if cfg.Data.ScanInterval <= 0 {
		cfg.Data.ScanInterval = 3600
	}
	if cfg.Scanner.ScanInterval <= 0 {
		cfg.Scanner.ScanInterval = time.Duration(cfg.Data.ScanInterval) * time.Second
	}
	if cfg.Scanner.TargetRegime == "" {
		cfg.Scanner.TargetRegime = regime.Bull
	}
	if cfg.Backtest.InitialCapital <= 0 {
		cfg.Backtest.InitialCapital = 10_000
	}
	if cfg.Backtest.Workers <= 0 {
		cfg.Backtest.Workers = 4
	}
	if cfg.Risk.InitialCapitalPerAsset <= 0 {
		cfg.Risk.InitialCapitalPerAsset = 1_000
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Vault.MountPath == "" {
		cfg.Vault.MountPath = "secret"
	}
	if cfg.Vault.SecretPath == "" {
		cfg.Vault.SecretPath = "regime-trader/api-keys"
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
