package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database connection settings.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// NewDB connects to PostgreSQL and verifies the connection.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to postgres")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS experiment_results (
			id BIGSERIAL PRIMARY KEY,
			experiment_id UUID NOT NULL,
			experiment_name VARCHAR(128) NOT NULL,
			strategy_name VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			interval VARCHAR(16) NOT NULL,
			target_regime VARCHAR(16),
			params JSONB NOT NULL DEFAULT '{}',
			roi_pct DECIMAL(20, 8) NOT NULL,
			mdd_pct DECIMAL(20, 8) NOT NULL,
			sharpe DECIMAL(20, 8) NOT NULL,
			calmar DECIMAL(20, 8) NOT NULL,
			win_rate_pct DECIMAL(20, 8) NOT NULL,
			profit_factor DECIMAL(20, 8),
			total_trades INT NOT NULL,
			final_value DECIMAL(20, 8) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_experiment_results_symbol
			ON experiment_results(symbol, strategy_name)`,
		`CREATE TABLE IF NOT EXISTS experiment_trades (
			id BIGSERIAL PRIMARY KEY,
			experiment_result_id BIGINT NOT NULL REFERENCES experiment_results(id) ON DELETE CASCADE,
			trade_time TIMESTAMPTZ NOT NULL,
			trade_type VARCHAR(16) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			amount DECIMAL(20, 8) NOT NULL,
			balance DECIMAL(20, 8) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scan_results (
			id BIGSERIAL PRIMARY KEY,
			scan_id UUID NOT NULL,
			scanned_at TIMESTAMPTZ NOT NULL,
			target_regime VARCHAR(16) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			regime VARCHAR(16) NOT NULL,
			score DECIMAL(24, 8) NOT NULL,
			close DECIMAL(20, 8) NOT NULL,
			rank INT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_results_scan
			ON scan_results(scan_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.logger.Info().Msg("migrations complete")
	return nil
}
