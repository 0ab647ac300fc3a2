package database

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"regime-trader/internal/backtest"
	"regime-trader/internal/regime"
	"regime-trader/internal/scanner"
)

// boundedFloat maps NaN and infinities to values a DECIMAL column accepts.
// An infinite profit factor (no losing trades) is stored as a large sentinel.
func boundedFloat(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return 1e12
	case math.IsInf(v, -1):
		return -1e12
	default:
		return v
	}
}

func toRegime(label string) regime.Regime {
	switch regime.Regime(label) {
	case regime.Bull, regime.Bear, regime.Sideways:
		return regime.Regime(label)
	default:
		return regime.Sideways
	}
}

// Repository provides data access for experiment and scan results.
type Repository struct {
	db *DB
}

// NewRepository creates a repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// ExperimentRow is one persisted experiment result.
type ExperimentRow struct {
	ID             int64     `json:"id"`
	ExperimentID   string    `json:"experiment_id"`
	ExperimentName string    `json:"experiment_name"`
	StrategyName   string    `json:"strategy_name"`
	Symbol         string    `json:"symbol"`
	Interval       string    `json:"interval"`
	TargetRegime   string    `json:"target_regime"`
	ROIPct         float64   `json:"roi_pct"`
	MDDPct         float64   `json:"mdd_pct"`
	Sharpe         float64   `json:"sharpe"`
	Calmar         float64   `json:"calmar"`
	WinRatePct     float64   `json:"win_rate_pct"`
	ProfitFactor   float64   `json:"profit_factor"`
	TotalTrades    int       `json:"total_trades"`
	FinalValue     float64   `json:"final_value"`
	CreatedAt      time.Time `json:"created_at"`
}

// SaveResult saves one experiment result and its trade log in a transaction.
func (r *Repository) SaveResult(ctx context.Context, result *backtest.Result) (int64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	params, err := json.Marshal(result.Experiment.Params)
	if err != nil {
		return 0, fmt.Errorf("failed to encode params: %w", err)
	}

	query := `
		INSERT INTO experiment_results (
			experiment_id, experiment_name, strategy_name, symbol, interval,
			target_regime, params,
			roi_pct, mdd_pct, sharpe, calmar, win_rate_pct, profit_factor,
			total_trades, final_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	var resultID int64
	err = tx.QueryRow(ctx, query,
		result.Experiment.ID, result.Experiment.Name, result.Experiment.StrategyName,
		result.Symbol, result.Interval,
		string(result.Experiment.TargetRegime), params,
		result.Summary.ROIPct, result.Summary.MDDPct, result.Summary.Sharpe,
		result.Summary.Calmar, result.Summary.WinRatePct, boundedFloat(result.Summary.ProfitFactor),
		result.Summary.TotalTrades, result.Summary.FinalValue,
	).Scan(&resultID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert experiment result: %w", err)
	}

	if len(result.TradeLog) > 0 {
		tradeQuery := `
			INSERT INTO experiment_trades (
				experiment_result_id, trade_time, trade_type, price, amount, balance
			) VALUES ($1, $2, $3, $4, $5, $6)
		`
		for _, trade := range result.TradeLog {
			_, err = tx.Exec(ctx, tradeQuery,
				resultID, trade.Timestamp, trade.Type, trade.Price, trade.Amount, trade.Balance,
			)
			if err != nil {
				return 0, fmt.Errorf("failed to insert experiment trade: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return resultID, nil
}

// SaveResults persists a batch of results, continuing past per-row failures.
func (r *Repository) SaveResults(ctx context.Context, results []backtest.Result) error {
	var firstErr error
	for i := range results {
		if _, err := r.SaveResult(ctx, &results[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TopResults returns the best persisted results for a symbol, by Calmar.
func (r *Repository) TopResults(ctx context.Context, symbol string, limit int) ([]ExperimentRow, error) {
	query := `
		SELECT id, experiment_id, experiment_name, strategy_name, symbol, interval,
			COALESCE(target_regime, ''),
			roi_pct, mdd_pct, sharpe, calmar, win_rate_pct, COALESCE(profit_factor, 0),
			total_trades, final_value, created_at
		FROM experiment_results
		WHERE symbol = $1
		ORDER BY calmar DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiment results: %w", err)
	}
	defer rows.Close()

	var out []ExperimentRow
	for rows.Next() {
		var row ExperimentRow
		err := rows.Scan(
			&row.ID, &row.ExperimentID, &row.ExperimentName, &row.StrategyName,
			&row.Symbol, &row.Interval, &row.TargetRegime,
			&row.ROIPct, &row.MDDPct, &row.Sharpe, &row.Calmar, &row.WinRatePct,
			&row.ProfitFactor, &row.TotalTrades, &row.FinalValue, &row.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SaveScanResult persists one universe scan with candidate ranks.
func (r *Repository) SaveScanResult(ctx context.Context, result *scanner.ScanResult) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO scan_results (
			scan_id, scanned_at, target_regime, symbol, regime, score, close, rank
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for rank, candidate := range result.Candidates {
		_, err = tx.Exec(ctx, query,
			result.ScanID, result.At, string(result.Target),
			candidate.Symbol, string(candidate.Regime), candidate.Score,
			candidate.Close, rank+1,
		)
		if err != nil {
			return fmt.Errorf("failed to insert scan candidate: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LatestScan returns the candidates of the most recent persisted scan.
func (r *Repository) LatestScan(ctx context.Context) ([]scanner.Candidate, error) {
	query := `
		SELECT symbol, regime, score, close, scanned_at
		FROM scan_results
		WHERE scan_id = (
			SELECT scan_id FROM scan_results ORDER BY scanned_at DESC LIMIT 1
		)
		ORDER BY rank ASC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan results: %w", err)
	}
	defer rows.Close()

	var out []scanner.Candidate
	for rows.Next() {
		var c scanner.Candidate
		var label string
		if err := rows.Scan(&c.Symbol, &label, &c.Score, &c.Close, &c.ScannedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		c.Regime = toRegime(label)
		out = append(out, c)
	}
	return out, rows.Err()
}
