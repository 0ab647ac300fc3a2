package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes Prometheus instruments for the scan and backtest loops.
type Recorder struct {
	scansTotal    *prometheus.CounterVec
	signalsTotal  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	regimeGauge   *prometheus.GaugeVec
	lastPrice     *prometheus.GaugeVec
	scanDuration  *prometheus.HistogramVec
	experimentDur *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder on the default registry.
func New() *Recorder {
	return &Recorder{
		scansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimetrader_scans_total",
				Help: "Total number of universe scans executed",
			},
			[]string{"outcome"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimetrader_signals_total",
				Help: "Total number of trade signals emitted",
			},
			[]string{"symbol", "action"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimetrader_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		regimeGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regimetrader_regime",
				Help: "Current regime label per symbol (1 bull, -1 bear, 0 sideways)",
			},
			[]string{"symbol"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regimetrader_last_price",
				Help: "Last observed close price for a symbol",
			},
			[]string{"symbol"},
		),
		scanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimetrader_scan_duration_seconds",
				Help:    "Duration of universe scans in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		experimentDur: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimetrader_experiment_duration_seconds",
				Help:    "Duration of backtest experiments in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
	}
}

// RecordScan records a completed scan with its outcome label.
func (r *Recorder) RecordScan(outcome string) {
	r.scansTotal.WithLabelValues(outcome).Inc()
}

// RecordSignal records an emitted trade signal.
func (r *Recorder) RecordSignal(symbol, action string) {
	r.signalsTotal.WithLabelValues(symbol, action).Inc()
}

// RecordError records an error occurrence by type.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordRegime records the current regime label for a symbol.
func (r *Recorder) RecordRegime(symbol string, value float64) {
	r.regimeGauge.WithLabelValues(symbol).Set(value)
}

// RecordLastPrice records the last close price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordScanDuration records how long a scan stage took.
func (r *Recorder) RecordScanDuration(stage string, seconds float64) {
	r.scanDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordExperimentDuration records how long one backtest experiment took.
func (r *Recorder) RecordExperimentDuration(strategy string, seconds float64) {
	r.experimentDur.WithLabelValues(strategy).Observe(seconds)
}
