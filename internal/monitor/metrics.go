package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the liquidation sweep.

// SweepDuration tracks how long a full sweep over open positions takes.
var SweepDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "levercore",
		Subsystem: "monitor",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a full liquidation sweep in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
)

// PositionsEvaluated counts positions examined across all sweeps.
var PositionsEvaluated = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "levercore",
		Subsystem: "monitor",
		Name:      "positions_evaluated_total",
		Help:      "Total number of open positions evaluated by the sweep",
	},
)

// TriggersFired counts settlements initiated by the sweep, by type.
var TriggersFired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "levercore",
		Subsystem: "monitor",
		Name:      "triggers_fired_total",
		Help:      "Settlements initiated by the sweep",
	},
	[]string{"type"}, // STOP_LOSS, TAKE_PROFIT, LIQUIDATION
)

// SweepErrors counts per-position failures that were isolated and skipped.
var SweepErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "levercore",
		Subsystem: "monitor",
		Name:      "sweep_errors_total",
		Help:      "Per-position errors caught during sweeps",
	},
)

// OpenPositions reports the number of open positions seen by the last sweep.
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "levercore",
		Subsystem: "monitor",
		Name:      "open_positions",
		Help:      "Open positions observed by the most recent sweep",
	},
)
