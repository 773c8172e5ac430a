// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one engine instance. A fresh registry
// per instance keeps parallel tests from tripping over duplicate
// registrations.
type Metrics struct {
	registry *prometheus.Registry

	BarsTotal        *prometheus.CounterVec
	BarErrorsTotal   *prometheus.CounterVec
	SignalsTotal     *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	OrdersTotal      *prometheus.CounterVec
	OrderRetries     *prometheus.CounterVec
	ExitRetriesSpent prometheus.Counter
	OpenPositions    prometheus.Gauge
	Equity           prometheus.Gauge
	CycleDuration    prometheus.Histogram
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	return &Metrics{
		registry: registry,
		BarsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "trader_bars_total",
			Help: "Completed bars consumed, by symbol.",
		}, []string{"symbol"}),
		BarErrorsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "trader_bar_errors_total",
			Help: "Bars dropped by the series buffer, by reason.",
		}, []string{"symbol", "reason"}),
		SignalsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Signals emitted by the evaluator, by symbol and type.",
		}, []string{"symbol", "type"}),
		TransitionsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "trader_position_transitions_total",
			Help: "Position state transitions, by symbol and resulting state.",
		}, []string{"symbol", "to"}),
		OrdersTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Order submissions by symbol and terminal status.",
		}, []string{"symbol", "status"}),
		OrderRetries: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "trader_order_retries_total",
			Help: "Order submission retries, by symbol.",
		}, []string{"symbol"}),
		ExitRetriesSpent: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "trader_exit_retry_exhaustions_total",
			Help: "Exit submissions that used up their retry budget.",
		}),
		OpenPositions: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Positions currently open or pending.",
		}),
		Equity: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "trader_account_equity",
			Help: "Last observed account equity.",
		}),
		CycleDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Wall time of one bar processing cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
