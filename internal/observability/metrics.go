// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trade-signal-pipeline/internal/alert"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/pipeline"
	"trade-signal-pipeline/internal/source"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cycle metrics
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	LastCycle      prometheus.Gauge
	SignalsEmitted *prometheus.CounterVec

	// Source metrics
	AdapterLatency  *prometheus.HistogramVec
	AdapterFailures *prometheus.CounterVec

	// Risk metrics
	RiskDecisions *prometheus.CounterVec

	// Execution metrics
	OrdersSubmitted *prometheus.CounterVec
	OrderRetries    *prometheus.CounterVec

	// Position metrics
	PositionsClosed *prometheus.CounterVec

	// Alert metrics
	AlertsDropped *prometheus.CounterVec

	registry prometheus.Gatherer
}

var _ pipeline.Recorder = (*Metrics)(nil)

// NewMetrics creates a Metrics instance registered on reg. A nil reg
// uses a fresh registry so repeated construction never collides.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "signal_pipeline"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycles_total",
			Help:      "Total number of symbol cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Symbol cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_cycle_timestamp",
			Help:      "Unix timestamp of the last completed cycle",
		}),
		SignalsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "signals_emitted_total",
			Help:      "Total number of signals emitted by action and regime",
		}, []string{"action", "regime"}),

		AdapterLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_latency_seconds",
			Help:      "Source adapter fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		AdapterFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_failures_total",
			Help:      "Total number of failed adapter fetches by kind",
		}, []string{"source", "kind"}),

		RiskDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "decisions_total",
			Help:      "Total number of risk decisions by outcome and rejecting layer",
		}, []string{"outcome", "layer"}),

		OrdersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_submitted_total",
			Help:      "Total number of orders submitted by purpose and status",
		}, []string{"purpose", "status"}),
		OrderRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_retries_total",
			Help:      "Total number of order submit retries by purpose",
		}, []string{"purpose"}),

		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by status",
		}, []string{"status"}),

		AlertsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "dropped_total",
			Help:      "Total number of alerts dropped on a full buffer",
		}, []string{"kind"}),

		registry: reg,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleCompleted records a finished symbol cycle.
func (m *Metrics) CycleCompleted(_ string, outcome pipeline.Outcome, elapsed time.Duration) {
	m.CyclesTotal.WithLabelValues(string(outcome)).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
	m.LastCycle.SetToCurrentTime()
}

// SignalEmitted records a persisted signal.
func (m *Metrics) SignalEmitted(sig *domain.Signal) {
	m.SignalsEmitted.WithLabelValues(string(sig.Action), string(sig.Regime)).Inc()
}

// RiskDecided records a persisted risk decision.
func (m *Metrics) RiskDecided(d *domain.RiskDecision) {
	layer := "none"
	if d.RejectionLayer != nil {
		layer = strconv.Itoa(*d.RejectionLayer) + "_" + domain.LayerName(*d.RejectionLayer)
	}
	m.RiskDecisions.WithLabelValues(string(d.Outcome), layer).Inc()
}

// ObserveFetch is a source.Observer.
func (m *Metrics) ObserveFetch(sourceID string, latency time.Duration, err error) {
	m.AdapterLatency.WithLabelValues(sourceID).Observe(latency.Seconds())
	if err == nil {
		return
	}
	kind := "unavailable"
	if errors.Is(err, source.ErrSymbolUnsupported) {
		kind = "unsupported"
	}
	m.AdapterFailures.WithLabelValues(sourceID, kind).Inc()
}

// OrderSubmitted records the final outcome of one order submission.
func (m *Metrics) OrderSubmitted(purpose domain.OrderPurpose, attempts int, err error) {
	status := "accepted"
	if err != nil {
		status = "failed"
	}
	m.OrdersSubmitted.WithLabelValues(string(purpose), status).Inc()
	if attempts > 1 {
		m.OrderRetries.WithLabelValues(string(purpose)).Add(float64(attempts - 1))
	}
}

// PositionClosed records a monitor or manual close.
func (m *Metrics) PositionClosed(p *domain.Position) {
	m.PositionsClosed.WithLabelValues(string(p.Status)).Inc()
}

// AlertDropped records an alert lost to a full dispatcher buffer.
func (m *Metrics) AlertDropped(a alert.Alert) {
	m.AlertsDropped.WithLabelValues(a.Kind).Inc()
}
