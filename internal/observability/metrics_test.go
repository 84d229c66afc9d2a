package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"trade-signal-pipeline/internal/alert"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/pipeline"
	"trade-signal-pipeline/internal/source"
)

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics("test", nil)

	m.CycleCompleted("AAPL", pipeline.OutcomeExecuted, 120*time.Millisecond)
	m.CycleCompleted("MSFT", pipeline.OutcomeNoSignal, 80*time.Millisecond)
	m.CycleCompleted("TSLA", pipeline.OutcomeNoSignal, 80*time.Millisecond)
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("no_signal")); got != 2 {
		t.Errorf("no_signal cycles = %v, want 2", got)
	}
	if testutil.ToFloat64(m.LastCycle) == 0 {
		t.Error("last cycle gauge not set")
	}

	m.SignalEmitted(&domain.Signal{Action: domain.ActionBuy, Regime: domain.RegimeBull})
	if got := testutil.ToFloat64(m.SignalsEmitted.WithLabelValues("BUY", "BULL")); got != 1 {
		t.Errorf("signals = %v, want 1", got)
	}

	layer := domain.LayerDrawdown
	m.RiskDecided(&domain.RiskDecision{Outcome: domain.RiskRejected, RejectionLayer: &layer})
	m.RiskDecided(&domain.RiskDecision{Outcome: domain.RiskApproved})
	if got := testutil.ToFloat64(m.RiskDecisions.WithLabelValues("REJECTED", "6_drawdown")); got != 1 {
		t.Errorf("drawdown rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RiskDecisions.WithLabelValues("APPROVED", "none")); got != 1 {
		t.Errorf("approvals = %v, want 1", got)
	}

	m.ObserveFetch("rsi", 10*time.Millisecond, nil)
	m.ObserveFetch("rsi", time.Second, source.Unavailable("rsi", "AAPL", errors.New("timeout")))
	m.ObserveFetch("sentiment", time.Millisecond, source.Unsupported("sentiment", "AAPL", nil))
	if got := testutil.ToFloat64(m.AdapterFailures.WithLabelValues("rsi", "unavailable")); got != 1 {
		t.Errorf("rsi failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AdapterFailures.WithLabelValues("sentiment", "unsupported")); got != 1 {
		t.Errorf("sentiment failures = %v, want 1", got)
	}

	m.OrderSubmitted(domain.PurposeEntry, 3, nil)
	m.OrderSubmitted(domain.PurposeStopLoss, 4, errors.New("rejected"))
	if got := testutil.ToFloat64(m.OrderRetries.WithLabelValues("ENTRY")); got != 2 {
		t.Errorf("entry retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("STOP_LOSS", "failed")); got != 1 {
		t.Errorf("failed stop orders = %v, want 1", got)
	}

	m.PositionClosed(&domain.Position{Status: domain.PositionClosedStop})
	m.AlertDropped(alert.Alert{Kind: alert.KindSignal})
	if got := testutil.ToFloat64(m.AlertsDropped.WithLabelValues(alert.KindSignal)); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test", nil)
	m.CycleCompleted("AAPL", pipeline.OutcomeExecuted, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `test_pipeline_cycles_total{outcome="executed"} 1`) {
		t.Errorf("metrics output missing cycle counter:\n%s", body)
	}
}

func TestNewMetrics_Repeatable(t *testing.T) {
	// Separate registries must not panic on duplicate registration.
	NewMetrics("", nil)
	NewMetrics("", nil)
}
