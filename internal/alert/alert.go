package alert

import "context"

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert kinds.
const (
	KindSignal         = "signal_emitted"
	KindSystemError    = "system_error"
	KindBrokerRejected = "broker_rejected"
	KindBracketFailed  = "bracket_failed"
	KindCloseFailed    = "close_failed"
	KindPositionClosed = "position_closed"
)

// Alert is a notification about something an operator may act on.
type Alert struct {
	Kind       string   `json:"kind"`
	Severity   Severity `json:"severity"`
	Symbol     string   `json:"symbol,omitempty"`
	SignalID   string   `json:"signal_id,omitempty"`
	PositionID string   `json:"position_id,omitempty"`
	Message    string   `json:"message"`
	AtMs       int64    `json:"at_ms"`
}

// Sink delivers alerts to one destination.
type Sink interface {
	Send(ctx context.Context, a Alert) error
	Close() error
}

// Publisher accepts alerts without blocking the caller.
type Publisher interface {
	Publish(a Alert)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Alert) {}
