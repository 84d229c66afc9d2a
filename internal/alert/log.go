package alert

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes alerts to the structured log.
type LogSink struct {
	log zerolog.Logger
}

var _ Sink = (*LogSink)(nil)

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (l *LogSink) Send(_ context.Context, a Alert) error {
	ev := l.log.Info()
	switch a.Severity {
	case SeverityCritical:
		ev = l.log.Error()
	case SeverityWarning:
		ev = l.log.Warn()
	}
	ev.Str("kind", a.Kind).
		Str("symbol", a.Symbol).
		Str("signal_id", a.SignalID).
		Str("position_id", a.PositionID).
		Int64("at_ms", a.AtMs).
		Msg(a.Message)
	return nil
}

func (l *LogSink) Close() error { return nil }
