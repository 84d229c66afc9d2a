package domain

// SourceSignal is one adapter's opinion on a symbol for a single cycle.
// It is produced by a source adapter and consumed only by consensus;
// it is never persisted.
type SourceSignal struct {
	SourceID         string  // adapter identifier
	Symbol           string  // instrument symbol
	DirectionalScore float64 // signed, positive = bullish
	Confidence       float64 // 0..100
	TimestampMs      int64   // observation time (ms)
	LatencyMs        int64   // fetch latency (ms)
}

// IsValid reports whether the signal carries usable values.
func (s *SourceSignal) IsValid() bool {
	if s == nil || s.SourceID == "" || s.Symbol == "" {
		return false
	}
	return s.Confidence >= 0 && s.Confidence <= 100
}
