package strategy

import (
	"fmt"

	"trade-signal-pipeline/internal/lookup"
)

// TimeExitStrategy ignores the bracket and exits after a fixed hold.
// It is the baseline that bracket results are compared against.
type TimeExitStrategy struct {
	HoldMs int64
}

// NewTimeExitStrategy creates a new TimeExitStrategy.
func NewTimeExitStrategy(holdMs int64) *TimeExitStrategy {
	return &TimeExitStrategy{HoldMs: holdMs}
}

// ID returns the strategy identifier including parameters.
func (s *TimeExitStrategy) ID() string {
	return fmt.Sprintf("TIME_EXIT_%dms", s.HoldMs)
}

// Exit closes at the last bar at or before entry time + HoldMs.
func (s *TimeExitStrategy) Exit(in *Input) (*Exit, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.EntryIndex == len(in.Bars)-1 {
		return nil, ErrNoExitData
	}

	target := in.EntryTimeMs + s.HoldMs
	i := lookup.IndexAtOrBefore(target, in.Bars)
	reason := ExitMaxHold
	if i == len(in.Bars)-1 && in.Bars[i].TimestampMs < target {
		reason = ExitEndOfData
	}
	if i <= in.EntryIndex {
		i = in.EntryIndex + 1
	}
	b := in.Bars[i]
	return &Exit{Reason: reason, Index: i, TimestampMs: b.TimestampMs, Price: b.Close}, nil
}

var _ Strategy = (*TimeExitStrategy)(nil)
