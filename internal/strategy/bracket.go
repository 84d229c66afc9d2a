package strategy

import "fmt"

// BracketStrategy exits at the stop or the target, whichever is crossed
// first, or at the close of the first bar past MaxHoldMs.
type BracketStrategy struct {
	MaxHoldMs int64 // 0 disables the time limit
}

// NewBracketStrategy creates a new BracketStrategy.
func NewBracketStrategy(maxHoldMs int64) *BracketStrategy {
	return &BracketStrategy{MaxHoldMs: maxHoldMs}
}

// ID returns the strategy identifier including parameters.
func (s *BracketStrategy) ID() string {
	return fmt.Sprintf("BRACKET_%dms", s.MaxHoldMs)
}

// Exit scans bars after the entry. If nothing triggers before the data
// ends, the last close is used with ExitEndOfData.
func (s *BracketStrategy) Exit(in *Input) (*Exit, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.EntryIndex == len(in.Bars)-1 {
		return nil, ErrNoExitData
	}

	for i := in.EntryIndex + 1; i < len(in.Bars); i++ {
		b := in.Bars[i]
		if reason, price, ok := CheckBar(in.Side, in.StopPrice, in.TargetPrice, b); ok {
			return &Exit{Reason: reason, Index: i, TimestampMs: b.TimestampMs, Price: price}, nil
		}
		if s.MaxHoldMs > 0 && b.TimestampMs-in.EntryTimeMs >= s.MaxHoldMs {
			return &Exit{Reason: ExitMaxHold, Index: i, TimestampMs: b.TimestampMs, Price: b.Close}, nil
		}
	}

	last := len(in.Bars) - 1
	return &Exit{
		Reason:      ExitEndOfData,
		Index:       last,
		TimestampMs: in.Bars[last].TimestampMs,
		Price:       in.Bars[last].Close,
	}, nil
}

var _ Strategy = (*BracketStrategy)(nil)
