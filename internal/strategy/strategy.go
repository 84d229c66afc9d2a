package strategy

import (
	"errors"
	"fmt"

	"trade-signal-pipeline/internal/domain"
)

// ExitReason explains why a position was or would be closed.
type ExitReason string

const (
	ExitStop      ExitReason = "STOP"
	ExitTarget    ExitReason = "TARGET"
	ExitMaxHold   ExitReason = "MAX_HOLD"
	ExitEndOfData ExitReason = "END_OF_DATA"
)

// PositionStatus maps an exit reason onto the terminal position status.
// Time-based exits are system-initiated and recorded as manual closes.
func (r ExitReason) PositionStatus() domain.PositionStatus {
	switch r {
	case ExitStop:
		return domain.PositionClosedStop
	case ExitTarget:
		return domain.PositionClosedTarget
	}
	return domain.PositionClosedManual
}

// Input validation errors
var (
	ErrInvalidInput = errors.New("invalid strategy input")
	ErrNoExitData   = errors.New("no bars after entry")
)

// Strategy decides when an entered position exits.
type Strategy interface {
	// Exit scans bars after the entry and returns the first exit.
	Exit(input *Input) (*Exit, error)

	// ID returns strategy identifier (includes parameters).
	ID() string
}

// Input describes an entered position and the bars to scan.
type Input struct {
	Side        domain.Side
	EntryIndex  int // bar index of the entry; scanning starts after it
	EntryTimeMs int64
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Bars        []*domain.Bar
}

// Validate checks the bracket is on the correct sides of the entry.
func (in *Input) Validate() error {
	if in.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %v", ErrInvalidInput, in.EntryPrice)
	}
	if in.EntryIndex < 0 || in.EntryIndex >= len(in.Bars) {
		return fmt.Errorf("%w: entry index %d of %d bars", ErrInvalidInput, in.EntryIndex, len(in.Bars))
	}
	switch in.Side {
	case domain.SideLong:
		if in.StopPrice >= in.EntryPrice || in.TargetPrice <= in.EntryPrice {
			return fmt.Errorf("%w: long bracket %v/%v around %v", ErrInvalidInput, in.StopPrice, in.TargetPrice, in.EntryPrice)
		}
	case domain.SideShort:
		if in.StopPrice <= in.EntryPrice || in.TargetPrice >= in.EntryPrice {
			return fmt.Errorf("%w: short bracket %v/%v around %v", ErrInvalidInput, in.StopPrice, in.TargetPrice, in.EntryPrice)
		}
	default:
		return fmt.Errorf("%w: side %q", ErrInvalidInput, in.Side)
	}
	return nil
}

// Exit is where and why a position closes.
type Exit struct {
	Reason      ExitReason
	Index       int // bar index of the exit
	TimestampMs int64
	Price       float64
}

// CheckPrice evaluates a single observed price against a bracket.
func CheckPrice(side domain.Side, stop, target, price float64) (ExitReason, bool) {
	if side == domain.SideShort {
		switch {
		case price >= stop:
			return ExitStop, true
		case price <= target:
			return ExitTarget, true
		}
		return "", false
	}
	switch {
	case price <= stop:
		return ExitStop, true
	case price >= target:
		return ExitTarget, true
	}
	return "", false
}

// CheckBar evaluates one bar against a bracket. When a bar touches both
// levels the stop wins, since intrabar order is unknown. A bar that opens
// beyond a level fills at the open.
func CheckBar(side domain.Side, stop, target float64, b *domain.Bar) (ExitReason, float64, bool) {
	if side == domain.SideShort {
		switch {
		case b.High >= stop:
			return ExitStop, max(stop, b.Open), true
		case b.Low <= target:
			return ExitTarget, min(target, b.Open), true
		}
		return "", 0, false
	}
	switch {
	case b.Low <= stop:
		return ExitStop, min(stop, b.Open), true
	case b.High >= target:
		return ExitTarget, max(target, b.Open), true
	}
	return "", 0, false
}
