package simulation

import (
	"errors"
	"fmt"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/strategy"
)

// Runner errors
var (
	ErrEntryOutOfRange = errors.New("entry bar beyond available history")
	ErrSymbolMismatch  = errors.New("signal symbol does not match bars")
)

// Trade is one simulated round trip.
type Trade struct {
	SignalID    string
	Symbol      string
	Side        domain.Side
	Regime      domain.Regime
	Confidence  float64
	SignalIndex int

	EntryIndex       int
	EntryTimeMs      int64
	EntrySignalPrice float64 // before friction
	EntryPrice       float64

	ExitIndex       int
	ExitTimeMs      int64
	ExitSignalPrice float64 // before friction
	ExitPrice       float64
	ExitReason      strategy.ExitReason

	GrossReturn    float64 // fraction, friction-free
	NetReturn      float64 // fraction, after slippage, spread and commission
	HoldDurationMs int64
}

// Hit reports whether the signal's direction was right before costs.
func (t *Trade) Hit() bool {
	return t.GrossReturn > 0
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Strategy strategy.Strategy
	Scenario domain.ScenarioConfig
}

// Runner simulates signals against historical bars.
type Runner struct {
	strategy strategy.Strategy
	scenario domain.ScenarioConfig
}

// NewRunner creates a simulation runner. A nil strategy defaults to a
// bracket without time limit.
func NewRunner(opts RunnerOptions) *Runner {
	s := opts.Strategy
	if s == nil {
		s = strategy.NewBracketStrategy(0)
	}
	return &Runner{strategy: s, scenario: opts.Scenario}
}

// Scenario returns the friction preset in use.
func (r *Runner) Scenario() domain.ScenarioConfig { return r.scenario }

// Run simulates sig, produced at the close of bars[signalIndex].
// Steps:
//  1. Entry is delayed by DelayBars; a delayed entry fills at that bar's open
//  2. The bracket keeps its percentage distances from the actual entry
//  3. The strategy scans forward for the exit
//  4. Exit is delayed by DelayBars the same way
//  5. Friction is applied to both fills
func (r *Runner) Run(sig *domain.Signal, bars []*domain.Bar, signalIndex int) (*Trade, error) {
	if signalIndex < 0 || signalIndex >= len(bars) {
		return nil, fmt.Errorf("%w: signal index %d of %d", ErrEntryOutOfRange, signalIndex, len(bars))
	}
	if bars[signalIndex].Symbol != "" && bars[signalIndex].Symbol != sig.Symbol {
		return nil, ErrSymbolMismatch
	}

	delay := r.scenario.DelayBars
	entryIdx := signalIndex + delay
	if entryIdx >= len(bars)-1 {
		return nil, ErrEntryOutOfRange
	}
	entryRef := sig.EntryPrice
	if delay > 0 {
		entryRef = bars[entryIdx].Open
	}
	scale := entryRef / sig.EntryPrice

	side := domain.SideFor(sig.Action)
	exit, err := r.strategy.Exit(&strategy.Input{
		Side:        side,
		EntryIndex:  entryIdx,
		EntryTimeMs: bars[entryIdx].TimestampMs,
		EntryPrice:  entryRef,
		StopPrice:   sig.StopPrice * scale,
		TargetPrice: sig.TargetPrice * scale,
		Bars:        bars,
	})
	if err != nil {
		return nil, err
	}

	exitIdx, exitRef := exit.Index, exit.Price
	if delay > 0 {
		if exitIdx+delay < len(bars) {
			exitIdx += delay
			exitRef = bars[exitIdx].Open
		} else {
			exitIdx = len(bars) - 1
			exitRef = bars[exitIdx].Close
		}
	}

	entryPx := EntryPrice(side, entryRef, r.scenario)
	exitPx := ExitPrice(side, exitRef, r.scenario)
	gross, _ := Returns(side, entryRef, exitRef, domain.ScenarioConfig{})
	_, net := Returns(side, entryPx, exitPx, r.scenario)

	return &Trade{
		SignalID:         sig.ID,
		Symbol:           sig.Symbol,
		Side:             side,
		Regime:           sig.Regime,
		Confidence:       sig.Confidence,
		SignalIndex:      signalIndex,
		EntryIndex:       entryIdx,
		EntryTimeMs:      bars[entryIdx].TimestampMs,
		EntrySignalPrice: entryRef,
		EntryPrice:       entryPx,
		ExitIndex:        exitIdx,
		ExitTimeMs:       bars[exitIdx].TimestampMs,
		ExitSignalPrice:  exitRef,
		ExitPrice:        exitPx,
		ExitReason:       exit.Reason,
		GrossReturn:      gross,
		NetReturn:        net,
		HoldDurationMs:   bars[exitIdx].TimestampMs - bars[entryIdx].TimestampMs,
	}, nil
}
