package simulation

import (
	"errors"
	"math"
	"testing"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/strategy"
)

// makeBars creates flat-range bars from closes, one minute apart. Each bar
// opens at the previous close and trades ±0.5 around its close.
func makeBars(closes ...float64) []*domain.Bar {
	bars := make([]*domain.Bar, len(closes))
	prev := closes[0]
	for i, c := range closes {
		bars[i] = &domain.Bar{
			Symbol:      "TEST",
			TimestampMs: int64(i) * 60000,
			Open:        prev,
			High:        max(prev, c) + 0.5,
			Low:         min(prev, c) - 0.5,
			Close:       c,
		}
		prev = c
	}
	return bars
}

func buySignal(price float64) *domain.Signal {
	return &domain.Signal{
		ID:          "sig-1",
		Symbol:      "TEST",
		Action:      domain.ActionBuy,
		Regime:      domain.RegimeBull,
		EntryPrice:  price,
		StopPrice:   price * 0.98,
		TargetPrice: price * 1.04,
		Confidence:  70,
	}
}

func TestRunner_Run_Frictionless(t *testing.T) {
	bars := makeBars(100, 101, 102, 104, 105)
	r := NewRunner(RunnerOptions{})

	trade, err := r.Run(buySignal(100), bars, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if trade.ExitReason != strategy.ExitTarget {
		t.Fatalf("expected TARGET, got %s", trade.ExitReason)
	}
	// bar 3 high is 104.5, so the target at 104 is reached there.
	if trade.ExitIndex != 3 || trade.ExitPrice != 104 {
		t.Errorf("exit at %d price %v", trade.ExitIndex, trade.ExitPrice)
	}
	if math.Abs(trade.GrossReturn-0.04) > 1e-9 || math.Abs(trade.NetReturn-0.04) > 1e-9 {
		t.Errorf("returns gross=%v net=%v, want 0.04", trade.GrossReturn, trade.NetReturn)
	}
	if !trade.Hit() {
		t.Error("winning trade not counted as hit")
	}
	if trade.HoldDurationMs != 3*60000 {
		t.Errorf("hold = %d", trade.HoldDurationMs)
	}
}

func TestRunner_Run_FrictionReducesReturn(t *testing.T) {
	bars := makeBars(100, 101, 102, 104, 105)

	clean, err := NewRunner(RunnerOptions{}).Run(buySignal(100), bars, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sc := domain.ScenarioConfigOptimistic // no delay
	dirty, err := NewRunner(RunnerOptions{Scenario: sc}).Run(buySignal(100), bars, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if dirty.NetReturn >= clean.NetReturn {
		t.Errorf("friction did not reduce return: %v >= %v", dirty.NetReturn, clean.NetReturn)
	}
	if dirty.GrossReturn != clean.GrossReturn {
		t.Errorf("gross return changed by friction: %v vs %v", dirty.GrossReturn, clean.GrossReturn)
	}

	entry := 100 * (1 + (0.02+0.005)/100)
	if math.Abs(dirty.EntryPrice-entry) > 1e-9 {
		t.Errorf("entry price = %v, want %v", dirty.EntryPrice, entry)
	}
}

func TestRunner_Run_DelayedEntry(t *testing.T) {
	bars := makeBars(100, 101, 102, 104, 105, 106)
	sc := domain.ScenarioConfig{ScenarioID: "delay", DelayBars: 1}

	trade, err := NewRunner(RunnerOptions{Scenario: sc}).Run(buySignal(100), bars, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if trade.EntryIndex != 1 || trade.EntrySignalPrice != 100 {
		t.Errorf("entry at %d price %v, want bar 1 open 100", trade.EntryIndex, trade.EntrySignalPrice)
	}
	// target 104 is hit on bar 3, exit fills one bar later at bar 4 open.
	if trade.ExitIndex != 4 || trade.ExitSignalPrice != 104 {
		t.Errorf("exit at %d price %v, want bar 4 open 104", trade.ExitIndex, trade.ExitSignalPrice)
	}
}

func TestRunner_Run_ShortStop(t *testing.T) {
	bars := makeBars(100, 101, 102.5, 103)
	sig := &domain.Signal{
		ID: "s", Symbol: "TEST", Action: domain.ActionSell,
		EntryPrice: 100, StopPrice: 102, TargetPrice: 96,
	}
	trade, err := NewRunner(RunnerOptions{}).Run(sig, bars, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if trade.Side != domain.SideShort || trade.ExitReason != strategy.ExitStop {
		t.Fatalf("got %s %s", trade.Side, trade.ExitReason)
	}
	if trade.GrossReturn >= 0 || trade.Hit() {
		t.Errorf("stopped short should lose, gross=%v", trade.GrossReturn)
	}
}

func TestRunner_Run_Errors(t *testing.T) {
	bars := makeBars(100, 101, 102)

	if _, err := NewRunner(RunnerOptions{}).Run(buySignal(100), bars, 2); !errors.Is(err, ErrEntryOutOfRange) {
		t.Errorf("signal on last bar: expected ErrEntryOutOfRange, got %v", err)
	}

	sc := domain.ScenarioConfig{DelayBars: 2}
	if _, err := NewRunner(RunnerOptions{Scenario: sc}).Run(buySignal(100), bars, 0); !errors.Is(err, ErrEntryOutOfRange) {
		t.Errorf("delay past data: expected ErrEntryOutOfRange, got %v", err)
	}

	other := buySignal(100)
	other.Symbol = "OTHER"
	if _, err := NewRunner(RunnerOptions{}).Run(other, bars, 0); !errors.Is(err, ErrSymbolMismatch) {
		t.Errorf("expected ErrSymbolMismatch, got %v", err)
	}
}

func TestReturns_CommissionBothLegs(t *testing.T) {
	sc := domain.ScenarioConfig{CommissionPct: 0.1}
	gross, net := Returns(domain.SideLong, 100, 110, sc)
	if math.Abs(gross-0.1) > 1e-12 {
		t.Errorf("gross = %v", gross)
	}
	want := (10 - 0.1 - 0.11) / 100
	if math.Abs(net-want) > 1e-12 {
		t.Errorf("net = %v, want %v", net, want)
	}
}
