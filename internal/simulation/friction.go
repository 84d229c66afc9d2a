package simulation

import "trade-signal-pipeline/internal/domain"

// adverseFraction is the per-fill price penalty: slippage plus half the
// quoted spread.
func adverseFraction(sc domain.ScenarioConfig) float64 {
	return (sc.SlippagePct + sc.SpreadPct/2) / 100
}

// EntryPrice applies friction against a position opening at price.
// Longs buy higher, shorts sell lower.
func EntryPrice(side domain.Side, price float64, sc domain.ScenarioConfig) float64 {
	if side == domain.SideShort {
		return price * (1 - adverseFraction(sc))
	}
	return price * (1 + adverseFraction(sc))
}

// ExitPrice applies friction against a position closing at price.
func ExitPrice(side domain.Side, price float64, sc domain.ScenarioConfig) float64 {
	if side == domain.SideShort {
		return price * (1 + adverseFraction(sc))
	}
	return price * (1 - adverseFraction(sc))
}

// Commission is the fee charged on one leg of notional.
func Commission(notional float64, sc domain.ScenarioConfig) float64 {
	return notional * sc.CommissionPct / 100
}

// Returns computes gross and net fractional returns for one unit entered
// at entry and exited at exit, both already adjusted by EntryPrice and
// ExitPrice. Commission is charged on both legs.
func Returns(side domain.Side, entry, exit float64, sc domain.ScenarioConfig) (gross, net float64) {
	if entry <= 0 {
		return 0, 0
	}
	pnl := exit - entry
	if side == domain.SideShort {
		pnl = -pnl
	}
	gross = pnl / entry
	net = (pnl - Commission(entry, sc) - Commission(exit, sc)) / entry
	return gross, net
}
