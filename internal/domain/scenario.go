package domain

// ScenarioConfig represents execution friction used in profitability backtests.
type ScenarioConfig struct {
	ScenarioID    string  // "optimistic" | "realistic" | "pessimistic" | "degraded"
	DelayBars     int     // bars between decision and fill
	SlippagePct   float64 // adverse price move per fill, percent
	SpreadPct     float64 // full bid-ask spread, percent
	CommissionPct float64 // commission per leg, percent of notional
}

// Scenario ID constants
const (
	ScenarioOptimistic  = "optimistic"
	ScenarioRealistic   = "realistic"
	ScenarioPessimistic = "pessimistic"
	ScenarioDegraded    = "degraded"
)

// Predefined friction presets.
var (
	ScenarioConfigOptimistic = ScenarioConfig{
		ScenarioID:    ScenarioOptimistic,
		DelayBars:     0,
		SlippagePct:   0.02,
		SpreadPct:     0.01,
		CommissionPct: 0.01,
	}

	ScenarioConfigRealistic = ScenarioConfig{
		ScenarioID:    ScenarioRealistic,
		DelayBars:     1,
		SlippagePct:   0.05,
		SpreadPct:     0.03,
		CommissionPct: 0.05,
	}

	ScenarioConfigPessimistic = ScenarioConfig{
		ScenarioID:    ScenarioPessimistic,
		DelayBars:     1,
		SlippagePct:   0.15,
		SpreadPct:     0.08,
		CommissionPct: 0.10,
	}

	ScenarioConfigDegraded = ScenarioConfig{
		ScenarioID:    ScenarioDegraded,
		DelayBars:     2,
		SlippagePct:   0.50,
		SpreadPct:     0.20,
		CommissionPct: 0.10,
	}
)

// ScenarioByID returns a preset by id.
func ScenarioByID(id string) (ScenarioConfig, bool) {
	switch id {
	case ScenarioOptimistic:
		return ScenarioConfigOptimistic, true
	case ScenarioRealistic:
		return ScenarioConfigRealistic, true
	case ScenarioPessimistic:
		return ScenarioConfigPessimistic, true
	case ScenarioDegraded:
		return ScenarioConfigDegraded, true
	}
	return ScenarioConfig{}, false
}
