package backtest

import (
	"fmt"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/metrics"
	"trade-signal-pipeline/internal/simulation"
)

// Mode selects what a backtest optimizes and reports.
type Mode string

const (
	// ModeQuality measures whether signals point the right way.
	ModeQuality Mode = "quality"
	// ModeProfitability measures net returns after friction.
	ModeProfitability Mode = "profitability"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeQuality, ModeProfitability:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown backtest mode %q", s)
}

// QualityReport describes directional accuracy and calibration.
type QualityReport struct {
	Signals       int
	Hits          int
	WinRate       float64
	AvgConfidence float64
	Brier         float64
	Calibration   []metrics.CalibrationBucket
}

// ProfitabilityReport describes net returns under one friction scenario.
type ProfitabilityReport struct {
	ScenarioID string
	metrics.Summary
}

// Evaluation is both views of one set of trades, with the objective the
// mode optimizes.
type Evaluation struct {
	Mode          Mode
	Quality       QualityReport
	Profitability ProfitabilityReport
	Objective     float64
}

// Quality scores trades by direction before costs.
func Quality(trades []*simulation.Trade) QualityReport {
	preds := make([]metrics.Prediction, len(trades))
	confidences := make([]float64, len(trades))
	hits := 0
	for i, t := range trades {
		preds[i] = metrics.Prediction{Confidence: t.Confidence, Hit: t.Hit()}
		confidences[i] = t.Confidence
		if t.Hit() {
			hits++
		}
	}
	return QualityReport{
		Signals:       len(trades),
		Hits:          hits,
		WinRate:       metrics.WinRate(hits, len(trades)),
		AvgConfidence: metrics.Mean(confidences),
		Brier:         metrics.Brier(preds),
		Calibration:   metrics.Calibrate(preds),
	}
}

// Profitability summarizes net returns in trade order.
func Profitability(trades []*simulation.Trade, scenario domain.ScenarioConfig) ProfitabilityReport {
	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[i] = t.NetReturn
	}
	return ProfitabilityReport{ScenarioID: scenario.ScenarioID, Summary: metrics.Summarize(returns)}
}

// Evaluate builds both reports. The objective is Sharpe in profitability
// mode and win rate in quality mode.
func Evaluate(mode Mode, trades []*simulation.Trade, scenario domain.ScenarioConfig) Evaluation {
	e := Evaluation{
		Mode:          mode,
		Quality:       Quality(trades),
		Profitability: Profitability(trades, scenario),
	}
	if mode == ModeProfitability {
		e.Objective = e.Profitability.Sharpe
	} else {
		e.Objective = e.Quality.WinRate
	}
	return e
}
