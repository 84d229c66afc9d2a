package reporting

import (
	"errors"
	"time"

	"trade-signal-pipeline/internal/backtest"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/simulation"
)

// ErrNoReports is returned when there is nothing to render.
var ErrNoReports = errors.New("no backtest reports")

// Generator builds Reports from backtest results.
type Generator struct {
	now func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator() *Generator {
	return &Generator{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate renders the windows of a single or walk-forward backtest.
// All windows must share symbol, mode and scenario.
func (g *Generator) Generate(reps []*backtest.Report) (*Report, error) {
	if len(reps) == 0 {
		return nil, ErrNoReports
	}
	first := reps[0]
	r := &Report{
		GeneratedAt: g.now(),
		Symbol:      first.Symbol,
		Mode:        string(first.Mode),
		ScenarioID:  first.ScenarioID,
		DataSummary: DataSummary{
			Windows:        len(reps),
			DateRangeStart: first.Partition.Ranges.Train.Start,
			DateRangeEnd:   reps[len(reps)-1].Partition.Ranges.Test.End,
		},
	}

	var all []*simulation.Trade
	for i, rep := range reps {
		r.Windows = append(r.Windows, windowRow(i, rep))
		r.Trials = append(r.Trials, trialRows(i, rep.Grid)...)
		for _, t := range rep.TestReplay.Trades {
			r.Trades = append(r.Trades, tradeRow(i, t))
		}
		all = append(all, rep.TestReplay.Trades...)
	}
	r.DataSummary.TotalTrades = len(all)

	scenario, _ := domain.ScenarioByID(first.ScenarioID)
	ev := backtest.Evaluate(first.Mode, all, scenario)
	r.Overall = OverallRow{
		Trades:               len(all),
		WinRate:              ev.Quality.WinRate,
		AvgConfidence:        ev.Quality.AvgConfidence,
		Brier:                ev.Quality.Brier,
		NetMean:              ev.Profitability.Mean,
		NetMedian:            ev.Profitability.Median,
		Sharpe:               ev.Profitability.Sharpe,
		TotalReturn:          ev.Profitability.TotalReturn,
		MaxDrawdown:          ev.Profitability.MaxDrawdown,
		MaxConsecutiveLosses: ev.Profitability.MaxConsecutiveLosses,
	}
	for _, b := range ev.Quality.Calibration {
		r.Calibration = append(r.Calibration, CalibrationRow{
			Lower:          b.Lower,
			Upper:          b.Upper,
			Count:          b.Count,
			HitRate:        b.HitRate,
			MeanConfidence: b.MeanConfidence,
		})
	}
	return r, nil
}

func windowRow(i int, rep *backtest.Report) WindowRow {
	return WindowRow{
		Window:        i,
		TestStart:     rep.Partition.Ranges.Test.Start,
		TestEnd:       rep.Partition.Ranges.Test.End,
		BaseThreshold: rep.Selected.BaseThreshold,
		StopLossPct:   rep.Selected.StopLossPct,
		TakeProfitPct: rep.Selected.TakeProfitPct,
		NeutralBand:   rep.Selected.NeutralBand,
		Trials:        len(rep.Grid.Trials),
		TestTrades:    len(rep.TestReplay.Trades),
		Objective:     rep.Test.Objective,
		WinRate:       rep.Test.Quality.WinRate,
		Sharpe:        rep.Test.Profitability.Sharpe,
		TotalReturn:   rep.Test.Profitability.TotalReturn,
		MaxDrawdown:   rep.Test.Profitability.MaxDrawdown,
	}
}

func trialRows(window int, g *backtest.GridResult) []TrialRow {
	rows := make([]TrialRow, len(g.Trials))
	for i, t := range g.Trials {
		rows[i] = TrialRow{
			Window:              window,
			BaseThreshold:       t.Candidate.BaseThreshold,
			StopLossPct:         t.Candidate.StopLossPct,
			TakeProfitPct:       t.Candidate.TakeProfitPct,
			NeutralBand:         t.Candidate.NeutralBand,
			TrainTrades:         t.Train.Quality.Signals,
			TrainObjective:      t.Train.Objective,
			ValidationTrades:    t.Validation.Quality.Signals,
			ValidationObjective: t.Validation.Objective,
			Selected:            i == g.BestIdx,
		}
	}
	return rows
}

func tradeRow(window int, t *simulation.Trade) TradeRow {
	return TradeRow{
		Window:      window,
		SignalID:    t.SignalID,
		Side:        string(t.Side),
		Regime:      string(t.Regime),
		Confidence:  t.Confidence,
		EntryTimeMs: t.EntryTimeMs,
		ExitTimeMs:  t.ExitTimeMs,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		ExitReason:  string(t.ExitReason),
		GrossReturn: t.GrossReturn,
		NetReturn:   t.NetReturn,
	}
}
