package reporting

import "time"

// Report is the rendered outcome of one or more backtest windows.
type Report struct {
	GeneratedAt time.Time
	Symbol      string
	Mode        string
	ScenarioID  string

	DataSummary DataSummary

	// Overall covers the test trades of every window.
	Overall OverallRow

	Windows     []WindowRow      // one per walk-forward window, in time order
	Trials      []TrialRow       // grid trials, by window then iteration order
	Calibration []CalibrationRow // confidence deciles over all test trades
	Trades      []TradeRow       // test trades, by window then entry time
}

// DataSummary describes the history the backtest ran on.
type DataSummary struct {
	Windows        int
	TotalTrades    int
	DateRangeStart int64 // Unix ms, first train bar
	DateRangeEnd   int64 // Unix ms, last test bar
}

// OverallRow aggregates quality and profitability over all test trades.
type OverallRow struct {
	Trades               int
	WinRate              float64
	AvgConfidence        float64
	Brier                float64
	NetMean              float64
	NetMedian            float64
	Sharpe               float64
	TotalReturn          float64
	MaxDrawdown          float64
	MaxConsecutiveLosses int
}

// WindowRow summarizes one split: what was selected and how it scored on test.
type WindowRow struct {
	Window        int
	TestStart     int64
	TestEnd       int64
	BaseThreshold float64
	StopLossPct   float64
	TakeProfitPct float64
	NeutralBand   float64
	Trials        int
	TestTrades    int
	Objective     float64
	WinRate       float64
	Sharpe        float64
	TotalReturn   float64
	MaxDrawdown   float64
}

// TrialRow is one grid candidate with its train and validation objective.
type TrialRow struct {
	Window              int
	BaseThreshold       float64
	StopLossPct         float64
	TakeProfitPct       float64
	NeutralBand         float64
	TrainTrades         int
	TrainObjective      float64
	ValidationTrades    int
	ValidationObjective float64
	Selected            bool
}

// CalibrationRow is one confidence decile.
type CalibrationRow struct {
	Lower          float64
	Upper          float64
	Count          int
	HitRate        float64
	MeanConfidence float64
}

// TradeRow is one simulated test trade.
type TradeRow struct {
	Window      int
	SignalID    string
	Side        string
	Regime      string
	Confidence  float64
	EntryTimeMs int64
	ExitTimeMs  int64
	EntryPrice  float64
	ExitPrice   float64
	ExitReason  string
	GrossReturn float64
	NetReturn   float64
}
