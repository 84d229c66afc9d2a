package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Backtest Report: %s\n\n", r.Symbol))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Mode: %s | Scenario: %s | Windows: %d\n\n", r.Mode, r.ScenarioID, r.DataSummary.Windows))

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Windows | %d |\n", r.DataSummary.Windows))
	sb.WriteString(fmt.Sprintf("| Test Trades | %d |\n", r.DataSummary.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Date Range Start (ms) | %d |\n", r.DataSummary.DateRangeStart))
	sb.WriteString(fmt.Sprintf("| Date Range End (ms) | %d |\n", r.DataSummary.DateRangeEnd))
	sb.WriteString("\n")

	// Overall
	o := r.Overall
	sb.WriteString("## Test Results\n\n")
	sb.WriteString("| Trades | WinRate | AvgConf | Brier | NetMean | NetMedian | Sharpe | TotalReturn | MaxDD | MaxLoss |\n")
	sb.WriteString("|--------|---------|---------|-------|---------|-----------|--------|-------------|-------|---------|\n")
	sb.WriteString(fmt.Sprintf("| %d | %.4f | %.2f | %.4f | %.4f | %.4f | %.4f | %.4f | %.4f | %d |\n\n",
		o.Trades, o.WinRate, o.AvgConfidence, o.Brier, o.NetMean, o.NetMedian,
		o.Sharpe, o.TotalReturn, o.MaxDrawdown, o.MaxConsecutiveLosses))

	// Windows
	sb.WriteString("## Windows\n\n")
	sb.WriteString("| Window | Test Start | Test End | Threshold | Stop% | Target% | Band | Trials | Trades | Objective | WinRate | Sharpe |\n")
	sb.WriteString("|--------|------------|----------|-----------|-------|---------|------|--------|--------|-----------|---------|--------|\n")
	for _, w := range r.Windows {
		sb.WriteString(fmt.Sprintf("| %d | %d | %d | %.2f | %.2f | %.2f | %.2f | %d | %d | %.4f | %.4f | %.4f |\n",
			w.Window, w.TestStart, w.TestEnd, w.BaseThreshold, w.StopLossPct, w.TakeProfitPct, w.NeutralBand,
			w.Trials, w.TestTrades, w.Objective, w.WinRate, w.Sharpe))
	}
	sb.WriteString("\n")

	// Calibration
	sb.WriteString("## Calibration\n\n")
	if r.Overall.Trades > 0 {
		sb.WriteString("| Confidence | Count | HitRate | MeanConf |\n")
		sb.WriteString("|------------|-------|---------|----------|\n")
		for _, c := range r.Calibration {
			if c.Count == 0 {
				continue
			}
			sb.WriteString(fmt.Sprintf("| %.0f-%.0f | %d | %.4f | %.4f |\n",
				c.Lower, c.Upper, c.Count, c.HitRate, c.MeanConfidence))
		}
	} else {
		sb.WriteString("No test trades.\n")
	}
	sb.WriteString("\n")

	// Parameter selection
	sb.WriteString("## Parameter Selection\n\n")
	if len(r.Trials) > 0 {
		sb.WriteString("| Window | Threshold | Stop% | Target% | Band | Train | Validation | Selected |\n")
		sb.WriteString("|--------|-----------|-------|---------|------|-------|------------|----------|\n")
		for _, t := range r.Trials {
			mark := ""
			if t.Selected {
				mark = "*"
			}
			sb.WriteString(fmt.Sprintf("| %d | %.2f | %.2f | %.2f | %.2f | %.4f | %.4f | %s |\n",
				t.Window, t.BaseThreshold, t.StopLossPct, t.TakeProfitPct, t.NeutralBand,
				t.TrainObjective, t.ValidationObjective, mark))
		}
	} else {
		sb.WriteString("No trials.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
