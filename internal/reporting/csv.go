package reporting

import (
	"fmt"
	"strings"
)

// RenderTradesCSV renders test trades as a CSV string.
func RenderTradesCSV(trades []TradeRow) string {
	var sb strings.Builder

	sb.WriteString("window,signal_id,side,regime,confidence,entry_time_ms,exit_time_ms,")
	sb.WriteString("entry_price,exit_price,exit_reason,gross_return,net_return\n")

	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%.2f,%d,%d,%.8f,%.8f,%s,%.6f,%.6f\n",
			t.Window,
			t.SignalID,
			t.Side,
			t.Regime,
			t.Confidence,
			t.EntryTimeMs,
			t.ExitTimeMs,
			t.EntryPrice,
			t.ExitPrice,
			t.ExitReason,
			t.GrossReturn,
			t.NetReturn,
		))
	}

	return sb.String()
}

// RenderTrialsCSV renders grid trials as a CSV string.
func RenderTrialsCSV(trials []TrialRow) string {
	var sb strings.Builder

	sb.WriteString("window,base_threshold,stop_loss_pct,take_profit_pct,neutral_band,")
	sb.WriteString("train_trades,train_objective,validation_trades,validation_objective,selected\n")

	for _, t := range trials {
		sb.WriteString(fmt.Sprintf("%d,%.4f,%.4f,%.4f,%.4f,%d,%.6f,%d,%.6f,%t\n",
			t.Window,
			t.BaseThreshold,
			t.StopLossPct,
			t.TakeProfitPct,
			t.NeutralBand,
			t.TrainTrades,
			t.TrainObjective,
			t.ValidationTrades,
			t.ValidationObjective,
			t.Selected,
		))
	}

	return sb.String()
}
