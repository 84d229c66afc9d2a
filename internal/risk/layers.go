package risk

import (
	"fmt"

	"trade-signal-pipeline/internal/domain"
)

// Limits are the thresholds checked by the layers.
type Limits struct {
	MaxPositionPct       float64
	MaxCorrelated        int
	DailyLossLimitPct    float64
	MaxDrawdownPct       float64
	BuyingPowerBufferPct float64
}

// Input is everything a layer may look at. SizePct is the position size as
// a percent of equity; it reflects any cap applied by an earlier layer.
type Input struct {
	Signal        *domain.Signal
	SizePct       float64
	MinConfidence float64 // regime-adjusted threshold
	State         State
	Day           string
	Group         string
	GroupOpen     int // open positions already in Group
	Limits        Limits
}

// RequiredCapital is the cash needed to open the position.
func (in Input) RequiredCapital() float64 {
	return in.State.Equity * in.SizePct / 100
}

// LayerResult is the outcome of one layer.
type LayerResult struct {
	Layer     int
	Name      string
	Threshold string
	Actual    string
	Pass      bool
	Reason    string

	// AdjustedSizePct is set when the layer passed with a smaller size.
	AdjustedSizePct *float64
}

// Layer is a single ordered check.
type Layer func(Input) LayerResult

// Layers returns the seven checks in evaluation order.
func Layers() []Layer {
	return []Layer{
		AccountStatusLayer,
		ConfidenceLayer,
		PositionSizeLayer,
		CorrelationLayer,
		DailyLossLayer,
		DrawdownLayer,
		BuyingPowerLayer,
	}
}

func result(layer int, threshold, actual string, pass bool) LayerResult {
	r := LayerResult{
		Layer:     layer,
		Name:      domain.LayerName(layer),
		Threshold: threshold,
		Actual:    actual,
		Pass:      pass,
	}
	if !pass {
		r.Reason = fmt.Sprintf("%s: %s, limit %s", r.Name, actual, threshold)
	}
	return r
}

// AccountStatusLayer rejects unless the account is active.
func AccountStatusLayer(in Input) LayerResult {
	return result(domain.LayerAccountStatus,
		string(AccountActive),
		string(in.State.AccountStatus),
		in.State.AccountStatus == AccountActive)
}

func ConfidenceLayer(in Input) LayerResult {
	return result(domain.LayerConfidence,
		fmt.Sprintf(">= %.2f", in.MinConfidence),
		fmt.Sprintf("confidence %.2f", in.Signal.Confidence),
		in.Signal.Confidence >= in.MinConfidence)
}

// PositionSizeLayer caps oversize positions instead of rejecting them.
func PositionSizeLayer(in Input) LayerResult {
	r := result(domain.LayerPositionSize,
		fmt.Sprintf("(0, %.2f%%]", in.Limits.MaxPositionPct),
		fmt.Sprintf("size %.4f%%", in.SizePct),
		in.SizePct > 0)
	if r.Pass && in.SizePct > in.Limits.MaxPositionPct {
		capped := in.Limits.MaxPositionPct
		r.AdjustedSizePct = &capped
		r.Reason = fmt.Sprintf("%s: size %.4f%% capped to %.4f%%", r.Name, in.SizePct, capped)
	}
	return r
}

// CorrelationLayer rejects a new position once its group is full.
func CorrelationLayer(in Input) LayerResult {
	return result(domain.LayerCorrelation,
		fmt.Sprintf("< %d open in group %s", in.Limits.MaxCorrelated, in.Group),
		fmt.Sprintf("%d open", in.GroupOpen),
		in.GroupOpen < in.Limits.MaxCorrelated)
}

func DailyLossLayer(in Input) LayerResult {
	loss := in.State.DailyLossPct(in.Day)
	return result(domain.LayerDailyLoss,
		fmt.Sprintf("<= %.2f%%", in.Limits.DailyLossLimitPct),
		fmt.Sprintf("daily loss %.2f%%", loss),
		loss <= in.Limits.DailyLossLimitPct)
}

func DrawdownLayer(in Input) LayerResult {
	dd := in.State.DrawdownPct()
	return result(domain.LayerDrawdown,
		fmt.Sprintf("<= %.2f%%", in.Limits.MaxDrawdownPct),
		fmt.Sprintf("drawdown %.2f%%", dd),
		dd <= in.Limits.MaxDrawdownPct)
}

// BuyingPowerLayer requires the position plus a buffer to fit in buying power.
func BuyingPowerLayer(in Input) LayerResult {
	need := in.RequiredCapital() * (1 + in.Limits.BuyingPowerBufferPct/100)
	return result(domain.LayerBuyingPower,
		fmt.Sprintf("<= %.2f buying power", in.State.BuyingPower),
		fmt.Sprintf("required %.2f", need),
		need <= in.State.BuyingPower)
}
