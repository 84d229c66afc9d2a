package execution

import (
	"errors"

	"github.com/shopspring/decimal"

	"trade-signal-pipeline/internal/config"
)

// ErrInvalidSizing is returned for non-positive capital or price.
var ErrInvalidSizing = errors.New("invalid sizing input")

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// VolatilityScaler shrinks positions as volatility rises.
type VolatilityScaler interface {
	Scale(volatility float64) decimal.Decimal
}

// InverseVolatilityScaler targets a constant volatility: min(1, target/vol).
type InverseVolatilityScaler struct {
	Target float64
}

func (s InverseVolatilityScaler) Scale(vol float64) decimal.Decimal {
	if vol <= 0 || s.Target <= 0 {
		return one
	}
	return decimal.Min(one, decimal.NewFromFloat(s.Target).Div(decimal.NewFromFloat(vol)))
}

// Sizer turns confidence and volatility into a position size.
type Sizer struct {
	BasePct decimal.Decimal // percent of capital at full confidence
	MaxPct  decimal.Decimal // cap, percent of capital
	Scaler  VolatilityScaler
}

// NewSizer creates a sizer from the execution and risk config sections.
func NewSizer(exec config.ExecutionConfig, risk config.RiskConfig) *Sizer {
	return &Sizer{
		BasePct: decimal.NewFromFloat(exec.BasePositionPct),
		MaxPct:  decimal.NewFromFloat(risk.MaxPositionPct),
		Scaler:  InverseVolatilityScaler{Target: exec.TargetVolatility},
	}
}

// SizePct is the proposed size before risk: base% × confidence/100 × scale.
// The cap is left to the risk gate so an oversize proposal is visible as
// an adjustment.
func (s *Sizer) SizePct(confidence, volatility float64) decimal.Decimal {
	pct := s.BasePct.Mul(decimal.NewFromFloat(confidence)).Div(hundred)
	if s.Scaler != nil {
		pct = pct.Mul(s.Scaler.Scale(volatility))
	}
	return pct
}

// Quantity converts a size in percent of capital into whole units at
// price: capped at MaxPct, then floored, then raised to at least one unit.
func (s *Sizer) Quantity(capital, sizePct, price float64) (decimal.Decimal, error) {
	if capital <= 0 || price <= 0 || sizePct <= 0 {
		return decimal.Zero, ErrInvalidSizing
	}
	pct := decimal.NewFromFloat(sizePct)
	if s.MaxPct.IsPositive() {
		pct = decimal.Min(pct, s.MaxPct)
	}
	notional := decimal.NewFromFloat(capital).Mul(pct).Div(hundred)
	units := notional.Div(decimal.NewFromFloat(price)).Floor()
	if units.LessThan(one) {
		units = one
	}
	return units, nil
}

// Size runs the whole chain for callers that skip the risk gate, such as
// backtests without a validator.
func (s *Sizer) Size(capital, confidence, volatility, price float64) (decimal.Decimal, error) {
	return s.Quantity(capital, s.SizePct(confidence, volatility).InexactFloat64(), price)
}
