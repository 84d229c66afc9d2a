package regime

import (
	"math"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/metrics"
	"trade-signal-pipeline/internal/source"
)

// Detector classifies a rolling OHLC window into exactly one regime.
// Implementations must be pure: the same bars always give the same regime.
type Detector interface {
	Detect(bars []*domain.Bar) domain.Regime
}

// Params configures ThresholdDetector.
type Params struct {
	Window           int     // bars considered, most recent last
	MinBars          int     // below this the regime is CHOP
	TrendThreshold   float64 // |close/SMA - 1| needed for BULL or BEAR
	CrisisVolatility float64 // stddev of returns at or above which the regime is CRISIS
	CrisisDrawdown   float64 // fractional drop from window high at or above which the regime is CRISIS
}

// DefaultParams returns conservative defaults for minute to daily bars.
func DefaultParams() Params {
	return Params{
		Window:           50,
		MinBars:          20,
		TrendThreshold:   0.02,
		CrisisVolatility: 0.04,
		CrisisDrawdown:   0.15,
	}
}

// ParamsFromConfig maps the regime config section onto Params.
func ParamsFromConfig(c config.RegimeConfig) Params {
	return Params{
		Window:           c.Window,
		MinBars:          c.MinBars,
		TrendThreshold:   c.TrendThreshold,
		CrisisVolatility: c.CrisisVolatility,
		CrisisDrawdown:   c.CrisisDrawdown,
	}
}

// Features are the measurements a classification was based on.
type Features struct {
	Trend      float64
	Volatility float64
	Drawdown   float64
}

// ThresholdDetector classifies by trend, volatility and drawdown with
// fixed thresholds. Crisis conditions take precedence over trend.
type ThresholdDetector struct {
	p Params
}

var _ Detector = (*ThresholdDetector)(nil)

// NewThresholdDetector creates a ThresholdDetector.
func NewThresholdDetector(p Params) *ThresholdDetector {
	if p.Window < 2 {
		p.Window = 2
	}
	if p.MinBars < 2 {
		p.MinBars = 2
	}
	return &ThresholdDetector{p: p}
}

// Detect returns the regime for the trailing window of bars.
func (d *ThresholdDetector) Detect(bars []*domain.Bar) domain.Regime {
	r, _ := d.Classify(bars)
	return r
}

// Classify returns the regime together with the features behind it.
func (d *ThresholdDetector) Classify(bars []*domain.Bar) (domain.Regime, Features) {
	if len(bars) < d.p.MinBars {
		return domain.RegimeChop, Features{}
	}
	if len(bars) > d.p.Window {
		bars = bars[len(bars)-d.p.Window:]
	}

	f := Measure(bars)
	switch {
	case f.Volatility >= d.p.CrisisVolatility || f.Drawdown >= d.p.CrisisDrawdown:
		return domain.RegimeCrisis, f
	case f.Trend >= d.p.TrendThreshold:
		return domain.RegimeBull, f
	case f.Trend <= -d.p.TrendThreshold:
		return domain.RegimeBear, f
	}
	return domain.RegimeChop, f
}

// Measure computes trend, volatility and drawdown over all bars.
func Measure(bars []*domain.Bar) Features {
	if len(bars) == 0 {
		return Features{}
	}
	closes := domain.Closes(bars)
	last := closes[len(closes)-1]

	var f Features
	if sma := source.SMA(closes, len(closes)); sma > 0 {
		f.Trend = last/sma - 1
	}

	returns := source.Returns(closes)
	f.Volatility = metrics.StdDev(returns, metrics.Mean(returns))

	high := math.Inf(-1)
	for _, b := range bars {
		high = math.Max(high, b.High)
	}
	if high > 0 {
		f.Drawdown = math.Max(0, (high-last)/high)
	}
	return f
}
