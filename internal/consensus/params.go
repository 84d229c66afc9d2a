package consensus

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/domain"
)

// WeightTolerance is how far configured weights may sum from 1.0.
const WeightTolerance = 0.05

// ErrInvalidWeights is returned when weights fail validation.
var ErrInvalidWeights = errors.New("invalid source weights")

// RegimeProfile adjusts thresholds and levels for one regime.
type RegimeProfile struct {
	ThresholdOffset      float64 // added to the base threshold
	ConfidenceMultiplier float64 // applied to weighted confidence
	StopWidening         float64 // multiplies the stop distance
}

// Params configures the consensus engine.
type Params struct {
	Weights       map[string]float64
	BaseThreshold float64 // minimum confidence (0-100) in BULL
	NeutralBand   float64 // |score| below this emits nothing
	StopLossPct   float64
	TakeProfitPct float64
	Regimes       map[domain.Regime]RegimeProfile
}

// DefaultRegimes raises the bar outside BULL and widens stops in CRISIS.
func DefaultRegimes() map[domain.Regime]RegimeProfile {
	return map[domain.Regime]RegimeProfile{
		domain.RegimeBull:   {ThresholdOffset: 0, ConfidenceMultiplier: 1.0, StopWidening: 1.0},
		domain.RegimeBear:   {ThresholdOffset: 10, ConfidenceMultiplier: 0.9, StopWidening: 1.0},
		domain.RegimeChop:   {ThresholdOffset: 10, ConfidenceMultiplier: 0.85, StopWidening: 1.0},
		domain.RegimeCrisis: {ThresholdOffset: 25, ConfidenceMultiplier: 0.7, StopWidening: 1.5},
	}
}

// ValidateWeights checks that weights are non-negative and sum to 1 within tolerance.
func ValidateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: no weights", ErrInvalidWeights)
	}
	sum := 0.0
	for id, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%w: %s has weight %v", ErrInvalidWeights, id, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: sum %.4f outside 1.0 ± %.2f", ErrInvalidWeights, sum, WeightTolerance)
	}
	return nil
}

// Renormalize scales the weights of the responding sources to sum to 1.
// Responders without a positive configured weight are dropped. The result
// is ordered by source id; it is empty when no responder carries weight.
func Renormalize(weights map[string]float64, responders []string) []domain.SourceWeight {
	total := 0.0
	var out []domain.SourceWeight
	for _, id := range responders {
		w := weights[id]
		if w <= 0 {
			continue
		}
		total += w
		out = append(out, domain.SourceWeight{SourceID: id, Weight: w})
	}
	if total == 0 {
		return nil
	}
	for i := range out {
		out[i].Weight /= total
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Validate checks the whole parameter set.
func (p Params) Validate() error {
	if err := ValidateWeights(p.Weights); err != nil {
		return err
	}
	if p.BaseThreshold < 0 || p.BaseThreshold > 100 {
		return fmt.Errorf("base threshold %v outside [0, 100]", p.BaseThreshold)
	}
	if p.NeutralBand < 0 || p.NeutralBand >= 1 {
		return fmt.Errorf("neutral band %v outside [0, 1)", p.NeutralBand)
	}
	if p.StopLossPct <= 0 || p.StopLossPct >= 100 || p.TakeProfitPct <= 0 {
		return fmt.Errorf("stop %v%% / target %v%% must be positive", p.StopLossPct, p.TakeProfitPct)
	}
	for r, prof := range p.Regimes {
		if !r.IsValid() {
			return fmt.Errorf("unknown regime %q", r)
		}
		if prof.ConfidenceMultiplier <= 0 || prof.StopWidening < 1 {
			return fmt.Errorf("regime %s: multiplier must be > 0 and stop widening >= 1", r)
		}
	}
	return nil
}

// profile returns the adjustment for r, falling back to defaults.
func (p Params) profile(r domain.Regime) RegimeProfile {
	if prof, ok := p.Regimes[r]; ok {
		return prof
	}
	return DefaultRegimes()[r]
}

// Threshold is the minimum signal confidence required in regime r.
func (p Params) Threshold(r domain.Regime) float64 {
	return p.BaseThreshold + p.profile(r).ThresholdOffset
}

// FromConfig maps the consensus config section onto Params. Regimes
// missing from the file keep their defaults.
func FromConfig(c config.ConsensusConfig) Params {
	regimes := DefaultRegimes()
	for name, prof := range c.Regimes {
		regimes[domain.Regime(name)] = RegimeProfile{
			ThresholdOffset:      prof.ThresholdOffset,
			ConfidenceMultiplier: prof.ConfidenceMultiplier,
			StopWidening:         prof.StopWidening,
		}
	}
	weights := make(map[string]float64, len(c.Weights))
	for id, w := range c.Weights {
		weights[id] = w
	}
	return Params{
		Weights:       weights,
		BaseThreshold: c.BaseThreshold,
		NeutralBand:   c.NeutralBand,
		StopLossPct:   c.StopLossPct,
		TakeProfitPct: c.TakeProfitPct,
		Regimes:       regimes,
	}
}
