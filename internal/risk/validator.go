package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/domain"
)

// ErrInvalidProposal is returned for a nil signal or a non-finite size.
var ErrInvalidProposal = errors.New("invalid risk proposal")

// LimitsFromConfig maps the risk config section onto Limits.
func LimitsFromConfig(c config.RiskConfig) Limits {
	return Limits{
		MaxPositionPct:       c.MaxPositionPct,
		MaxCorrelated:        c.MaxCorrelated,
		DailyLossLimitPct:    c.DailyLossLimitPct,
		MaxDrawdownPct:       c.MaxDrawdownPct,
		BuyingPowerBufferPct: c.BuyingPowerBufferPct,
	}
}

// Proposal is the sizing request evaluated alongside a signal.
type Proposal struct {
	SizePct float64 // percent of equity
}

// Options configures a Validator.
type Options struct {
	Store  StateStore
	Limits Limits

	// Threshold returns the minimum confidence for a regime.
	Threshold func(domain.Regime) float64

	// Group maps a symbol onto its correlation group.
	Group func(symbol string) string

	Now    func() time.Time
	Logger zerolog.Logger
}

// Validator runs the ordered risk layers for one signal at a time.
type Validator struct {
	store     StateStore
	limits    Limits
	layers    []Layer
	threshold func(domain.Regime) float64
	group     func(string) string
	now       func() time.Time
	log       zerolog.Logger
}

// NewValidator creates a validator with the standard seven layers.
func NewValidator(opts Options) *Validator {
	v := &Validator{
		store:     opts.Store,
		limits:    opts.Limits,
		layers:    Layers(),
		threshold: opts.Threshold,
		group:     opts.Group,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if v.threshold == nil {
		v.threshold = func(domain.Regime) float64 { return 0 }
	}
	if v.group == nil {
		v.group = func(s string) string { return s }
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Evaluate checks sig against the current risk state. Layers run in
// order and evaluation stops at the first rejection. The returned
// decision is always non-nil when err is nil; err is set only when the
// state could not be read.
func (v *Validator) Evaluate(ctx context.Context, sig *domain.Signal, p Proposal) (*domain.RiskDecision, error) {
	if sig == nil || math.IsNaN(p.SizePct) || math.IsInf(p.SizePct, 0) {
		return nil, ErrInvalidProposal
	}

	state, err := v.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk state snapshot: %w", err)
	}

	now := v.now()
	in := Input{
		Signal:        sig,
		SizePct:       p.SizePct,
		MinConfidence: v.threshold(sig.Regime),
		State:         state,
		Day:           DayKey(now),
		Group:         v.group(sig.Symbol),
		Limits:        v.limits,
	}
	for _, sym := range state.OpenPositions {
		if v.group(sym) == in.Group {
			in.GroupOpen++
		}
	}

	decision := &domain.RiskDecision{
		SignalID:         sig.ID,
		Outcome:          domain.RiskApproved,
		RequestedSizePct: p.SizePct,
		EvaluatedAt:      now.UnixMilli(),
	}

	for _, layer := range v.layers {
		r := layer(in)
		if !r.Pass {
			l := r.Layer
			decision.Outcome = domain.RiskRejected
			decision.RejectionLayer = &l
			decision.Reason = r.Reason
			decision.AdjustedPositionSizePct = nil
			v.log.Info().
				Str("signal_id", sig.ID).
				Str("symbol", sig.Symbol).
				Int("layer", l).
				Str("reason", r.Reason).
				Msg("signal rejected by risk")
			return decision, nil
		}
		if r.AdjustedSizePct != nil {
			adj := *r.AdjustedSizePct
			in.SizePct = adj
			decision.Outcome = domain.RiskAdjusted
			decision.AdjustedPositionSizePct = &adj
			decision.Reason = r.Reason
		}
	}

	v.log.Debug().
		Str("signal_id", sig.ID).
		Str("outcome", string(decision.Outcome)).
		Float64("size_pct", in.SizePct).
		Msg("risk evaluation passed")
	return decision, nil
}

// ApprovedSizePct is the size execution should use for an allowed decision.
func ApprovedSizePct(d *domain.RiskDecision) float64 {
	if d.AdjustedPositionSizePct != nil {
		return *d.AdjustedPositionSizePct
	}
	return d.RequestedSizePct
}
