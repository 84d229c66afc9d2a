package consensus

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/idhash"
)

// SkipReason explains why a cycle produced no signal.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipNoSources      SkipReason = "no_sources"
	SkipNoWeight       SkipReason = "no_weighted_sources"
	SkipNeutral        SkipReason = "neutral_score"
	SkipBelowThreshold SkipReason = "below_threshold"
)

// ErrInvalidInput is returned for inputs consensus cannot price.
var ErrInvalidInput = errors.New("invalid consensus input")

// Input is everything one evaluation depends on. AsOf becomes the
// signal's created_at, so identical inputs yield identical signals.
type Input struct {
	Symbol       string
	Sources      []*domain.SourceSignal
	Regime       domain.Regime
	Price        float64 // reference entry price
	AsOf         int64   // ms
	SupersedesID string
}

// Result is the outcome of one evaluation. Signal is nil when Skip is set.
type Result struct {
	Signal           *domain.Signal
	Skip             SkipReason
	EffectiveWeights []domain.SourceWeight
	Score            float64 // weighted directional score
	RawConfidence    float64 // weighted confidence before regime adjustment
	Confidence       float64 // after regime adjustment
	Threshold        float64 // confidence required in this regime
}

// Engine turns source opinions into a single signal.
type Engine struct {
	p Params
}

// New validates p and creates an Engine.
func New(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{p: p}, nil
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params { return e.p }

// Evaluate runs the consensus rules over in. It is a pure function of
// in and the engine parameters.
func (e *Engine) Evaluate(in Input) (*Result, error) {
	if len(in.Sources) == 0 {
		return &Result{Skip: SkipNoSources}, nil
	}
	if in.Symbol == "" || !in.Regime.IsValid() {
		return nil, fmt.Errorf("%w: symbol %q regime %q", ErrInvalidInput, in.Symbol, in.Regime)
	}

	sources := make([]*domain.SourceSignal, len(in.Sources))
	copy(sources, in.Sources)
	sort.Slice(sources, func(i, j int) bool { return sources[i].SourceID < sources[j].SourceID })

	byID := make(map[string]*domain.SourceSignal, len(sources))
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		if _, dup := byID[s.SourceID]; dup {
			return nil, fmt.Errorf("%w: duplicate source %s", ErrInvalidInput, s.SourceID)
		}
		byID[s.SourceID] = s
		ids = append(ids, s.SourceID)
	}

	weights := Renormalize(e.p.Weights, ids)
	res := &Result{EffectiveWeights: weights}
	if len(weights) == 0 {
		res.Skip = SkipNoWeight
		return res, nil
	}

	for _, w := range weights {
		s := byID[w.SourceID]
		res.Score += w.Weight * s.DirectionalScore
		res.RawConfidence += w.Weight * s.Confidence
	}

	prof := e.p.profile(in.Regime)
	res.Threshold = e.p.Threshold(in.Regime)
	res.Confidence = math.Max(0, math.Min(100, res.RawConfidence*prof.ConfidenceMultiplier))

	if math.Abs(res.Score) < e.p.NeutralBand || res.Score == 0 {
		res.Skip = SkipNeutral
		return res, nil
	}
	if res.Confidence < res.Threshold {
		res.Skip = SkipBelowThreshold
		return res, nil
	}

	if in.Price <= 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0) {
		return nil, fmt.Errorf("%w: reference price %v", ErrInvalidInput, in.Price)
	}

	action := domain.ActionBuy
	if res.Score < 0 {
		action = domain.ActionSell
	}
	stop, target := Levels(action, in.Price, e.p.StopLossPct*prof.StopWidening, e.p.TakeProfitPct)

	sig := &domain.Signal{
		ID:                  idhash.ComputeSignalID(in.Symbol, in.AsOf, sources),
		Symbol:              in.Symbol,
		Action:              action,
		Regime:              in.Regime,
		EntryPrice:          in.Price,
		StopPrice:           stop,
		TargetPrice:         target,
		Confidence:          res.Confidence,
		ContributingSources: append([]domain.SourceWeight(nil), weights...),
		SupersedesID:        in.SupersedesID,
		CreatedAt:           in.AsOf,
	}
	sig.IntegrityHash = idhash.ComputeSignalHash(sig)
	res.Signal = sig
	return res, nil
}

// Levels computes stop and target prices for a position entered at price.
func Levels(action domain.Action, price, stopPct, targetPct float64) (stop, target float64) {
	if action == domain.ActionSell {
		return price * (1 + stopPct/100), price * (1 - targetPct/100)
	}
	return price * (1 - stopPct/100), price * (1 + targetPct/100)
}
