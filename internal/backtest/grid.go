package backtest

import (
	"context"
	"errors"
	"fmt"

	"trade-signal-pipeline/internal/consensus"
)

// DefaultMaxCombinations bounds a grid when no limit is given.
const DefaultMaxCombinations = 500

// ErrTooManyCombinations is returned when a ParamSpace exceeds its bound.
var ErrTooManyCombinations = errors.New("parameter space exceeds max combinations")

// Candidate is one point of the parameter grid.
type Candidate struct {
	BaseThreshold float64
	StopLossPct   float64
	TakeProfitPct float64
	NeutralBand   float64
}

// Apply overrides the tuned fields of p.
func (c Candidate) Apply(p consensus.Params) consensus.Params {
	p.BaseThreshold = c.BaseThreshold
	p.StopLossPct = c.StopLossPct
	p.TakeProfitPct = c.TakeProfitPct
	p.NeutralBand = c.NeutralBand
	return p
}

// CandidateOf returns the tuned fields of p.
func CandidateOf(p consensus.Params) Candidate {
	return Candidate{
		BaseThreshold: p.BaseThreshold,
		StopLossPct:   p.StopLossPct,
		TakeProfitPct: p.TakeProfitPct,
		NeutralBand:   p.NeutralBand,
	}
}

// ParamSpace lists the values to try per dimension. An empty dimension
// keeps the base value.
type ParamSpace struct {
	Thresholds     []float64
	StopLossPcts   []float64
	TakeProfitPcts []float64
	NeutralBands   []float64
}

// Size returns the number of combinations.
func (s ParamSpace) Size() int {
	n := 1
	for _, dim := range [][]float64{s.Thresholds, s.StopLossPcts, s.TakeProfitPcts, s.NeutralBands} {
		if len(dim) > 0 {
			n *= len(dim)
		}
	}
	return n
}

// Candidates enumerates the grid around base, thresholds outermost and
// neutral bands innermost.
func (s ParamSpace) Candidates(base Candidate) []Candidate {
	or := func(dim []float64, v float64) []float64 {
		if len(dim) == 0 {
			return []float64{v}
		}
		return dim
	}
	out := make([]Candidate, 0, s.Size())
	for _, th := range or(s.Thresholds, base.BaseThreshold) {
		for _, sl := range or(s.StopLossPcts, base.StopLossPct) {
			for _, tp := range or(s.TakeProfitPcts, base.TakeProfitPct) {
				for _, nb := range or(s.NeutralBands, base.NeutralBand) {
					out = append(out, Candidate{BaseThreshold: th, StopLossPct: sl, TakeProfitPct: tp, NeutralBand: nb})
				}
			}
		}
	}
	return out
}

// Trial is one evaluated candidate.
type Trial struct {
	Candidate  Candidate
	Train      Evaluation
	Validation Evaluation
}

// GridResult is the outcome of a grid search.
type GridResult struct {
	Best    Candidate
	BestIdx int
	Trials  []Trial
}

// GridSearch replays every candidate on the train range and scores it on
// the validation range. The candidate with the highest validation
// objective wins; ties keep the earlier candidate. Only bars reachable
// through v are read.
func GridSearch(ctx context.Context, v *View, cfg ReplayConfig, space ParamSpace, maxCombinations int, mode Mode) (*GridResult, error) {
	if maxCombinations <= 0 {
		maxCombinations = DefaultMaxCombinations
	}
	if n := space.Size(); n > maxCombinations {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyCombinations, n, maxCombinations)
	}

	bars, err := v.UpToValidation()
	if err != nil {
		return nil, err
	}
	part := v.Partition()
	scenario := cfg.Runner.Scenario()

	res := &GridResult{BestIdx: -1}
	for _, cand := range space.Candidates(CandidateOf(cfg.Consensus)) {
		c := cfg
		c.Consensus = cand.Apply(cfg.Consensus)
		if err := c.Consensus.Validate(); err != nil {
			return nil, fmt.Errorf("candidate %+v: %w", cand, err)
		}

		train, err := Replay(ctx, bars, part.Train, c)
		if err != nil {
			return nil, err
		}
		val, err := Replay(ctx, bars, part.Validation, c)
		if err != nil {
			return nil, err
		}

		t := Trial{
			Candidate:  cand,
			Train:      Evaluate(mode, train.Trades, scenario),
			Validation: Evaluate(mode, val.Trades, scenario),
		}
		res.Trials = append(res.Trials, t)
		if res.BestIdx < 0 || t.Validation.Objective > res.Trials[res.BestIdx].Validation.Objective {
			res.BestIdx = len(res.Trials) - 1
			res.Best = cand
		}
	}
	return res, nil
}
