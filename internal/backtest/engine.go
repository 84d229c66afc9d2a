package backtest

import (
	"context"
	"fmt"

	"trade-signal-pipeline/internal/domain"
)

// Config configures a full backtest over one symbol.
type Config struct {
	Mode            Mode
	Replay          ReplayConfig
	Space           ParamSpace
	MaxCombinations int
}

// Report is the outcome of one split: the selection and the single test pass.
type Report struct {
	Symbol     string
	Mode       Mode
	ScenarioID string
	Partition  Partition
	Grid       *GridResult
	Selected   Candidate
	Test       Evaluation
	TestReplay *ReplayResult
}

// Run splits bars, selects parameters on train and validation, then
// scores the selection once on the test range.
func Run(ctx context.Context, bars []*domain.Bar, cfg Config) (*Report, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeQuality
	}
	proto, err := NewProtocol(bars)
	if err != nil {
		return nil, err
	}

	var grid *GridResult
	err = proto.Select(func(v *View) error {
		var err error
		grid, err = GridSearch(ctx, v, cfg.Replay, cfg.Space, cfg.MaxCombinations, cfg.Mode)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select parameters: %w", err)
	}

	rep := &Report{
		Symbol:     cfg.Replay.Symbol,
		Mode:       cfg.Mode,
		ScenarioID: cfg.Replay.Runner.Scenario().ScenarioID,
		Partition:  proto.Partition(),
		Grid:       grid,
		Selected:   grid.Best,
	}

	err = proto.ScoreTest(func(all []*domain.Bar, test IndexRange) error {
		c := cfg.Replay
		c.Consensus = grid.Best.Apply(cfg.Replay.Consensus)
		res, err := Replay(ctx, all, test, c)
		if err != nil {
			return err
		}
		rep.TestReplay = res
		rep.Test = Evaluate(cfg.Mode, res.Trades, c.Runner.Scenario())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("score test: %w", err)
	}

	cfg.Replay.Logger.Info().
		Str("symbol", rep.Symbol).
		Str("mode", string(rep.Mode)).
		Int("trials", len(grid.Trials)).
		Int("test_trades", len(rep.TestReplay.Trades)).
		Float64("test_objective", rep.Test.Objective).
		Msg("backtest finished")
	return rep, nil
}

// WalkForward runs the full protocol inside consecutive windows of window
// bars, advancing by step bars. A trailing window shorter than window is
// not run.
func WalkForward(ctx context.Context, bars []*domain.Bar, cfg Config, window, step int) ([]*Report, error) {
	if window < MinBars {
		return nil, fmt.Errorf("%w: window %d < %d", ErrInsufficientData, window, MinBars)
	}
	if step <= 0 {
		return nil, fmt.Errorf("walk-forward step must be positive, got %d", step)
	}
	if len(bars) < window {
		return nil, fmt.Errorf("%w: have %d bars, window %d", ErrInsufficientData, len(bars), window)
	}

	var out []*Report
	for start := 0; start+window <= len(bars); start += step {
		rep, err := Run(ctx, bars[start:start+window], cfg)
		if err != nil {
			return nil, fmt.Errorf("window at %d: %w", start, err)
		}
		out = append(out, rep)
	}
	return out, nil
}
