package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-pipeline/internal/consensus"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/regime"
	"trade-signal-pipeline/internal/risk"
	"trade-signal-pipeline/internal/simulation"
	"trade-signal-pipeline/internal/source"
)

// adapterTimeout bounds each adapter call. Replayed adapters read from
// memory, so this only trips on a misbehaving adapter.
const adapterTimeout = time.Second

// RiskReplay enables the risk layers during replay against a simulated
// account that starts at InitialEquity and books each trade's net return.
type RiskReplay struct {
	Limits        risk.Limits
	InitialEquity float64
	SizePct       float64 // requested size per signal, percent of equity
	Group         func(symbol string) string
}

// ReplayConfig is everything a replay depends on.
type ReplayConfig struct {
	Symbol    string
	Consensus consensus.Params
	Detector  regime.Detector

	// Adapters builds the source adapters over the replay's history.
	Adapters func(bars source.BarProvider) []source.Adapter

	Runner *simulation.Runner
	Risk   *RiskReplay // nil skips risk validation
	Logger zerolog.Logger
}

// ReplayResult is the outcome of replaying one range.
type ReplayResult struct {
	Evaluated    int // bars the pipeline ran on
	Signals      []*domain.Signal
	Trades       []*simulation.Trade
	Skips        map[consensus.SkipReason]int
	RiskRejected int
}

// history serves the bars before a cursor, so adapters never see a bar
// that closes after the one being evaluated.
type history struct {
	bars []*domain.Bar
	end  int
}

func (h *history) RecentBars(_ context.Context, _ string, n int) ([]*domain.Bar, error) {
	start := max(0, h.end-n)
	return h.bars[start:h.end], nil
}

// Replay runs the signal pipeline on every bar in r, using only bars up to
// and including that bar, and resolves each signal with the runner's exit
// strategy. Exits are searched no further than r.End. At most one trade is
// open at a time; evaluation resumes after its exit bar.
func Replay(ctx context.Context, bars []*domain.Bar, r IndexRange, cfg ReplayConfig) (*ReplayResult, error) {
	if r.Start < 0 || r.End > len(bars) || r.Start > r.End {
		return nil, fmt.Errorf("replay range [%d, %d) outside %d bars", r.Start, r.End, len(bars))
	}
	if cfg.Runner == nil || cfg.Detector == nil || cfg.Adapters == nil {
		return nil, errors.New("replay needs runner, detector and adapters")
	}
	engine, err := consensus.New(cfg.Consensus)
	if err != nil {
		return nil, err
	}

	bars = bars[:r.End]
	h := &history{bars: bars}
	adapters := cfg.Adapters(h)

	var (
		store     *risk.MemoryStateStore
		validator *risk.Validator
		barTime   time.Time
	)
	if cfg.Risk != nil {
		store = risk.NewMemoryStateStore(risk.State{
			Equity:      cfg.Risk.InitialEquity,
			BuyingPower: cfg.Risk.InitialEquity,
		})
		validator = risk.NewValidator(risk.Options{
			Store:     store,
			Limits:    cfg.Risk.Limits,
			Threshold: cfg.Consensus.Threshold,
			Group:     cfg.Risk.Group,
			Now:       func() time.Time { return barTime },
			Logger:    cfg.Logger,
		})
	}

	res := &ReplayResult{Skips: make(map[consensus.SkipReason]int)}
	for i := r.Start; i < r.End; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h.end = i + 1
		bar := bars[i]
		res.Evaluated++

		var sources []*domain.SourceSignal
		for _, a := range adapters {
			s, err := a.Fetch(ctx, cfg.Symbol, adapterTimeout)
			if err != nil {
				continue
			}
			sources = append(sources, s)
		}

		out, err := engine.Evaluate(consensus.Input{
			Symbol:  cfg.Symbol,
			Sources: sources,
			Regime:  cfg.Detector.Detect(bars[:i+1]),
			Price:   bar.Close,
			AsOf:    bar.TimestampMs,
		})
		if err != nil {
			return nil, fmt.Errorf("consensus at %d: %w", bar.TimestampMs, err)
		}
		if out.Signal == nil {
			res.Skips[out.Skip]++
			continue
		}
		sig := out.Signal

		sizePct := 0.0
		if validator != nil {
			barTime = time.UnixMilli(bar.TimestampMs)
			d, err := validator.Evaluate(ctx, sig, risk.Proposal{SizePct: cfg.Risk.SizePct})
			if err != nil {
				return nil, err
			}
			if !d.Allowed() {
				res.RiskRejected++
				continue
			}
			sizePct = risk.ApprovedSizePct(d)
		}

		trade, err := cfg.Runner.Run(sig, bars, i)
		if errors.Is(err, simulation.ErrEntryOutOfRange) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("simulate %s: %w", sig.ID, err)
		}
		res.Signals = append(res.Signals, sig)
		res.Trades = append(res.Trades, trade)

		if store != nil {
			st, err := store.Snapshot(ctx)
			if err != nil {
				return nil, err
			}
			pnl := trade.NetReturn * st.Equity * sizePct / 100
			if _, err := store.AddRealizedPnL(ctx, risk.DayKey(time.UnixMilli(trade.ExitTimeMs)), pnl); err != nil {
				return nil, err
			}
			if _, err := store.AdjustBuyingPower(ctx, pnl); err != nil {
				return nil, err
			}
		}
		i = trade.ExitIndex
	}

	cfg.Logger.Debug().
		Str("symbol", cfg.Symbol).
		Int("evaluated", res.Evaluated).
		Int("signals", len(res.Signals)).
		Int("risk_rejected", res.RiskRejected).
		Msg("replay finished")
	return res, nil
}
