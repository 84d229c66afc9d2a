// Package orchestrator schedules pipeline cycles across symbols.
// Cycles run on a fixed interval and on manual triggers; symbols run
// concurrently up to a configured limit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/pipeline"
)

// ErrUnknownSymbol is returned by Run for a symbol outside the configured set.
var ErrUnknownSymbol = errors.New("symbol not configured")

// Cycler runs one cycle for one symbol.
type Cycler interface {
	RunSymbol(ctx context.Context, symbol string) (*pipeline.Result, error)
}

// Orchestrator coordinates cycle execution across symbols.
type Orchestrator struct {
	cycler Cycler
	cfg    *config.Holder
	log    zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Options for creating Orchestrator.
type Options struct {
	Cycler Cycler
	Config *config.Holder
	Logger zerolog.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		cycler:   opts.Cycler,
		cfg:      opts.Config,
		log:      opts.Logger,
		inFlight: make(map[string]struct{}),
	}
}

// RunResult contains results from one orchestrated run.
type RunResult struct {
	Results []*pipeline.Result `json:"results"` // in symbol order
	Busy    []string           `json:"busy,omitempty"`
	Errors  []string           `json:"errors,omitempty"`
}

// Run executes one cycle for each of symbols, or for every configured
// symbol when symbols is empty. A symbol already mid-cycle is reported
// as busy instead of running twice. Per-symbol failures are collected
// in the result; only an unknown symbol fails the call.
func (o *Orchestrator) Run(ctx context.Context, symbols []string) (*RunResult, error) {
	cfg := o.cfg.Current().Config
	if len(symbols) == 0 {
		symbols = cfg.Symbols
	}
	known := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		known[s] = struct{}{}
	}
	for _, s := range symbols {
		if _, ok := known[s]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, s)
		}
	}

	result := &RunResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Scheduler.MaxConcurrentSymbols)
	for _, symbol := range dedupe(symbols) {
		if !o.acquire(symbol) {
			result.Busy = append(result.Busy, symbol)
			continue
		}
		g.Go(func() error {
			defer o.release(symbol)
			res, err := o.cycler.RunSymbol(gctx, symbol)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				result.Results = append(result.Results, res)
			}
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", symbol, err))
			}
			// A failed symbol never cancels the others.
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Results, func(i, j int) bool { return result.Results[i].Symbol < result.Results[j].Symbol })
	sort.Strings(result.Errors)
	o.log.Info().
		Int("symbols", len(result.Results)).
		Int("busy", len(result.Busy)).
		Int("errors", len(result.Errors)).
		Msg("cycle completed")
	return result, nil
}

// Start runs a cycle for all configured symbols immediately and then on
// every scheduler interval until ctx is cancelled. The interval is
// re-read from the config after each run, so a reload takes effect on
// the next tick.
func (o *Orchestrator) Start(ctx context.Context) error {
	for {
		if _, err := o.Run(ctx, nil); err != nil {
			o.log.Error().Err(err).Msg("scheduled cycle failed")
		}

		timer := time.NewTimer(o.cfg.Current().Config.Scheduler.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) acquire(symbol string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[symbol]; busy {
		return false
	}
	o.inFlight[symbol] = struct{}{}
	return true
}

func (o *Orchestrator) release(symbol string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, symbol)
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
