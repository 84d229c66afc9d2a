// Package pipeline runs the per-symbol signal cycle:
// collect → regime → consensus → persist signal → size → risk →
// persist decision → execute.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-pipeline/internal/alert"
	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/consensus"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/execution"
	"trade-signal-pipeline/internal/regime"
	"trade-signal-pipeline/internal/risk"
	"trade-signal-pipeline/internal/storage"
)

// ErrSystem marks a failure that aborts the cycle for a symbol: storage,
// risk state or configuration trouble rather than a market outcome.
var ErrSystem = errors.New("system error")

// Outcome summarizes how a cycle ended.
type Outcome string

const (
	OutcomeNoSignal       Outcome = "no_signal"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeRiskRejected   Outcome = "risk_rejected"
	OutcomeExecuted       Outcome = "executed"
	OutcomeBrokerRejected Outcome = "broker_rejected"
	OutcomeError          Outcome = "error"
)

// SkipNoPrice is reported when sources responded but no bar gives a
// reference price.
const SkipNoPrice consensus.SkipReason = "no_price"

// Collector gathers source opinions for a symbol.
type Collector interface {
	Collect(ctx context.Context, symbol string) []*domain.SourceSignal
}

// Executor places orders for an approved signal.
type Executor interface {
	Execute(ctx context.Context, sig *domain.Signal, decision *domain.RiskDecision) (*execution.Result, error)
}

// Recorder observes cycle outcomes, e.g. for metrics.
type Recorder interface {
	CycleCompleted(symbol string, outcome Outcome, elapsed time.Duration)
	SignalEmitted(sig *domain.Signal)
	RiskDecided(d *domain.RiskDecision)
}

// Options configures a Pipeline.
type Options struct {
	Config    *config.Holder
	Bars      storage.BarStore
	Collector Collector
	Signals   storage.SignalStore
	Decisions storage.RiskDecisionStore
	Risk      risk.StateStore
	Executor  Executor

	Alerts   alert.Publisher
	Recorder Recorder
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Result is the outcome of one cycle for one symbol.
type Result struct {
	Symbol    string               `json:"symbol"`
	Outcome   Outcome              `json:"outcome"`
	Regime    domain.Regime        `json:"regime,omitempty"`
	Sources   int                  `json:"sources"`
	Skip      consensus.SkipReason `json:"skip,omitempty"`
	Signal    *domain.Signal       `json:"signal,omitempty"`
	Decision  *domain.RiskDecision `json:"decision,omitempty"`
	Execution *execution.Result    `json:"execution,omitempty"`
	Error     string               `json:"error,omitempty"`
	AtMs      int64                `json:"at_ms"`
}

// components are the parameter-bound parts rebuilt when the config
// snapshot version changes.
type components struct {
	version   int64
	consensus *consensus.Engine
	detector  *regime.ThresholdDetector
	validator *risk.Validator
	sizer     *execution.Sizer
	lookback  int
}

// Pipeline runs cycles. Cycles for different symbols may run concurrently;
// risk and execution for one signal always run sequentially.
type Pipeline struct {
	cfg       *config.Holder
	bars      storage.BarStore
	collector Collector
	signals   storage.SignalStore
	decisions storage.RiskDecisionStore
	risk      risk.StateStore
	executor  Executor
	alerts    alert.Publisher
	recorder  Recorder
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	built *components

	status *statusTracker
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		cfg:       opts.Config,
		bars:      opts.Bars,
		collector: opts.Collector,
		signals:   opts.Signals,
		decisions: opts.Decisions,
		risk:      opts.Risk,
		executor:  opts.Executor,
		alerts:    opts.Alerts,
		recorder:  opts.Recorder,
		log:       opts.Logger,
		now:       opts.Now,
		status:    newStatusTracker(),
	}
	if p.alerts == nil {
		p.alerts = alert.Discard
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// components returns the parts for the current snapshot, rebuilding them
// after a reload.
func (p *Pipeline) components(snap *config.Snapshot) (*components, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.built != nil && p.built.version == snap.Version {
		return p.built, nil
	}

	c := snap.Config
	engine, err := consensus.New(consensus.FromConfig(c.Consensus))
	if err != nil {
		return nil, fmt.Errorf("consensus params: %w", err)
	}
	built := &components{
		version:   snap.Version,
		consensus: engine,
		detector:  regime.NewThresholdDetector(regime.ParamsFromConfig(c.Regime)),
		validator: risk.NewValidator(risk.Options{
			Store:     p.risk,
			Limits:    risk.LimitsFromConfig(c.Risk),
			Threshold: engine.Params().Threshold,
			Group:     c.CorrelationGroup,
			Now:       p.now,
			Logger:    p.log,
		}),
		sizer:    execution.NewSizer(c.Execution, c.Risk),
		lookback: max(c.Sources.BarLookback, c.Regime.Window),
	}
	p.built = built
	p.log.Info().Int64("config_version", snap.Version).Msg("pipeline components rebuilt")
	return built, nil
}

// RunSymbol runs one full cycle for symbol. A returned error wraps
// ErrSystem; every market outcome, including rejections, is reported in
// the Result with a nil error.
func (p *Pipeline) RunSymbol(ctx context.Context, symbol string) (*Result, error) {
	start := p.now()
	res, err := p.run(ctx, symbol, start)
	if err != nil {
		res.Outcome = OutcomeError
		res.Error = err.Error()
		p.log.Error().Err(err).Str("symbol", symbol).Msg("cycle aborted")
		p.alerts.Publish(alert.Alert{
			Kind:     alert.KindSystemError,
			Severity: alert.SeverityCritical,
			Symbol:   symbol,
			SignalID: signalID(res.Signal),
			Message:  err.Error(),
			AtMs:     p.now().UnixMilli(),
		})
	}
	p.status.record(res)
	p.recorder.CycleCompleted(symbol, res.Outcome, p.now().Sub(start))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, symbol string, start time.Time) (*Result, error) {
	res := &Result{Symbol: symbol, AtMs: start.UnixMilli()}
	log := p.log.With().Str("symbol", symbol).Logger()

	snap := p.cfg.Current()
	comp, err := p.components(snap)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrSystem, err)
	}

	bars, err := p.bars.GetRecent(ctx, symbol, comp.lookback)
	if err != nil {
		return res, fmt.Errorf("%w: load bars: %v", ErrSystem, err)
	}

	reg, feats := comp.detector.Classify(bars)
	res.Regime = reg

	sources := p.collector.Collect(ctx, symbol)
	res.Sources = len(sources)

	var price float64
	if len(bars) > 0 {
		price = bars[len(bars)-1].Close
	}
	if len(sources) > 0 && price <= 0 {
		res.Outcome = OutcomeNoSignal
		res.Skip = SkipNoPrice
		log.Warn().Int("sources", len(sources)).Msg("no reference price, skipping consensus")
		return res, nil
	}

	cr, err := comp.consensus.Evaluate(consensus.Input{
		Symbol:  symbol,
		Sources: sources,
		Regime:  res.Regime,
		Price:   price,
		AsOf:    start.UnixMilli(),
	})
	if err != nil {
		return res, fmt.Errorf("%w: consensus: %v", ErrSystem, err)
	}
	if cr.Signal == nil {
		res.Outcome = OutcomeNoSignal
		res.Skip = cr.Skip
		log.Debug().
			Str("skip", string(cr.Skip)).
			Float64("score", cr.Score).
			Float64("confidence", cr.Confidence).
			Msg("no signal")
		return res, nil
	}

	sig := cr.Signal
	res.Signal = sig
	log = log.With().Str("signal_id", sig.ID).Logger()

	if err := p.signals.Insert(ctx, sig); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			res.Outcome = OutcomeDuplicate
			log.Info().Msg("signal already recorded")
			return res, nil
		}
		// The signal exists only in this log line and the alert; both
		// carry enough to reconstruct it.
		log.Error().Err(err).Interface("signal", sig).Msg("signal not persisted")
		return res, fmt.Errorf("%w: persist signal: %v", ErrSystem, err)
	}
	p.recorder.SignalEmitted(sig)
	p.alerts.Publish(alert.Alert{
		Kind:     alert.KindSignal,
		Severity: alert.SeverityInfo,
		Symbol:   symbol,
		SignalID: sig.ID,
		Message: fmt.Sprintf("%s %s at %.4f confidence %.1f regime %s",
			sig.Action, symbol, sig.EntryPrice, sig.Confidence, sig.Regime),
		AtMs: sig.CreatedAt,
	})
	log.Info().
		Str("action", string(sig.Action)).
		Float64("confidence", sig.Confidence).
		Str("regime", string(sig.Regime)).
		Msg("signal emitted")

	sizePct := comp.sizer.SizePct(sig.Confidence, feats.Volatility)
	decision, err := comp.validator.Evaluate(ctx, sig, risk.Proposal{SizePct: sizePct.InexactFloat64()})
	if err != nil {
		return res, fmt.Errorf("%w: risk: %v", ErrSystem, err)
	}
	res.Decision = decision
	if err := p.decisions.Insert(ctx, decision); err != nil {
		return res, fmt.Errorf("%w: persist decision: %v", ErrSystem, err)
	}
	p.recorder.RiskDecided(decision)

	if !decision.Allowed() {
		res.Outcome = OutcomeRiskRejected
		return res, nil
	}

	exec, err := p.executor.Execute(ctx, sig, decision)
	if err != nil {
		return res, fmt.Errorf("%w: execute: %v", ErrSystem, err)
	}
	res.Execution = exec
	if exec.State == domain.ExecFilled {
		res.Outcome = OutcomeExecuted
	} else {
		res.Outcome = OutcomeBrokerRejected
	}
	return res, nil
}

// Status returns the last cycle results and risk counters.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	st := p.status.snapshot()
	st.ConfigVersion = p.cfg.Current().Version
	if p.risk != nil {
		rs, err := p.risk.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("risk snapshot: %w", err)
		}
		st.Risk = &rs
	}
	return st, nil
}

func signalID(s *domain.Signal) string {
	if s == nil {
		return ""
	}
	return s.ID
}

type nopRecorder struct{}

func (nopRecorder) CycleCompleted(string, Outcome, time.Duration) {}
func (nopRecorder) SignalEmitted(*domain.Signal)                  {}
func (nopRecorder) RiskDecided(*domain.RiskDecision)              {}
