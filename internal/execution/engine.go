package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-signal-pipeline/internal/alert"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/risk"
	"trade-signal-pipeline/internal/storage"
)

// Engine errors
var (
	ErrNotApproved = errors.New("risk decision does not allow execution")
	errFillTimeout = errors.New("fill timeout")
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Broker    Broker
	Events    storage.ExecutionEventStore
	Positions storage.PositionStore
	Risk      risk.StateStore
	Sizer     *Sizer
	Retry     RetryPolicy

	OrderType      domain.OrderType
	LimitOffsetPct float64 // percent away from the reference price
	FillTimeout    time.Duration
	PollInterval   time.Duration

	Alerts alert.Publisher
	Logger zerolog.Logger
	Now    func() time.Time

	// Sleep waits between retries and polls. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnSubmit is called once per order after its final submit attempt.
	OnSubmit func(purpose domain.OrderPurpose, attempts int, err error)
}

// Engine drives one approved signal through sizing, submission, fill and
// bracket placement. Every state transition is persisted.
type Engine struct {
	broker         Broker
	events         storage.ExecutionEventStore
	positions      storage.PositionStore
	risk           risk.StateStore
	sizer          *Sizer
	retry          RetryPolicy
	orderType      domain.OrderType
	limitOffsetPct float64
	fillTimeout    time.Duration
	pollInterval   time.Duration
	alerts         alert.Publisher
	log            zerolog.Logger
	now            func() time.Time
	sleep          sleepFunc
	onSubmit       func(domain.OrderPurpose, int, error)
}

// NewEngine creates an execution engine.
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		broker:         opts.Broker,
		events:         opts.Events,
		positions:      opts.Positions,
		risk:           opts.Risk,
		sizer:          opts.Sizer,
		retry:          opts.Retry,
		orderType:      opts.OrderType,
		limitOffsetPct: opts.LimitOffsetPct,
		fillTimeout:    opts.FillTimeout,
		pollInterval:   opts.PollInterval,
		alerts:         opts.Alerts,
		log:            opts.Logger,
		now:            opts.Now,
		sleep:          opts.Sleep,
		onSubmit:       opts.OnSubmit,
	}
	if e.retry.MaxAttempts == 0 {
		e.retry = DefaultRetryPolicy()
	}
	if e.orderType == "" {
		e.orderType = domain.OrderMarket
	}
	if e.fillTimeout <= 0 {
		e.fillTimeout = 30 * time.Second
	}
	if e.pollInterval <= 0 {
		e.pollInterval = time.Second
	}
	if e.alerts == nil {
		e.alerts = alert.Discard
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if e.onSubmit == nil {
		e.onSubmit = func(domain.OrderPurpose, int, error) {}
	}
	return e
}

// Result is the outcome of executing one signal.
type Result struct {
	SignalID  string
	State     domain.ExecutionState
	OrderID   string
	Quantity  float64
	FillPrice float64
	Attempts  int
	Reason    string
	Position  *domain.Position
}

// Execute runs the lifecycle PENDING → SIZED → SUBMITTED → FILLED or
// REJECTED_BY_BROKER. Broker failures end in REJECTED_BY_BROKER with a nil
// error; a non-nil error means the execution state could not be recorded.
func (e *Engine) Execute(ctx context.Context, sig *domain.Signal, decision *domain.RiskDecision) (*Result, error) {
	if decision == nil || !decision.Allowed() || decision.SignalID != sig.ID {
		return nil, ErrNotApproved
	}
	log := e.log.With().Str("signal_id", sig.ID).Str("symbol", sig.Symbol).Logger()
	res := &Result{SignalID: sig.ID, State: domain.ExecPending}

	if err := e.record(ctx, sig.ID, domain.ExecPending, res); err != nil {
		return nil, err
	}

	state, err := e.risk.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read capital: %w", err)
	}
	qty, err := e.sizer.Quantity(state.Equity, risk.ApprovedSizePct(decision), sig.EntryPrice)
	if err != nil {
		return e.reject(ctx, sig, res, fmt.Sprintf("sizing: %v", err))
	}
	res.Quantity = qty.InexactFloat64()
	res.State = domain.ExecSized
	if err := e.record(ctx, sig.ID, domain.ExecSized, res); err != nil {
		return nil, err
	}

	order := e.entryOrder(sig, res.Quantity)
	var orderID string
	attempts, err := e.retry.Do(ctx, e.sleep, func(ctx context.Context) error {
		id, err := e.broker.Submit(ctx, order)
		if err == nil {
			orderID = id
		}
		return err
	})
	res.Attempts = attempts
	e.onSubmit(order.Purpose, attempts, err)
	if err != nil {
		log.Warn().Err(err).Int("attempt", attempts).Msg("entry order failed")
		return e.reject(ctx, sig, res, fmt.Sprintf("submit: %v", err))
	}
	res.OrderID = orderID
	res.State = domain.ExecSubmitted
	if err := e.record(ctx, sig.ID, domain.ExecSubmitted, res); err != nil {
		return nil, err
	}

	status, err := e.awaitFill(ctx, orderID)
	if err != nil {
		return e.reject(ctx, sig, res, err.Error())
	}
	if status.State != domain.OrderStateFilled {
		reason := fmt.Sprintf("order %s: %s", status.State, status.Reason)
		return e.reject(ctx, sig, res, reason)
	}

	res.FillPrice = status.AvgPrice
	if status.FilledQty > 0 {
		res.Quantity = status.FilledQty
	}
	res.State = domain.ExecFilled
	if err := e.record(ctx, sig.ID, domain.ExecFilled, res); err != nil {
		return nil, err
	}

	pos, err := e.openPosition(ctx, sig, res)
	if err != nil {
		return nil, err
	}
	res.Position = pos
	log.Info().
		Str("position_id", pos.PositionID).
		Float64("quantity", pos.Quantity).
		Float64("price", pos.EntryPrice).
		Msg("position opened")

	e.placeBrackets(ctx, pos)
	return res, nil
}

func (e *Engine) entryOrder(sig *domain.Signal, qty float64) domain.Order {
	o := domain.Order{
		ClientOrderID: sig.ID + "-entry",
		Symbol:        sig.Symbol,
		Side:          domain.EntrySide(sig.Action),
		Type:          e.orderType,
		Purpose:       domain.PurposeEntry,
		Quantity:      qty,
	}
	if e.orderType == domain.OrderLimit {
		o.LimitPrice = LimitPrice(o.Side, sig.EntryPrice, e.limitOffsetPct)
	}
	return o
}

// LimitPrice offsets price in the direction that improves the chance of a
// fill: buys above the reference, sells below it.
func LimitPrice(side domain.OrderSide, price, offsetPct float64) float64 {
	p := decimal.NewFromFloat(price)
	off := decimal.NewFromFloat(offsetPct).Div(hundred)
	if side == domain.OrderSell {
		return p.Mul(one.Sub(off)).InexactFloat64()
	}
	return p.Mul(one.Add(off)).InexactFloat64()
}

// awaitFill polls until the order is terminal or the fill timeout passes.
// On timeout the order is cancelled and checked once more, since it may
// have filled in the meantime.
func (e *Engine) awaitFill(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	pctx, cancel := context.WithTimeout(ctx, e.fillTimeout)
	defer cancel()

	for {
		st, err := e.broker.Status(pctx, orderID)
		switch {
		case err == nil && st.State.IsTerminal():
			return st, nil
		case err != nil && !IsTransient(err):
			return nil, fmt.Errorf("status: %w", err)
		}
		if serr := e.sleep(pctx, e.pollInterval); serr != nil {
			break
		}
	}

	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), e.pollInterval+5*time.Second)
	defer ccancel()
	if err := e.broker.Cancel(cctx, orderID); err != nil {
		e.log.Warn().Err(err).Str("order_id", orderID).Msg("cancel after fill timeout failed")
	}
	if st, err := e.broker.Status(cctx, orderID); err == nil && st.State == domain.OrderStateFilled {
		return st, nil
	}
	return nil, errFillTimeout
}

func (e *Engine) openPosition(ctx context.Context, sig *domain.Signal, res *Result) (*domain.Position, error) {
	pos := &domain.Position{
		PositionID:  uuid.NewString(),
		SignalID:    sig.ID,
		Symbol:      sig.Symbol,
		Side:        domain.SideFor(sig.Action),
		Quantity:    res.Quantity,
		EntryPrice:  res.FillPrice,
		StopPrice:   sig.StopPrice,
		TargetPrice: sig.TargetPrice,
		Status:      domain.PositionOpen,
		OpenedAt:    e.now().UnixMilli(),
	}
	if err := e.positions.Insert(ctx, pos); err != nil {
		return nil, fmt.Errorf("insert position: %w", err)
	}

	notional := decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(pos.EntryPrice))
	if _, err := e.risk.AdjustBuyingPower(ctx, notional.Neg().InexactFloat64()); err != nil {
		return nil, fmt.Errorf("adjust buying power: %w", err)
	}
	if _, err := risk.SyncOpenPositions(ctx, e.risk, e.positions); err != nil {
		return nil, err
	}
	return pos, nil
}

// placeBrackets submits the protective stop and the take-profit. Failure
// is alerted but not returned: the monitor still enforces both levels.
func (e *Engine) placeBrackets(ctx context.Context, pos *domain.Position) {
	side := domain.ExitSide(pos.Side)
	orders := []domain.Order{
		{
			ClientOrderID: pos.PositionID + "-sl",
			Symbol:        pos.Symbol,
			Side:          side,
			Type:          domain.OrderStop,
			Purpose:       domain.PurposeStopLoss,
			Quantity:      pos.Quantity,
			StopPrice:     pos.StopPrice,
		},
		{
			ClientOrderID: pos.PositionID + "-tp",
			Symbol:        pos.Symbol,
			Side:          side,
			Type:          domain.OrderLimit,
			Purpose:       domain.PurposeTakeProfit,
			Quantity:      pos.Quantity,
			LimitPrice:    pos.TargetPrice,
		},
	}
	for _, o := range orders {
		attempts, err := e.retry.Do(ctx, e.sleep, func(ctx context.Context) error {
			_, err := e.broker.Submit(ctx, o)
			return err
		})
		e.onSubmit(o.Purpose, attempts, err)
		if err == nil {
			continue
		}
		e.log.Error().Err(err).
			Str("position_id", pos.PositionID).
			Str("purpose", string(o.Purpose)).
			Int("attempt", attempts).
			Msg("bracket order failed")
		e.alerts.Publish(alert.Alert{
			Kind:       alert.KindBracketFailed,
			Severity:   alert.SeverityCritical,
			Symbol:     pos.Symbol,
			SignalID:   pos.SignalID,
			PositionID: pos.PositionID,
			Message:    fmt.Sprintf("%s order failed after %d attempts: %v", o.Purpose, attempts, err),
			AtMs:       e.now().UnixMilli(),
		})
	}
}

func (e *Engine) reject(ctx context.Context, sig *domain.Signal, res *Result, reason string) (*Result, error) {
	res.State = domain.ExecRejectedByBroker
	res.Reason = reason
	if err := e.record(ctx, sig.ID, domain.ExecRejectedByBroker, res); err != nil {
		return nil, err
	}
	e.alerts.Publish(alert.Alert{
		Kind:     alert.KindBrokerRejected,
		Severity: alert.SeverityCritical,
		Symbol:   sig.Symbol,
		SignalID: sig.ID,
		Message:  reason,
		AtMs:     e.now().UnixMilli(),
	})
	return res, nil
}

func (e *Engine) record(ctx context.Context, signalID string, state domain.ExecutionState, res *Result) error {
	ev := &domain.ExecutionEvent{
		SignalID: signalID,
		State:    state,
		OrderID:  res.OrderID,
		Quantity: res.Quantity,
		Price:    res.FillPrice,
		Attempts: res.Attempts,
		Reason:   res.Reason,
		At:       e.now().UnixMilli(),
	}
	if err := e.events.Insert(context.WithoutCancel(ctx), ev); err != nil {
		return fmt.Errorf("record %s: %w", state, err)
	}
	return nil
}
