package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"trade-signal-pipeline/internal/alert"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/execution"
	"trade-signal-pipeline/internal/risk"
	"trade-signal-pipeline/internal/storage"
	"trade-signal-pipeline/internal/strategy"
)

// ErrNotOpen is returned by CloseManual for a position that is already closed.
var ErrNotOpen = errors.New("position is not open")

// Options configures a Monitor.
type Options struct {
	Positions storage.PositionStore
	Risk      risk.StateStore
	Broker    execution.Broker
	Prices    PriceFeed
	Retry     execution.RetryPolicy

	Interval    time.Duration // default 30s
	Concurrency int           // default 8
	MaxHold     time.Duration // 0 disables time exits

	Alerts alert.Publisher
	Logger zerolog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error

	// OnClose is called after each successful close.
	OnClose func(p *domain.Position)
}

// Monitor watches OPEN positions and closes them at stop, target or max
// hold. All writes for one position happen under that position's lock.
type Monitor struct {
	positions   storage.PositionStore
	risk        risk.StateStore
	broker      execution.Broker
	prices      PriceFeed
	retry       execution.RetryPolicy
	interval    time.Duration
	concurrency int
	maxHold     time.Duration
	alerts      alert.Publisher
	log         zerolog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	onClose     func(p *domain.Position)

	locks *keyedMutex
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	m := &Monitor{
		positions:   opts.Positions,
		risk:        opts.Risk,
		broker:      opts.Broker,
		prices:      opts.Prices,
		retry:       opts.Retry,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		maxHold:     opts.MaxHold,
		alerts:      opts.Alerts,
		log:         opts.Logger,
		now:         opts.Now,
		sleep:       opts.Sleep,
		onClose:     opts.OnClose,
		locks:       newKeyedMutex(),
	}
	if m.retry.MaxAttempts == 0 {
		m.retry = execution.DefaultRetryPolicy()
	}
	if m.interval <= 0 {
		m.interval = 30 * time.Second
	}
	if m.concurrency <= 0 {
		m.concurrency = 8
	}
	if m.alerts == nil {
		m.alerts = alert.Discard
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// TickResult summarizes one pass over the open positions.
type TickResult struct {
	Checked       int
	Closed        int
	Failed        int
	UnrealizedPnL float64
}

// Run ticks every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Msg("position monitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := m.Tick(ctx)
			if err != nil {
				m.log.Error().Err(err).Msg("monitor tick failed")
				continue
			}
			if res.Checked > 0 {
				m.log.Debug().
					Int("checked", res.Checked).
					Int("closed", res.Closed).
					Int("failed", res.Failed).
					Msg("monitor tick")
			}
		}
	}
}

// Tick checks every OPEN position once. Failures on one position are
// logged and counted and do not stop the others.
func (m *Monitor) Tick(ctx context.Context) (TickResult, error) {
	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return TickResult{}, fmt.Errorf("list open positions: %w", err)
	}

	var (
		mu  sync.Mutex
		res = TickResult{Checked: len(open)}
	)
	unrealized := decimal.Zero

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, p := range open {
		g.Go(func() error {
			closed, pnl, err := m.check(gctx, p.PositionID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				m.log.Warn().Err(err).Str("position_id", p.PositionID).Str("symbol", p.Symbol).Msg("position check failed")
			case closed:
				res.Closed++
			default:
				unrealized = unrealized.Add(pnl)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.UnrealizedPnL = unrealized.InexactFloat64()
	if err := m.risk.SetUnrealizedPnL(ctx, res.UnrealizedPnL); err != nil {
		return res, fmt.Errorf("set unrealized pnl: %w", err)
	}
	if _, err := risk.SyncOpenPositions(ctx, m.risk, m.positions); err != nil {
		return res, err
	}
	return res, nil
}

// check evaluates one position under its lock. It returns whether the
// position was closed, or its mark-to-market pnl if it stays open.
func (m *Monitor) check(ctx context.Context, positionID string) (bool, decimal.Decimal, error) {
	unlock := m.locks.Lock(positionID)
	defer unlock()

	p, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("reload position: %w", err)
	}
	if p.Status != domain.PositionOpen {
		return true, decimal.Zero, nil
	}

	price, err := m.prices.CurrentPrice(ctx, p.Symbol)
	if err != nil {
		return false, decimal.Zero, fmt.Errorf("price: %w", err)
	}

	reason, hit := strategy.CheckPrice(p.Side, p.StopPrice, p.TargetPrice, price)
	if !hit && m.maxHold > 0 && m.now().UnixMilli()-p.OpenedAt >= m.maxHold.Milliseconds() {
		reason, hit = strategy.ExitMaxHold, true
	}
	if !hit {
		return false, pnl(p, price), nil
	}

	if _, err := m.closeLocked(ctx, p, reason.PositionStatus(), price); err != nil {
		return false, pnl(p, price), err
	}
	return true, decimal.Zero, nil
}

// CloseManual closes an OPEN position as CLOSED_MANUAL. A price <= 0 means
// use the current feed price.
func (m *Monitor) CloseManual(ctx context.Context, positionID string, price float64) (*domain.Position, error) {
	unlock := m.locks.Lock(positionID)
	defer unlock()

	p, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PositionOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotOpen, positionID, p.Status)
	}
	if price <= 0 {
		if price, err = m.prices.CurrentPrice(ctx, p.Symbol); err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
	}
	return m.closeLocked(ctx, p, domain.PositionClosedManual, price)
}

// closeLocked sends the closing order and writes the close. The caller
// holds the position lock.
func (m *Monitor) closeLocked(ctx context.Context, p *domain.Position, status domain.PositionStatus, price float64) (*domain.Position, error) {
	log := m.log.With().Str("position_id", p.PositionID).Str("symbol", p.Symbol).Logger()

	order := domain.Order{
		ClientOrderID: p.PositionID + "-close",
		Symbol:        p.Symbol,
		Side:          domain.ExitSide(p.Side),
		Type:          domain.OrderMarket,
		Purpose:       domain.PurposeClose,
		Quantity:      p.Quantity,
	}
	var orderID string
	attempts, err := m.retry.Do(ctx, m.sleep, func(ctx context.Context) error {
		id, err := m.broker.Submit(ctx, order)
		if err == nil {
			orderID = id
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Int("attempt", attempts).Msg("close order failed")
		m.alerts.Publish(alert.Alert{
			Kind:       alert.KindCloseFailed,
			Severity:   alert.SeverityCritical,
			Symbol:     p.Symbol,
			SignalID:   p.SignalID,
			PositionID: p.PositionID,
			Message:    fmt.Sprintf("close as %s failed after %d attempts: %v", status, attempts, err),
			AtMs:       m.now().UnixMilli(),
		})
		return nil, fmt.Errorf("submit close: %w", err)
	}

	exit := price
	if st, err := m.broker.Status(ctx, orderID); err == nil && st.State == domain.OrderStateFilled && st.AvgPrice > 0 {
		exit = st.AvgPrice
	}

	realized := pnl(p, exit)
	closedAt := m.now().UnixMilli()
	err = m.positions.Close(ctx, storage.PositionClose{
		PositionID:  p.PositionID,
		Status:      status,
		ExitPrice:   exit,
		RealizedPnL: realized.InexactFloat64(),
		ClosedAt:    closedAt,
	})
	if errors.Is(err, storage.ErrConflict) {
		log.Warn().Msg("position already closed by another writer")
		return nil, fmt.Errorf("%w: %s", ErrNotOpen, p.PositionID)
	}
	if err != nil {
		return nil, fmt.Errorf("close position: %w", err)
	}

	day := risk.DayKey(time.UnixMilli(closedAt))
	if _, err := m.risk.AddRealizedPnL(ctx, day, realized.InexactFloat64()); err != nil {
		return nil, fmt.Errorf("record realized pnl: %w", err)
	}
	released := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(p.EntryPrice)).Add(realized)
	if _, err := m.risk.AdjustBuyingPower(ctx, released.InexactFloat64()); err != nil {
		return nil, fmt.Errorf("release buying power: %w", err)
	}

	closed, err := m.positions.GetByID(ctx, p.PositionID)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("status", string(status)).
		Float64("exit_price", exit).
		Float64("pnl", realized.InexactFloat64()).
		Msg("position closed")
	m.alerts.Publish(alert.Alert{
		Kind:       alert.KindPositionClosed,
		Severity:   alert.SeverityInfo,
		Symbol:     p.Symbol,
		SignalID:   p.SignalID,
		PositionID: p.PositionID,
		Message:    fmt.Sprintf("%s at %s, pnl %s", status, formatPrice(exit), realized.StringFixed(2)),
		AtMs:       closedAt,
	})
	if m.onClose != nil {
		m.onClose(closed)
	}
	return closed, nil
}

func pnl(p *domain.Position, price float64) decimal.Decimal {
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.EntryPrice))
	if p.Side == domain.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(p.Quantity))
}

func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).String()
}
