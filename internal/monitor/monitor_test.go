package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"trade-signal-pipeline/internal/alert"
	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/execution"
	"trade-signal-pipeline/internal/risk"
	"trade-signal-pipeline/internal/storage/memory"
)

type staticFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func (f *staticFeed) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *staticFeed) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, ErrNoPrice
	}
	return p, nil
}

type closeBroker struct {
	mu        sync.Mutex
	submitErr error
	fill      float64 // 0 means report the order unfilled
	orders    []domain.Order
}

func (b *closeBroker) Submit(_ context.Context, o domain.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.orders = append(b.orders, o)
	return fmt.Sprintf("o-%d", len(b.orders)), nil
}

func (b *closeBroker) Status(_ context.Context, id string) (*domain.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fill == 0 {
		return &domain.OrderStatus{OrderID: id, State: domain.OrderStateNew}, nil
	}
	return &domain.OrderStatus{OrderID: id, State: domain.OrderStateFilled, AvgPrice: b.fill}, nil
}

func (b *closeBroker) Cancel(context.Context, string) error { return nil }

func (b *closeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

type alertLog struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (a *alertLog) Publish(al alert.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
}

func (a *alertLog) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.alerts))
	for i, al := range a.alerts {
		out[i] = al.Kind
	}
	return out
}

type fixture struct {
	positions *memory.PositionStore
	state     *risk.MemoryStateStore
	broker    *closeBroker
	feed      *staticFeed
	alerts    *alertLog
	now       time.Time
	mon       *Monitor
}

func newFixture(t *testing.T, maxHold time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		positions: memory.NewPositionStore(),
		state:     risk.NewMemoryStateStore(risk.State{Equity: 10000, BuyingPower: 9000}),
		broker:    &closeBroker{},
		feed:      &staticFeed{prices: make(map[string]float64)},
		alerts:    &alertLog{},
		now:       time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
	}
	f.mon = New(Options{
		Positions: f.positions,
		Risk:      f.state,
		Broker:    f.broker,
		Prices:    f.feed,
		Retry:     execution.RetryPolicy{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 3},
		MaxHold:   maxHold,
		Alerts:    f.alerts,
		Now:       func() time.Time { return f.now },
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})
	return f
}

func (f *fixture) open(t *testing.T, id, symbol string, side domain.Side, entry, stop, target float64) {
	t.Helper()
	p := &domain.Position{
		PositionID:  id,
		SignalID:    "sig-" + id,
		Symbol:      symbol,
		Side:        side,
		Quantity:    10,
		EntryPrice:  entry,
		StopPrice:   stop,
		TargetPrice: target,
		Status:      domain.PositionOpen,
		OpenedAt:    f.now.Add(-time.Hour).UnixMilli(),
	}
	if err := f.positions.Insert(context.Background(), p); err != nil {
		t.Fatalf("insert position: %v", err)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestTick_ClosesAtStopAndTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.open(t, "long-stop", "AAPL", domain.SideLong, 100, 95, 110)
	f.open(t, "short-target", "MSFT", domain.SideShort, 200, 210, 180)
	f.feed.set("AAPL", 94)
	f.feed.set("MSFT", 179)

	res, err := f.mon.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Checked != 2 || res.Closed != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	stop, _ := f.positions.GetByID(ctx, "long-stop")
	if stop.Status != domain.PositionClosedStop {
		t.Errorf("long status = %s, want CLOSED_STOP", stop.Status)
	}
	if stop.RealizedPnL == nil || !approx(*stop.RealizedPnL, -60) {
		t.Errorf("long pnl = %v, want -60", stop.RealizedPnL)
	}
	if stop.ClosedAt == nil || *stop.ClosedAt != f.now.UnixMilli() {
		t.Errorf("long closed_at = %v", stop.ClosedAt)
	}

	target, _ := f.positions.GetByID(ctx, "short-target")
	if target.Status != domain.PositionClosedTarget {
		t.Errorf("short status = %s, want CLOSED_TARGET", target.Status)
	}
	if target.RealizedPnL == nil || !approx(*target.RealizedPnL, 210) {
		t.Errorf("short pnl = %v, want 210", target.RealizedPnL)
	}

	st, _ := f.state.Snapshot(ctx)
	if !approx(st.DailyRealizedPnL, 150) {
		t.Errorf("daily realized = %v, want 150", st.DailyRealizedPnL)
	}
	// 9000 + (1000 - 60) + (2000 + 210)
	if !approx(st.BuyingPower, 12150) {
		t.Errorf("buying power = %v, want 12150", st.BuyingPower)
	}
	if len(st.OpenPositions) != 0 {
		t.Errorf("open positions = %v, want none", st.OpenPositions)
	}

	for _, o := range f.broker.orders {
		if o.Type != domain.OrderMarket || o.Purpose != domain.PurposeClose {
			t.Errorf("close order = %+v", o)
		}
	}
	if f.broker.orders[0].Side == f.broker.orders[1].Side {
		t.Errorf("long and short closes used the same side")
	}
}

func TestTick_UsesBrokerFillPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.broker.fill = 93.5
	f.open(t, "p1", "AAPL", domain.SideLong, 100, 95, 110)
	f.feed.set("AAPL", 94)

	if _, err := f.mon.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	p, _ := f.positions.GetByID(ctx, "p1")
	if p.ExitPrice == nil || *p.ExitPrice != 93.5 {
		t.Errorf("exit price = %v, want 93.5", p.ExitPrice)
	}
	if !approx(*p.RealizedPnL, -65) {
		t.Errorf("pnl = %v, want -65", *p.RealizedPnL)
	}
}

func TestTick_InsideBracketStaysOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.open(t, "p1", "AAPL", domain.SideLong, 100, 95, 110)
	f.open(t, "p2", "MSFT", domain.SideShort, 200, 210, 180)
	f.feed.set("AAPL", 103)
	f.feed.set("MSFT", 202)

	res, err := f.mon.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Closed != 0 {
		t.Fatalf("closed = %d, want 0", res.Closed)
	}
	// 30 - 20
	if !approx(res.UnrealizedPnL, 10) {
		t.Errorf("unrealized = %v, want 10", res.UnrealizedPnL)
	}
	st, _ := f.state.Snapshot(ctx)
	if !approx(st.UnrealizedPnL, 10) {
		t.Errorf("state unrealized = %v, want 10", st.UnrealizedPnL)
	}
	if len(st.OpenPositions) != 2 {
		t.Errorf("open positions = %v", st.OpenPositions)
	}
	if f.broker.count() != 0 {
		t.Errorf("orders = %d, want 0", f.broker.count())
	}
}

func TestTick_MaxHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 30*time.Minute)
	f.open(t, "p1", "AAPL", domain.SideLong, 100, 95, 110)
	f.feed.set("AAPL", 101)

	if _, err := f.mon.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	p, _ := f.positions.GetByID(ctx, "p1")
	if p.Status != domain.PositionClosedManual {
		t.Errorf("status = %s, want CLOSED_MANUAL", p.Status)
	}
}

func TestTick_CloseFailureKeepsPositionOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.broker.submitErr = &execution.BrokerError{Code: "halted", Message: "symbol halted"}
	f.open(t, "p1", "AAPL", domain.SideLong, 100, 95, 110)
	f.feed.set("AAPL", 90)

	res, err := f.mon.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Failed != 1 || res.Closed != 0 {
		t.Fatalf("result = %+v", res)
	}
	p, _ := f.positions.GetByID(ctx, "p1")
	if p.Status != domain.PositionOpen {
		t.Errorf("status = %s, want OPEN", p.Status)
	}
	kinds := f.alerts.kinds()
	if len(kinds) != 1 || kinds[0] != alert.KindCloseFailed {
		t.Errorf("alerts = %v", kinds)
	}
}

func TestTick_PriceErrorSkipsPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.feed.err = ErrStalePrice
	f.open(t, "p1", "AAPL", domain.SideLong, 100, 95, 110)

	res, err := f.mon.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1", res.Failed)
	}
	if f.broker.count() != 0 {
		t.Errorf("orders = %d, want 0", f.broker.count())
	}
}

func TestCloseManual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.open(t, "p1", "AAPL", domain.SideLong, 100, 95, 110)
	f.feed.set("AAPL", 104)

	p, err := f.mon.CloseManual(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("CloseManual: %v", err)
	}
	if p.Status != domain.PositionClosedManual || *p.ExitPrice != 104 {
		t.Errorf("closed = %+v", p)
	}

	// Closed is terminal.
	_, err = f.mon.CloseManual(ctx, "p1", 120)
	if !errors.Is(err, ErrNotOpen) {
		t.Fatalf("second close err = %v, want ErrNotOpen", err)
	}
	f.feed.set("AAPL", 50)
	if _, err := f.mon.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	p, _ = f.positions.GetByID(ctx, "p1")
	if p.Status != domain.PositionClosedManual || *p.ExitPrice != 104 {
		t.Errorf("closed position changed: %+v", p)
	}
	if f.broker.count() != 1 {
		t.Errorf("orders = %d, want 1", f.broker.count())
	}
}

func TestCloseManual_SingleWriter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	f.open(t, "p1", "AAPL", domain.SideLong, 100, 95, 110)
	f.feed.set("AAPL", 94)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mon.CloseManual(ctx, "p1", 99)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.mon.Tick(ctx)
	}()
	wg.Wait()

	if f.broker.count() != 1 {
		t.Errorf("close orders = %d, want 1", f.broker.count())
	}
	if oks > 1 {
		t.Errorf("successful manual closes = %d, want at most 1", oks)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrNotOpen) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if f.mon.locks.size() != 0 {
		t.Errorf("lock entries leaked: %d", f.mon.locks.size())
	}
}
