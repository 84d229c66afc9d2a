package execution

import (
	"context"
	"fmt"
	"sync"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/simulation"
)

// PriceSource returns the latest price for a symbol.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// PaperBroker simulates a brokerage against a live price source. Market
// orders fill immediately at the current price adjusted by the friction
// scenario; limit orders fill once the price crosses the limit. Stop
// orders rest until cancelled.
type PaperBroker struct {
	prices   PriceSource
	scenario domain.ScenarioConfig

	mu       sync.Mutex
	seq      int
	byClient map[string]string
	orders   map[string]*paperOrder
}

type paperOrder struct {
	order  domain.Order
	status domain.OrderStatus
}

var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a paper broker.
func NewPaperBroker(prices PriceSource, scenario domain.ScenarioConfig) *PaperBroker {
	return &PaperBroker{
		prices:   prices,
		scenario: scenario,
		byClient: make(map[string]string),
		orders:   make(map[string]*paperOrder),
	}
}

func (b *PaperBroker) Submit(ctx context.Context, o domain.Order) (string, error) {
	if o.Quantity <= 0 {
		return "", &BrokerError{Code: "invalid_quantity", Message: fmt.Sprintf("quantity %v", o.Quantity)}
	}
	if o.Type == domain.OrderLimit && o.LimitPrice <= 0 {
		return "", &BrokerError{Code: "invalid_price", Message: "limit order without limit price"}
	}

	b.mu.Lock()
	if id, ok := b.byClient[o.ClientOrderID]; ok && o.ClientOrderID != "" {
		b.mu.Unlock()
		return id, nil
	}
	b.seq++
	id := fmt.Sprintf("paper-%d", b.seq)
	po := &paperOrder{order: o, status: domain.OrderStatus{OrderID: id, State: domain.OrderStateNew}}
	b.orders[id] = po
	if o.ClientOrderID != "" {
		b.byClient[o.ClientOrderID] = id
	}
	b.mu.Unlock()

	if o.Type == domain.OrderStop {
		return id, nil
	}
	// Without a price the order stays NEW and Status retries the fill.
	_ = b.tryFill(ctx, po)
	return id, nil
}

func (b *PaperBroker) Status(ctx context.Context, orderID string) (*domain.OrderStatus, error) {
	b.mu.Lock()
	po, ok := b.orders[orderID]
	b.mu.Unlock()
	if !ok {
		return nil, &BrokerError{Code: "unknown_order", Message: orderID}
	}
	if po.order.Type != domain.OrderStop {
		if err := b.tryFill(ctx, po); err != nil {
			return nil, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := po.status
	return &st, nil
}

func (b *PaperBroker) Cancel(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	po, ok := b.orders[orderID]
	if !ok {
		return &BrokerError{Code: "unknown_order", Message: orderID}
	}
	if !po.status.State.IsTerminal() {
		po.status.State = domain.OrderStateCanceled
		po.status.Reason = "cancelled"
	}
	return nil
}

// tryFill fills po at the current price if it is marketable.
func (b *PaperBroker) tryFill(ctx context.Context, po *paperOrder) error {
	b.mu.Lock()
	done := po.status.State.IsTerminal()
	b.mu.Unlock()
	if done {
		return nil
	}

	px, err := b.prices.CurrentPrice(ctx, po.order.Symbol)
	if err != nil {
		return &BrokerError{Code: "no_price", Message: err.Error(), Transient: true}
	}

	fill := fillPrice(po.order.Side, px, b.scenario)
	if po.order.Type == domain.OrderLimit {
		if (po.order.Side == domain.OrderBuy && px > po.order.LimitPrice) ||
			(po.order.Side == domain.OrderSell && px < po.order.LimitPrice) {
			return nil
		}
		if po.order.Side == domain.OrderBuy {
			fill = min(fill, po.order.LimitPrice)
		} else {
			fill = max(fill, po.order.LimitPrice)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !po.status.State.IsTerminal() {
		po.status.State = domain.OrderStateFilled
		po.status.FilledQty = po.order.Quantity
		po.status.AvgPrice = fill
	}
	return nil
}

// fillPrice applies friction against the order side: buys pay up,
// sells receive less.
func fillPrice(side domain.OrderSide, price float64, sc domain.ScenarioConfig) float64 {
	if side == domain.OrderSell {
		return simulation.ExitPrice(domain.SideLong, price, sc)
	}
	return simulation.EntryPrice(domain.SideLong, price, sc)
}

// Orders returns a snapshot of every order submitted so far.
func (b *PaperBroker) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, 0, len(b.orders))
	for i := 1; i <= b.seq; i++ {
		if po, ok := b.orders[fmt.Sprintf("paper-%d", i)]; ok {
			out = append(out, po.order)
		}
	}
	return out
}
