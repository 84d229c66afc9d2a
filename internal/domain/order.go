package domain

// OrderSide is the broker-facing side of an order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// OrderPurpose tags why an order was sent.
type OrderPurpose string

const (
	PurposeEntry      OrderPurpose = "ENTRY"
	PurposeStopLoss   OrderPurpose = "STOP_LOSS"
	PurposeTakeProfit OrderPurpose = "TAKE_PROFIT"
	PurposeClose      OrderPurpose = "CLOSE"
)

// Order is a request submitted to the broker.
type Order struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Purpose       OrderPurpose
	Quantity      float64
	LimitPrice    float64 // LIMIT and take-profit orders
	StopPrice     float64 // STOP orders
}

// OrderStatus is the broker-reported state of an order.
type OrderStatus struct {
	OrderID   string
	State     OrderState
	FilledQty float64
	AvgPrice  float64
	Reason    string
}

// OrderState is the broker order state.
type OrderState string

const (
	OrderStateNew      OrderState = "NEW"
	OrderStateFilled   OrderState = "FILLED"
	OrderStateRejected OrderState = "REJECTED"
	OrderStateCanceled OrderState = "CANCELED"
)

// IsTerminal reports whether the broker will not change the order further.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateFilled || s == OrderStateRejected || s == OrderStateCanceled
}

// EntrySide returns the order side that opens a position for action.
func EntrySide(a Action) OrderSide {
	if a == ActionSell {
		return OrderSell
	}
	return OrderBuy
}

// ExitSide returns the order side that closes a position on side.
func ExitSide(s Side) OrderSide {
	if s == SideShort {
		return OrderBuy
	}
	return OrderSell
}

// ExecutionState is the per-signal execution lifecycle.
type ExecutionState string

const (
	ExecPending          ExecutionState = "PENDING"
	ExecSized            ExecutionState = "SIZED"
	ExecSubmitted        ExecutionState = "SUBMITTED"
	ExecFilled           ExecutionState = "FILLED"
	ExecRejectedByBroker ExecutionState = "REJECTED_BY_BROKER"
)

// ExecutionEvent records one execution state transition.
// Corresponds to the execution_events table, keyed by (signal_id, state).
type ExecutionEvent struct {
	SignalID string
	State    ExecutionState
	OrderID  string
	Quantity float64
	Price    float64
	Attempts int
	Reason   string
	At       int64 // ms
}
