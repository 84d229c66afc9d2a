package domain

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen         PositionStatus = "OPEN"
	PositionClosedStop   PositionStatus = "CLOSED_STOP"
	PositionClosedTarget PositionStatus = "CLOSED_TARGET"
	PositionClosedManual PositionStatus = "CLOSED_MANUAL"
)

// IsClosed reports whether the status is terminal.
func (s PositionStatus) IsClosed() bool {
	return s == PositionClosedStop || s == PositionClosedTarget || s == PositionClosedManual
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SideFor maps a signal action onto a position side.
func SideFor(a Action) Side {
	if a == ActionSell {
		return SideShort
	}
	return SideLong
}

// Position is an open or closed holding.
// Corresponds to the positions table. Only the close fields ever change,
// and only once.
type Position struct {
	PositionID  string
	SignalID    string
	Symbol      string
	Side        Side
	Quantity    float64
	EntryPrice  float64
	StopPrice   float64
	TargetPrice float64
	Status      PositionStatus
	OpenedAt    int64    // ms
	ClosedAt    *int64   // ms, nil while open
	ExitPrice   *float64 // nil while open
	RealizedPnL *float64 // nil while open
}

// PnLAt computes profit or loss if the position were closed at price.
func (p *Position) PnLAt(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// Notional returns entry value of the position.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}
