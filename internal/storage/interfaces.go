package storage

import (
	"context"

	"trade-signal-pipeline/internal/domain"
)

// SignalStore provides access to signals storage.
// Signals are write-once: there is no update or delete.
type SignalStore interface {
	// Insert adds a new signal. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, s *domain.Signal) error

	// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Signal, error)

	// GetBySymbol retrieves the most recent signals for a symbol, newest first.
	// limit <= 0 means no limit.
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Signal, error)

	// GetByTimeRange retrieves signals created within [start, end] (inclusive),
	// ordered by created_at ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Signal, error)
}

// RiskDecisionStore provides access to risk_decisions storage.
// One decision per signal; write-once.
type RiskDecisionStore interface {
	// Insert adds a new decision. Returns ErrDuplicateKey if signal_id exists.
	Insert(ctx context.Context, d *domain.RiskDecision) error

	// GetBySignalID retrieves the decision for a signal. Returns ErrNotFound if not exists.
	GetBySignalID(ctx context.Context, signalID string) (*domain.RiskDecision, error)

	// GetByTimeRange retrieves decisions evaluated within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.RiskDecision, error)
}

// PositionStore provides access to positions storage.
// Positions are never deleted; the only mutation is a one-time close.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
	Insert(ctx context.Context, p *domain.Position) error

	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// GetOpen retrieves all OPEN positions ordered by opened_at ASC.
	GetOpen(ctx context.Context) ([]*domain.Position, error)

	// GetBySymbol retrieves all positions for a symbol ordered by opened_at ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.Position, error)

	// Close transitions an OPEN position to a closed status, setting exit price,
	// realized pnl and closed_at in the same write. Returns ErrConflict if the
	// position is not OPEN, ErrNotFound if it does not exist and ErrInvalidInput
	// if status is not a closed status.
	Close(ctx context.Context, c PositionClose) error
}

// PositionClose holds the fields written when closing a position.
type PositionClose struct {
	PositionID  string
	Status      domain.PositionStatus
	ExitPrice   float64
	RealizedPnL float64
	ClosedAt    int64
}

// ExecutionEventStore provides access to execution_events storage.
type ExecutionEventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if (signal_id, state) exists.
	Insert(ctx context.Context, e *domain.ExecutionEvent) error

	// GetBySignalID retrieves all events for a signal ordered by at ASC.
	GetBySignalID(ctx context.Context, signalID string) ([]*domain.ExecutionEvent, error)
}

// BarStore provides access to OHLCV bars storage.
type BarStore interface {
	// InsertBulk adds multiple bars. Fails entire batch on duplicate (symbol, timestamp_ms).
	InsertBulk(ctx context.Context, bars []*domain.Bar) error

	// GetByTimeRange retrieves bars for a symbol within [start, end] (inclusive), ordered ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.Bar, error)

	// GetRecent retrieves the latest n bars for a symbol, ordered ASC.
	GetRecent(ctx context.Context, symbol string, n int) ([]*domain.Bar, error)
}
