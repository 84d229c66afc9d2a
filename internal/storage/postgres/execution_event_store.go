package postgres

import (
	"context"
	"fmt"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// ExecutionEventStore implements storage.ExecutionEventStore using PostgreSQL.
type ExecutionEventStore struct {
	pool *Pool
}

// NewExecutionEventStore creates a new ExecutionEventStore.
func NewExecutionEventStore(pool *Pool) *ExecutionEventStore {
	return &ExecutionEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionEventStore = (*ExecutionEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if (signal_id, state) exists.
func (s *ExecutionEventStore) Insert(ctx context.Context, e *domain.ExecutionEvent) error {
	if e == nil || e.SignalID == "" || e.State == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO execution_events (
			signal_id, state, order_id, quantity, price, attempts, reason, at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		e.SignalID, string(e.State), e.OrderID, e.Quantity, e.Price, e.Attempts, e.Reason, e.At,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: unknown signal %s", storage.ErrInvalidInput, e.SignalID)
		}
		return fmt.Errorf("insert execution event: %w", err)
	}
	return nil
}

// GetBySignalID retrieves all events for a signal ordered by at ASC.
func (s *ExecutionEventStore) GetBySignalID(ctx context.Context, signalID string) ([]*domain.ExecutionEvent, error) {
	query := `
		SELECT signal_id, state, order_id, quantity, price, attempts, reason, at
		FROM execution_events
		WHERE signal_id = $1
		ORDER BY at ASC,
			CASE state
				WHEN 'PENDING' THEN 0
				WHEN 'SIZED' THEN 1
				WHEN 'SUBMITTED' THEN 2
				ELSE 3
			END ASC
	`

	rows, err := s.pool.Query(ctx, query, signalID)
	if err != nil {
		return nil, fmt.Errorf("get execution events: %w", err)
	}
	defer rows.Close()

	var events []*domain.ExecutionEvent
	for rows.Next() {
		var e domain.ExecutionEvent
		var state string
		if err := rows.Scan(&e.SignalID, &state, &e.OrderID, &e.Quantity, &e.Price, &e.Attempts, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan execution event row: %w", err)
		}
		e.State = domain.ExecutionState(state)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution event rows: %w", err)
	}
	return events, nil
}
