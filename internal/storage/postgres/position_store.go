package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, signal_id, symbol, side, quantity,
	entry_price, stop_price, target_price, status,
	opened_at, closed_at, exit_price, realized_pnl
`

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.SignalID == "" || p.Status != domain.PositionOpen {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (
			position_id, signal_id, symbol, side, quantity,
			entry_price, stop_price, target_price, status, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.pool.Exec(ctx, query,
		p.PositionID, p.SignalID, p.Symbol, string(p.Side), p.Quantity,
		p.EntryPrice, p.StopPrice, p.TargetPrice, string(p.Status), p.OpenedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: unknown signal %s", storage.ErrInvalidInput, p.SignalID)
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetOpen retrieves all OPEN positions ordered by opened_at ASC.
func (s *PositionStore) GetOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status = 'OPEN'
		ORDER BY opened_at ASC, position_id ASC
	`
	return s.query(ctx, "get open positions", query)
}

// GetBySymbol retrieves all positions for a symbol ordered by opened_at ASC.
func (s *PositionStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE symbol = $1
		ORDER BY opened_at ASC, position_id ASC
	`
	return s.query(ctx, "get positions by symbol", query, symbol)
}

// Close transitions an OPEN position to a closed status in one statement.
// The status predicate makes concurrent closes race-free: only one
// UPDATE can match the OPEN row.
func (s *PositionStore) Close(ctx context.Context, c storage.PositionClose) error {
	if !c.Status.IsClosed() {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE positions
		SET status = $2, exit_price = $3, realized_pnl = $4, closed_at = $5
		WHERE position_id = $1 AND status = 'OPEN'
	`

	tag, err := s.pool.Exec(ctx, query, c.PositionID, string(c.Status), c.ExitPrice, c.RealizedPnL, c.ClosedAt)
	if err != nil {
		if isImmutableError(err) {
			return storage.ErrImmutable
		}
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing row from one that is already closed
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM positions WHERE position_id = $1)`, c.PositionID).Scan(&exists); err != nil {
		return fmt.Errorf("check position exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *PositionStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.PositionID, &p.SignalID, &p.Symbol, &side, &p.Quantity,
		&p.EntryPrice, &p.StopPrice, &p.TargetPrice, &status,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.RealizedPnL,
	)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return &p, nil
}
