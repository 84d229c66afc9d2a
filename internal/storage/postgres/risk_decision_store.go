package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// RiskDecisionStore implements storage.RiskDecisionStore using PostgreSQL.
type RiskDecisionStore struct {
	pool *Pool
}

// NewRiskDecisionStore creates a new RiskDecisionStore.
func NewRiskDecisionStore(pool *Pool) *RiskDecisionStore {
	return &RiskDecisionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RiskDecisionStore = (*RiskDecisionStore)(nil)

const riskDecisionColumns = `
	signal_id, outcome, requested_size_pct, adjusted_position_size_pct,
	rejection_layer, reason, evaluated_at
`

// Insert adds a new decision. Returns ErrDuplicateKey if signal_id exists.
func (s *RiskDecisionStore) Insert(ctx context.Context, d *domain.RiskDecision) error {
	if d == nil || d.SignalID == "" || d.Outcome == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO risk_decisions (` + riskDecisionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		d.SignalID, string(d.Outcome), d.RequestedSizePct, d.AdjustedPositionSizePct,
		d.RejectionLayer, d.Reason, d.EvaluatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: unknown signal %s", storage.ErrInvalidInput, d.SignalID)
		}
		return fmt.Errorf("insert risk decision: %w", err)
	}
	return nil
}

// GetBySignalID retrieves the decision for a signal. Returns ErrNotFound if not exists.
func (s *RiskDecisionStore) GetBySignalID(ctx context.Context, signalID string) (*domain.RiskDecision, error) {
	query := `SELECT ` + riskDecisionColumns + ` FROM risk_decisions WHERE signal_id = $1`

	d, err := scanRiskDecision(s.pool.QueryRow(ctx, query, signalID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get risk decision: %w", err)
	}
	return d, nil
}

// GetByTimeRange retrieves decisions evaluated within [start, end] (inclusive).
func (s *RiskDecisionStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.RiskDecision, error) {
	query := `
		SELECT ` + riskDecisionColumns + `
		FROM risk_decisions
		WHERE evaluated_at >= $1 AND evaluated_at <= $2
		ORDER BY evaluated_at ASC, signal_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get risk decisions by time range: %w", err)
	}
	defer rows.Close()

	var decisions []*domain.RiskDecision
	for rows.Next() {
		d, err := scanRiskDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan risk decision row: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate risk decision rows: %w", err)
	}
	return decisions, nil
}

func scanRiskDecision(row pgx.Row) (*domain.RiskDecision, error) {
	var d domain.RiskDecision
	var outcome string

	err := row.Scan(
		&d.SignalID, &outcome, &d.RequestedSizePct, &d.AdjustedPositionSizePct,
		&d.RejectionLayer, &d.Reason, &d.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Outcome = domain.RiskOutcome(outcome)
	return &d, nil
}
