package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

const signalColumns = `
	id, symbol, action, regime,
	entry_price, stop_price, target_price, confidence,
	contributing_sources, supersedes_id, integrity_hash, created_at
`

// sourceWeightJSON is the stored shape of one contributing source.
type sourceWeightJSON struct {
	SourceID string  `json:"source_id"`
	Weight   float64 `json:"weight"`
}

// Insert adds a new signal. Returns ErrDuplicateKey if id exists.
func (s *SignalStore) Insert(ctx context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" || sig.Symbol == "" {
		return storage.ErrInvalidInput
	}

	sources := make([]sourceWeightJSON, len(sig.ContributingSources))
	for i, sw := range sig.ContributingSources {
		sources[i] = sourceWeightJSON{SourceID: sw.SourceID, Weight: sw.Weight}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal contributing sources: %w", err)
	}

	var supersedes *string
	if sig.SupersedesID != "" {
		supersedes = &sig.SupersedesID
	}

	query := `
		INSERT INTO signals (` + signalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
	`

	_, err = s.pool.Exec(ctx, query,
		sig.ID, sig.Symbol, string(sig.Action), string(sig.Regime),
		sig.EntryPrice, sig.StopPrice, sig.TargetPrice, sig.Confidence,
		string(sourcesJSON), supersedes, sig.IntegrityHash, sig.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: superseded signal %s does not exist", storage.ErrInvalidInput, sig.SupersedesID)
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(ctx context.Context, id string) (*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = $1`

	sig, err := scanSignal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get signal by id: %w", err)
	}
	return sig, nil
}

// GetBySymbol retrieves the most recent signals for a symbol, newest first.
func (s *SignalStore) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE symbol = $1
		ORDER BY created_at DESC, id ASC
	`
	args := []interface{}{symbol}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get signals by symbol: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// GetByTimeRange retrieves signals created within [start, end] (inclusive).
func (s *SignalStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get signals by time range: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// scanSignal scans a single row into a Signal.
func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var sig domain.Signal
	var action, regime string
	var sourcesJSON []byte
	var supersedes *string

	err := row.Scan(
		&sig.ID, &sig.Symbol, &action, &regime,
		&sig.EntryPrice, &sig.StopPrice, &sig.TargetPrice, &sig.Confidence,
		&sourcesJSON, &supersedes, &sig.IntegrityHash, &sig.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sig.Action = domain.Action(action)
	sig.Regime = domain.Regime(regime)
	if supersedes != nil {
		sig.SupersedesID = *supersedes
	}

	var sources []sourceWeightJSON
	if err := json.Unmarshal(sourcesJSON, &sources); err != nil {
		return nil, fmt.Errorf("unmarshal contributing sources: %w", err)
	}
	sig.ContributingSources = make([]domain.SourceWeight, len(sources))
	for i, sw := range sources {
		sig.ContributingSources[i] = domain.SourceWeight{SourceID: sw.SourceID, Weight: sw.Weight}
	}

	return &sig, nil
}

// scanSignals scans multiple rows into a slice of Signal.
func scanSignals(rows pgx.Rows) ([]*domain.Signal, error) {
	var signals []*domain.Signal

	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		signals = append(signals, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}

	return signals, nil
}
