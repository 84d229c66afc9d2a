package clickhouse

import (
	"context"
	"fmt"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

const barColumns = `symbol, timestamp_ms, open, high, low, close, volume`

// InsertBulk adds multiple bars. Fails entire batch on duplicate (symbol, timestamp_ms).
func (s *BarStore) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol      string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(bars))
	for _, b := range bars {
		if b == nil || b.Symbol == "" || b.TimestampMs < 0 {
			return storage.ErrInvalidInput
		}
		k := key{b.Symbol, b.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce keys, so check existing rows first
	for _, b := range bars {
		exists, err := s.exists(ctx, b.Symbol, b.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO bars (`+barColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		err = batch.Append(b.Symbol, uint64(b.TimestampMs), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves bars for a symbol within [start, end] (inclusive), ordered ASC.
func (s *BarStore) GetByTimeRange(ctx context.Context, symbol string, start, end int64) ([]*domain.Bar, error) {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}

	query := `
		SELECT ` + barColumns + `
		FROM bars FINAL
		WHERE symbol = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query bars by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetRecent retrieves the latest n bars for a symbol, ordered ASC.
func (s *BarStore) GetRecent(ctx context.Context, symbol string, n int) ([]*domain.Bar, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + barColumns + ` FROM (
			SELECT ` + barColumns + `
			FROM bars FINAL
			WHERE symbol = ?
			ORDER BY timestamp_ms DESC
			LIMIT ?
		)
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint64(n))
	if err != nil {
		return nil, fmt.Errorf("query recent bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

func (s *BarStore) exists(ctx context.Context, symbol string, timestampMs int64) (bool, error) {
	query := `SELECT count(*) FROM bars WHERE symbol = ? AND timestamp_ms = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, symbol, uint64(timestampMs)).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanBars(rows chRows) ([]*domain.Bar, error) {
	var bars []*domain.Bar

	for rows.Next() {
		var b domain.Bar
		var timestampMs uint64
		if err := rows.Scan(&b.Symbol, &timestampMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		b.TimestampMs = int64(timestampMs)
		bars = append(bars, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}
	return bars, nil
}
