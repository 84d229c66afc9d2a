package memory

import (
	"context"
	"sort"
	"sync"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/lookup"
	"trade-signal-pipeline/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.Bar // keyed by symbol, sorted by timestamp
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{
		data: make(map[string][]*domain.Bar),
	}
}

// InsertBulk adds multiple bars. Fails entire batch on duplicate (symbol, timestamp_ms).
func (s *BarStore) InsertBulk(_ context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		symbol      string
		timestampMs int64
	}
	batchKeys := make(map[key]struct{}, len(bars))

	// First pass: validate and check for duplicates
	for _, b := range bars {
		if b == nil || b.Symbol == "" {
			return storage.ErrInvalidInput
		}
		k := key{b.Symbol, b.TimestampMs}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
		if s.indexOf(b.Symbol, b.TimestampMs) >= 0 {
			return storage.ErrDuplicateKey
		}
	}

	// Second pass: insert all
	touched := make(map[string]struct{})
	for _, b := range bars {
		copy := *b
		s.data[b.Symbol] = append(s.data[b.Symbol], &copy)
		touched[b.Symbol] = struct{}{}
	}
	for symbol := range touched {
		series := s.data[symbol]
		sort.Slice(series, func(i, j int) bool {
			return series[i].TimestampMs < series[j].TimestampMs
		})
	}

	return nil
}

// GetByTimeRange retrieves bars for a symbol within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(_ context.Context, symbol string, start, end int64) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneBars(lookup.Window(domain.TimeRange{Start: start, End: end}, s.data[symbol])), nil
}

// GetRecent retrieves the latest n bars for a symbol, ordered ASC.
func (s *BarStore) GetRecent(_ context.Context, symbol string, n int) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[symbol]
	from := 0
	if n > 0 && len(series) > n {
		from = len(series) - n
	}

	return cloneBars(series[from:]), nil
}

func cloneBars(src []*domain.Bar) []*domain.Bar {
	out := make([]*domain.Bar, len(src))
	for i, b := range src {
		c := *b
		out[i] = &c
	}
	return out
}

// indexOf must be called with the lock held.
func (s *BarStore) indexOf(symbol string, ts int64) int {
	series := s.data[symbol]
	i := lookup.IndexAtOrAfter(ts, series)
	if i < len(series) && series[i].TimestampMs == ts {
		return i
	}
	return -1
}

var _ storage.BarStore = (*BarStore)(nil)
