package memory

import (
	"context"
	"sort"
	"sync"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// SignalStore is an in-memory implementation of storage.SignalStore.
type SignalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Signal // keyed by id
}

// NewSignalStore creates a new in-memory signal store.
func NewSignalStore() *SignalStore {
	return &SignalStore{
		data: make(map[string]*domain.Signal),
	}
}

// Insert adds a new signal. Returns ErrDuplicateKey if id exists.
func (s *SignalStore) Insert(_ context.Context, sig *domain.Signal) error {
	if sig == nil || sig.ID == "" || sig.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sig.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[sig.ID] = sig.Clone()
	return nil
}

// GetByID retrieves a signal by its ID. Returns ErrNotFound if not exists.
func (s *SignalStore) GetByID(_ context.Context, id string) (*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return sig.Clone(), nil
}

// GetBySymbol retrieves the most recent signals for a symbol, newest first.
func (s *SignalStore) GetBySymbol(_ context.Context, symbol string, limit int) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Signal
	for _, sig := range s.data {
		if sig.Symbol == symbol {
			result = append(result, sig.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetByTimeRange retrieves signals created within [start, end] (inclusive).
func (s *SignalStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Signal
	for _, sig := range s.data {
		if sig.CreatedAt >= start && sig.CreatedAt <= end {
			result = append(result, sig.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

var _ storage.SignalStore = (*SignalStore)(nil)
