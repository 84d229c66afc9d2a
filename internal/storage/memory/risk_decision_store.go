package memory

import (
	"context"
	"sort"
	"sync"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// RiskDecisionStore is an in-memory implementation of storage.RiskDecisionStore.
type RiskDecisionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RiskDecision // keyed by signal_id
}

// NewRiskDecisionStore creates a new in-memory risk decision store.
func NewRiskDecisionStore() *RiskDecisionStore {
	return &RiskDecisionStore{
		data: make(map[string]*domain.RiskDecision),
	}
}

// Insert adds a new decision. Returns ErrDuplicateKey if signal_id exists.
func (s *RiskDecisionStore) Insert(_ context.Context, d *domain.RiskDecision) error {
	if d == nil || d.SignalID == "" || d.Outcome == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.SignalID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[d.SignalID] = cloneDecision(d)
	return nil
}

// GetBySignalID retrieves the decision for a signal. Returns ErrNotFound if not exists.
func (s *RiskDecisionStore) GetBySignalID(_ context.Context, signalID string) (*domain.RiskDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[signalID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneDecision(d), nil
}

// GetByTimeRange retrieves decisions evaluated within [start, end] (inclusive).
func (s *RiskDecisionStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.RiskDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RiskDecision
	for _, d := range s.data {
		if d.EvaluatedAt >= start && d.EvaluatedAt <= end {
			result = append(result, cloneDecision(d))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].EvaluatedAt != result[j].EvaluatedAt {
			return result[i].EvaluatedAt < result[j].EvaluatedAt
		}
		return result[i].SignalID < result[j].SignalID
	})

	return result, nil
}

func cloneDecision(d *domain.RiskDecision) *domain.RiskDecision {
	c := *d
	if d.AdjustedPositionSizePct != nil {
		v := *d.AdjustedPositionSizePct
		c.AdjustedPositionSizePct = &v
	}
	if d.RejectionLayer != nil {
		v := *d.RejectionLayer
		c.RejectionLayer = &v
	}
	return &c
}

var _ storage.RiskDecisionStore = (*RiskDecisionStore)(nil)
