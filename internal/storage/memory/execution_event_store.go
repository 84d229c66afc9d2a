package memory

import (
	"context"
	"sort"
	"sync"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

type executionEventKey struct {
	signalID string
	state    domain.ExecutionState
}

// ExecutionEventStore is an in-memory implementation of storage.ExecutionEventStore.
type ExecutionEventStore struct {
	mu   sync.RWMutex
	data map[executionEventKey]*domain.ExecutionEvent
}

// NewExecutionEventStore creates a new in-memory execution event store.
func NewExecutionEventStore() *ExecutionEventStore {
	return &ExecutionEventStore{
		data: make(map[executionEventKey]*domain.ExecutionEvent),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if (signal_id, state) exists.
func (s *ExecutionEventStore) Insert(_ context.Context, e *domain.ExecutionEvent) error {
	if e == nil || e.SignalID == "" || e.State == "" {
		return storage.ErrInvalidInput
	}

	key := executionEventKey{e.SignalID, e.State}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[key] = &copy
	return nil
}

// GetBySignalID retrieves all events for a signal ordered by at ASC.
func (s *ExecutionEventStore) GetBySignalID(_ context.Context, signalID string) ([]*domain.ExecutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExecutionEvent
	for k, e := range s.data {
		if k.signalID == signalID {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].At != result[j].At {
			return result[i].At < result[j].At
		}
		return stateOrder(result[i].State) < stateOrder(result[j].State)
	})

	return result, nil
}

// stateOrder breaks ties between events written in the same millisecond.
func stateOrder(s domain.ExecutionState) int {
	switch s {
	case domain.ExecPending:
		return 0
	case domain.ExecSized:
		return 1
	case domain.ExecSubmitted:
		return 2
	default:
		return 3
	}
}

var _ storage.ExecutionEventStore = (*ExecutionEventStore)(nil)
