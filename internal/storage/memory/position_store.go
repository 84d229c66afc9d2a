package memory

import (
	"context"
	"sort"
	"sync"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.SignalID == "" || p.Status != domain.PositionOpen {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PositionID] = clonePosition(p)
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePosition(p), nil
}

// GetOpen retrieves all OPEN positions ordered by opened_at ASC.
func (s *PositionStore) GetOpen(_ context.Context) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool { return p.Status == domain.PositionOpen }), nil
}

// GetBySymbol retrieves all positions for a symbol ordered by opened_at ASC.
func (s *PositionStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.Position, error) {
	return s.filter(func(p *domain.Position) bool { return p.Symbol == symbol }), nil
}

// Close transitions an OPEN position to a closed status.
func (s *PositionStore) Close(_ context.Context, c storage.PositionClose) error {
	if !c.Status.IsClosed() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[c.PositionID]
	if !exists {
		return storage.ErrNotFound
	}
	if p.Status != domain.PositionOpen {
		return storage.ErrConflict
	}

	exit := c.ExitPrice
	pnl := c.RealizedPnL
	closedAt := c.ClosedAt
	p.Status = c.Status
	p.ExitPrice = &exit
	p.RealizedPnL = &pnl
	p.ClosedAt = &closedAt
	return nil
}

func (s *PositionStore) filter(keep func(*domain.Position) bool) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if keep(p) {
			result = append(result, clonePosition(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenedAt != result[j].OpenedAt {
			return result[i].OpenedAt < result[j].OpenedAt
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result
}

func clonePosition(p *domain.Position) *domain.Position {
	c := *p
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		c.ClosedAt = &v
	}
	if p.ExitPrice != nil {
		v := *p.ExitPrice
		c.ExitPrice = &v
	}
	if p.RealizedPnL != nil {
		v := *p.RealizedPnL
		c.RealizedPnL = &v
	}
	return &c
}

var _ storage.PositionStore = (*PositionStore)(nil)
