package risk

import (
	"context"
	"sync"
)

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	mu sync.Mutex
	s  State
}

// NewMemoryStateStore creates a store seeded with initial. The peak starts
// at the initial equity when not set.
func NewMemoryStateStore(initial State) *MemoryStateStore {
	if initial.PeakEquity < initial.Equity {
		initial.PeakEquity = initial.Equity
	}
	if initial.AccountStatus == "" {
		initial.AccountStatus = AccountActive
	}
	initial.OpenPositions = append([]string(nil), initial.OpenPositions...)
	return &MemoryStateStore{s: initial}
}

var _ StateStore = (*MemoryStateStore)(nil)

func (m *MemoryStateStore) snapshot() State {
	s := m.s
	s.OpenPositions = append([]string(nil), m.s.OpenPositions...)
	return s
}

func (m *MemoryStateStore) Snapshot(_ context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), nil
}

func (m *MemoryStateStore) UpdateEquity(_ context.Context, equity float64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Equity = equity
	if equity > m.s.PeakEquity {
		m.s.PeakEquity = equity
	}
	return m.snapshot(), nil
}

func (m *MemoryStateStore) AddRealizedPnL(_ context.Context, day string, delta float64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.s.DayKey != day {
		m.s.DayKey = day
		m.s.DailyRealizedPnL = 0
	}
	m.s.DailyRealizedPnL += delta
	m.s.Equity += delta
	if m.s.Equity > m.s.PeakEquity {
		m.s.PeakEquity = m.s.Equity
	}
	return m.snapshot(), nil
}

func (m *MemoryStateStore) SetUnrealizedPnL(_ context.Context, pnl float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.UnrealizedPnL = pnl
	return nil
}

func (m *MemoryStateStore) AdjustBuyingPower(_ context.Context, delta float64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.BuyingPower += delta
	return m.snapshot(), nil
}

func (m *MemoryStateStore) SetAccountStatus(_ context.Context, status AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.AccountStatus = status
	return nil
}

func (m *MemoryStateStore) SetOpenPositions(_ context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.OpenPositions = append([]string(nil), symbols...)
	return nil
}
