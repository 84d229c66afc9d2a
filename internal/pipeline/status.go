package pipeline

import (
	"sort"
	"sync"

	"trade-signal-pipeline/internal/risk"
)

// SymbolStatus is the last cycle outcome for one symbol.
type SymbolStatus struct {
	Symbol   string  `json:"symbol"`
	Outcome  Outcome `json:"outcome"`
	SignalID string  `json:"signal_id,omitempty"`
	Error    string  `json:"error,omitempty"`
	AtMs     int64   `json:"at_ms"`
}

// Status is the pipeline's view for the status endpoint.
type Status struct {
	LastCycleMs   int64          `json:"last_cycle_ms"`
	Cycles        int64          `json:"cycles"`
	Errors        int64          `json:"errors"`
	Symbols       []SymbolStatus `json:"symbols"`
	ConfigVersion int64          `json:"config_version"`
	Risk          *risk.State    `json:"risk,omitempty"`
}

type statusTracker struct {
	mu      sync.Mutex
	last    int64
	cycles  int64
	errors  int64
	symbols map[string]SymbolStatus
}

func newStatusTracker() *statusTracker {
	return &statusTracker{symbols: make(map[string]SymbolStatus)}
}

func (t *statusTracker) record(r *Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cycles++
	if r.Outcome == OutcomeError {
		t.errors++
	}
	t.last = max(t.last, r.AtMs)
	t.symbols[r.Symbol] = SymbolStatus{
		Symbol:   r.Symbol,
		Outcome:  r.Outcome,
		SignalID: signalID(r.Signal),
		Error:    r.Error,
		AtMs:     r.AtMs,
	}
}

func (t *statusTracker) snapshot() *Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := &Status{
		LastCycleMs: t.last,
		Cycles:      t.cycles,
		Errors:      t.errors,
		Symbols:     make([]SymbolStatus, 0, len(t.symbols)),
	}
	for _, s := range t.symbols {
		st.Symbols = append(st.Symbols, s)
	}
	sort.Slice(st.Symbols, func(i, j int) bool { return st.Symbols[i].Symbol < st.Symbols[j].Symbol })
	return st
}
