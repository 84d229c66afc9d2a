package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one immutable, versioned configuration. Components read a
// snapshot at the start of a cycle and keep it for the whole cycle, so a
// concurrent reload never changes parameters mid-evaluation.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Config   *Config
}

// Holder publishes the current Snapshot and swaps it atomically on reload.
type Holder struct {
	path string
	load func(path string) (*Config, error)

	mu      sync.Mutex // serializes reloads
	current atomic.Pointer[Snapshot]
}

// NewHolder loads path and publishes it as version 1.
func NewHolder(path string) (*Holder, error) {
	h := &Holder{path: path, load: Load}
	cfg, err := h.load(path)
	if err != nil {
		return nil, err
	}
	h.current.Store(&Snapshot{Version: 1, LoadedAt: time.Now(), Config: cfg})
	return h, nil
}

// NewStaticHolder wraps an already built config. Reload is unsupported
// and returns an error.
func NewStaticHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(&Snapshot{Version: 1, LoadedAt: time.Now(), Config: cfg})
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Reload re-reads the config file and, if it validates, publishes it with
// the next version. On failure the active snapshot is left untouched.
func (h *Holder) Reload() (*Snapshot, error) {
	if h.load == nil {
		return h.Current(), fmt.Errorf("config holder has no source file")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, err := h.load(h.path)
	if err != nil {
		return h.Current(), fmt.Errorf("reload config: %w", err)
	}

	next := &Snapshot{
		Version:  h.Current().Version + 1,
		LoadedAt: time.Now(),
		Config:   cfg,
	}
	h.current.Store(next)
	return next, nil
}
