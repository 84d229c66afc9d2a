package source

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-signal-pipeline/internal/domain"
)

// joinGrace is how long the collector waits past the adapter timeout
// before abandoning an adapter that ignored its deadline.
const joinGrace = 250 * time.Millisecond

// AdapterHealth is the last observed outcome of one adapter.
type AdapterHealth struct {
	SourceID      string `json:"source_id"`
	LastSuccessMs int64  `json:"last_success_ms,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	LastErrorMs   int64  `json:"last_error_ms,omitempty"`
	Failures      uint64 `json:"failures"`
}

// Observer receives every adapter outcome, e.g. for metrics.
type Observer func(sourceID string, latency time.Duration, err error)

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	Timeout  time.Duration
	Logger   zerolog.Logger
	Observer Observer
}

// Collector fans a symbol out to every adapter and joins the responses.
type Collector struct {
	adapters []Adapter
	timeout  time.Duration
	log      zerolog.Logger
	observe  Observer
	now      func() time.Time

	mu     sync.Mutex
	health map[string]*AdapterHealth
}

// NewCollector creates a Collector over adapters.
func NewCollector(adapters []Adapter, opts CollectorOptions) *Collector {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	health := make(map[string]*AdapterHealth, len(adapters))
	for _, a := range adapters {
		health[a.ID()] = &AdapterHealth{SourceID: a.ID()}
	}
	return &Collector{
		adapters: adapters,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		observe:  opts.Observer,
		now:      time.Now,
		health:   health,
	}
}

type fetchResult struct {
	sourceID string
	signal   *domain.SourceSignal
	err      error
	latency  time.Duration
}

// Collect queries every adapter concurrently, each under its own
// deadline, and returns the valid responses sorted by source id. A
// failed or late adapter is logged and left out; Collect never fails.
func (c *Collector) Collect(ctx context.Context, symbol string) []*domain.SourceSignal {
	results := make(chan fetchResult, len(c.adapters))

	for _, a := range c.adapters {
		go func(a Adapter) {
			start := c.now()
			actx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			sig, err := a.Fetch(actx, symbol, c.timeout)
			if err == nil && !sig.IsValid() {
				err = Unavailable(a.ID(), symbol, errors.New("invalid signal"))
			}
			results <- fetchResult{sourceID: a.ID(), signal: sig, err: err, latency: c.now().Sub(start)}
		}(a)
	}

	deadline := time.NewTimer(c.timeout + joinGrace)
	defer deadline.Stop()

	var out []*domain.SourceSignal
	pending := make(map[string]struct{}, len(c.adapters))
	for _, a := range c.adapters {
		pending[a.ID()] = struct{}{}
	}

	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.sourceID)
			c.record(symbol, r)
			if r.err == nil {
				out = append(out, r.signal)
			}
		case <-deadline.C:
			for id := range pending {
				c.record(symbol, fetchResult{sourceID: id, err: Unavailable(id, symbol, context.DeadlineExceeded), latency: c.timeout})
			}
			pending = nil
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (c *Collector) record(symbol string, r fetchResult) {
	if c.observe != nil {
		c.observe(r.sourceID, r.latency, r.err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.health[r.sourceID]
	if !ok {
		h = &AdapterHealth{SourceID: r.sourceID}
		c.health[r.sourceID] = h
	}
	if r.err == nil {
		h.LastSuccessMs = c.now().UnixMilli()
		return
	}
	h.LastError = r.err.Error()
	h.LastErrorMs = c.now().UnixMilli()
	h.Failures++

	ev := c.log.Warn()
	if errors.Is(r.err, ErrSymbolUnsupported) {
		ev = c.log.Debug()
	}
	ev.Str("source", r.sourceID).Str("symbol", symbol).Err(r.err).Msg("source excluded from cycle")
}

// Health returns a copy of per-adapter health, sorted by source id.
func (c *Collector) Health() []AdapterHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]AdapterHealth, 0, len(c.health))
	for _, h := range c.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}
