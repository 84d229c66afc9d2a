package alert

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultBufferSize = 256

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	BufferSize  int
	SendTimeout time.Duration
	Sinks       []Sink
	Logger      zerolog.Logger

	// OnDrop is called for each alert dropped because the buffer was full.
	OnDrop func(Alert)
}

// Dispatcher fans alerts out to sinks from a single background goroutine.
// Publish never blocks: when the buffer is full the alert is dropped and
// counted.
type Dispatcher struct {
	ch          chan Alert
	sinks       []Sink
	sendTimeout time.Duration
	log         zerolog.Logger
	onDrop      func(Alert)
	dropped     atomic.Int64
}

var _ Publisher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. Call Run to start delivery.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		ch:          make(chan Alert, size),
		sinks:       opts.Sinks,
		sendTimeout: timeout,
		log:         opts.Logger,
		onDrop:      opts.OnDrop,
	}
}

// Publish enqueues a without blocking.
func (d *Dispatcher) Publish(a Alert) {
	if a.AtMs == 0 {
		a.AtMs = time.Now().UnixMilli()
	}
	select {
	case d.ch <- a:
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("kind", a.Kind).Str("symbol", a.Symbol).Msg("alert buffer full, dropping alert")
		if d.onDrop != nil {
			d.onDrop(a)
		}
	}
}

// Dropped returns how many alerts were dropped so far.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers alerts until ctx is cancelled, then flushes what is still
// buffered and closes the sinks.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.closeSinks()
	for {
		select {
		case a := <-d.ch:
			d.deliver(context.WithoutCancel(ctx), a)
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case a := <-d.ch:
			d.deliver(ctx, a)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		if err := s.Send(sctx, a); err != nil {
			d.log.Error().Err(err).Str("kind", a.Kind).Msg("alert delivery failed")
		}
		cancel()
	}
}

func (d *Dispatcher) closeSinks() {
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.log.Warn().Err(err).Msg("close alert sink")
		}
	}
}
