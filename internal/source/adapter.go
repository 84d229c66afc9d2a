package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage"
)

// Adapter produces one directional opinion per symbol per cycle.
// Fetch must return within timeout; a late or failed adapter is simply
// left out of the cycle.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context, symbol string, timeout time.Duration) (*domain.SourceSignal, error)
}

var (
	// ErrSourceUnavailable covers transport failures, timeouts, rate
	// limiting and upstream errors. The same call may succeed later.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSymbolUnsupported means the source has no data for the symbol.
	ErrSymbolUnsupported = errors.New("symbol unsupported")
)

// FetchError is returned by adapters. errors.Is matches both Kind and
// the underlying cause.
type FetchError struct {
	SourceID string
	Symbol   string
	Kind     error // ErrSourceUnavailable or ErrSymbolUnsupported
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.SourceID, e.Symbol, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.SourceID, e.Symbol, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable builds a FetchError of kind ErrSourceUnavailable.
func Unavailable(sourceID, symbol string, err error) error {
	return &FetchError{SourceID: sourceID, Symbol: symbol, Kind: ErrSourceUnavailable, Err: err}
}

// Unsupported builds a FetchError of kind ErrSymbolUnsupported.
func Unsupported(sourceID, symbol string, err error) error {
	return &FetchError{SourceID: sourceID, Symbol: symbol, Kind: ErrSymbolUnsupported, Err: err}
}

// BarProvider supplies recent OHLCV history, oldest first.
type BarProvider interface {
	RecentBars(ctx context.Context, symbol string, n int) ([]*domain.Bar, error)
}

// StoreBarProvider serves bars from a storage.BarStore.
type StoreBarProvider struct {
	Store storage.BarStore
}

// RecentBars returns the latest n bars for symbol.
func (p StoreBarProvider) RecentBars(ctx context.Context, symbol string, n int) ([]*domain.Bar, error) {
	return p.Store.GetRecent(ctx, symbol, n)
}
