package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-signal-pipeline/internal/storage"
)

// Price feed errors
var (
	ErrNoPrice    = errors.New("no price for symbol")
	ErrStalePrice = errors.New("price is stale")
)

// PriceFeed returns the latest tradable price for a symbol.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// BarPriceFeed reads the close of the latest stored bar.
type BarPriceFeed struct {
	Bars         storage.BarStore
	MaxStaleness time.Duration // 0 disables the check
	Now          func() time.Time
}

var _ PriceFeed = (*BarPriceFeed)(nil)

func (f *BarPriceFeed) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	bars, err := f.Bars.GetRecent(ctx, symbol, 1)
	if err != nil {
		return 0, fmt.Errorf("latest bar %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	b := bars[len(bars)-1]
	if f.MaxStaleness > 0 {
		now := time.Now
		if f.Now != nil {
			now = f.Now
		}
		if age := now().Sub(time.UnixMilli(b.TimestampMs)); age > f.MaxStaleness {
			return 0, fmt.Errorf("%w: %s bar is %s old", ErrStalePrice, symbol, age.Round(time.Second))
		}
	}
	return b.Close, nil
}
