package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade-signal-pipeline/internal/domain"
	"trade-signal-pipeline/internal/storage/memory"
)

func TestBarPriceFeed(t *testing.T) {
	ctx := context.Background()
	bars := memory.NewBarStore()
	base := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	err := bars.InsertBulk(ctx, []*domain.Bar{
		{Symbol: "AAPL", TimestampMs: base.UnixMilli(), Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 10},
		{Symbol: "AAPL", TimestampMs: base.Add(time.Minute).UnixMilli(), Open: 1.5, High: 2, Low: 1, Close: 1.75, Volume: 10},
	})
	if err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	now := base.Add(90 * time.Second)
	feed := &BarPriceFeed{Bars: bars, MaxStaleness: time.Minute, Now: func() time.Time { return now }}

	p, err := feed.CurrentPrice(ctx, "AAPL")
	if err != nil || p != 1.75 {
		t.Fatalf("CurrentPrice = %v, %v; want 1.75", p, err)
	}

	if _, err := feed.CurrentPrice(ctx, "MSFT"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("unknown symbol err = %v, want ErrNoPrice", err)
	}

	now = base.Add(5 * time.Minute)
	if _, err := feed.CurrentPrice(ctx, "AAPL"); !errors.Is(err, ErrStalePrice) {
		t.Errorf("stale err = %v, want ErrStalePrice", err)
	}
}
