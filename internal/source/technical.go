package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"trade-signal-pipeline/internal/domain"
)

// Technical adapter ids, also used as consensus weight keys.
const (
	MomentumID = "momentum"
	RSIID      = "rsi"
	TrendID    = "trend"
	VolumeID   = "volume"
)

// trendFullScale is the SMA gap (fraction) that maps to a full-strength score.
const trendFullScale = 0.02

// scoreFunc turns a bar window into a directional score in [-1, 1] and a
// confidence in [0, 100].
type scoreFunc func(bars []*domain.Bar) (score, confidence float64)

// Technical is a bar-driven adapter.
type Technical struct {
	id       string
	bars     BarProvider
	lookback int
	need     int
	score    scoreFunc
	now      func() time.Time
}

var _ Adapter = (*Technical)(nil)

// ID returns the adapter id.
func (t *Technical) ID() string { return t.id }

// MinBars is the history length the adapter needs.
func (t *Technical) MinBars() int { return t.need }

// Fetch reads recent bars and scores them.
func (t *Technical) Fetch(ctx context.Context, symbol string, timeout time.Duration) (*domain.SourceSignal, error) {
	start := t.now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bars, err := t.bars.RecentBars(ctx, symbol, t.lookback)
	if err != nil {
		return nil, Unavailable(t.id, symbol, err)
	}
	if len(bars) == 0 {
		return nil, Unsupported(t.id, symbol, errors.New("no bar history"))
	}
	if len(bars) < t.need {
		return nil, Unavailable(t.id, symbol, fmt.Errorf("have %d bars, need %d", len(bars), t.need))
	}
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(t.id, symbol, err)
	}

	score, conf := t.score(bars)
	return &domain.SourceSignal{
		SourceID:         t.id,
		Symbol:           symbol,
		DirectionalScore: clamp(score, -1, 1),
		Confidence:       clamp(conf, 0, 100),
		TimestampMs:      bars[len(bars)-1].TimestampMs,
		LatencyMs:        t.now().Sub(start).Milliseconds(),
	}, nil
}

func newTechnical(id string, bars BarProvider, need, lookback int, score scoreFunc) *Technical {
	if lookback < need {
		lookback = need
	}
	return &Technical{id: id, bars: bars, lookback: lookback, need: need, score: score, now: time.Now}
}

// NewMomentum scores the rate of change over period bars. A move of
// fullScalePct percent maps to a full-strength score.
func NewMomentum(bars BarProvider, period int, fullScalePct float64, lookback int) *Technical {
	return newTechnical(MomentumID, bars, period+1, lookback, func(b []*domain.Bar) (float64, float64) {
		score := clamp(ROC(domain.Closes(b), period)*100/fullScalePct, -1, 1)
		return score, math.Abs(score) * 100
	})
}

// NewRSI scores Wilder RSI: below 50 leans bullish, above 50 bearish.
// Oversold (<30) and overbought (>70) readings give scores beyond ±0.4.
func NewRSI(bars BarProvider, period, lookback int) *Technical {
	return newTechnical(RSIID, bars, period+1, lookback, func(b []*domain.Bar) (float64, float64) {
		rsi := RSI(domain.Closes(b), period)
		return (50 - rsi) / 50, math.Abs(rsi-50) * 2
	})
}

// NewTrend scores the gap between a fast and a slow SMA.
func NewTrend(bars BarProvider, fast, slow, lookback int) *Technical {
	return newTechnical(TrendID, bars, slow, lookback, func(b []*domain.Bar) (float64, float64) {
		closes := domain.Closes(b)
		slowMA := SMA(closes, slow)
		if slowMA == 0 {
			return 0, 0
		}
		gap := (SMA(closes, fast) - slowMA) / slowMA
		score := clamp(gap/trendFullScale, -1, 1)
		return score, math.Abs(score) * 100
	})
}

// NewVolume scores a volume surge on the last bar, signed by that bar's
// direction. A ratio of surgeRatio to the trailing average is full strength.
func NewVolume(bars BarProvider, period int, surgeRatio float64, lookback int) *Technical {
	return newTechnical(VolumeID, bars, period+1, lookback, func(b []*domain.Bar) (float64, float64) {
		last := b[len(b)-1]
		window := b[len(b)-1-period : len(b)-1]
		avg := 0.0
		for _, w := range window {
			avg += w.Volume
		}
		avg /= float64(len(window))
		if avg == 0 {
			return 0, 0
		}

		surge := clamp((last.Volume/avg-1)/(surgeRatio-1), 0, 1)
		dir := 0.0
		switch {
		case last.Close > last.Open:
			dir = 1
		case last.Close < last.Open:
			dir = -1
		}
		return dir * surge, surge * 100
	})
}
