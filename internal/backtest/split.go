package backtest

import (
	"errors"
	"fmt"

	"trade-signal-pipeline/internal/domain"
)

// MinBars is the shortest history that can be split.
const MinBars = 10

// Split percentages.
const (
	TrainPct      = 60
	ValidationPct = 20
)

// ErrInsufficientData is returned when there are too few bars to split.
var ErrInsufficientData = errors.New("insufficient bars for backtest")

// IndexRange is a half-open [Start, End) range of bar indexes.
type IndexRange struct {
	Start int
	End   int
}

// Len returns the number of bars in the range.
func (r IndexRange) Len() int { return r.End - r.Start }

// Partition is a chronological train/validation/test split of one bar
// series, as indexes and as timestamps.
type Partition struct {
	Train      IndexRange
	Validation IndexRange
	Test       IndexRange
	Ranges     domain.BacktestSplit
}

// Split partitions bars 60/20/20 in time order. Bars must be sorted by
// timestamp.
func Split(bars []*domain.Bar) (Partition, error) {
	n := len(bars)
	if n < MinBars {
		return Partition{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, n, MinBars)
	}
	for i := 1; i < n; i++ {
		if bars[i].TimestampMs <= bars[i-1].TimestampMs {
			return Partition{}, fmt.Errorf("bars not strictly ascending at index %d", i)
		}
	}

	trainEnd := n * TrainPct / 100
	valEnd := n * (TrainPct + ValidationPct) / 100
	p := Partition{
		Train:      IndexRange{0, trainEnd},
		Validation: IndexRange{trainEnd, valEnd},
		Test:       IndexRange{valEnd, n},
	}
	p.Ranges = domain.BacktestSplit{
		Train:      timeRange(bars, p.Train),
		Validation: timeRange(bars, p.Validation),
		Test:       timeRange(bars, p.Test),
	}
	return p, nil
}

func timeRange(bars []*domain.Bar, r IndexRange) domain.TimeRange {
	return domain.TimeRange{Start: bars[r.Start].TimestampMs, End: bars[r.End-1].TimestampMs}
}
