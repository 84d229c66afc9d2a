package lookup

import (
	"sort"

	"trade-signal-pipeline/internal/domain"
)

// IndexAtOrBefore returns the index of the last bar whose timestamp is
// <= target, or -1 if every bar is later. Bars must be sorted ascending.
func IndexAtOrBefore(target int64, bars []*domain.Bar) int {
	return sort.Search(len(bars), func(i int) bool { return bars[i].TimestampMs > target }) - 1
}

// IndexAtOrAfter returns the index of the first bar whose timestamp is
// >= target, or len(bars) if every bar is earlier.
func IndexAtOrAfter(target int64, bars []*domain.Bar) int {
	return sort.Search(len(bars), func(i int) bool { return bars[i].TimestampMs >= target })
}

// Window returns the bars with timestamps inside r, sharing the backing
// array of bars.
func Window(r domain.TimeRange, bars []*domain.Bar) []*domain.Bar {
	lo := IndexAtOrAfter(r.Start, bars)
	hi := IndexAtOrBefore(r.End, bars) + 1
	if hi <= lo {
		return nil
	}
	return bars[lo:hi]
}
