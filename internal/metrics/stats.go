package metrics

import (
	"math"
	"sort"
)

// Summary describes a chronological series of per-trade returns.
type Summary struct {
	Count  int
	Wins   int
	Losses int

	WinRate float64

	Mean   float64
	Median float64
	P10    float64
	P25    float64
	P75    float64
	P90    float64
	Min    float64
	Max    float64
	StdDev float64

	TotalReturn          float64 // compounded
	Sharpe               float64
	MaxDrawdown          float64 // on cumulative returns
	MaxConsecutiveLosses int
}

// Summarize computes all statistics for returns in chronological order.
// A return > 0 is a win; everything else is a loss.
func Summarize(returns []float64) Summary {
	n := len(returns)
	if n == 0 {
		return Summary{}
	}

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}

	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)

	mean := Mean(returns)
	return Summary{
		Count:   n,
		Wins:    wins,
		Losses:  n - wins,
		WinRate: WinRate(wins, n),

		Mean:   mean,
		Median: Percentile(sorted, 0.50),
		P10:    Percentile(sorted, 0.10),
		P25:    Percentile(sorted, 0.25),
		P75:    Percentile(sorted, 0.75),
		P90:    Percentile(sorted, 0.90),
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: StdDev(returns, mean),

		TotalReturn:          TotalReturn(returns),
		Sharpe:               Sharpe(returns),
		MaxDrawdown:          MaxDrawdown(returns),
		MaxConsecutiveLosses: MaxConsecutiveLosses(returns),
	}
}

// WinRate returns wins / total, 0 for no trades.
func WinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// Mean returns the arithmetic mean.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation (n-1 denominator).
func StdDev(xs []float64, mean float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// Percentile uses linear interpolation. sorted must be ascending,
// p is a fraction (0.10 = 10th percentile).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// Sharpe returns mean/stddev scaled by sqrt(N), or 0 when stddev is 0.
func Sharpe(returns []float64) float64 {
	mean := Mean(returns)
	sd := StdDev(returns, mean)
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(float64(len(returns)))
}

// TotalReturn compounds returns: prod(1+r) - 1.
func TotalReturn(returns []float64) float64 {
	equity := 1.0
	for _, r := range returns {
		equity *= 1 + r
	}
	return equity - 1
}

// MaxDrawdown is the worst peak-to-trough decline of cumulative returns.
func MaxDrawdown(returns []float64) float64 {
	cumulative := 0.0
	peak := 0.0
	maxDD := 0.0
	for _, r := range returns {
		cumulative += r
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// MaxConsecutiveLosses is the longest run of returns <= 0.
func MaxConsecutiveLosses(returns []float64) int {
	maxStreak, streak := 0, 0
	for _, r := range returns {
		if r <= 0 {
			streak++
			if streak > maxStreak {
				maxStreak = streak
			}
		} else {
			streak = 0
		}
	}
	return maxStreak
}
