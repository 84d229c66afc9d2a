package metrics

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1}, {0.5, 3}, {1, 5}, {0.25, 2}, {0.1, 1.4},
	}
	for _, tt := range tests {
		if got := Percentile(sorted, tt.p); math.Abs(got-tt.want) > eps {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if Percentile(nil, 0.5) != 0 {
		t.Error("expected 0 for empty input")
	}
}

func TestStdDev_Sample(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	// population stddev is 2; sample is sqrt(32/7)
	want := math.Sqrt(32.0 / 7.0)
	if got := StdDev(xs, Mean(xs)); math.Abs(got-want) > eps {
		t.Errorf("StdDev = %v, want %v", got, want)
	}
	if StdDev([]float64{1}, 1) != 0 {
		t.Error("single sample stddev should be 0")
	}
}

func TestMaxDrawdown(t *testing.T) {
	// cumulative: 0.1, 0.3, 0.0, -0.1, 0.2 -> peak 0.3, trough -0.1
	got := MaxDrawdown([]float64{0.1, 0.2, -0.3, -0.1, 0.3})
	if math.Abs(got-0.4) > eps {
		t.Errorf("MaxDrawdown = %v, want 0.4", got)
	}
}

func TestMaxConsecutiveLosses(t *testing.T) {
	got := MaxConsecutiveLosses([]float64{0.1, -0.1, 0, -0.2, 0.3, -0.1})
	if got != 3 {
		t.Errorf("MaxConsecutiveLosses = %d, want 3", got)
	}
}

func TestSharpeAndTotalReturn(t *testing.T) {
	if Sharpe([]float64{0.01, 0.01, 0.01}) != 0 {
		t.Error("zero variance should give zero sharpe")
	}
	r := []float64{0.02, -0.01, 0.03, 0.01}
	mean := Mean(r)
	want := mean / StdDev(r, mean) * 2
	if got := Sharpe(r); math.Abs(got-want) > eps {
		t.Errorf("Sharpe = %v, want %v", got, want)
	}
	if got := TotalReturn([]float64{0.1, -0.1}); math.Abs(got-(-0.01)) > eps {
		t.Errorf("TotalReturn = %v, want -0.01", got)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{0.05, -0.02, 0.03, -0.01})
	if s.Count != 4 || s.Wins != 2 || s.Losses != 2 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.WinRate != 0.5 {
		t.Errorf("WinRate = %v, want 0.5", s.WinRate)
	}
	if s.Min != -0.02 || s.Max != 0.05 {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if (Summarize(nil) != Summary{}) {
		t.Error("empty input should give zero summary")
	}
}

func TestCalibrateAndBrier(t *testing.T) {
	preds := []Prediction{
		{Confidence: 95, Hit: true},
		{Confidence: 91, Hit: false},
		{Confidence: 100, Hit: true},
		{Confidence: 55, Hit: true},
	}
	buckets := Calibrate(preds)
	if len(buckets) != 10 {
		t.Fatalf("expected 10 buckets, got %d", len(buckets))
	}
	top := buckets[9]
	if top.Count != 3 || top.Hits != 2 {
		t.Errorf("top bucket = %+v", top)
	}
	if buckets[5].Count != 1 || buckets[5].HitRate != 1 {
		t.Errorf("bucket 5 = %+v", buckets[5])
	}

	// (0.05^2 + 0.91^2 + 0 + 0.45^2) / 4
	want := (0.0025 + 0.8281 + 0 + 0.2025) / 4
	if got := Brier(preds); math.Abs(got-want) > eps {
		t.Errorf("Brier = %v, want %v", got, want)
	}
}
