package regime

import (
	"testing"

	"trade-signal-pipeline/internal/domain"
)

func series(closes []float64) []*domain.Bar {
	bars := make([]*domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = &domain.Bar{Symbol: "AAPL", TimestampMs: int64(i), Open: c, High: c, Low: c, Close: c}
	}
	return bars
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestThresholdDetector(t *testing.T) {
	d := NewThresholdDetector(DefaultParams())

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 100
		if i%2 == 1 {
			flat[i] = 100.2
		}
	}

	crash := linear(40, 100, 0)
	crash[39] = 80 // 20% off the high

	volatile := make([]float64, 40)
	for i := range volatile {
		volatile[i] = 100
		if i%2 == 1 {
			volatile[i] = 110
		}
	}

	tests := []struct {
		name   string
		closes []float64
		want   domain.Regime
	}{
		{"steady rise", linear(40, 100, 0.5), domain.RegimeBull},
		{"steady fall", linear(40, 120, -0.3), domain.RegimeBear},
		{"sideways", flat, domain.RegimeChop},
		{"drawdown crisis", crash, domain.RegimeCrisis},
		{"volatility crisis", volatile, domain.RegimeCrisis},
		{"too few bars", linear(5, 100, 5), domain.RegimeChop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(series(tt.closes)); got != tt.want {
				_, f := d.Classify(series(tt.closes))
				t.Errorf("Detect() = %s, want %s (features %+v)", got, tt.want, f)
			}
		})
	}
}

func TestThresholdDetector_Deterministic(t *testing.T) {
	d := NewThresholdDetector(DefaultParams())
	bars := series(linear(60, 50, 0.3))
	first := d.Detect(bars)
	for i := 0; i < 10; i++ {
		if got := d.Detect(bars); got != first {
			t.Fatalf("run %d: %s != %s", i, got, first)
		}
	}
}

func TestThresholdDetector_UsesTrailingWindow(t *testing.T) {
	p := DefaultParams()
	p.Window = 20
	d := NewThresholdDetector(p)

	// Old crash is outside the window; the recent window is rising
	closes := append(linear(30, 100, -2), linear(20, 60, 0.5)...)
	if got := d.Detect(series(closes)); got != domain.RegimeBull {
		t.Errorf("Detect() = %s, want BULL", got)
	}
}
