package lookup

import (
	"testing"

	"trade-signal-pipeline/internal/domain"
)

func testBars() []*domain.Bar {
	return []*domain.Bar{
		{TimestampMs: 1000, Close: 1.0},
		{TimestampMs: 2000, Close: 2.0},
		{TimestampMs: 3000, Close: 3.0},
	}
}

func TestIndexAtOrAfter(t *testing.T) {
	bars := testBars()
	tests := []struct {
		target int64
		want   int
	}{
		{500, 0},
		{1000, 0},
		{1001, 1},
		{3000, 2},
		{3001, 3},
	}
	for _, tt := range tests {
		if got := IndexAtOrAfter(tt.target, bars); got != tt.want {
			t.Errorf("IndexAtOrAfter(%d) = %d, want %d", tt.target, got, tt.want)
		}
	}
}

func TestIndexAtOrBefore(t *testing.T) {
	bars := testBars()
	if got := IndexAtOrBefore(999, bars); got != -1 {
		t.Errorf("before first: got %d", got)
	}
	if got := IndexAtOrBefore(1000, bars); got != 0 {
		t.Errorf("exact first: got %d", got)
	}
	if got := IndexAtOrBefore(2999, bars); got != 1 {
		t.Errorf("between: got %d", got)
	}
}

func TestWindow(t *testing.T) {
	bars := testBars()

	got := Window(domain.TimeRange{Start: 1500, End: 3000}, bars)
	if len(got) != 2 || got[0].TimestampMs != 2000 || got[1].TimestampMs != 3000 {
		t.Errorf("unexpected window %v", got)
	}
	if got := Window(domain.TimeRange{Start: 2100, End: 2900}, bars); got != nil {
		t.Errorf("expected empty window, got %v", got)
	}
}
