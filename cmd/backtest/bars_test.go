package main

import (
	"strings"
	"testing"
)

func TestReadBarsCSV(t *testing.T) {
	in := `timestamp,open,high,low,close,volume
1704205860000,101,102,100,101.5,900
2024-01-02T14:30:00Z,100,101,99,100.5,1000
`
	bars, err := readBarsCSV(strings.NewReader(in), "AAPL")
	if err != nil {
		t.Fatalf("readBarsCSV: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].TimestampMs != 1704205800000 || bars[1].TimestampMs != 1704205860000 {
		t.Errorf("bars not sorted: %d, %d", bars[0].TimestampMs, bars[1].TimestampMs)
	}
	if bars[0].Symbol != "AAPL" || bars[0].Close != 100.5 {
		t.Errorf("first bar = %+v", *bars[0])
	}
}

func TestReadBarsCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"bad header", "ts,open,high,low,close,volume\n"},
		{"bad number", "timestamp,open,high,low,close,volume\n1,a,2,1,1,1\n"},
		{"bad timestamp", "timestamp,open,high,low,close,volume\nyesterday,1,2,1,1,1\n"},
		{"low above high", "timestamp,open,high,low,close,volume\n1,1,1,2,1,1\n"},
		{"duplicate", "timestamp,open,high,low,close,volume\n1,1,2,1,1,1\n1,1,2,1,1,1\n"},
		{"short row", "timestamp,open,high,low,close,volume\n1,1,2,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readBarsCSV(strings.NewReader(tt.in), "AAPL"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFloats(t *testing.T) {
	got, err := parseFloats(" 55, 60,65 ")
	if err != nil {
		t.Fatalf("parseFloats: %v", err)
	}
	if len(got) != 3 || got[0] != 55 || got[2] != 65 {
		t.Errorf("got %v", got)
	}
	if got, _ := parseFloats(""); got != nil {
		t.Errorf("empty input = %v, want nil", got)
	}
	if _, err := parseFloats("1,x"); err == nil {
		t.Error("expected error")
	}
}
