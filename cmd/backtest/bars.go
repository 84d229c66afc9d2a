package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"trade-signal-pipeline/internal/domain"
)

// barColumns is the expected CSV header. timestamp is unix milliseconds
// or RFC3339.
var barColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// readBarsCSV parses OHLCV rows for symbol and returns them sorted by
// time. Duplicate timestamps are rejected.
func readBarsCSV(r io.Reader, symbol string) ([]*domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(barColumns)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, want := range barColumns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return nil, fmt.Errorf("column %d is %q, want %q", i+1, header[i], want)
		}
	}

	var bars []*domain.Bar
	seen := make(map[int64]struct{})
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		b, err := parseBar(rec, symbol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if _, dup := seen[b.TimestampMs]; dup {
			return nil, fmt.Errorf("line %d: duplicate timestamp %d", line, b.TimestampMs)
		}
		seen[b.TimestampMs] = struct{}{}
		bars = append(bars, b)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].TimestampMs < bars[j].TimestampMs })
	return bars, nil
}

func parseBar(rec []string, symbol string) (*domain.Bar, error) {
	ts, err := parseTimestamp(rec[0])
	if err != nil {
		return nil, err
	}
	var v [5]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(rec[i+1], 64); err != nil {
			return nil, fmt.Errorf("%s: %w", barColumns[i+1], err)
		}
	}
	b := &domain.Bar{
		Symbol:      symbol,
		TimestampMs: ts,
		Open:        v[0],
		High:        v[1],
		Low:         v[2],
		Close:       v[3],
		Volume:      v[4],
	}
	if b.Low > b.High || b.Close <= 0 || b.Volume < 0 {
		return nil, fmt.Errorf("inconsistent bar at %d", ts)
	}
	return b, nil
}

func parseTimestamp(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: want unix ms or RFC3339", s)
	}
	return t.UnixMilli(), nil
}
