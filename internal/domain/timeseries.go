package domain

// Bar is one OHLCV candle.
// Corresponds to the bars table in ClickHouse, keyed by (symbol, timestamp_ms).
type Bar struct {
	Symbol      string  // instrument symbol
	TimestampMs int64   // bar open time (ms)
	Open        float64 // open price
	High        float64 // high price
	Low         float64 // low price
	Close       float64 // close price
	Volume      float64 // traded volume
}

// Closes extracts close prices in bar order.
func Closes(bars []*Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// TimeRange is an inclusive [Start, End] interval in milliseconds.
type TimeRange struct {
	Start int64
	End   int64
}

// Contains reports whether ts lies inside the range.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}
