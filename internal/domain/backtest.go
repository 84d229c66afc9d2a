package domain

// BacktestSplit partitions history into chronological, non-overlapping
// train, validation and test ranges.
type BacktestSplit struct {
	Train      TimeRange
	Validation TimeRange
	Test       TimeRange
}

// SelectionRange is the span parameter optimization is allowed to read.
func (s BacktestSplit) SelectionRange() TimeRange {
	return TimeRange{Start: s.Train.Start, End: s.Validation.End}
}
