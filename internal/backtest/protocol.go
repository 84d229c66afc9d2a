package backtest

import (
	"errors"
	"fmt"
	"sync"

	"trade-signal-pipeline/internal/domain"
)

// Protocol errors
var (
	ErrLookAhead         = errors.New("test range read during parameter selection")
	ErrTestAlreadyScored = errors.New("test range already scored")
	ErrSelectionMissing  = errors.New("no parameter selection before test scoring")
)

// Protocol enforces the split discipline over one bar series: selection
// only sees train and validation, and the test range is scored once.
type Protocol struct {
	bars []*domain.Bar
	part Partition

	mu       sync.Mutex
	selected bool
	maxRead  int64 // latest timestamp read during selection
	touched  bool
	scored   bool
}

// NewProtocol splits bars and returns a guard over them.
func NewProtocol(bars []*domain.Bar) (*Protocol, error) {
	part, err := Split(bars)
	if err != nil {
		return nil, err
	}
	return &Protocol{bars: bars, part: part}, nil
}

// Partition returns the split.
func (p *Protocol) Partition() Partition { return p.part }

// View is the selection-time window onto the bars. Every read is
// recorded; a read at or after the test start fails with ErrLookAhead.
type View struct {
	p *Protocol
}

// Partition returns the split. Only its train and validation ranges are
// readable through the view.
func (v *View) Partition() Partition { return v.p.part }

// Bars returns bars[start:end]. end may not exceed the validation end.
func (v *View) Bars(start, end int) ([]*domain.Bar, error) {
	if start < 0 || start > end {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	if end > v.p.part.Test.Start {
		v.p.mu.Lock()
		v.p.touched = true
		v.p.mu.Unlock()
		return nil, fmt.Errorf("%w: index %d >= test start %d", ErrLookAhead, end-1, v.p.part.Test.Start)
	}
	if end > start {
		v.p.record(v.p.bars[end-1].TimestampMs)
	}
	return v.p.bars[start:end], nil
}

// Train returns the train bars.
func (v *View) Train() ([]*domain.Bar, error) {
	return v.Bars(v.p.part.Train.Start, v.p.part.Train.End)
}

// UpToValidation returns train and validation bars. The validation range
// starts at Partition().Validation.Start.
func (v *View) UpToValidation() ([]*domain.Bar, error) {
	return v.Bars(0, v.p.part.Validation.End)
}

func (p *Protocol) record(ts int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts > p.maxRead {
		p.maxRead = ts
	}
}

// Select runs fn with the selection view.
func (p *Protocol) Select(fn func(v *View) error) error {
	if err := fn(&View{p: p}); err != nil {
		return err
	}
	p.mu.Lock()
	p.selected = true
	p.mu.Unlock()
	return nil
}

// MaxSelectionRead returns the latest bar timestamp selection has read.
func (p *Protocol) MaxSelectionRead() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxRead
}

// ScoreTest runs fn once over the whole series and the test range. It
// fails if selection ever reached into the test range, and on a second call.
func (p *Protocol) ScoreTest(fn func(bars []*domain.Bar, test IndexRange) error) error {
	p.mu.Lock()
	switch {
	case p.scored:
		p.mu.Unlock()
		return ErrTestAlreadyScored
	case !p.selected:
		p.mu.Unlock()
		return ErrSelectionMissing
	case p.touched || p.maxRead >= p.part.Ranges.Test.Start:
		p.mu.Unlock()
		return fmt.Errorf("%w: selection read up to %d, test starts at %d", ErrLookAhead, p.maxRead, p.part.Ranges.Test.Start)
	}
	p.scored = true
	p.mu.Unlock()

	return fn(p.bars, p.part.Test)
}
