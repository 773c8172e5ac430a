// Package series provides the fixed-capacity rolling store of OHLC bars
// that feeds indicator calculations.
package series

import (
	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// DefaultCapacity is used when a series is created with a non-positive capacity.
const DefaultCapacity = 500

// PriceSeries is an ordered, capacity-bounded sequence of bars for one
// instrument. Timestamps are strictly increasing; the oldest bar is evicted
// on overflow. Not safe for concurrent use; the engine serializes access
// per instrument.
type PriceSeries struct {
	symbol   string
	capacity int
	bars     []types.Bar
}

// NewPriceSeries creates an empty series for the given symbol.
func NewPriceSeries(symbol string, capacity int) *PriceSeries {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &PriceSeries{
		symbol:   symbol,
		capacity: capacity,
		bars:     make([]types.Bar, 0, capacity),
	}
}

// Symbol returns the instrument this series tracks.
func (s *PriceSeries) Symbol() string {
	return s.symbol
}

// Len returns the number of stored bars.
func (s *PriceSeries) Len() int {
	return len(s.bars)
}

// Capacity returns the configured window bound.
func (s *PriceSeries) Capacity() int {
	return s.capacity
}

// Append records a new bar.
//
// A bar older than the last stored bar fails with ErrCodeOutOfOrderBar. A
// redelivery of the last bar with identical fields is an idempotent no-op; a
// same-timestamp bar with different fields fails with ErrCodeDuplicateBar.
// Malformed bars fail with ErrCodeMalformedBar. On overflow the oldest bar
// is evicted.
func (s *PriceSeries) Append(bar types.Bar) error {
	if !bar.IsValid() {
		return errors.Newf(errors.ErrCodeMalformedBar, "malformed bar for %s at %s", bar.Symbol, bar.Time)
	}

	if bar.Symbol != s.symbol {
		return errors.Newf(errors.ErrCodeMalformedBar, "bar symbol %s does not match series %s", bar.Symbol, s.symbol)
	}

	if last, ok := s.last(); ok {
		if bar.Time.Before(last.Time) {
			return errors.Newf(errors.ErrCodeOutOfOrderBar,
				"bar at %s precedes last stored bar at %s", bar.Time, last.Time)
		}

		if bar.Time.Equal(last.Time) {
			if bar.Equal(last) {
				return nil
			}

			return errors.Newf(errors.ErrCodeDuplicateBar,
				"conflicting bar for %s at %s", bar.Symbol, bar.Time)
		}
	}

	if len(s.bars) == s.capacity {
		copy(s.bars, s.bars[1:])
		s.bars = s.bars[:len(s.bars)-1]
	}

	s.bars = append(s.bars, bar)

	return nil
}

// Window returns the last n bars in chronological order, or fewer when the
// series holds less history. Callers must handle short windows explicitly.
func (s *PriceSeries) Window(n int) []types.Bar {
	if n <= 0 {
		return nil
	}

	if n > len(s.bars) {
		n = len(s.bars)
	}

	out := make([]types.Bar, n)
	copy(out, s.bars[len(s.bars)-n:])

	return out
}

// Last returns the most recent bar.
func (s *PriceSeries) Last() (types.Bar, error) {
	last, ok := s.last()
	if !ok {
		return types.Bar{}, errors.Newf(errors.ErrCodeInsufficientHistory, "series %s is empty", s.symbol)
	}

	return last, nil
}

func (s *PriceSeries) last() (types.Bar, bool) {
	if len(s.bars) == 0 {
		return types.Bar{}, false
	}

	return s.bars[len(s.bars)-1], true
}
