// Package indicator computes technical indicators over bar windows.
//
// Every indicator is a pure function of its input window: identical windows
// always yield identical values, which is what makes the signal evaluator
// replayable against recorded data. Indicators that lack sufficient history
// return an InsufficientDataError rather than a padded value.
package indicator

import (
	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// Indicator is the interface every technical indicator implements.
type Indicator interface {
	// Name returns the indicator identifier.
	Name() types.IndicatorType
	// MinBars returns the minimum window length required to compute a value.
	MinBars() int
	// Compute derives the indicator value from a chronological bar window.
	Compute(bars []types.Bar) (float64, error)
}

func requireBars(name types.IndicatorType, bars []types.Bar, min int) error {
	if len(bars) < min {
		symbol := ""
		if len(bars) > 0 {
			symbol = bars[0].Symbol
		}

		return errors.NewInsufficientDataErrorf(min, len(bars), symbol,
			"%s requires %d bars, have %d", name, min, len(bars))
	}

	return nil
}

func closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}

	return out
}
