package indicator

import (
	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// RSI implements the Relative Strength Index with Wilder's smoothing.
type RSI struct {
	period int
}

// NewRSI creates an RSI indicator with the given period (typically 14).
func NewRSI(period int) (*RSI, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "rsi period must be positive, got %d", period)
	}

	return &RSI{period: period}, nil
}

// Name returns the indicator identifier.
func (r *RSI) Name() types.IndicatorType {
	return types.IndicatorTypeRSI
}

// MinBars returns the minimum window length required to compute a value.
// RSI needs one extra bar for the first close-to-close delta.
func (r *RSI) MinBars() int {
	return r.period + 1
}

// Compute returns the RSI over the window. The first period deltas seed the
// average gain/loss; later deltas apply Wilder smoothing.
func (r *RSI) Compute(bars []types.Bar) (float64, error) {
	if err := requireBars(r.Name(), bars, r.MinBars()); err != nil {
		return 0, err
	}

	prices := closes(bars)

	avgGain := 0.0
	avgLoss := 0.0

	for i := 1; i <= r.period; i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}

	avgGain /= float64(r.period)
	avgLoss /= float64(r.period)

	for i := r.period + 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]

		gain := 0.0
		loss := 0.0

		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}

		avgGain = (avgGain*float64(r.period-1) + gain) / float64(r.period)
		avgLoss = (avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs), nil
}
