package indicator

import (
	"math"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// ATR implements the Average True Range with Wilder's smoothing.
// It is the volatility input to stop distance and take-profit levels.
type ATR struct {
	period int
}

// NewATR creates an ATR indicator with the given period (typically 14).
func NewATR(period int) (*ATR, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "atr period must be positive, got %d", period)
	}

	return &ATR{period: period}, nil
}

// Name returns the indicator identifier.
func (a *ATR) Name() types.IndicatorType {
	return types.IndicatorTypeATR
}

// MinBars returns the minimum window length required to compute a value.
// ATR needs one extra bar for the first previous-close term.
func (a *ATR) MinBars() int {
	return a.period + 1
}

// Compute returns the ATR over the window.
func (a *ATR) Compute(bars []types.Bar) (float64, error) {
	if err := requireBars(a.Name(), bars, a.MinBars()); err != nil {
		return 0, err
	}

	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, trueRange(bars[i], bars[i-1].Close))
	}

	atr := 0.0
	for i := 0; i < a.period; i++ {
		atr += trs[i]
	}

	atr /= float64(a.period)

	for i := a.period; i < len(trs); i++ {
		atr = (atr*float64(a.period-1) + trs[i]) / float64(a.period)
	}

	return atr, nil
}

// trueRange is the greatest of high-low, |high-prevClose|, |low-prevClose|.
func trueRange(bar types.Bar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)

	return math.Max(hl, math.Max(hc, lc))
}
