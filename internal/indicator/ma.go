package indicator

import (
	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// SMA implements the simple moving average of closing prices.
type SMA struct {
	period int
}

// NewSMA creates a simple moving average indicator.
func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "sma period must be positive, got %d", period)
	}

	return &SMA{period: period}, nil
}

// Name returns the indicator identifier.
func (s *SMA) Name() types.IndicatorType {
	return types.IndicatorTypeSMA
}

// MinBars returns the minimum window length required to compute a value.
func (s *SMA) MinBars() int {
	return s.period
}

// Compute returns the mean of the last period closes.
func (s *SMA) Compute(bars []types.Bar) (float64, error) {
	if err := requireBars(s.Name(), bars, s.period); err != nil {
		return 0, err
	}

	window := closes(bars[len(bars)-s.period:])

	sum := 0.0
	for _, c := range window {
		sum += c
	}

	return sum / float64(s.period), nil
}

// EMA implements the exponential moving average of closing prices.
//
// The first period closes seed the average via SMA; the remainder of the
// window is smoothed with alpha = 2/(period+1), matching the pandas
// ewm(adjust=False) convention.
type EMA struct {
	period int
}

// NewEMA creates an exponential moving average indicator.
func NewEMA(period int) (*EMA, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "ema period must be positive, got %d", period)
	}

	return &EMA{period: period}, nil
}

// Name returns the indicator identifier.
func (e *EMA) Name() types.IndicatorType {
	return types.IndicatorTypeEMA
}

// MinBars returns the minimum window length required to compute a value.
func (e *EMA) MinBars() int {
	return e.period
}

// Compute returns the exponential moving average over the window.
func (e *EMA) Compute(bars []types.Bar) (float64, error) {
	if err := requireBars(e.Name(), bars, e.period); err != nil {
		return 0, err
	}

	prices := closes(bars)

	seed := 0.0
	for i := 0; i < e.period; i++ {
		seed += prices[i]
	}

	seed /= float64(e.period)

	alpha := 2.0 / float64(e.period+1)

	ema := seed
	for i := e.period; i < len(prices); i++ {
		ema = prices[i]*alpha + ema*(1-alpha)
	}

	return ema, nil
}

// WMA implements the linearly weighted moving average of closing prices.
// The most recent close carries weight period, the oldest weight 1.
type WMA struct {
	period int
}

// NewWMA creates a weighted moving average indicator.
func NewWMA(period int) (*WMA, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "wma period must be positive, got %d", period)
	}

	return &WMA{period: period}, nil
}

// Name returns the indicator identifier.
func (w *WMA) Name() types.IndicatorType {
	return types.IndicatorTypeWMA
}

// MinBars returns the minimum window length required to compute a value.
func (w *WMA) MinBars() int {
	return w.period
}

// Compute returns the weighted mean of the last period closes.
func (w *WMA) Compute(bars []types.Bar) (float64, error) {
	if err := requireBars(w.Name(), bars, w.period); err != nil {
		return 0, err
	}

	window := closes(bars[len(bars)-w.period:])

	weighted := 0.0
	weightSum := 0.0

	for i, c := range window {
		weight := float64(i + 1)
		weighted += c * weight
		weightSum += weight
	}

	return weighted / weightSum, nil
}
