// Package risk computes order quantities and protective price levels.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// Config parameterizes position sizing.
type Config struct {
	// RiskFraction is the fraction of account equity risked per trade.
	RiskFraction float64 `yaml:"risk_fraction" json:"risk_fraction" validate:"required,gt=0,lte=1"`
	// MaxQuantity caps the computed order quantity.
	MaxQuantity float64 `yaml:"max_quantity" json:"max_quantity" validate:"required,gt=0"`
	// MinUnit is the broker's minimum tradable unit; quantities are floored
	// to a multiple of it.
	MinUnit float64 `yaml:"min_unit" json:"min_unit" validate:"required,gt=0"`
	// StopATRMultiplier sets the stop distance as a multiple of ATR.
	StopATRMultiplier float64 `yaml:"stop_atr_multiplier" json:"stop_atr_multiplier" validate:"required,gt=0"`
	// TargetATRMultiplier sets the take-profit distance as a multiple of ATR.
	TargetATRMultiplier float64 `yaml:"target_atr_multiplier" json:"target_atr_multiplier" validate:"required,gt=0"`
}

// Sizer converts account equity and stop distance into an order quantity.
// All arithmetic runs on decimals so sizing never accumulates float drift.
type Sizer struct {
	config Config
}

// NewSizer creates a sizer from the given config.
func NewSizer(config Config) (*Sizer, error) {
	if config.RiskFraction <= 0 || config.RiskFraction > 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidRiskFraction,
			"risk fraction must be in (0, 1], got %v", config.RiskFraction)
	}

	if config.MinUnit <= 0 || config.MaxQuantity <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "min unit and max quantity must be positive")
	}

	return &Sizer{config: config}, nil
}

// QuantityFor computes the order quantity for the given account equity and
// stop distance: floor((equity × riskFraction) / stopDistance) to a multiple
// of the minimum unit, clamped to the configured maximum.
//
// A zero or negative stop distance fails with ErrCodeInvalidStopDistance. A
// quantity that floors to zero fails with ErrCodeInsufficientRiskBudget;
// callers must treat that as a forced hold, never as a zero-size entry.
func (s *Sizer) QuantityFor(equity, stopDistance float64) (float64, error) {
	if stopDistance <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidStopDistance, "stop distance must be positive, got %v", stopDistance)
	}

	if equity <= 0 {
		return 0, errors.Newf(errors.ErrCodeInsufficientRiskBudget, "no equity to risk, got %v", equity)
	}

	budget := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(s.config.RiskFraction))
	raw := budget.Div(decimal.NewFromFloat(stopDistance))

	minUnit := decimal.NewFromFloat(s.config.MinUnit)
	quantity := raw.Div(minUnit).Floor().Mul(minUnit)

	maxQty := decimal.NewFromFloat(s.config.MaxQuantity)
	if quantity.GreaterThan(maxQty) {
		quantity = maxQty
	}

	if quantity.LessThan(minUnit) {
		return 0, errors.Newf(errors.ErrCodeInsufficientRiskBudget,
			"quantity %s below minimum unit %s", quantity, minUnit)
	}

	out, _ := quantity.Float64()

	return out, nil
}

// Levels derives the stop and target prices for an entry from the ATR.
func (s *Sizer) Levels(direction types.Direction, entryPrice, atr float64) (stop, target float64) {
	stopDistance := atr * s.config.StopATRMultiplier
	targetDistance := atr * s.config.TargetATRMultiplier

	if direction == types.DirectionShort {
		return entryPrice + stopDistance, entryPrice - targetDistance
	}

	return entryPrice - stopDistance, entryPrice + targetDistance
}

// StopDistance returns the ATR-derived stop distance used for sizing.
func (s *Sizer) StopDistance(atr float64) float64 {
	return atr * s.config.StopATRMultiplier
}
