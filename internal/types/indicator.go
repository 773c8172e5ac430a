package types

import (
	"time"

	"github.com/moznion/go-optional"
)

type IndicatorType string

const (
	IndicatorTypeSMA IndicatorType = "sma"
	IndicatorTypeEMA IndicatorType = "ema"
	IndicatorTypeWMA IndicatorType = "wma"
	IndicatorTypeRSI IndicatorType = "rsi"
	IndicatorTypeATR IndicatorType = "atr"

	// Role names: the evaluator keys on what an indicator is for, not its
	// formula, so fast/slow can be any moving-average type.
	IndicatorTypeFastMA IndicatorType = "fast_ma"
	IndicatorTypeSlowMA IndicatorType = "slow_ma"
)

// IndicatorValue is one computed indicator reading. Value is None when the
// indicator could not be computed for the window (insufficient history).
type IndicatorValue struct {
	Name  IndicatorType
	Value optional.Option[float64]
}

// Available reports whether the reading carries a usable value.
func (v IndicatorValue) Available() bool {
	return v.Value.IsSome()
}

// IndicatorSet holds the latest reading per indicator plus a short trailing
// history for each, newest last. Recomputed from scratch every cycle so a
// partial update can never leave it internally inconsistent.
type IndicatorSet struct {
	Symbol  string
	Time    time.Time
	Values  map[IndicatorType]IndicatorValue
	History map[IndicatorType][]float64
}

// Get returns the latest reading for the named indicator. The zero reading
// (unavailable) is returned for indicators the engine never computed.
func (s *IndicatorSet) Get(name IndicatorType) IndicatorValue {
	if s == nil || s.Values == nil {
		return IndicatorValue{Name: name, Value: optional.None[float64]()}
	}

	v, ok := s.Values[name]
	if !ok {
		return IndicatorValue{Name: name, Value: optional.None[float64]()}
	}

	return v
}
