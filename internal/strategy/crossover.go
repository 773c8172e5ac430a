package strategy

import (
	"github.com/marlinquant/marlin-trading/internal/types"
)

// CrossoverConfig parameterizes the moving-average crossover rules.
type CrossoverConfig struct {
	// AllowShort maps a downward cross to an ENTER_SHORT instead of nothing.
	AllowShort bool
	// RSIFilter enables the overbought/oversold entry filter.
	RSIFilter bool
	// RSIOverbought blocks long entries at or above this level (typically 70).
	RSIOverbought float64
	// RSIOversold blocks short entries at or below this level (typically 30).
	RSIOversold float64
}

// CrossoverEntry fires an entry when the fast moving average crosses the
// slow one. It fires only on the cycle of the cross: the previous snapshot
// must show the opposite (or equal) ordering.
type CrossoverEntry struct {
	config CrossoverConfig
}

// NewCrossoverEntry creates the crossover entry rule.
func NewCrossoverEntry(config CrossoverConfig) *CrossoverEntry {
	return &CrossoverEntry{config: config}
}

// Name returns the rule identifier.
func (r *CrossoverEntry) Name() string {
	return "ma_crossover_entry"
}

// Evaluate fires ENTER_LONG on an upward cross and, when shorts are allowed,
// ENTER_SHORT on a downward cross.
func (r *CrossoverEntry) Evaluate(curr, prev *types.IndicatorSet) (types.SignalType, bool) {
	up, down, ok := crossDirections(curr, prev)
	if !ok {
		return types.SignalTypeHold, false
	}

	if up && !r.blockedLong(curr) {
		return types.SignalTypeEnterLong, true
	}

	if down && r.config.AllowShort && !r.blockedShort(curr) {
		return types.SignalTypeEnterShort, true
	}

	return types.SignalTypeHold, false
}

func (r *CrossoverEntry) blockedLong(curr *types.IndicatorSet) bool {
	if !r.config.RSIFilter {
		return false
	}

	rsi := curr.Get(types.IndicatorTypeRSI)
	if !rsi.Available() {
		// No reading means the filter cannot vouch for the entry.
		return true
	}

	return rsi.Value.Unwrap() >= r.config.RSIOverbought
}

func (r *CrossoverEntry) blockedShort(curr *types.IndicatorSet) bool {
	if !r.config.RSIFilter {
		return false
	}

	rsi := curr.Get(types.IndicatorTypeRSI)
	if !rsi.Available() {
		return true
	}

	return rsi.Value.Unwrap() <= r.config.RSIOversold
}

// CrossunderExit fires EXIT when the fast moving average crosses below the
// slow one. Registered alongside CrossoverEntry it closes longs on the same
// transition that would open a short.
type CrossunderExit struct{}

// NewCrossunderExit creates the crossunder exit rule.
func NewCrossunderExit() *CrossunderExit {
	return &CrossunderExit{}
}

// Name returns the rule identifier.
func (r *CrossunderExit) Name() string {
	return "ma_crossunder_exit"
}

// Evaluate fires EXIT on a downward cross.
func (r *CrossunderExit) Evaluate(curr, prev *types.IndicatorSet) (types.SignalType, bool) {
	_, down, ok := crossDirections(curr, prev)
	if !ok || !down {
		return types.SignalTypeHold, false
	}

	return types.SignalTypeExit, true
}

// crossDirections compares the fast/slow ordering between snapshots. ok is
// false when any of the four readings is unavailable; a rule cannot fire on
// a half-known ordering.
func crossDirections(curr, prev *types.IndicatorSet) (up, down, ok bool) {
	if curr == nil || prev == nil {
		return false, false, false
	}

	currFast := curr.Get(types.IndicatorTypeFastMA)
	currSlow := curr.Get(types.IndicatorTypeSlowMA)
	prevFast := prev.Get(types.IndicatorTypeFastMA)
	prevSlow := prev.Get(types.IndicatorTypeSlowMA)

	if !currFast.Available() || !currSlow.Available() || !prevFast.Available() || !prevSlow.Available() {
		return false, false, false
	}

	cf, cs := currFast.Value.Unwrap(), currSlow.Value.Unwrap()
	pf, ps := prevFast.Value.Unwrap(), prevSlow.Value.Unwrap()

	up = pf <= ps && cf > cs
	down = pf >= ps && cf < cs

	return up, down, true
}
