// Package strategy turns indicator snapshots into trading signals.
//
// The evaluator emits exactly one signal per symbol per cycle. Rules that
// need crossover detection compare the current snapshot against the previous
// cycle's snapshot, so a signal fires on the transition between two indicator
// orderings rather than re-firing while the ordering persists.
package strategy

import (
	"github.com/marlinquant/marlin-trading/internal/types"
)

// Rule is one strategy rule. Evaluate returns the signal type it wants to
// fire and whether it fired at all. Rules must treat unavailable indicator
// values as non-firing.
type Rule interface {
	Name() string
	Evaluate(curr, prev *types.IndicatorSet) (types.SignalType, bool)
}

// Evaluator runs all rules against the latest IndicatorSet and resolves
// conflicts. Tie-break policy: the most conservative outcome wins; an exit
// always overrides an entry in the same cycle, and conflicting entry
// directions cancel to hold.
type Evaluator struct {
	rules []Rule
	// prev holds the previous cycle's snapshot per symbol for crossover rules.
	prev map[string]*types.IndicatorSet
}

// NewEvaluator creates an evaluator over the given rules.
func NewEvaluator(rules ...Rule) *Evaluator {
	return &Evaluator{
		rules: rules,
		prev:  make(map[string]*types.IndicatorSet),
	}
}

// Evaluate produces the signal for the snapshot's symbol and records the
// snapshot as the next cycle's history.
func (e *Evaluator) Evaluate(curr *types.IndicatorSet) types.Signal {
	prev := e.prev[curr.Symbol]
	e.prev[curr.Symbol] = curr

	signal := types.Signal{
		Time:       curr.Time,
		Type:       types.SignalTypeHold,
		Symbol:     curr.Symbol,
		Reason:     "no rule fired",
		Indicators: curr,
	}

	var (
		exitRule  string
		longRule  string
		shortRule string
	)

	for _, rule := range e.rules {
		outcome, fired := rule.Evaluate(curr, prev)
		if !fired {
			continue
		}

		switch outcome {
		case types.SignalTypeExit:
			exitRule = rule.Name()
		case types.SignalTypeEnterLong:
			longRule = rule.Name()
		case types.SignalTypeEnterShort:
			shortRule = rule.Name()
		case types.SignalTypeHold:
		}
	}

	switch {
	case exitRule != "":
		signal.Type = types.SignalTypeExit
		signal.Reason = exitRule
	case longRule != "" && shortRule != "":
		// Conflicting entries cancel out.
		signal.Type = types.SignalTypeHold
		signal.Reason = "conflicting entry rules"
	case longRule != "":
		signal.Type = types.SignalTypeEnterLong
		signal.Reason = longRule
	case shortRule != "":
		signal.Type = types.SignalTypeEnterShort
		signal.Reason = shortRule
	}

	return signal
}

// Reset clears the stored per-symbol history.
func (e *Evaluator) Reset() {
	e.prev = make(map[string]*types.IndicatorSet)
}
