package types

import "time"

type SignalType string

const (
	// SignalTypeEnterLong tells the engine to open a long position
	SignalTypeEnterLong SignalType = "enter_long"
	// SignalTypeEnterShort tells the engine to open a short position
	SignalTypeEnterShort SignalType = "enter_short"
	// SignalTypeExit tells the engine to close the current position
	SignalTypeExit SignalType = "exit"
	// SignalTypeHold tells the engine to take no action
	SignalTypeHold SignalType = "hold"
)

// Signal is the evaluator's decision for one symbol in one cycle. It carries
// the indicator snapshot that produced it for auditability.
type Signal struct {
	// Time is the time of the bar that produced the signal
	Time time.Time
	// Type is the decision
	Type SignalType
	// Symbol is the instrument the signal applies to
	Symbol string
	// Reason names the rule that fired
	Reason string
	// Indicators is the snapshot the evaluator decided on
	Indicators *IndicatorSet
}

// IsEntry reports whether the signal opens new exposure.
func (s Signal) IsEntry() bool {
	return s.Type == SignalTypeEnterLong || s.Type == SignalTypeEnterShort
}
