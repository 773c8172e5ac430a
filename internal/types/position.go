package types

import "time"

// PositionState is one stage of the per-instrument order lifecycle.
type PositionState string

const (
	// PositionStateFlat means no exposure and no outstanding order.
	PositionStateFlat PositionState = "FLAT"
	// PositionStatePendingEntry means an entry order is submitted and awaiting fill.
	PositionStatePendingEntry PositionState = "PENDING_ENTRY"
	// PositionStateOpen means the entry filled and exposure is held.
	PositionStateOpen PositionState = "OPEN"
	// PositionStatePendingExit means a close order is submitted and awaiting fill.
	PositionStatePendingExit PositionState = "PENDING_EXIT"
)

// Position is the authoritative in-memory record of believed market exposure
// for one instrument. Exactly one record exists per instrument; it is owned
// and mutated exclusively by the position tracker.
type Position struct {
	Symbol             string        `json:"symbol" yaml:"symbol"`
	State              PositionState `json:"state" yaml:"state"`
	Direction          Direction     `json:"direction" yaml:"direction"`
	Quantity           float64       `json:"quantity" yaml:"quantity"`
	EntryPrice         float64       `json:"entry_price" yaml:"entry_price"`
	StopPrice          float64       `json:"stop_price" yaml:"stop_price"`
	TargetPrice        float64       `json:"target_price" yaml:"target_price"`
	BrokerOrderID      string        `json:"broker_order_id" yaml:"broker_order_id"`
	ClientOrderID      string        `json:"client_order_id" yaml:"client_order_id"`
	ExitAttempts       int           `json:"exit_attempts" yaml:"exit_attempts"`
	LastTransitionTime time.Time     `json:"last_transition_time" yaml:"last_transition_time"`
}

// HasPendingOrder reports whether an order is outstanding for this position.
// While true, new signals are evaluated but must not trigger a second order.
func (p Position) HasPendingOrder() bool {
	return p.State == PositionStatePendingEntry || p.State == PositionStatePendingExit
}

// UnrealizedPnL computes the open profit against the given price. Zero when
// the position holds no exposure.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.State != PositionStateOpen && p.State != PositionStatePendingExit {
		return 0
	}

	if p.Direction == DirectionShort {
		return (p.EntryPrice - price) * p.Quantity
	}

	return (price - p.EntryPrice) * p.Quantity
}
