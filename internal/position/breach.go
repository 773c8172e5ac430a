package position

import (
	"github.com/marlinquant/marlin-trading/internal/types"
)

// BreachMode selects which prices the stop/target check inspects. Whether
// intrabar extremes or closes should trigger protective exits is a strategy
// policy choice, so it is configuration rather than a hardcoded assumption.
type BreachMode string

const (
	// BreachModeIntrabar checks the bar's high/low extremes.
	BreachModeIntrabar BreachMode = "intrabar"
	// BreachModeClose checks the closing price only.
	BreachModeClose BreachMode = "close"
)

// CheckBreach reports whether the latest bar breached the position's stop or
// target level. It only applies to OPEN positions; the returned reason is
// the order reason for the resulting close ("stop_loss" or "take_profit").
//
// This is a hard risk control: the engine runs it every cycle regardless of
// what the signal evaluator says.
func CheckBreach(p types.Position, bar types.Bar, mode BreachMode) (breached bool, reason string) {
	if p.State != types.PositionStateOpen {
		return false, ""
	}

	low, high := bar.Close, bar.Close
	if mode == BreachModeIntrabar {
		low, high = bar.Low, bar.High
	}

	if p.Direction == types.DirectionShort {
		if p.StopPrice > 0 && high >= p.StopPrice {
			return true, types.OrderReasonStopLoss
		}

		if p.TargetPrice > 0 && low <= p.TargetPrice {
			return true, types.OrderReasonTakeProfit
		}

		return false, ""
	}

	if p.StopPrice > 0 && low <= p.StopPrice {
		return true, types.OrderReasonStopLoss
	}

	if p.TargetPrice > 0 && high >= p.TargetPrice {
		return true, types.OrderReasonTakeProfit
	}

	return false, ""
}
