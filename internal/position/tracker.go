// Package position owns the authoritative per-instrument position table.
//
// The tracker is the only component that mutates Position records. Every
// mutation is serialized per instrument, validated against the lifecycle
// FLAT → PENDING_ENTRY → OPEN → PENDING_EXIT → FLAT, and reported to the
// transition callback so an external observer sees every state change.
package position

import (
	"sync"
	"time"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// TransitionEvent describes one applied state change.
type TransitionEvent struct {
	Symbol        string
	From          types.PositionState
	To            types.PositionState
	Reason        string
	ClientOrderID string
	Time          time.Time
}

// OnTransition receives every applied state change.
type OnTransition func(event TransitionEvent)

// EntryIntent carries everything the tracker records when an entry order is
// submitted.
type EntryIntent struct {
	Direction     types.Direction
	Quantity      float64
	StopPrice     float64
	TargetPrice   float64
	ClientOrderID string
}

// Tracker holds exactly one Position record per instrument.
type Tracker struct {
	mu           sync.RWMutex
	positions    map[string]*types.Position
	sequences    map[string]uint64
	locks        map[string]*sync.Mutex
	onTransition OnTransition
	now          func() time.Time
}

// NewTracker creates an empty position table. The callback may be nil.
func NewTracker(onTransition OnTransition) *Tracker {
	return &Tracker{
		positions:    make(map[string]*types.Position),
		sequences:    make(map[string]uint64),
		locks:        make(map[string]*sync.Mutex),
		onTransition: onTransition,
		now:          time.Now,
	}
}

// SetClock overrides the tracker's time source. Used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Get returns a copy of the instrument's position record. Instruments never
// seen before report FLAT.
func (t *Tracker) Get(symbol string) types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.positions[symbol]; ok {
		return *p
	}

	return types.Position{Symbol: symbol, State: types.PositionStateFlat}
}

// All returns a snapshot of every tracked position.
func (t *Tracker) All() []types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}

	return out
}

// NextSequence returns the next decision sequence number for the instrument.
// The sequence is monotonically increasing and feeds idempotency keys.
func (t *Tracker) NextSequence(symbol string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sequences[symbol]++

	return t.sequences[symbol]
}

// Lock returns the instrument's serialization mutex. The engine holds it for
// the duration of a decision cycle so a position is never evaluated
// concurrently with itself.
func (t *Tracker) Lock(symbol string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[symbol] = lock
	}

	return lock
}

// BeginEntry transitions FLAT → PENDING_ENTRY when an entry order is
// submitted. Fails when an order is already outstanding or exposure exists.
func (t *Tracker) BeginEntry(symbol string, intent EntryIntent) error {
	return t.apply(symbol, func(p *types.Position) error {
		if p.HasPendingOrder() {
			return errors.Newf(errors.ErrCodeOrderAlreadyPending,
				"%s already has an outstanding order in state %s", symbol, p.State)
		}

		if p.State != types.PositionStateFlat {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot enter %s from state %s", symbol, p.State)
		}

		p.State = types.PositionStatePendingEntry
		p.Direction = intent.Direction
		p.Quantity = intent.Quantity
		p.StopPrice = intent.StopPrice
		p.TargetPrice = intent.TargetPrice
		p.ClientOrderID = intent.ClientOrderID
		p.BrokerOrderID = ""
		p.EntryPrice = 0
		p.ExitAttempts = 0

		return nil
	}, "entry submitted")
}

// ConfirmEntry transitions PENDING_ENTRY → OPEN on fill confirmation,
// recording the executed price and quantity.
func (t *Tracker) ConfirmEntry(symbol, brokerOrderID string, fillPrice, fillQuantity float64) error {
	return t.apply(symbol, func(p *types.Position) error {
		if p.State != types.PositionStatePendingEntry {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot confirm entry for %s in state %s", symbol, p.State)
		}

		p.State = types.PositionStateOpen
		p.BrokerOrderID = brokerOrderID
		p.EntryPrice = fillPrice
		p.Quantity = fillQuantity

		return nil
	}, "entry filled")
}

// FailEntry transitions PENDING_ENTRY → FLAT on rejection or timeout. The
// decision is not retried; a fresh signal next cycle may re-trigger.
func (t *Tracker) FailEntry(symbol, reason string) error {
	return t.apply(symbol, func(p *types.Position) error {
		if p.State != types.PositionStatePendingEntry {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot fail entry for %s in state %s", symbol, p.State)
		}

		t.flatten(p)

		return nil
	}, reason)
}

// BeginExit transitions OPEN → PENDING_EXIT when a close order is submitted.
func (t *Tracker) BeginExit(symbol, clientOrderID, reason string) error {
	return t.apply(symbol, func(p *types.Position) error {
		if p.HasPendingOrder() {
			return errors.Newf(errors.ErrCodeOrderAlreadyPending,
				"%s already has an outstanding order in state %s", symbol, p.State)
		}

		if p.State != types.PositionStateOpen {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot exit %s from state %s", symbol, p.State)
		}

		p.State = types.PositionStatePendingExit
		p.ClientOrderID = clientOrderID

		return nil
	}, reason)
}

// ConfirmExit transitions PENDING_EXIT → FLAT on fill confirmation.
func (t *Tracker) ConfirmExit(symbol string) error {
	return t.apply(symbol, func(p *types.Position) error {
		if p.State != types.PositionStatePendingExit {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot confirm exit for %s in state %s", symbol, p.State)
		}

		t.flatten(p)

		return nil
	}, "exit filled")
}

// FailExit records a rejected close attempt. The position stays PENDING_EXIT
// (abandoning an open position silently is the one thing this table must
// never do) and the bumped attempt count drives the caller's retry schedule.
func (t *Tracker) FailExit(symbol, reason string) (attempts int, err error) {
	err = t.apply(symbol, func(p *types.Position) error {
		if p.State != types.PositionStatePendingExit {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot fail exit for %s in state %s", symbol, p.State)
		}

		p.ExitAttempts++
		attempts = p.ExitAttempts

		return nil
	}, reason)

	return attempts, err
}

// RearmExit puts a PENDING_EXIT position back to OPEN so the next cycle can
// submit a fresh close order with a new idempotency key.
func (t *Tracker) RearmExit(symbol, reason string) error {
	return t.apply(symbol, func(p *types.Position) error {
		if p.State != types.PositionStatePendingExit {
			return errors.Newf(errors.ErrCodeInvalidTransition,
				"cannot rearm exit for %s in state %s", symbol, p.State)
		}

		attempts := p.ExitAttempts
		p.State = types.PositionStateOpen
		p.ClientOrderID = ""
		p.ExitAttempts = attempts

		return nil
	}, reason)
}

func (t *Tracker) flatten(p *types.Position) {
	p.State = types.PositionStateFlat
	p.Direction = ""
	p.Quantity = 0
	p.EntryPrice = 0
	p.StopPrice = 0
	p.TargetPrice = 0
	p.BrokerOrderID = ""
	p.ClientOrderID = ""
	p.ExitAttempts = 0
}

// apply runs a mutation under the table lock and emits the transition event.
func (t *Tracker) apply(symbol string, mutate func(p *types.Position) error, reason string) error {
	t.mu.Lock()

	p, ok := t.positions[symbol]
	if !ok {
		p = &types.Position{Symbol: symbol, State: types.PositionStateFlat}
		t.positions[symbol] = p
	}

	from := p.State

	if err := mutate(p); err != nil {
		t.mu.Unlock()

		return err
	}

	p.LastTransitionTime = t.now()

	event := TransitionEvent{
		Symbol:        symbol,
		From:          from,
		To:            p.State,
		Reason:        reason,
		ClientOrderID: p.ClientOrderID,
		Time:          p.LastTransitionTime,
	}
	t.mu.Unlock()

	if t.onTransition != nil {
		t.onTransition(event)
	}

	return nil
}
