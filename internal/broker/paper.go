package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// PaperGateway is an in-memory venue that fills every valid order at its
// request price. It keeps a ledger keyed by idempotency key so a duplicate
// submission returns the original result instead of executing twice, the
// same contract the live gateway relies on for safe retries.
type PaperGateway struct {
	mu       sync.Mutex
	ledger   map[string]types.OrderResult
	byBroker map[string]string
	balance  float64
	nextID   int
	now      func() time.Time
}

// NewPaperGateway creates a paper venue with the given starting balance.
func NewPaperGateway(balance float64) *PaperGateway {
	return &PaperGateway{
		ledger:   make(map[string]types.OrderResult),
		byBroker: make(map[string]string),
		balance:  balance,
		now:      time.Now,
	}
}

// SetClock overrides the gateway's time source. Used by tests.
func (g *PaperGateway) SetClock(now func() time.Time) {
	g.now = now
}

// Submit fills the order at its request price, or returns the previously
// recorded result for a duplicate idempotency key.
func (g *PaperGateway) Submit(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return types.OrderResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.ledger[req.ClientOrderID]; ok {
		return existing, nil
	}

	g.nextID++

	result := types.OrderResult{
		ClientOrderID: req.ClientOrderID,
		BrokerOrderID: fmt.Sprintf("paper-%d", g.nextID),
		Status:        types.OrderStatusFilled,
		FillPrice:     req.Price,
		FillQuantity:  req.Quantity,
		Timestamp:     g.now(),
	}

	g.ledger[req.ClientOrderID] = result
	g.byBroker[result.BrokerOrderID] = req.ClientOrderID

	return result, nil
}

// Cancel fails for filled orders and unknown IDs; the paper venue fills
// everything instantly, so there is never a cancellable in-flight order.
func (g *PaperGateway) Cancel(_ context.Context, brokerOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	clientID, ok := g.byBroker[brokerOrderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "unknown order %s", brokerOrderID)
	}

	if g.ledger[clientID].Filled() {
		return errors.Newf(errors.ErrCodeOrderAlreadyFilled, "order %s already filled", brokerOrderID)
	}

	return nil
}

// QueryStatus returns the recorded result for the idempotency key.
func (g *PaperGateway) QueryStatus(_ context.Context, clientOrderID string) (types.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	result, ok := g.ledger[clientOrderID]
	if !ok {
		return types.OrderResult{}, errors.Newf(errors.ErrCodeOrderNotFound, "unknown client order %s", clientOrderID)
	}

	return result, nil
}

// AccountInfo reports the configured balance as equity.
func (g *PaperGateway) AccountInfo(_ context.Context) (types.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return types.AccountInfo{
		Balance: g.balance,
		Equity:  g.balance,
	}, nil
}

// SubmissionCount reports how many distinct orders actually executed.
// Exposed for idempotency assertions in tests.
func (g *PaperGateway) SubmissionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.ledger)
}
