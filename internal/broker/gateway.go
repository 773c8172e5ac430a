// Package broker adapts brokerage venues behind a narrow gateway interface.
//
// The engine only ever talks to a Gateway; retries, idempotency, and venue
// wire formats live here. Submission failures are split into transient
// conditions (retried with backoff by the RetryingGateway decorator) and
// rejections (surfaced immediately to the position state machine).
package broker

import (
	"context"

	"github.com/marlinquant/marlin-trading/internal/types"
)

// Gateway is the abstract brokerage capability.
type Gateway interface {
	// Submit places an order. The request's ClientOrderID is the
	// idempotency key: submitting the same key twice has at most one
	// brokerage-side effect.
	Submit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	// Cancel cancels an outstanding order. Cancelling a filled order fails
	// with ErrCodeOrderAlreadyFilled; cancellation after fill is
	// meaningless.
	Cancel(ctx context.Context, brokerOrderID string) error
	// QueryStatus looks an order up by its idempotency key. Unknown keys
	// fail with ErrCodeOrderNotFound.
	QueryStatus(ctx context.Context, clientOrderID string) (types.OrderResult, error)
	// AccountInfo returns the venue's view of the account.
	AccountInfo(ctx context.Context) (types.AccountInfo, error)
}
