package broker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/yaml.v3"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// RetryPolicy bounds the retry behavior of the RetryingGateway.
type RetryPolicy struct {
	// MaxAttempts is the total number of submission attempts (first try
	// included).
	MaxAttempts uint64 `yaml:"max_attempts" json:"max_attempts" validate:"required,gte=1"`
	// BaseInterval is the initial backoff delay.
	BaseInterval time.Duration `yaml:"base_interval" json:"base_interval" validate:"required"`
	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration `yaml:"max_interval" json:"max_interval" validate:"required"`
}

// UnmarshalYAML decodes the intervals from duration strings ("250ms").
func (p *RetryPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxAttempts  uint64 `yaml:"max_attempts"`
		BaseInterval string `yaml:"base_interval"`
		MaxInterval  string `yaml:"max_interval"`
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.MaxAttempts > 0 {
		p.MaxAttempts = raw.MaxAttempts
	}

	if raw.BaseInterval != "" {
		base, err := time.ParseDuration(raw.BaseInterval)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "bad base_interval", err)
		}

		p.BaseInterval = base
	}

	if raw.MaxInterval != "" {
		max, err := time.ParseDuration(raw.MaxInterval)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "bad max_interval", err)
		}

		p.MaxInterval = max
	}

	return nil
}

// DefaultRetryPolicy mirrors the usual venue guidance: a handful of quick
// retries, capped under the bar interval.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		BaseInterval: 250 * time.Millisecond,
		MaxInterval:  5 * time.Second,
	}
}

// RetryingGateway decorates a Gateway with bounded exponential backoff.
//
// Only transient errors are retried. After a transport-level failure the
// decorator first queries the order by idempotency key: a submission that
// actually landed server-side is returned as-is rather than re-executed.
// Rejections and other permanent errors pass through on the first attempt.
type RetryingGateway struct {
	inner   Gateway
	policy  RetryPolicy
	onRetry func(symbol string)
}

// NewRetryingGateway wraps the inner gateway with the given policy.
func NewRetryingGateway(inner Gateway, policy RetryPolicy) *RetryingGateway {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}

	return &RetryingGateway{inner: inner, policy: policy}
}

// WithRetryNotify registers a hook invoked once per retried submission
// attempt. The retry counter metric hangs off it.
func (g *RetryingGateway) WithRetryNotify(notify func(symbol string)) *RetryingGateway {
	g.onRetry = notify
	return g
}

// Submit implements Gateway.
func (g *RetryingGateway) Submit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	operation := func() (types.OrderResult, error) {
		result, err := g.inner.Submit(ctx, req)
		if err == nil {
			return result, nil
		}

		if !errors.IsTransient(err) {
			return types.OrderResult{}, backoff.Permanent(err)
		}

		// The attempt may have succeeded server-side before the
		// transport failed; the idempotency key tells us.
		if status, qerr := g.inner.QueryStatus(ctx, req.ClientOrderID); qerr == nil {
			return status, nil
		}

		return types.OrderResult{}, err
	}

	notify := func(error, time.Duration) {
		if g.onRetry != nil {
			g.onRetry(req.Symbol)
		}
	}

	result, err := backoff.RetryNotifyWithData(operation, g.newBackOff(ctx), notify)
	if err != nil {
		if errors.IsTransient(err) {
			return types.OrderResult{}, errors.Wrapf(errors.ErrCodeRetriesExhausted, err,
				"submit %s failed after %d attempts", req.ClientOrderID, g.policy.MaxAttempts)
		}

		return types.OrderResult{}, err
	}

	return result, nil
}

// Cancel implements Gateway.
func (g *RetryingGateway) Cancel(ctx context.Context, brokerOrderID string) error {
	operation := func() error {
		err := g.inner.Cancel(ctx, brokerOrderID)
		if err == nil || errors.IsTransient(err) {
			return err
		}

		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, g.newBackOff(ctx))
	if err != nil && errors.IsTransient(err) {
		return errors.Wrapf(errors.ErrCodeRetriesExhausted, err,
			"cancel %s failed after %d attempts", brokerOrderID, g.policy.MaxAttempts)
	}

	return err
}

// QueryStatus implements Gateway. Status queries pass through unretried;
// the engine reconciles on the next cycle anyway.
func (g *RetryingGateway) QueryStatus(ctx context.Context, clientOrderID string) (types.OrderResult, error) {
	return g.inner.QueryStatus(ctx, clientOrderID)
}

// AccountInfo implements Gateway.
func (g *RetryingGateway) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return g.inner.AccountInfo(ctx)
}

func (g *RetryingGateway) newBackOff(ctx context.Context) backoff.BackOffContext {
	exponential := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(g.policy.BaseInterval),
		backoff.WithMaxInterval(g.policy.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)

	return backoff.WithContext(backoff.WithMaxRetries(exponential, g.policy.MaxAttempts-1), ctx)
}
