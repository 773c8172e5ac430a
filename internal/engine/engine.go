// Package engine runs the trading loop: bars in, orders out.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/marlinquant/marlin-trading/internal/broker"
	"github.com/marlinquant/marlin-trading/internal/config"
	"github.com/marlinquant/marlin-trading/internal/indicator"
	"github.com/marlinquant/marlin-trading/internal/logger"
	"github.com/marlinquant/marlin-trading/internal/marketdata"
	"github.com/marlinquant/marlin-trading/internal/metrics"
	"github.com/marlinquant/marlin-trading/internal/position"
	"github.com/marlinquant/marlin-trading/internal/risk"
	"github.com/marlinquant/marlin-trading/internal/series"
	"github.com/marlinquant/marlin-trading/internal/strategy"
	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// Callbacks are invoked synchronously from the trading loop as lifecycle
// events occur. Any field may be nil.
type Callbacks struct {
	OnBar            func(bar types.Bar)
	OnSignal         func(signal types.Signal)
	OnTransition     func(event position.TransitionEvent)
	OnOrderSubmitted func(req types.OrderRequest)
	OnOrderFilled    func(result types.OrderResult)
	OnOrderRejected  func(result types.OrderResult)
	OnError          func(err error)
}

// Engine owns one trading session: a feed, a gateway, and the per-symbol
// decision pipeline between them.
//
// All decision state for a symbol is touched under that symbol's lock, so
// one position is never evaluated concurrently with itself even if the feed
// interleaves symbols.
type Engine struct {
	cfg       config.Config
	feed      marketdata.Feed
	gateway   broker.Gateway
	series    map[string]*series.PriceSeries
	indicator *indicator.Engine
	evaluator *strategy.Evaluator
	sizer     *risk.Sizer
	tracker   *position.Tracker
	logger    *logger.Logger
	metrics   *metrics.Metrics
	callbacks Callbacks

	// exitTried limits a position to one exit attempt per cycle; breach,
	// rearm, and signal paths can all want the same close.
	exitTried bool
}

// New assembles an engine from a validated config and its runtime
// dependencies.
func New(cfg config.Config, feed marketdata.Feed, gateway broker.Gateway, log *logger.Logger, m *metrics.Metrics, callbacks Callbacks) (*Engine, error) {
	indicatorEngine, err := buildIndicators(cfg.Indicators)
	if err != nil {
		return nil, err
	}

	sizer, err := risk.NewSizer(cfg.Risk)
	if err != nil {
		return nil, err
	}

	evaluator := strategy.NewEvaluator(
		strategy.NewCrossoverEntry(strategy.CrossoverConfig{
			AllowShort:    cfg.Indicators.AllowShort,
			RSIFilter:     cfg.Indicators.RSIFilter,
			RSIOverbought: cfg.Indicators.RSIOverbought,
			RSIOversold:   cfg.Indicators.RSIOversold,
		}),
		strategy.NewCrossunderExit(),
	)

	e := &Engine{
		cfg:       cfg,
		feed:      feed,
		gateway:   gateway,
		series:    make(map[string]*series.PriceSeries, len(cfg.Symbols)),
		indicator: indicatorEngine,
		evaluator: evaluator,
		sizer:     sizer,
		logger:    log,
		metrics:   m,
		callbacks: callbacks,
	}

	e.tracker = position.NewTracker(e.onTransition)

	for _, symbol := range cfg.Symbols {
		e.series[symbol] = series.NewPriceSeries(symbol, cfg.HistorySize)
	}

	return e, nil
}

// Tracker exposes the position table for the status API.
func (e *Engine) Tracker() *position.Tracker {
	return e.tracker
}

func buildIndicators(cfg config.IndicatorConfig) (*indicator.Engine, error) {
	engine := indicator.NewEngine(indicator.DefaultHistoryDepth)

	fast, err := newMA(cfg.MAType, cfg.FastPeriod)
	if err != nil {
		return nil, err
	}

	slow, err := newMA(cfg.MAType, cfg.SlowPeriod)
	if err != nil {
		return nil, err
	}

	rsi, err := indicator.NewRSI(cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}

	atr, err := indicator.NewATR(cfg.ATRPeriod)
	if err != nil {
		return nil, err
	}

	for _, reg := range []struct {
		name types.IndicatorType
		ind  indicator.Indicator
	}{
		{types.IndicatorTypeFastMA, fast},
		{types.IndicatorTypeSlowMA, slow},
		{types.IndicatorTypeRSI, rsi},
		{types.IndicatorTypeATR, atr},
	} {
		if err := engine.Register(reg.name, reg.ind); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

func newMA(maType string, period int) (indicator.Indicator, error) {
	switch maType {
	case "sma":
		return indicator.NewSMA(period)
	case "ema":
		return indicator.NewEMA(period)
	case "wma":
		return indicator.NewWMA(period)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown ma type: %s", maType)
	}
}

// Run consumes the feed until the context is cancelled or the feed ends.
// Data and broker errors are absorbed per instrument; only a cancelled
// context ends the session from our side.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("trading session starting",
		zap.String("session_id", uuid.NewString()),
		zap.Strings("symbols", e.cfg.Symbols),
		zap.String("interval", e.cfg.Interval),
		zap.String("breach_mode", string(e.cfg.BreachMode)))

	for bar, err := range e.feed.Stream(ctx, e.cfg.Symbols, e.cfg.Interval) {
		if ctx.Err() != nil {
			break
		}

		if err != nil {
			e.reportError(err)

			if errors.HasCode(err, errors.ErrCodeFatalConfig) || errors.HasCode(err, errors.ErrCodeInvalidConfiguration) {
				return err
			}

			continue
		}

		e.processBar(ctx, bar)
	}

	e.logger.Info("trading session ended")

	return ctx.Err()
}

// processBar runs the full decision pipeline for one completed bar.
func (e *Engine) processBar(ctx context.Context, bar types.Bar) {
	started := time.Now()
	defer func() {
		e.metrics.CycleDuration.Observe(time.Since(started).Seconds())
	}()

	lock := e.tracker.Lock(bar.Symbol)
	lock.Lock()
	defer lock.Unlock()

	e.exitTried = false

	s, ok := e.series[bar.Symbol]
	if !ok {
		// Bars for unconfigured symbols are dropped silently.
		return
	}

	e.metrics.BarsTotal.WithLabelValues(bar.Symbol).Inc()

	if e.callbacks.OnBar != nil {
		e.callbacks.OnBar(bar)
	}

	if err := s.Append(bar); err != nil {
		e.metrics.BarErrorsTotal.WithLabelValues(bar.Symbol, barErrorReason(err)).Inc()
		e.logger.Warn("bar dropped",
			zap.String("symbol", bar.Symbol),
			zap.Time("bar_time", bar.Time),
			zap.Error(err))
		e.reportError(err)

		return
	}

	set, err := e.indicator.Compute(s.Window(s.Len()))
	if err != nil {
		e.reportError(err)
		return
	}

	e.reconcile(ctx, bar.Symbol)

	// A rearmed exit carries its attempt count back to OPEN; resubmit it
	// under a fresh idempotency key rather than waiting for another
	// signal. At most one exit attempt per cycle.
	p := e.tracker.Get(bar.Symbol)
	if p.State == types.PositionStateOpen && p.ExitAttempts > 0 {
		e.submitExit(ctx, bar, types.OrderReasonStrategy)
	}

	// Hard risk control: stops and targets fire regardless of what the
	// rules say about the same bar.
	p = e.tracker.Get(bar.Symbol)
	if breached, reason := position.CheckBreach(p, bar, e.cfg.BreachMode); breached {
		e.logger.Info("protective level breached",
			zap.String("symbol", bar.Symbol),
			zap.String("reason", reason),
			zap.Float64("close", bar.Close))
		e.submitExit(ctx, bar, reason)
	}

	// The evaluator runs every cycle so crossover detection never skips a
	// snapshot, even when no action is possible.
	signal := e.evaluator.Evaluate(set)
	e.metrics.SignalsTotal.WithLabelValues(signal.Symbol, string(signal.Type)).Inc()

	if e.callbacks.OnSignal != nil {
		e.callbacks.OnSignal(signal)
	}

	e.act(ctx, bar, signal)
	e.updateGauges()
}

// act turns a signal into at most one gateway call, respecting the position
// lifecycle.
func (e *Engine) act(ctx context.Context, bar types.Bar, signal types.Signal) {
	p := e.tracker.Get(bar.Symbol)

	switch signal.Type {
	case types.SignalTypeHold:
		return

	case types.SignalTypeExit:
		if p.State == types.PositionStateOpen {
			e.submitExit(ctx, bar, types.OrderReasonStrategy)
		}

	case types.SignalTypeEnterLong, types.SignalTypeEnterShort:
		direction := types.DirectionLong
		if signal.Type == types.SignalTypeEnterShort {
			direction = types.DirectionShort
		}

		// An opposite-direction entry against an open position closes it;
		// the re-entry, if still warranted, happens on a later cross.
		if p.State == types.PositionStateOpen && p.Direction != direction {
			e.submitExit(ctx, bar, types.OrderReasonStrategy)
			return
		}

		if p.State != types.PositionStateFlat {
			return
		}

		e.submitEntry(ctx, bar, direction, signal)
	}
}

// reconcile resolves the outstanding order, if any, before this cycle makes
// new decisions. A pending order may span multiple cycles.
func (e *Engine) reconcile(ctx context.Context, symbol string) {
	p := e.tracker.Get(symbol)
	if !p.HasPendingOrder() || p.ClientOrderID == "" {
		return
	}

	result, err := e.gateway.QueryStatus(ctx, p.ClientOrderID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeOrderNotFound) {
			// The submission never reached the venue.
			if p.State == types.PositionStatePendingEntry {
				e.failEntry(symbol, "order lost")
			} else {
				e.exitRejected(symbol, "order lost")
			}

			return
		}

		e.reportError(err)

		return
	}

	switch {
	case result.Filled():
		e.orderFilled(symbol, result)
	case result.Rejected():
		// A spent exit budget was already accounted for; re-observing the
		// same rejected order changes nothing.
		if p.State == types.PositionStatePendingExit && p.ExitAttempts >= e.cfg.MaxExitRetries {
			return
		}

		e.orderRejected(symbol, result)
	case result.Status == types.OrderStatusCancelled:
		if p.State == types.PositionStatePendingEntry {
			e.failEntry(symbol, "order cancelled")
		} else {
			e.rearmExit(symbol, "order cancelled")
		}
	}
}

func (e *Engine) submitEntry(ctx context.Context, bar types.Bar, direction types.Direction, signal types.Signal) {
	atrValue := signal.Indicators.Get(types.IndicatorTypeATR)
	if !atrValue.Available() {
		e.logger.Debug("entry skipped, ATR unavailable", zap.String("symbol", bar.Symbol))
		return
	}

	atr := atrValue.Value.TakeOr(0)

	account, err := e.gateway.AccountInfo(ctx)
	if err != nil {
		e.reportError(err)
		return
	}

	e.metrics.Equity.Set(account.Equity)

	quantity, err := e.sizer.QuantityFor(account.Equity, e.sizer.StopDistance(atr))
	if err != nil {
		// An unaffordable entry is a hold, never a zero-size order.
		e.logger.Warn("entry skipped",
			zap.String("symbol", bar.Symbol),
			zap.Float64("equity", account.Equity),
			zap.Error(err))

		return
	}

	stop, target := e.sizer.Levels(direction, bar.Close, atr)

	side := types.SideBuy
	if direction == types.DirectionShort {
		side = types.SideSell
	}

	clientOrderID := types.NewClientOrderID(bar.Symbol, direction, e.tracker.NextSequence(bar.Symbol))

	if err := e.tracker.BeginEntry(bar.Symbol, position.EntryIntent{
		Direction:     direction,
		Quantity:      quantity,
		StopPrice:     stop,
		TargetPrice:   target,
		ClientOrderID: clientOrderID,
	}); err != nil {
		e.reportError(err)
		return
	}

	req := types.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        bar.Symbol,
		Side:          side,
		Direction:     direction,
		Quantity:      quantity,
		Price:         bar.Close,
		Reason:        types.OrderReasonStrategy,
		StopPrice:     optionalPrice(stop),
		TargetPrice:   optionalPrice(target),
	}

	e.submit(ctx, req)
}

func (e *Engine) submitExit(ctx context.Context, bar types.Bar, reason string) {
	if e.exitTried {
		return
	}

	p := e.tracker.Get(bar.Symbol)
	if p.State != types.PositionStateOpen {
		return
	}

	e.exitTried = true

	side := types.SideSell
	if p.Direction == types.DirectionShort {
		side = types.SideBuy
	}

	// A fresh sequence number per attempt gives every resubmission its own
	// idempotency key, so a retried exit is never mistaken for the
	// rejected one before it.
	clientOrderID := types.NewClientOrderID(bar.Symbol, p.Direction, e.tracker.NextSequence(bar.Symbol))

	if err := e.tracker.BeginExit(bar.Symbol, clientOrderID, reason); err != nil {
		e.reportError(err)
		return
	}

	req := types.OrderRequest{
		ClientOrderID: clientOrderID,
		Symbol:        bar.Symbol,
		Side:          side,
		Direction:     p.Direction,
		Quantity:      p.Quantity,
		Price:         bar.Close,
		Reason:        reason,
	}

	e.submit(ctx, req)
}

// submit sends the order and applies the synchronous outcome. Orders that
// stay pending are left for reconciliation on later cycles.
func (e *Engine) submit(ctx context.Context, req types.OrderRequest) {
	e.logger.Info("submitting order",
		zap.String("symbol", req.Symbol),
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("side", string(req.Side)),
		zap.Float64("quantity", req.Quantity),
		zap.String("reason", req.Reason))

	if e.callbacks.OnOrderSubmitted != nil {
		e.callbacks.OnOrderSubmitted(req)
	}

	result, err := e.gateway.Submit(ctx, req)
	if err != nil {
		e.reportError(err)

		p := e.tracker.Get(req.Symbol)

		switch p.State {
		case types.PositionStatePendingEntry:
			e.failEntry(req.Symbol, "submission failed")
		case types.PositionStatePendingExit:
			e.exitRejected(req.Symbol, "submission failed")
		}

		return
	}

	switch {
	case result.Filled():
		e.orderFilled(req.Symbol, result)
	case result.Rejected():
		e.orderRejected(req.Symbol, result)
	}
}

func (e *Engine) orderFilled(symbol string, result types.OrderResult) {
	e.metrics.OrdersTotal.WithLabelValues(symbol, string(types.OrderStatusFilled)).Inc()

	p := e.tracker.Get(symbol)

	var err error
	if p.State == types.PositionStatePendingEntry {
		err = e.tracker.ConfirmEntry(symbol, result.BrokerOrderID, result.FillPrice, result.FillQuantity)
	} else {
		err = e.tracker.ConfirmExit(symbol)
	}

	if err != nil {
		e.reportError(err)
		return
	}

	if e.callbacks.OnOrderFilled != nil {
		e.callbacks.OnOrderFilled(result)
	}
}

func (e *Engine) orderRejected(symbol string, result types.OrderResult) {
	e.metrics.OrdersTotal.WithLabelValues(symbol, string(types.OrderStatusRejected)).Inc()

	if e.callbacks.OnOrderRejected != nil {
		e.callbacks.OnOrderRejected(result)
	}

	p := e.tracker.Get(symbol)
	if p.State == types.PositionStatePendingEntry {
		e.failEntry(symbol, "rejected: "+result.RejectReason)
		return
	}

	e.exitRejected(symbol, "rejected: "+result.RejectReason)
}

// exitRejected applies the bounded exit retry policy: the position rearms
// for a fresh attempt on the next cycle until the budget is spent, then
// stays PENDING_EXIT for manual intervention.
func (e *Engine) exitRejected(symbol, reason string) {
	attempts, err := e.tracker.FailExit(symbol, reason)
	if err != nil {
		e.reportError(err)
		return
	}

	if attempts >= e.cfg.MaxExitRetries {
		e.metrics.ExitRetriesSpent.Inc()
		e.logger.Error("exit retry budget spent, position needs manual intervention",
			zap.String("symbol", symbol),
			zap.Int("attempts", attempts))
		e.reportError(errors.Newf(errors.ErrCodeRetriesExhausted,
			"exit for %s rejected %d times", symbol, attempts))

		return
	}

	e.rearmExit(symbol, reason)
}

func (e *Engine) failEntry(symbol, reason string) {
	if err := e.tracker.FailEntry(symbol, reason); err != nil {
		e.reportError(err)
	}
}

func (e *Engine) rearmExit(symbol, reason string) {
	if err := e.tracker.RearmExit(symbol, reason); err != nil {
		e.reportError(err)
	}
}

func (e *Engine) onTransition(event position.TransitionEvent) {
	e.metrics.TransitionsTotal.WithLabelValues(event.Symbol, string(event.To)).Inc()
	e.logger.Info("position transition",
		zap.String("symbol", event.Symbol),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.String("reason", event.Reason))

	if e.callbacks.OnTransition != nil {
		e.callbacks.OnTransition(event)
	}
}

func (e *Engine) updateGauges() {
	open := 0

	for _, p := range e.tracker.All() {
		if p.State != types.PositionStateFlat {
			open++
		}
	}

	e.metrics.OpenPositions.Set(float64(open))
}

func (e *Engine) reportError(err error) {
	if err == nil {
		return
	}

	e.logger.Error("engine error", zap.Error(err))

	if e.callbacks.OnError != nil {
		e.callbacks.OnError(err)
	}
}

func barErrorReason(err error) string {
	switch {
	case errors.HasCode(err, errors.ErrCodeOutOfOrderBar):
		return "out_of_order"
	case errors.HasCode(err, errors.ErrCodeMalformedBar):
		return "malformed"
	case errors.HasCode(err, errors.ErrCodeDuplicateBar):
		return "duplicate"
	default:
		return "other"
	}
}

func optionalPrice(price float64) optional.Option[float64] {
	if price <= 0 {
		return optional.None[float64]()
	}

	return optional.Some(price)
}
