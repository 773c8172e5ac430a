package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/marlinquant/marlin-trading/internal/broker"
	"github.com/marlinquant/marlin-trading/internal/config"
	"github.com/marlinquant/marlin-trading/internal/logger"
	"github.com/marlinquant/marlin-trading/internal/marketdata"
	"github.com/marlinquant/marlin-trading/internal/metrics"
	"github.com/marlinquant/marlin-trading/internal/position"
	"github.com/marlinquant/marlin-trading/internal/risk"
	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// rejectingExitGateway fills entries and rejects every exit, for exercising
// the bounded exit retry policy. Long-only: entries are buys, exits sells.
type rejectingExitGateway struct {
	inner   *broker.PaperGateway
	results map[string]types.OrderResult
	exits   int
}

func newRejectingExitGateway() *rejectingExitGateway {
	return &rejectingExitGateway{
		inner:   broker.NewPaperGateway(10000),
		results: make(map[string]types.OrderResult),
	}
}

func (g *rejectingExitGateway) Submit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if req.Side == types.SideBuy {
		return g.inner.Submit(ctx, req)
	}

	g.exits++

	result := types.OrderResult{
		ClientOrderID: req.ClientOrderID,
		BrokerOrderID: "rejected",
		Status:        types.OrderStatusRejected,
		RejectReason:  types.RejectInsufficientMargin,
		Timestamp:     time.Now(),
	}
	g.results[req.ClientOrderID] = result

	return result, nil
}

func (g *rejectingExitGateway) Cancel(ctx context.Context, brokerOrderID string) error {
	return g.inner.Cancel(ctx, brokerOrderID)
}

func (g *rejectingExitGateway) QueryStatus(ctx context.Context, clientOrderID string) (types.OrderResult, error) {
	if result, ok := g.results[clientOrderID]; ok {
		return result, nil
	}

	return g.inner.QueryStatus(ctx, clientOrderID)
}

func (g *rejectingExitGateway) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return g.inner.AccountInfo(ctx)
}

// deferredFillGateway accepts orders without a synchronous outcome; the
// fill only becomes visible through a later status query, the way a live
// venue acknowledges a working order.
type deferredFillGateway struct {
	inner       *broker.PaperGateway
	working     map[string]types.OrderRequest
	submissions int
}

func newDeferredFillGateway() *deferredFillGateway {
	return &deferredFillGateway{
		inner:   broker.NewPaperGateway(10000),
		working: make(map[string]types.OrderRequest),
	}
}

func (g *deferredFillGateway) Submit(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	g.submissions++
	g.working[req.ClientOrderID] = req

	return types.OrderResult{
		ClientOrderID: req.ClientOrderID,
		BrokerOrderID: "working-1",
		Status:        types.OrderStatusPending,
		Timestamp:     time.Now(),
	}, nil
}

func (g *deferredFillGateway) Cancel(ctx context.Context, brokerOrderID string) error {
	return g.inner.Cancel(ctx, brokerOrderID)
}

func (g *deferredFillGateway) QueryStatus(ctx context.Context, clientOrderID string) (types.OrderResult, error) {
	req, ok := g.working[clientOrderID]
	if !ok {
		return g.inner.QueryStatus(ctx, clientOrderID)
	}

	return types.OrderResult{
		ClientOrderID: clientOrderID,
		BrokerOrderID: "working-1",
		Status:        types.OrderStatusFilled,
		FillPrice:     req.Price,
		FillQuantity:  req.Quantity,
		Timestamp:     time.Now(),
	}, nil
}

func (g *deferredFillGateway) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return g.inner.AccountInfo(ctx)
}

type EngineTestSuite struct {
	suite.Suite
	transitions []position.TransitionEvent
	submitted   []types.OrderRequest
	errs        []error
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.transitions = nil
	s.submitted = nil
	s.errs = nil
}

func (s *EngineTestSuite) callbacks() Callbacks {
	return Callbacks{
		OnTransition: func(event position.TransitionEvent) {
			s.transitions = append(s.transitions, event)
		},
		OnOrderSubmitted: func(req types.OrderRequest) {
			s.submitted = append(s.submitted, req)
		},
		OnError: func(err error) {
			s.errs = append(s.errs, err)
		},
	}
}

func (s *EngineTestSuite) config() config.Config {
	return config.Config{
		Symbols:     []string{"EURUSD"},
		Interval:    "1m",
		HistorySize: 100,
		Indicators: config.IndicatorConfig{
			MAType:     "sma",
			FastPeriod: 2,
			SlowPeriod: 3,
			RSIPeriod:  14,
			ATRPeriod:  2,
		},
		Risk: risk.Config{
			RiskFraction:        0.02,
			MaxQuantity:         1000,
			MinUnit:             1,
			StopATRMultiplier:   2,
			TargetATRMultiplier: 10,
		},
		BreachMode:     position.BreachModeClose,
		Retry:          broker.DefaultRetryPolicy(),
		MaxExitRetries: 2,
	}
}

func bar(minute int, open, high, low, closePrice float64) types.Bar {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	return types.Bar{
		Symbol: "EURUSD",
		Time:   base.Add(time.Duration(minute) * time.Minute),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: 100,
	}
}

// flatBars yields three identical bars so both moving averages compute with
// the fast leg level with the slow one; the next higher close crosses up.
func flatBars() []types.Bar {
	return []types.Bar{
		bar(0, 10, 11, 9, 10),
		bar(1, 10, 11, 9, 10),
		bar(2, 10, 11, 9, 10),
	}
}

func (s *EngineTestSuite) run(cfg config.Config, gateway broker.Gateway, bars []types.Bar) *Engine {
	feed := marketdata.NewReplayFeed(bars)

	e, err := New(cfg, feed, gateway, logger.NewNopLogger(), metrics.New(), s.callbacks())
	s.Require().NoError(err)

	s.Require().NoError(e.Run(context.Background()))

	return e
}

func (s *EngineTestSuite) TestEntryAndExitRoundTrip() {
	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13),  // upward cross, enter long
		bar(4, 13, 14, 12, 13),   // hold
		bar(5, 13, 13.5, 8.5, 9), // downward cross, exit
	)

	paper := broker.NewPaperGateway(10000)
	e := s.run(s.config(), paper, bars)

	p := e.Tracker().Get("EURUSD")
	s.Assert().Equal(types.PositionStateFlat, p.State)

	s.Require().Len(s.submitted, 2)
	s.Assert().Equal(types.SideBuy, s.submitted[0].Side)
	s.Assert().Equal(types.OrderReasonStrategy, s.submitted[0].Reason)
	s.Assert().Equal(types.SideSell, s.submitted[1].Side)
	s.Assert().Equal(2, paper.SubmissionCount())

	// FLAT → PENDING_ENTRY → OPEN → PENDING_EXIT → FLAT.
	s.Require().Len(s.transitions, 4)
	s.Assert().Equal(types.PositionStatePendingEntry, s.transitions[0].To)
	s.Assert().Equal(types.PositionStateOpen, s.transitions[1].To)
	s.Assert().Equal(types.PositionStatePendingExit, s.transitions[2].To)
	s.Assert().Equal(types.PositionStateFlat, s.transitions[3].To)
}

func (s *EngineTestSuite) TestEntrySizingFromRisk() {
	bars := append(flatBars(), bar(3, 10, 14, 9.5, 13))

	e := s.run(s.config(), broker.NewPaperGateway(10000), bars)

	p := e.Tracker().Get("EURUSD")
	s.Require().Equal(types.PositionStateOpen, p.State)
	s.Assert().Equal(types.DirectionLong, p.Direction)

	// ATR(2) at the entry bar is 3.25, so the stop distance is 6.5 and
	// 2% of 10000 equity floors to 30 units.
	s.Assert().InDelta(30, p.Quantity, 1e-9)
	s.Assert().InDelta(13-6.5, p.StopPrice, 1e-9)
	s.Assert().InDelta(13+32.5, p.TargetPrice, 1e-9)
}

func (s *EngineTestSuite) TestWorkingEntryReconciledOnLaterBar() {
	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13), // upward cross, order stays working
		bar(4, 13, 14, 12, 13),  // reconciliation finds the fill
	)

	gateway := newDeferredFillGateway()
	e := s.run(s.config(), gateway, bars)

	p := e.Tracker().Get("EURUSD")
	s.Require().Equal(types.PositionStateOpen, p.State)
	s.Assert().InDelta(13, p.EntryPrice, 1e-9)

	// One venue-side execution; the spanning order is resolved by status
	// query, never resubmitted.
	s.Assert().Equal(1, gateway.submissions)

	s.Require().Len(s.transitions, 2)
	s.Assert().Equal(types.PositionStatePendingEntry, s.transitions[0].To)
	s.Assert().Equal(types.PositionStateOpen, s.transitions[1].To)
}

func (s *EngineTestSuite) TestStopLossBreachClosesPosition() {
	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13),  // enter long, stop at 6.5
		bar(4, 13, 13.5, 5.5, 6), // close below stop
	)

	e := s.run(s.config(), broker.NewPaperGateway(10000), bars)

	p := e.Tracker().Get("EURUSD")
	s.Assert().Equal(types.PositionStateFlat, p.State)

	s.Require().Len(s.submitted, 2)
	s.Assert().Equal(types.OrderReasonStopLoss, s.submitted[1].Reason)
}

func (s *EngineTestSuite) TestCloseModeIgnoresIntrabarSpike() {
	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13), // enter long, stop at 6.5
		bar(4, 13, 14, 6, 13),   // low pierces the stop, close does not
	)

	e := s.run(s.config(), broker.NewPaperGateway(10000), bars)
	s.Assert().Equal(types.PositionStateOpen, e.Tracker().Get("EURUSD").State)
}

func (s *EngineTestSuite) TestIntrabarModeHonorsSpike() {
	cfg := s.config()
	cfg.BreachMode = position.BreachModeIntrabar

	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13),
		bar(4, 13, 14, 6, 13),
	)

	e := s.run(cfg, broker.NewPaperGateway(10000), bars)
	s.Assert().Equal(types.PositionStateFlat, e.Tracker().Get("EURUSD").State)
}

func (s *EngineTestSuite) TestInsufficientBudgetForcesHold() {
	bars := append(flatBars(), bar(3, 10, 14, 9.5, 13))

	paper := broker.NewPaperGateway(1)
	e := s.run(s.config(), paper, bars)

	s.Assert().Equal(types.PositionStateFlat, e.Tracker().Get("EURUSD").State)
	s.Assert().Empty(s.submitted)
	s.Assert().Equal(0, paper.SubmissionCount())
}

func (s *EngineTestSuite) TestExitRetriesAreBounded() {
	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13),  // enter long
		bar(4, 13, 13.5, 5.5, 6), // breach, exit rejected, rearmed
		bar(5, 6, 6.5, 5.5, 6),   // retry, rejected again, budget spent
		bar(6, 6, 6.5, 5.5, 6),   // no further attempts
	)

	gateway := newRejectingExitGateway()
	e := s.run(s.config(), gateway, bars)

	p := e.Tracker().Get("EURUSD")
	s.Assert().Equal(types.PositionStatePendingExit, p.State)
	s.Assert().Equal(2, p.ExitAttempts)
	s.Assert().Equal(2, gateway.exits)

	exhausted := false

	for _, err := range s.errs {
		if errors.HasCode(err, errors.ErrCodeRetriesExhausted) {
			exhausted = true
		}
	}

	s.Assert().True(exhausted)
}

func (s *EngineTestSuite) TestRetriedExitsUseFreshIdempotencyKeys() {
	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13),
		bar(4, 13, 13.5, 5.5, 6),
		bar(5, 6, 6.5, 5.5, 6),
	)

	gateway := newRejectingExitGateway()
	s.run(s.config(), gateway, bars)

	s.Require().Len(s.submitted, 3)
	s.Assert().NotEqual(s.submitted[1].ClientOrderID, s.submitted[2].ClientOrderID)
}

func (s *EngineTestSuite) TestOutOfOrderBarSkipsCycle() {
	bars := append(flatBars(),
		bar(1, 10, 11, 9, 10), // regression, dropped
		bar(3, 10, 14, 9.5, 13),
	)

	e := s.run(s.config(), broker.NewPaperGateway(10000), bars)

	// The stale bar is absorbed; the session still enters on the cross.
	s.Assert().Equal(types.PositionStateOpen, e.Tracker().Get("EURUSD").State)
	s.Require().NotEmpty(s.errs)
	s.Assert().True(errors.HasCode(s.errs[0], errors.ErrCodeOutOfOrderBar))
}

func (s *EngineTestSuite) TestReplayIsDeterministic() {
	bars := append(flatBars(),
		bar(3, 10, 14, 9.5, 13),
		bar(4, 13, 14, 12, 13),
		bar(5, 13, 13.5, 8.5, 9),
	)

	s.run(s.config(), broker.NewPaperGateway(10000), bars)

	first := make([]position.TransitionEvent, len(s.transitions))
	copy(first, s.transitions)

	s.transitions = nil
	s.run(s.config(), broker.NewPaperGateway(10000), bars)

	s.Require().Len(s.transitions, len(first))

	for i := range first {
		s.Assert().Equal(first[i].From, s.transitions[i].From)
		s.Assert().Equal(first[i].To, s.transitions[i].To)
		s.Assert().Equal(first[i].ClientOrderID, s.transitions[i].ClientOrderID)
	}
}
