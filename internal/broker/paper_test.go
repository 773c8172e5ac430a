package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

type PaperGatewayTestSuite struct {
	suite.Suite
	gateway *PaperGateway
	ctx     context.Context
}

func TestPaperGatewayTestSuite(t *testing.T) {
	suite.Run(t, new(PaperGatewayTestSuite))
}

func (s *PaperGatewayTestSuite) SetupTest() {
	s.gateway = NewPaperGateway(10000)
	s.gateway.SetClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	s.ctx = context.Background()
}

func (s *PaperGatewayTestSuite) entryRequest(seq uint64) types.OrderRequest {
	return types.OrderRequest{
		ClientOrderID: types.NewClientOrderID("BTCUSDT", types.DirectionLong, seq),
		Symbol:        "BTCUSDT",
		Side:          types.SideBuy,
		Direction:     types.DirectionLong,
		Quantity:      0.5,
		Price:         42000,
		Reason:        types.OrderReasonStrategy,
	}
}

func (s *PaperGatewayTestSuite) TestSubmitFillsAtRequestPrice() {
	result, err := s.gateway.Submit(s.ctx, s.entryRequest(1))
	s.Require().NoError(err)

	s.Assert().True(result.Filled())
	s.Assert().Equal("BTCUSDT-LONG-1", result.ClientOrderID)
	s.Assert().Equal("paper-1", result.BrokerOrderID)
	s.Assert().Equal(42000.0, result.FillPrice)
	s.Assert().Equal(0.5, result.FillQuantity)
}

func (s *PaperGatewayTestSuite) TestDuplicateKeyExecutesOnce() {
	first, err := s.gateway.Submit(s.ctx, s.entryRequest(1))
	s.Require().NoError(err)

	second, err := s.gateway.Submit(s.ctx, s.entryRequest(1))
	s.Require().NoError(err)

	s.Assert().Equal(first, second)
	s.Assert().Equal(1, s.gateway.SubmissionCount())
}

func (s *PaperGatewayTestSuite) TestDistinctKeysExecuteSeparately() {
	_, err := s.gateway.Submit(s.ctx, s.entryRequest(1))
	s.Require().NoError(err)

	_, err = s.gateway.Submit(s.ctx, s.entryRequest(2))
	s.Require().NoError(err)

	s.Assert().Equal(2, s.gateway.SubmissionCount())
}

func (s *PaperGatewayTestSuite) TestSubmitRejectsInvalidRequest() {
	req := s.entryRequest(1)
	req.Quantity = 0

	_, err := s.gateway.Submit(s.ctx, req)
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidOrder))
	s.Assert().Equal(0, s.gateway.SubmissionCount())
}

func (s *PaperGatewayTestSuite) TestQueryStatusReturnsLedgerEntry() {
	result, err := s.gateway.Submit(s.ctx, s.entryRequest(1))
	s.Require().NoError(err)

	status, err := s.gateway.QueryStatus(s.ctx, result.ClientOrderID)
	s.Require().NoError(err)
	s.Assert().Equal(result, status)
}

func (s *PaperGatewayTestSuite) TestQueryStatusUnknownOrder() {
	_, err := s.gateway.QueryStatus(s.ctx, "BTCUSDT-LONG-99")
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeOrderNotFound))
}

func (s *PaperGatewayTestSuite) TestCancelFilledOrder() {
	result, err := s.gateway.Submit(s.ctx, s.entryRequest(1))
	s.Require().NoError(err)

	err = s.gateway.Cancel(s.ctx, result.BrokerOrderID)
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeOrderAlreadyFilled))
}

func (s *PaperGatewayTestSuite) TestCancelUnknownOrder() {
	err := s.gateway.Cancel(s.ctx, "paper-404")
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeOrderNotFound))
}

func (s *PaperGatewayTestSuite) TestAccountInfo() {
	info, err := s.gateway.AccountInfo(s.ctx)
	s.Require().NoError(err)
	s.Assert().Equal(10000.0, info.Balance)
	s.Assert().Equal(10000.0, info.Equity)
}
