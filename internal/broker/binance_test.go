package broker

import (
	"context"
	"testing"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/suite"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// Hand-written fakes for the Binance service interfaces. Each fake records
// the builder arguments it was given and returns a scripted response.

type fakeCreateOrderService struct {
	symbol        string
	side          binance.SideType
	orderType     binance.OrderType
	quantity      string
	clientOrderID string
	response      *binance.CreateOrderResponse
	err           error
	calls         int
}

func (f *fakeCreateOrderService) Symbol(symbol string) CreateOrderService {
	f.symbol = symbol
	return f
}

func (f *fakeCreateOrderService) Side(side binance.SideType) CreateOrderService {
	f.side = side
	return f
}

func (f *fakeCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	f.orderType = orderType
	return f
}

func (f *fakeCreateOrderService) Quantity(quantity string) CreateOrderService {
	f.quantity = quantity
	return f
}

func (f *fakeCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	f.clientOrderID = id
	return f
}

func (f *fakeCreateOrderService) Do(_ context.Context) (*binance.CreateOrderResponse, error) {
	f.calls++
	return f.response, f.err
}

type fakeGetOrderService struct {
	symbol        string
	clientOrderID string
	order         *binance.Order
	err           error
}

func (f *fakeGetOrderService) Symbol(symbol string) GetOrderService {
	f.symbol = symbol
	return f
}

func (f *fakeGetOrderService) OrigClientOrderID(id string) GetOrderService {
	f.clientOrderID = id
	return f
}

func (f *fakeGetOrderService) Do(_ context.Context) (*binance.Order, error) {
	return f.order, f.err
}

type fakeCancelOrderService struct {
	symbol   string
	orderID  int64
	response *binance.CancelOrderResponse
	err      error
}

func (f *fakeCancelOrderService) Symbol(symbol string) CancelOrderService {
	f.symbol = symbol
	return f
}

func (f *fakeCancelOrderService) OrderID(orderID int64) CancelOrderService {
	f.orderID = orderID
	return f
}

func (f *fakeCancelOrderService) Do(_ context.Context) (*binance.CancelOrderResponse, error) {
	return f.response, f.err
}

type fakeGetAccountService struct {
	account *binance.Account
	err     error
}

func (f *fakeGetAccountService) Do(_ context.Context) (*binance.Account, error) {
	return f.account, f.err
}

type fakeBinanceClient struct {
	createOrder *fakeCreateOrderService
	getOrder    *fakeGetOrderService
	cancelOrder *fakeCancelOrderService
	getAccount  *fakeGetAccountService
}

func (c *fakeBinanceClient) NewCreateOrderService() CreateOrderService { return c.createOrder }
func (c *fakeBinanceClient) NewGetOrderService() GetOrderService       { return c.getOrder }
func (c *fakeBinanceClient) NewCancelOrderService() CancelOrderService { return c.cancelOrder }
func (c *fakeBinanceClient) NewGetAccountService() GetAccountService   { return c.getAccount }

type BinanceGatewayTestSuite struct {
	suite.Suite
	client  *fakeBinanceClient
	gateway *BinanceGateway
	ctx     context.Context
}

func TestBinanceGatewayTestSuite(t *testing.T) {
	suite.Run(t, new(BinanceGatewayTestSuite))
}

func (s *BinanceGatewayTestSuite) SetupTest() {
	s.client = &fakeBinanceClient{
		createOrder: &fakeCreateOrderService{},
		getOrder:    &fakeGetOrderService{},
		cancelOrder: &fakeCancelOrderService{},
		getAccount:  &fakeGetAccountService{},
	}
	s.gateway = NewBinanceGatewayWithClient(s.client, "USDT")
	s.ctx = context.Background()
}

func (s *BinanceGatewayTestSuite) entryRequest() types.OrderRequest {
	return types.OrderRequest{
		ClientOrderID: types.NewClientOrderID("BTCUSDT", types.DirectionLong, 3),
		Symbol:        "BTCUSDT",
		Side:          types.SideBuy,
		Direction:     types.DirectionLong,
		Quantity:      0.25,
		Price:         42000,
		Reason:        types.OrderReasonStrategy,
	}
}

func (s *BinanceGatewayTestSuite) TestSubmitCarriesIdempotencyKey() {
	s.client.createOrder.response = &binance.CreateOrderResponse{
		OrderID:                  991,
		ClientOrderID:            "BTCUSDT-LONG-3",
		Status:                   binance.OrderStatusTypeFilled,
		ExecutedQuantity:         "0.25000000",
		CummulativeQuoteQuantity: "10502.50000000",
		TransactTime:             1772366400000,
	}

	result, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().NoError(err)

	s.Assert().Equal("BTCUSDT-LONG-3", s.client.createOrder.clientOrderID)
	s.Assert().Equal("BTCUSDT", s.client.createOrder.symbol)
	s.Assert().Equal(binance.SideTypeBuy, s.client.createOrder.side)
	s.Assert().Equal(binance.OrderTypeMarket, s.client.createOrder.orderType)
	s.Assert().Equal("0.25000000", s.client.createOrder.quantity)

	s.Assert().True(result.Filled())
	s.Assert().Equal("991", result.BrokerOrderID)
	s.Assert().Equal(0.25, result.FillQuantity)
	s.Assert().InDelta(42010.0, result.FillPrice, 0.0001)
}

func (s *BinanceGatewayTestSuite) TestSubmitAveragesFillPrices() {
	s.client.createOrder.response = &binance.CreateOrderResponse{
		OrderID:          992,
		Status:           binance.OrderStatusTypeFilled,
		ExecutedQuantity: "0.20000000",
		Fills: []*binance.Fill{
			{Price: "42000.00", Quantity: "0.10000000"},
			{Price: "42100.00", Quantity: "0.10000000"},
		},
	}

	result, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().NoError(err)
	s.Assert().InDelta(42050.0, result.FillPrice, 0.0001)
}

func (s *BinanceGatewayTestSuite) TestSubmitRejectionIsPermanent() {
	s.client.createOrder.err = &common.APIError{Code: -2010, Message: "Account has insufficient balance"}

	_, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeRejectedOrder))
	s.Assert().False(errors.IsTransient(err))
}

func (s *BinanceGatewayTestSuite) TestSubmitServerFaultIsTransient() {
	s.client.createOrder.err = &common.APIError{Code: -1001, Message: "Internal error"}

	_, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeTransientBroker))
	s.Assert().True(errors.IsTransient(err))
}

func (s *BinanceGatewayTestSuite) TestSubmitTransportFaultIsTransient() {
	s.client.createOrder.err = context.DeadlineExceeded

	_, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().Error(err)
	s.Assert().True(errors.IsTransient(err))
}

func (s *BinanceGatewayTestSuite) TestQueryStatusBySubmittedKey() {
	s.client.createOrder.err = &common.APIError{Code: -1001, Message: "Internal error"}
	_, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().Error(err)

	s.client.getOrder.order = &binance.Order{
		OrderID:                  993,
		ClientOrderID:            "BTCUSDT-LONG-3",
		Status:                   binance.OrderStatusTypeFilled,
		Price:                    "0.00000000",
		ExecutedQuantity:         "0.25000000",
		CummulativeQuoteQuantity: "10500.00000000",
		UpdateTime:               1772366401000,
	}

	result, err := s.gateway.QueryStatus(s.ctx, "BTCUSDT-LONG-3")
	s.Require().NoError(err)

	s.Assert().Equal("BTCUSDT", s.client.getOrder.symbol)
	s.Assert().Equal("BTCUSDT-LONG-3", s.client.getOrder.clientOrderID)
	s.Assert().True(result.Filled())
	s.Assert().InDelta(42000.0, result.FillPrice, 0.0001)
}

func (s *BinanceGatewayTestSuite) TestQueryStatusUnknownKey() {
	_, err := s.gateway.QueryStatus(s.ctx, "BTCUSDT-LONG-404")
	s.Require().Error(err)
	s.Assert().True(errors.HasCode(err, errors.ErrCodeOrderNotFound))
}

func (s *BinanceGatewayTestSuite) TestCancelResolvesSymbolFromIndex() {
	s.client.createOrder.response = &binance.CreateOrderResponse{
		OrderID: 994,
		Status:  binance.OrderStatusTypeNew,
	}

	result, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().NoError(err)

	s.client.getOrder.order = &binance.Order{OrderID: 994, Status: binance.OrderStatusTypeNew}
	_, err = s.gateway.QueryStatus(s.ctx, result.ClientOrderID)
	s.Require().NoError(err)

	s.client.cancelOrder.response = &binance.CancelOrderResponse{OrderID: 994}
	err = s.gateway.Cancel(s.ctx, "994")
	s.Require().NoError(err)

	s.Assert().Equal("BTCUSDT", s.client.cancelOrder.symbol)
	s.Assert().Equal(int64(994), s.client.cancelOrder.orderID)
}

func (s *BinanceGatewayTestSuite) TestCancelImmediatelyAfterSubmit() {
	// The create response alone must be enough to address a cancel; no
	// status query happens in between.
	s.client.createOrder.response = &binance.CreateOrderResponse{
		OrderID: 995,
		Status:  binance.OrderStatusTypeNew,
	}

	result, err := s.gateway.Submit(s.ctx, s.entryRequest())
	s.Require().NoError(err)
	s.Require().Equal("995", result.BrokerOrderID)

	s.client.cancelOrder.response = &binance.CancelOrderResponse{OrderID: 995}
	err = s.gateway.Cancel(s.ctx, result.BrokerOrderID)
	s.Require().NoError(err)

	s.Assert().Equal("BTCUSDT", s.client.cancelOrder.symbol)
	s.Assert().Equal(int64(995), s.client.cancelOrder.orderID)
}

func (s *BinanceGatewayTestSuite) TestAccountInfoSumsQuoteAsset() {
	s.client.getAccount.account = &binance.Account{
		Balances: []binance.Balance{
			{Asset: "USDT", Free: "9000.00", Locked: "1000.00"},
			{Asset: "BTC", Free: "0.50", Locked: "0.00"},
		},
	}

	info, err := s.gateway.AccountInfo(s.ctx)
	s.Require().NoError(err)
	s.Assert().Equal(10000.0, info.Balance)
	s.Assert().Equal(10000.0, info.Equity)
}
