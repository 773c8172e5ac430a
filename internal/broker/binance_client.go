package broker

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// realBinanceClient wraps the concrete binance.Client behind the service
// interfaces so tests can substitute fakes.
type realBinanceClient struct {
	client *binance.Client
}

func (c *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: c.client.NewCreateOrderService()}
}

func (c *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: c.client.NewGetOrderService()}
}

func (c *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: c.client.NewCancelOrderService()}
}

func (c *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: c.client.NewGetAccountService()}
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)
	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)
	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)
	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)
	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)
	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)
	return s
}

func (s *realGetOrderService) OrigClientOrderID(id string) GetOrderService {
	s.service = s.service.OrigClientOrderID(id)
	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)
	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)
	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

// symbolIndex remembers which symbol each order belongs to, keyed both by
// client order ID and by broker order ID. The venue requires a symbol on
// every order query and cancel.
type symbolIndex struct {
	mu       sync.RWMutex
	byClient map[string]string
	byBroker map[string]string
}

func newSymbolIndex() *symbolIndex {
	return &symbolIndex{
		byClient: make(map[string]string),
		byBroker: make(map[string]string),
	}
}

func (i *symbolIndex) record(clientOrderID, symbol string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byClient[clientOrderID] = symbol
}

func (i *symbolIndex) recordBroker(clientOrderID, brokerOrderID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if symbol, ok := i.byClient[clientOrderID]; ok {
		i.byBroker[brokerOrderID] = symbol
	}
}

func (i *symbolIndex) symbolForClient(clientOrderID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	symbol, ok := i.byClient[clientOrderID]

	return symbol, ok
}

func (i *symbolIndex) symbolForBroker(brokerOrderID string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	symbol, ok := i.byBroker[brokerOrderID]

	return symbol, ok
}

// Binance error codes that indicate a business rejection rather than a
// transport or server fault. Rejections must not be retried.
var binanceRejectionCodes = map[int64]string{
	-1013: types.RejectInvalidQuantity,
	-2010: types.RejectInsufficientMargin,
	-2011: types.RejectUnknownOrder,
	-2013: types.RejectUnknownOrder,
	-2018: types.RejectInsufficientMargin,
	-2019: types.RejectInsufficientMargin,
}

// classifyBinanceError maps a venue error into the transient/rejected split
// the retry layer keys off. Anything that is not a recognized business
// rejection is assumed transient: timeouts, 5xx responses and connection
// resets all come back as plain errors from the client.
func classifyBinanceError(op string, err error) error {
	var apiErr *common.APIError
	if stderrors.As(err, &apiErr) {
		if _, rejected := binanceRejectionCodes[apiErr.Code]; rejected {
			return errors.Wrapf(errors.ErrCodeRejectedOrder, err, "%s rejected by venue", op)
		}

		// -1000..-1099 are server and connectivity faults.
		if apiErr.Code <= -1000 && apiErr.Code > -1100 {
			return errors.Wrapf(errors.ErrCodeTransientBroker, err, "%s failed", op)
		}

		return errors.Wrapf(errors.ErrCodeRejectedOrder, err, "%s failed with venue error", op)
	}

	return errors.Wrapf(errors.ErrCodeTransientBroker, err, "%s failed", op)
}

func mapBinanceOrderStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return types.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return types.OrderStatusRejected
	default:
		return types.OrderStatusPending
	}
}

func orderResultFromCreateResponse(req types.OrderRequest, response *binance.CreateOrderResponse) types.OrderResult {
	executed, _ := strconv.ParseFloat(response.ExecutedQuantity, 64)

	var fillPrice float64

	// Average the fills; a market order can cross several book levels.
	var quoteTotal, qtyTotal float64

	for _, fill := range response.Fills {
		price, _ := strconv.ParseFloat(fill.Price, 64)
		quantity, _ := strconv.ParseFloat(fill.Quantity, 64)
		quoteTotal += price * quantity
		qtyTotal += quantity
	}

	if qtyTotal > 0 {
		fillPrice = quoteTotal / qtyTotal
	} else if executed > 0 {
		if quote, err := strconv.ParseFloat(response.CummulativeQuoteQuantity, 64); err == nil && quote > 0 {
			fillPrice = quote / executed
		}
	}

	return types.OrderResult{
		ClientOrderID: req.ClientOrderID,
		BrokerOrderID: strconv.FormatInt(response.OrderID, 10),
		Status:        mapBinanceOrderStatus(response.Status),
		FillPrice:     fillPrice,
		FillQuantity:  executed,
		Timestamp:     millisToTime(response.TransactTime),
	}
}

func millisToTime(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}

	return time.UnixMilli(millis).UTC()
}
