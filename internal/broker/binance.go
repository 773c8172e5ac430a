package broker

import (
	"context"
	"strconv"

	binance "github.com/adshao/go-binance/v2"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// BinanceDecimalPrecision is the quantity precision used for order strings.
// 8 decimals covers satoshi-level precision for BTC-like assets; a
// production deployment should use symbol-specific LOT_SIZE filters.
const BinanceDecimalPrecision = 8

// Service interfaces abstracting the Binance client for testing.

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetOrderService interface for querying a single order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrigClientOrderID(id string) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// GetAccountService interface for reading account balances.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// BinanceClient abstracts the venue client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetOrderService() GetOrderService
	NewCancelOrderService() CancelOrderService
	NewGetAccountService() GetAccountService
}

// BinanceConfig holds venue credentials and connection options.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key" validate:"required"`
	SecretKey string `yaml:"secret_key" json:"secret_key" validate:"required"`
	// BaseURL overrides the endpoint; takes precedence over UseTestnet.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// UseTestnet routes orders to the paper-trading testnet.
	UseTestnet bool `yaml:"use_testnet" json:"use_testnet"`
	// QuoteAsset is the asset equity is denominated in.
	QuoteAsset string `yaml:"quote_asset" json:"quote_asset" validate:"required"`
}

// BinanceGateway implements Gateway against Binance spot.
//
// The venue's newClientOrderId field carries our idempotency key, and
// symbols are remembered per key so status queries and cancels can be
// addressed without extra bookkeeping by the caller.
type BinanceGateway struct {
	client     BinanceClient
	quoteAsset string
	symbols    *symbolIndex
}

// NewBinanceGateway creates a gateway over the real Binance client.
func NewBinanceGateway(config BinanceConfig) *BinanceGateway {
	if config.UseTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(config.APIKey, config.SecretKey)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	return NewBinanceGatewayWithClient(&realBinanceClient{client: client}, config.QuoteAsset)
}

// NewBinanceGatewayWithClient creates a gateway over an injected client.
// Used by tests.
func NewBinanceGatewayWithClient(client BinanceClient, quoteAsset string) *BinanceGateway {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}

	return &BinanceGateway{
		client:     client,
		quoteAsset: quoteAsset,
		symbols:    newSymbolIndex(),
	}
}

// Submit implements Gateway.
func (g *BinanceGateway) Submit(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return types.OrderResult{}, err
	}

	side := binance.SideTypeBuy
	if req.Side == types.SideSell {
		side = binance.SideTypeSell
	}

	g.symbols.record(req.ClientOrderID, req.Symbol)

	response, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(req.Quantity, 'f', BinanceDecimalPrecision, 64)).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return types.OrderResult{}, classifyBinanceError("submit order", err)
	}

	// The create response already carries the venue order ID; cancels
	// issued before any status query must be able to resolve the symbol.
	g.symbols.recordBroker(req.ClientOrderID, strconv.FormatInt(response.OrderID, 10))

	return orderResultFromCreateResponse(req, response), nil
}

// Cancel implements Gateway.
func (g *BinanceGateway) Cancel(ctx context.Context, brokerOrderID string) error {
	orderID, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeOrderNotFound, err, "malformed broker order id %q", brokerOrderID)
	}

	symbol, ok := g.symbols.symbolForBroker(brokerOrderID)
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "no symbol recorded for order %s", brokerOrderID)
	}

	_, err = g.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return classifyBinanceError("cancel order", err)
	}

	return nil
}

// QueryStatus implements Gateway.
func (g *BinanceGateway) QueryStatus(ctx context.Context, clientOrderID string) (types.OrderResult, error) {
	symbol, ok := g.symbols.symbolForClient(clientOrderID)
	if !ok {
		return types.OrderResult{}, errors.Newf(errors.ErrCodeOrderNotFound,
			"no symbol recorded for client order %s", clientOrderID)
	}

	order, err := g.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return types.OrderResult{}, classifyBinanceError("query order", err)
	}

	g.symbols.recordBroker(clientOrderID, strconv.FormatInt(order.OrderID, 10))

	price, _ := strconv.ParseFloat(order.Price, 64)
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	// Market fills report price 0; derive the average from the quote total.
	if price == 0 && executed > 0 {
		if quote, parseErr := strconv.ParseFloat(order.CummulativeQuoteQuantity, 64); parseErr == nil && quote > 0 {
			price = quote / executed
		}
	}

	return types.OrderResult{
		ClientOrderID: clientOrderID,
		BrokerOrderID: strconv.FormatInt(order.OrderID, 10),
		Status:        mapBinanceOrderStatus(order.Status),
		FillPrice:     price,
		FillQuantity:  executed,
		Timestamp:     millisToTime(order.UpdateTime),
	}, nil
}

// AccountInfo implements Gateway. Equity is the free plus locked balance of
// the configured quote asset.
func (g *BinanceGateway) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.AccountInfo{}, classifyBinanceError("get account", err)
	}

	var total float64

	for _, balance := range account.Balances {
		if balance.Asset != g.quoteAsset {
			continue
		}

		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)
		total += free + locked
	}

	return types.AccountInfo{
		Balance: total,
		Equity:  total,
	}, nil
}
