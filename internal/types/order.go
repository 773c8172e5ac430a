package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/marlinquant/marlin-trading/pkg/errors"
)

type Side string

type Direction string

type OrderStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

const (
	OrderReasonStrategy   string = "strategy"
	OrderReasonStopLoss   string = "stop_loss"
	OrderReasonTakeProfit string = "take_profit"
)

// Structured rejection codes surfaced by broker gateways.
const (
	RejectInsufficientMargin string = "INSUFFICIENT_MARGIN"
	RejectInvalidInstrument  string = "INVALID_INSTRUMENT"
	RejectInvalidQuantity    string = "INVALID_QUANTITY"
	RejectMarketClosed       string = "MARKET_CLOSED"
	RejectUnknownOrder       string = "UNKNOWN_ORDER"
)

// OrderRequest is a single submission attempt against the broker gateway.
//
// ClientOrderID is the idempotency key: symbol + intended direction + the
// per-symbol decision sequence number. A retried submission that already
// succeeded server-side is recognized by this key rather than re-executed.
type OrderRequest struct {
	ClientOrderID string    `yaml:"client_order_id" json:"client_order_id" validate:"required"`
	Symbol        string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side          Side      `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Direction     Direction `yaml:"direction" json:"direction" validate:"required,oneof=LONG SHORT"`
	Quantity      float64   `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	Price         float64   `yaml:"price" json:"price" validate:"required,gt=0"`
	Reason        string    `yaml:"reason" json:"reason" validate:"required"`
	// StopPrice is the protective stop attached to an entry. None for exits.
	StopPrice optional.Option[float64] `yaml:"stop_price" json:"stop_price"`
	// TargetPrice is the take-profit level attached to an entry. None for exits.
	TargetPrice optional.Option[float64] `yaml:"target_price" json:"target_price"`
}

// NewClientOrderID builds the deterministic idempotency key for a decision.
func NewClientOrderID(symbol string, direction Direction, seq uint64) string {
	return fmt.Sprintf("%s-%s-%d", symbol, direction, seq)
}

// Validate validates the OrderRequest struct.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	return nil
}

// OrderResult is the gateway's answer to a submission or status query.
type OrderResult struct {
	ClientOrderID string      `yaml:"client_order_id" json:"client_order_id"`
	BrokerOrderID string      `yaml:"broker_order_id" json:"broker_order_id"`
	Status        OrderStatus `yaml:"status" json:"status"`
	FillPrice     float64     `yaml:"fill_price" json:"fill_price"`
	FillQuantity  float64     `yaml:"fill_quantity" json:"fill_quantity"`
	// RejectReason carries the structured rejection code when Status is REJECTED.
	RejectReason string    `yaml:"reject_reason" json:"reject_reason"`
	Timestamp    time.Time `yaml:"timestamp" json:"timestamp"`
}

// Filled reports whether the order executed.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}

// Rejected reports whether the order was refused by the venue.
func (r OrderResult) Rejected() bool {
	return r.Status == OrderStatusRejected
}
