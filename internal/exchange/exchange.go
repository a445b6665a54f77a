// Package exchange provides the venue API client used for MOVE options
// trading: product catalog, tickers and spot index prices, and order
// placement with HMAC request signing. All methods take a context and
// return domain types from the models package.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/movetrader/movebot/internal/models"
)

// Exchange defines the venue operations the trading core depends on.
type Exchange interface {
	// Catalog and market data
	ListContracts(ctx context.Context, category string) ([]models.Contract, error)
	GetSpotPrice(ctx context.Context, asset string) (float64, error)
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// Order placement and status
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	CancelOrder(ctx context.Context, orderID int64, productID int) error
	GetOpenOrders(ctx context.Context) ([]Order, error)

	// Account state
	GetPositions(ctx context.Context) ([]Position, error)
	GetBalance(ctx context.Context, assetSymbol string) (float64, error)
}

// APIError carries the HTTP status and the venue's error code for a failed
// request. The venue reports application failures inside a JSON envelope,
// sometimes with a 200 status, so Code is the reliable discriminator.
type APIError struct {
	Status int
	Code   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsPermanentAPIError reports whether err is a venue rejection that will
// not succeed on retry: any 4xx except 429 Too Many Requests.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// OrderType is the venue's execution style for an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market_order"
	OrderTypeLimit  OrderType = "limit_order"
)

// StopOrderType distinguishes the two protective order flavors.
type StopOrderType string

const (
	StopOrderNone       StopOrderType = ""
	StopOrderStopLoss   StopOrderType = "stop_loss_order"
	StopOrderTakeProfit StopOrderType = "take_profit_order"
)

// TimeInForce controls how long an order rests.
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "gtc"
	TIFImmediateOrCancel TimeInForce = "ioc"
	TIFFillOrKill        TimeInForce = "fok"
)

// OrderState is the venue lifecycle state of an order.
type OrderState string

const (
	OrderStateOpen      OrderState = "open"
	OrderStatePending   OrderState = "pending"
	OrderStateClosed    OrderState = "closed"
	OrderStateCancelled OrderState = "cancelled"
)

// OrderRequest describes one order to place. LimitPrice and StopPrice are
// rounded to TickSize before hitting the wire; a zero TickSize sends them
// unrounded.
type OrderRequest struct {
	ProductID     int
	ProductSymbol string
	Size          int
	Side          models.OrderSide
	OrderType     OrderType
	LimitPrice    float64
	StopPrice     float64
	StopOrderType StopOrderType
	TimeInForce   TimeInForce
	ReduceOnly    bool
	ClientOrderID string
	TickSize      float64
}

// Validate rejects requests the venue would bounce anyway.
func (r OrderRequest) Validate() error {
	if r.ProductID <= 0 {
		return errors.New("order request missing product id")
	}
	if r.Size <= 0 {
		return fmt.Errorf("order size must be positive, got %d", r.Size)
	}
	if r.Side != models.SideBuy && r.Side != models.SideSell {
		return fmt.Errorf("invalid order side %q", r.Side)
	}
	switch r.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return errors.New("limit order requires a positive limit price")
		}
	default:
		return fmt.Errorf("invalid order type %q", r.OrderType)
	}
	if r.StopOrderType != StopOrderNone && r.StopPrice <= 0 {
		return fmt.Errorf("%s requires a positive stop price", r.StopOrderType)
	}
	return nil
}

// Order is the venue's view of one order.
type Order struct {
	ID               int64
	ClientOrderID    string
	ProductID        int
	ProductSymbol    string
	Side             models.OrderSide
	Size             int
	UnfilledSize     int
	OrderType        OrderType
	StopOrderType    StopOrderType
	State            OrderState
	AverageFillPrice float64
	LimitPrice       float64
	StopPrice        float64
	CreatedAt        time.Time
}

// Filled reports whether the order has no remaining size. An IOC market
// order lands closed immediately, but its average fill price may lag a
// beat behind.
func (o *Order) Filled() bool {
	return o.State == OrderStateClosed && o.UnfilledSize == 0
}

// Ticker is a snapshot of one symbol's market data.
type Ticker struct {
	Symbol    string
	MarkPrice float64
	SpotPrice float64
	Close     float64
	Volume    float64
}

// Position is one open position on the venue.
type Position struct {
	ProductID     int
	ProductSymbol string
	Size          int
	EntryPrice    float64
	RealizedPnL   float64
}

// Short reports whether the position is net sold.
func (p Position) Short() bool { return p.Size < 0 }
