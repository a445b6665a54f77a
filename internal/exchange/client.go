package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/pricing"
)

const (
	productionBaseURL = "https://api.india.delta.exchange"
	testnetBaseURL    = "https://cdn-ind.testnet.deltaex.org"

	// The venue enforces a shared per-key budget; the default limiter
	// stays well under it.
	defaultRequestsPerSecond = 8
	defaultBurst             = 4

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3

	maxErrorBody = 64 << 10
)

// Client talks to the venue's REST API. It signs every request, paces them
// through a shared rate limiter, and retries transient failures with
// exponential backoff. Safe for concurrent use.
type Client struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	apiSecret     string
	limiter       *rate.Limiter
	logger        *log.Logger
	maxRetries    int
	retryInitial  time.Duration
	retryMaxSleep time.Duration
	testnet       bool
	now           func() time.Time
}

// NewClient creates a venue client with default settings. Set testnet for
// the venue's test environment.
func NewClient(apiKey, apiSecret string, testnet bool) *Client {
	baseURL := productionBaseURL
	if testnet {
		baseURL = testnetBaseURL
	}
	return &Client{
		client:        &http.Client{Timeout: defaultTimeout},
		baseURL:       baseURL,
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		limiter:       rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		logger:        log.Default(),
		maxRetries:    defaultMaxRetries,
		retryInitial:  500 * time.Millisecond,
		retryMaxSleep: 10 * time.Second,
		testnet:       testnet,
		now:           time.Now,
	}
}

// WithBaseURL overrides the API endpoint (tests, proxies). Trailing
// slashes are trimmed once here.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// WithHTTPClient overrides the HTTP client (tests, custom transport).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.client = hc
	}
	return c
}

// WithLogger overrides the destination for warnings and retry notices.
func (c *Client) WithLogger(logger *log.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithRateLimit replaces the default request pacing. rps is sustained
// requests per second, burst the momentary allowance.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps > 0 && burst > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

// WithMaxRetries sets how many times a transient failure is retried on top
// of the initial attempt. Zero disables retries.
func (c *Client) WithMaxRetries(n int) *Client {
	if n >= 0 {
		c.maxRetries = n
	}
	return c
}

// WithRetryIntervals overrides the backoff schedule for transient retries.
func (c *Client) WithRetryIntervals(initial, max time.Duration) *Client {
	if initial > 0 {
		c.retryInitial = initial
	}
	if max > 0 {
		c.retryMaxSleep = max
	}
	return c
}

var _ Exchange = (*Client)(nil)

// ============ Wire Structures ============

// The venue wraps every response in this envelope. Prices arrive as JSON
// strings, hence the decimal fields on the payload types.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *apiErrorBody   `json:"error"`
}

type apiErrorBody struct {
	Code    string          `json:"code"`
	Context json.RawMessage `json:"context"`
}

type wireProduct struct {
	ID              int                 `json:"id"`
	Symbol          string              `json:"symbol"`
	ContractType    string              `json:"contract_type"`
	State           string              `json:"state"`
	SettlementTime  time.Time           `json:"settlement_time"`
	StrikePrice     decimal.NullDecimal `json:"strike_price"`
	TickSize        decimal.NullDecimal `json:"tick_size"`
	StrikeIncrement decimal.NullDecimal `json:"strike_increment"`
	UnderlyingAsset struct {
		Symbol string `json:"symbol"`
	} `json:"underlying_asset"`
}

func (p wireProduct) toContract() models.Contract {
	contract := models.Contract{
		ID:             p.ID,
		Symbol:         p.Symbol,
		Asset:          p.UnderlyingAsset.Symbol,
		Category:       p.ContractType,
		State:          contractState(p.State),
		SettlementTime: p.SettlementTime,
	}
	if p.StrikePrice.Valid {
		contract.Strike = p.StrikePrice.Decimal.InexactFloat64()
	}
	if p.TickSize.Valid {
		contract.TickSize = p.TickSize.Decimal.InexactFloat64()
	}
	if p.StrikeIncrement.Valid {
		contract.StrikeIncrement = p.StrikeIncrement.Decimal.InexactFloat64()
	}
	return contract
}

func contractState(s string) models.ContractState {
	switch s {
	case "live":
		return models.StateLive
	case "auction":
		return models.StateAuction
	case "expired":
		return models.StateExpired
	default:
		return models.StateOther
	}
}

type wireTicker struct {
	Symbol    string              `json:"symbol"`
	MarkPrice decimal.NullDecimal `json:"mark_price"`
	SpotPrice decimal.NullDecimal `json:"spot_price"`
	Close     decimal.NullDecimal `json:"close"`
	Volume    decimal.NullDecimal `json:"volume"`
}

func (t wireTicker) toTicker() *Ticker {
	ticker := &Ticker{Symbol: t.Symbol}
	if t.MarkPrice.Valid {
		ticker.MarkPrice = t.MarkPrice.Decimal.InexactFloat64()
	}
	if t.SpotPrice.Valid {
		ticker.SpotPrice = t.SpotPrice.Decimal.InexactFloat64()
	}
	if t.Close.Valid {
		ticker.Close = t.Close.Decimal.InexactFloat64()
	}
	if t.Volume.Valid {
		ticker.Volume = t.Volume.Decimal.InexactFloat64()
	}
	return ticker
}

type wireOrderRequest struct {
	ProductID     int    `json:"product_id"`
	Size          int    `json:"size"`
	Side          string `json:"side"`
	OrderType     string `json:"order_type"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	StopOrderType string `json:"stop_order_type,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type wireOrder struct {
	ID               int64               `json:"id"`
	ClientOrderID    string              `json:"client_order_id"`
	ProductID        int                 `json:"product_id"`
	ProductSymbol    string              `json:"product_symbol"`
	Side             string              `json:"side"`
	Size             int                 `json:"size"`
	UnfilledSize     int                 `json:"unfilled_size"`
	OrderType        string              `json:"order_type"`
	StopOrderType    string              `json:"stop_order_type"`
	State            string              `json:"state"`
	AverageFillPrice decimal.NullDecimal `json:"average_fill_price"`
	LimitPrice       decimal.NullDecimal `json:"limit_price"`
	StopPrice        decimal.NullDecimal `json:"stop_price"`
	CreatedAt        string              `json:"created_at"`
}

func (o wireOrder) toOrder() *Order {
	order := &Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		ProductID:     o.ProductID,
		ProductSymbol: o.ProductSymbol,
		Side:          models.OrderSide(o.Side),
		Size:          o.Size,
		UnfilledSize:  o.UnfilledSize,
		OrderType:     OrderType(o.OrderType),
		StopOrderType: StopOrderType(o.StopOrderType),
		State:         OrderState(o.State),
	}
	if o.AverageFillPrice.Valid {
		order.AverageFillPrice = o.AverageFillPrice.Decimal.InexactFloat64()
	}
	if o.LimitPrice.Valid {
		order.LimitPrice = o.LimitPrice.Decimal.InexactFloat64()
	}
	if o.StopPrice.Valid {
		order.StopPrice = o.StopPrice.Decimal.InexactFloat64()
	}
	if ts, err := time.Parse(time.RFC3339, o.CreatedAt); err == nil {
		order.CreatedAt = ts
	}
	return order
}

type wirePosition struct {
	Size       int                 `json:"size"`
	EntryPrice decimal.NullDecimal `json:"entry_price"`
	RealizedPL decimal.NullDecimal `json:"realized_pnl"`
	Product    struct {
		ID     int    `json:"id"`
		Symbol string `json:"symbol"`
	} `json:"product"`
}

type wireBalance struct {
	AssetSymbol      string              `json:"asset_symbol"`
	AvailableBalance decimal.NullDecimal `json:"available_balance"`
}

// ============ Market Data ============

// ListContracts returns the venue's products for one contract category,
// already narrowed to tradeable lifecycle states.
func (c *Client) ListContracts(ctx context.Context, category string) ([]models.Contract, error) {
	query := url.Values{}
	query.Set("contract_types", category)
	query.Set("states", "live,auction")

	var products []wireProduct
	if err := c.doRequest(ctx, http.MethodGet, "/v2/products", query, nil, &products); err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	contracts := make([]models.Contract, 0, len(products))
	for _, p := range products {
		contracts = append(contracts, p.toContract())
	}
	return contracts, nil
}

// GetTicker returns the market snapshot for one symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var ticker wireTicker
	if err := c.doRequest(ctx, http.MethodGet, "/v2/tickers/"+url.PathEscape(symbol), nil, nil, &ticker); err != nil {
		return nil, fmt.Errorf("fetching ticker %s: %w", symbol, err)
	}
	return ticker.toTicker(), nil
}

// GetSpotPrice returns the spot index price for an asset, read from the
// perpetual ticker's spot_price field.
func (c *Client) GetSpotPrice(ctx context.Context, asset string) (float64, error) {
	ticker, err := c.GetTicker(ctx, spotSymbol(asset))
	if err != nil {
		return 0, err
	}
	if ticker.SpotPrice <= 0 {
		return 0, fmt.Errorf("ticker %s carries no spot price", ticker.Symbol)
	}
	return ticker.SpotPrice, nil
}

// spotSymbol maps an asset code to the venue symbol whose ticker carries
// the spot index.
func spotSymbol(asset string) string {
	return strings.ToUpper(asset) + "USD"
}

// ============ Orders ============

// PlaceOrder submits one order and returns the venue's record of it. Limit
// and stop prices are rounded to the request's tick size and serialized as
// strings, which is what the venue expects.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := wireOrderRequest{
		ProductID:     req.ProductID,
		Size:          req.Size,
		Side:          string(req.Side),
		OrderType:     string(req.OrderType),
		StopOrderType: string(req.StopOrderType),
		TimeInForce:   string(req.TimeInForce),
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: req.ClientOrderID,
	}
	if req.OrderType == OrderTypeLimit {
		body.LimitPrice = formatPrice(req.LimitPrice, req.TickSize)
	}
	if req.StopOrderType != StopOrderNone {
		body.StopPrice = formatPrice(req.StopPrice, req.TickSize)
	}

	var order wireOrder
	if err := c.doRequest(ctx, http.MethodPost, "/v2/orders", nil, body, &order); err != nil {
		return nil, fmt.Errorf("placing %s %s order on product %d: %w", req.Side, req.OrderType, req.ProductID, err)
	}
	return order.toOrder(), nil
}

// GetOrder fetches one order by id.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var order wireOrder
	path := "/v2/orders/" + strconv.FormatInt(orderID, 10)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &order); err != nil {
		return nil, fmt.Errorf("fetching order %d: %w", orderID, err)
	}
	return order.toOrder(), nil
}

// CancelOrder cancels one resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID int64, productID int) error {
	body := struct {
		ID        int64 `json:"id"`
		ProductID int   `json:"product_id"`
	}{ID: orderID, ProductID: productID}

	if err := c.doRequest(ctx, http.MethodDelete, "/v2/orders", nil, body, nil); err != nil {
		return fmt.Errorf("cancelling order %d: %w", orderID, err)
	}
	return nil
}

// GetOpenOrders returns every resting order on the account.
func (c *Client) GetOpenOrders(ctx context.Context) ([]Order, error) {
	query := url.Values{}
	query.Set("states", "open,pending")

	var wire []wireOrder
	if err := c.doRequest(ctx, http.MethodGet, "/v2/orders", query, nil, &wire); err != nil {
		return nil, fmt.Errorf("listing open orders: %w", err)
	}
	orders := make([]Order, 0, len(wire))
	for _, o := range wire {
		orders = append(orders, *o.toOrder())
	}
	return orders, nil
}

// ============ Account ============

// GetPositions returns all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var wire []wirePosition
	if err := c.doRequest(ctx, http.MethodGet, "/v2/positions/margined", nil, nil, &wire); err != nil {
		return nil, fmt.Errorf("listing positions: %w", err)
	}
	positions := make([]Position, 0, len(wire))
	for _, p := range wire {
		pos := Position{
			ProductID:     p.Product.ID,
			ProductSymbol: p.Product.Symbol,
			Size:          p.Size,
		}
		if p.EntryPrice.Valid {
			pos.EntryPrice = p.EntryPrice.Decimal.InexactFloat64()
		}
		if p.RealizedPL.Valid {
			pos.RealizedPnL = p.RealizedPL.Decimal.InexactFloat64()
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// GetBalance returns the available balance for one settlement asset.
func (c *Client) GetBalance(ctx context.Context, assetSymbol string) (float64, error) {
	var wire []wireBalance
	if err := c.doRequest(ctx, http.MethodGet, "/v2/wallet/balances", nil, nil, &wire); err != nil {
		return 0, fmt.Errorf("fetching balances: %w", err)
	}
	for _, b := range wire {
		if strings.EqualFold(b.AssetSymbol, assetSymbol) {
			if b.AvailableBalance.Valid {
				return b.AvailableBalance.Decimal.InexactFloat64(), nil
			}
			return 0, nil
		}
	}
	return 0, fmt.Errorf("no wallet balance for asset %s", assetSymbol)
}

// formatPrice renders a price for the wire: tick-rounded, decimal, no
// float formatting artifacts.
func formatPrice(price, tick float64) string {
	return decimal.NewFromFloat(pricing.RoundToTick(price, tick)).String()
}

// ============ Transport ============

// doRequest runs one API call with rate limiting and transient-failure
// retries. Permanent rejections (4xx other than 429) surface immediately.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxInterval = c.retryMaxSleep

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		lastErr = c.send(ctx, method, path, query, payload, result)
		if lastErr == nil {
			return nil
		}
		if attempt >= c.maxRetries || !isTransientError(lastErr) {
			return lastErr
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			return lastErr
		}
		c.logger.Printf("Warning: %s %s attempt %d/%d failed, retrying in %v: %v",
			method, path, attempt+1, c.maxRetries+1, sleep, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

// send performs a single signed HTTP exchange and decodes the response
// envelope into result.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, result any) error {
	requestURL := c.baseURL + path
	encodedQuery := ""
	if len(query) > 0 {
		encodedQuery = query.Encode()
		requestURL += "?" + encodedQuery
	}

	var bodyReader io.Reader = http.NoBody
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("signature", signRequest(c.apiSecret, method, timestamp, path, encodedQuery, payload))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "movebot/1.0")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Printf("Failed to close response body: %v", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read response body", method, path)}
	}

	var envelope apiEnvelope
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Body: truncateBody(raw)}
		if decodeErr == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decoding response from %s %s: %w", method, path, decodeErr)
	}
	if !envelope.Success {
		apiErr := &APIError{Status: resp.StatusCode, Body: truncateBody(raw)}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decoding result from %s %s: %w", method, path, err)
		}
	}
	return nil
}

func truncateBody(raw []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// isTransientError reports whether a failure is worth retrying: rate
// limiting, server-side errors, and network faults. Context cancellation
// and venue rejections are not.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
