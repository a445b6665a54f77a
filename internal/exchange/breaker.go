package exchange

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/movetrader/movebot/internal/models"
)

// CircuitBreakerExchange wraps an Exchange so a run of venue failures
// opens the circuit and sheds load instead of hammering a sick API.
type CircuitBreakerExchange struct {
	inner   Exchange
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures trip behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // requests allowed while half-open
	Interval     time.Duration // counting window reset
	Timeout      time.Duration // how long the circuit stays open
	MinRequests  uint32        // minimum requests before tripping
	FailureRatio float64       // failure ratio that trips
}

// NewCircuitBreakerExchange wraps inner with conservative defaults.
func NewCircuitBreakerExchange(inner Exchange) *CircuitBreakerExchange {
	return NewCircuitBreakerExchangeWithSettings(inner, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerExchangeWithSettings wraps inner with custom settings.
func NewCircuitBreakerExchangeWithSettings(inner Exchange, settings CircuitBreakerSettings) *CircuitBreakerExchange {
	gbSettings := gobreaker.Settings{
		Name:        "ExchangeCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}
	return &CircuitBreakerExchange{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

var _ Exchange = (*CircuitBreakerExchange)(nil)

// execBreaker funnels one call through the breaker while keeping its
// concrete return type.
func execBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	inner Exchange,
	fn func(Exchange) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(inner) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// ListContracts wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) ListContracts(ctx context.Context, category string) ([]models.Contract, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) ([]models.Contract, error) {
		return e.ListContracts(ctx, category)
	})
}

// GetSpotPrice wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) GetSpotPrice(ctx context.Context, asset string) (float64, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) (float64, error) {
		return e.GetSpotPrice(ctx, asset)
	})
}

// GetTicker wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) (*Ticker, error) {
		return e.GetTicker(ctx, symbol)
	})
}

// PlaceOrder wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) (*Order, error) {
		return e.PlaceOrder(ctx, req)
	})
}

// GetOrder wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) (*Order, error) {
		return e.GetOrder(ctx, orderID)
	})
}

// CancelOrder wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) CancelOrder(ctx context.Context, orderID int64, productID int) error {
	_, err := execBreaker(c.breaker, c.inner, func(e Exchange) (struct{}, error) {
		return struct{}{}, e.CancelOrder(ctx, orderID, productID)
	})
	return err
}

// GetOpenOrders wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) GetOpenOrders(ctx context.Context) ([]Order, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) ([]Order, error) {
		return e.GetOpenOrders(ctx)
	})
}

// GetPositions wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) GetPositions(ctx context.Context) ([]Position, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) ([]Position, error) {
		return e.GetPositions(ctx)
	})
}

// GetBalance wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerExchange) GetBalance(ctx context.Context, assetSymbol string) (float64, error) {
	return execBreaker(c.breaker, c.inner, func(e Exchange) (float64, error) {
		return e.GetBalance(ctx, assetSymbol)
	})
}
