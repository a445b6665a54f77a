package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/movetrader/movebot/internal/models"
)

// fakeExchange fails every call once shouldFail flips, tracking call
// volume for breaker assertions.
type fakeExchange struct {
	shouldFail bool
	calls      int
}

func (f *fakeExchange) bump() error {
	f.calls++
	if f.shouldFail {
		return errors.New("fake exchange error")
	}
	return nil
}

func (f *fakeExchange) ListContracts(context.Context, string) ([]models.Contract, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return []models.Contract{{ID: 1}}, nil
}

func (f *fakeExchange) GetSpotPrice(context.Context, string) (float64, error) {
	if err := f.bump(); err != nil {
		return 0, err
	}
	return 65250, nil
}

func (f *fakeExchange) GetTicker(_ context.Context, symbol string) (*Ticker, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return &Ticker{Symbol: symbol, MarkPrice: 1200}, nil
}

func (f *fakeExchange) PlaceOrder(context.Context, OrderRequest) (*Order, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return &Order{ID: 555}, nil
}

func (f *fakeExchange) GetOrder(_ context.Context, orderID int64) (*Order, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return &Order{ID: orderID}, nil
}

func (f *fakeExchange) CancelOrder(context.Context, int64, int) error {
	return f.bump()
}

func (f *fakeExchange) GetOpenOrders(context.Context) ([]Order, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return []Order{{ID: 555}}, nil
}

func (f *fakeExchange) GetPositions(context.Context) ([]Position, error) {
	if err := f.bump(); err != nil {
		return nil, err
	}
	return []Position{{ProductID: 101, Size: -1}}, nil
}

func (f *fakeExchange) GetBalance(context.Context, string) (float64, error) {
	if err := f.bump(); err != nil {
		return 0, err
	}
	return 1000, nil
}

func TestCircuitBreakerExchange_Passthrough(t *testing.T) {
	fake := &fakeExchange{}
	cb := NewCircuitBreakerExchange(fake)
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"ListContracts", func() error { _, err := cb.ListContracts(ctx, models.CategoryMove); return err }},
		{"GetSpotPrice", func() error { _, err := cb.GetSpotPrice(ctx, "BTC"); return err }},
		{"GetTicker", func() error { _, err := cb.GetTicker(ctx, "MV-BTC"); return err }},
		{"PlaceOrder", func() error {
			_, err := cb.PlaceOrder(ctx, OrderRequest{ProductID: 1, Size: 1, Side: models.SideBuy, OrderType: OrderTypeMarket})
			return err
		}},
		{"GetOrder", func() error { _, err := cb.GetOrder(ctx, 555); return err }},
		{"CancelOrder", func() error { return cb.CancelOrder(ctx, 555, 101) }},
		{"GetOpenOrders", func() error { _, err := cb.GetOpenOrders(ctx); return err }},
		{"GetPositions", func() error { _, err := cb.GetPositions(ctx); return err }},
		{"GetBalance", func() error { _, err := cb.GetBalance(ctx, "USD"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Errorf("%s failed: %v", tt.name, err)
			}
		})
	}
	if fake.calls != len(tests) {
		t.Errorf("inner exchange saw %d calls, want %d", fake.calls, len(tests))
	}
}

func TestCircuitBreakerExchange_TripsOpen(t *testing.T) {
	fake := &fakeExchange{shouldFail: true}
	cb := NewCircuitBreakerExchangeWithSettings(fake, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     10 * time.Millisecond,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = cb.GetSpotPrice(ctx, "BTC")
	}
	if cb.breaker.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", cb.breaker.State())
	}

	// Open circuit fails fast without touching the venue.
	before := fake.calls
	_, err := cb.GetSpotPrice(ctx, "BTC")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if fake.calls != before {
		t.Errorf("open breaker still reached the venue (%d -> %d calls)", before, fake.calls)
	}
}

func TestCircuitBreakerExchange_RecoversAfterTimeout(t *testing.T) {
	fake := &fakeExchange{shouldFail: true}
	cb := NewCircuitBreakerExchangeWithSettings(fake, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     10 * time.Millisecond,
		Timeout:      15 * time.Millisecond,
		MinRequests:  3,
		FailureRatio: 0.5,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = cb.GetSpotPrice(ctx, "BTC")
	}
	if cb.breaker.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", cb.breaker.State())
	}

	fake.shouldFail = false

	deadline := time.After(500 * time.Millisecond)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			t.Fatal("breaker never left the open state")
		case <-ticker.C:
		}
		if _, err := cb.GetSpotPrice(ctx, "BTC"); err == nil {
			return
		}
	}
}
