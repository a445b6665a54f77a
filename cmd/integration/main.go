// The integration binary smoke-checks the trading pipeline end to end.
// With -mock it runs the real selector and sequencer over deterministic
// fixture data, no network needed. Without it, it reads from the venue
// testnet and only places an order when -place is passed explicitly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/movetrader/movebot/internal/config"
	"github.com/movetrader/movebot/internal/exchange"
	"github.com/movetrader/movebot/internal/mock"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/pricing"
	"github.com/movetrader/movebot/internal/selector"
	"github.com/movetrader/movebot/internal/sequencer"
	"github.com/movetrader/movebot/internal/strategy"
)

const checkTimeout = 10 * time.Second

func main() {
	var (
		configPath string
		useMock    bool
		place      bool
		asset      string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&useMock, "mock", false, "Run against deterministic fixtures instead of the venue")
	flag.BoolVar(&place, "place", false, "Place a real 1-lot order (testnet only)")
	flag.StringVar(&asset, "asset", "BTC", "Underlying asset to exercise")
	flag.Parse()

	logger := log.New(os.Stdout, "[E2E] ", log.LstdFlags)

	if useMock {
		runMockChecks(logger, asset)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsTestnet() {
		log.Fatalf("Integration checks must run against testnet. Set environment.mode: testnet")
	}
	runVenueChecks(logger, cfg, asset, place)
}

type checker struct {
	passed int
	total  int
}

func (c *checker) run(name string, fn func() error) {
	c.total++
	fmt.Printf("Check %d: %s\n", c.total, name)
	if err := fn(); err != nil {
		fmt.Printf("FAILED: %v\n\n", err)
		return
	}
	c.passed++
	fmt.Printf("PASSED\n\n")
}

func (c *checker) report() {
	fmt.Println("=== Results ===")
	fmt.Printf("Checks passed: %d/%d\n", c.passed, c.total)
	if c.passed != c.total {
		os.Exit(1)
	}
}

// mockVenue adapts the fixture provider to the selector and sequencer
// interfaces so the whole pipeline runs without a network.
type mockVenue struct {
	provider *mock.Provider
	asset    string
	orders   map[int64]*exchange.Order
	nextID   int64
}

func newMockVenue(seed int64, asset string) *mockVenue {
	return &mockVenue{
		provider: mock.NewProvider(seed),
		asset:    asset,
		orders:   make(map[int64]*exchange.Order),
		nextID:   9000,
	}
}

func (v *mockVenue) ListContracts(_ context.Context, category string) ([]models.Contract, error) {
	from := time.Now().UTC()
	switch category {
	case models.CategoryMove:
		return v.provider.MoveCatalog(v.asset, from, 5), nil
	case models.CategoryCall, models.CategoryPut:
		var side []models.Contract
		for _, c := range v.provider.OptionChain(v.asset, from.AddDate(0, 0, 1), 3) {
			if c.Category == category {
				side = append(side, c)
			}
		}
		return side, nil
	default:
		return nil, nil
	}
}

func (v *mockVenue) GetSpotPrice(_ context.Context, asset string) (float64, error) {
	return v.provider.Spot(asset), nil
}

func (v *mockVenue) GetTicker(_ context.Context, symbol string) (*exchange.Ticker, error) {
	return v.provider.Ticker(symbol), nil
}

func (v *mockVenue) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	v.nextID++
	order := v.provider.Fill(req, v.nextID)
	v.orders[order.ID] = order
	return order, nil
}

func (v *mockVenue) GetOrder(_ context.Context, orderID int64) (*exchange.Order, error) {
	order, ok := v.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d not found", orderID)
	}
	return order, nil
}

func runMockChecks(logger *log.Logger, asset string) {
	fmt.Println("=== MOVE bot pipeline checks (fixture mode) ===")
	fmt.Println()

	venue := newMockVenue(42, asset)
	sel := selector.New(venue, venue, logger)
	seq := sequencer.New(sel, venue, logger, sequencer.Config{FillPause: 0})
	c := &checker{}

	c.run("exit price derivation", checkExitDerivation)

	c.run("contract selection", func() error {
		selection, err := sel.Select(context.Background(), asset, 0, "")
		if err != nil {
			return err
		}
		logger.Printf("Selected %s (strike %.0f, fallback %q)",
			selection.Contract.Symbol, selection.Contract.Strike, selection.Fallback)
		return nil
	})

	c.run("full execution dry run", func() error {
		result, err := seq.ExecuteTrade(context.Background(), models.TradeRequest{
			Asset:     asset,
			Direction: models.Long,
			Lots:      1,
			StopLoss:  &models.ExitPercents{TriggerPct: 50, LimitPct: 55},
			Target:    &models.ExitPercents{TriggerPct: 100, LimitPct: 95},
		})
		if err != nil {
			return err
		}
		logger.Printf("Execution %s: fill %.2f, stop %s at %.2f, target %s at %.2f",
			result.ExecutionID, result.FillPrice,
			result.StopLossOrderID, result.SLTrigger,
			result.TargetOrderID, result.TargetTrigger)
		if result.Unprotected() {
			return fmt.Errorf("dry run came back without a stop loss")
		}
		return nil
	})

	c.run("straddle planning", func() error {
		chain := venue.provider.OptionChain(asset, time.Now().UTC().AddDate(0, 0, 1), 3)
		spot, _ := venue.GetSpotPrice(context.Background(), asset)
		plan, err := strategy.PlanStraddle(chain, spot, asset, 0)
		if err != nil {
			return err
		}
		logger.Printf("Straddle: %s / %s at strike %.0f", plan.Call.Symbol, plan.Put.Symbol, plan.CallStrike)
		return nil
	})

	c.run("strangle planning", func() error {
		chain := venue.provider.OptionChain(asset, time.Now().UTC().AddDate(0, 0, 1), 3)
		spot, _ := venue.GetSpotPrice(context.Background(), asset)
		plan, err := strategy.PlanStrangle(chain, spot, asset, strategy.OTMOffset{Percent: 1})
		if err != nil {
			return err
		}
		if plan.Call.Strike <= plan.Put.Strike {
			return fmt.Errorf("wings inverted: call %.0f <= put %.0f", plan.Call.Strike, plan.Put.Strike)
		}
		logger.Printf("Strangle wings: call %.0f / put %.0f", plan.Call.Strike, plan.Put.Strike)
		return nil
	})

	c.report()
}

func runVenueChecks(logger *log.Logger, cfg *config.Config, asset string, place bool) {
	fmt.Println("=== MOVE bot venue checks (testnet) ===")
	fmt.Println()

	client := exchange.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.IsTestnet()).
		WithLogger(logger).
		WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst).
		WithMaxRetries(cfg.Exchange.MaxRetries)
	if cfg.Exchange.BaseURL != "" {
		client = client.WithBaseURL(cfg.Exchange.BaseURL)
	}
	catalog := exchange.NewCatalog(client, cfg.CatalogTTL())
	sel := selector.New(catalog, client, logger)
	seq := sequencer.New(sel, client, logger, sequencer.Config{FillPause: cfg.FillPause()})
	c := &checker{}

	c.run("exit price derivation", checkExitDerivation)

	c.run("spot price", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		spot, err := client.GetSpotPrice(ctx, asset)
		if err != nil {
			return err
		}
		if spot <= 0 {
			return fmt.Errorf("spot %.2f not positive", spot)
		}
		logger.Printf("%s spot: %.2f", asset, spot)
		return nil
	})

	c.run("contract catalog", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		contracts, err := catalog.ListContracts(ctx, models.CategoryMove)
		if err != nil {
			return err
		}
		if len(contracts) == 0 {
			return fmt.Errorf("no MOVE contracts listed")
		}
		logger.Printf("%d MOVE contracts listed", len(contracts))
		return nil
	})

	var selected selector.Selection
	c.run("contract selection", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		s, err := sel.Select(ctx, asset, 0, "")
		if err != nil {
			return err
		}
		selected = s
		logger.Printf("Selected %s (strike %.0f, fallback %q)",
			s.Contract.Symbol, s.Contract.Strike, s.Fallback)
		return nil
	})

	c.run("mark price", func() error {
		if selected.Contract.Symbol == "" {
			return fmt.Errorf("no contract selected")
		}
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		ticker, err := client.GetTicker(ctx, selected.Contract.Symbol)
		if err != nil {
			return err
		}
		if ticker.MarkPrice <= 0 {
			return fmt.Errorf("mark %.2f not positive", ticker.MarkPrice)
		}
		logger.Printf("%s mark: %.2f", ticker.Symbol, ticker.MarkPrice)
		return nil
	})

	if place {
		c.run("1-lot order placement", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			result, err := seq.ExecuteTrade(ctx, models.TradeRequest{
				Asset:     asset,
				Direction: models.Long,
				Lots:      1,
				StopLoss:  &models.ExitPercents{TriggerPct: 50, LimitPct: 55},
				Target:    &models.ExitPercents{TriggerPct: 100, LimitPct: 95},
			})
			if err != nil {
				return err
			}
			logger.Printf("Execution %s: fill %.2f (approx=%t), stop %q, target %q",
				result.ExecutionID, result.FillPrice, result.FillPriceApprox,
				result.StopLossOrderID, result.TargetOrderID)
			return nil
		})
	} else {
		fmt.Println("Order placement skipped (pass -place to place a 1-lot testnet order)")
		fmt.Println()
	}

	c.report()
}

// checkExitDerivation verifies the canonical long exit vector: a 1000
// entry with a 50/55 stop and a 100/95 target.
func checkExitDerivation() error {
	levels := pricing.ExitPrices(1000, models.Long,
		&models.ExitPercents{TriggerPct: 50, LimitPct: 55},
		&models.ExitPercents{TriggerPct: 100, LimitPct: 95})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"stop trigger", levels.StopLoss.Trigger, 500},
		{"stop limit", levels.StopLoss.Limit, 450},
		{"target trigger", levels.Target.Trigger, 2000},
		{"target limit", levels.Target.Limit, 1950},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-9 {
			return fmt.Errorf("%s = %.2f, want %.2f", c.name, c.got, c.want)
		}
	}
	return nil
}
