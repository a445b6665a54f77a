// flatten closes every open position with reduce-only market orders.
// Resting orders are cancelled first so a stop or target cannot fire
// into the close. The journal is left alone; the next bot start
// reconciles it against the flat account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/movetrader/movebot/internal/config"
	"github.com/movetrader/movebot/internal/exchange"
	"github.com/movetrader/movebot/internal/models"
)

const venueTimeout = 15 * time.Second

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		yes        = flag.Bool("yes", false, "Skip the confirmation prompt")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[FLATTEN] ", log.LstdFlags)
	client := exchange.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.IsTestnet()).
		WithLogger(logger).
		WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst).
		WithMaxRetries(cfg.Exchange.MaxRetries)
	if cfg.Exchange.BaseURL != "" {
		client = client.WithBaseURL(cfg.Exchange.BaseURL)
	}

	fmt.Println("=== Emergency flatten ===")
	fmt.Printf("Mode: %s\n", cfg.Environment.Mode)
	if !cfg.IsTestnet() {
		fmt.Println("WARNING: live account, close orders will be real")
	}
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), venueTimeout)
	orders, ordErr := client.GetOpenOrders(ctx)
	positions, posErr := client.GetPositions(ctx)
	cancel()
	if ordErr != nil {
		log.Fatalf("Failed to list open orders: %v", ordErr)
	}
	if posErr != nil {
		log.Fatalf("Failed to list positions: %v", posErr)
	}

	held := make([]exchange.Position, 0, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			held = append(held, p)
		}
	}

	if len(held) == 0 && len(orders) == 0 {
		fmt.Println("Account already flat.")
		return
	}

	for _, p := range held {
		fmt.Printf("  %s %+d at %.2f\n", p.ProductSymbol, p.Size, p.EntryPrice)
	}
	if len(orders) > 0 {
		fmt.Printf("%d resting order(s) will be cancelled first.\n", len(orders))
	}
	fmt.Println()

	if !*yes {
		fmt.Printf("Close %d position(s) at market? (yes/no): ", len(held))
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			fmt.Printf("Error reading input: %v\n", err)
			return
		}
		if response != "yes" && response != "y" {
			fmt.Println("Aborted, nothing closed.")
			return
		}
	}

	// Protective orders go first or a stop could fire into the close.
	for _, o := range orders {
		ctx, cancel := context.WithTimeout(context.Background(), venueTimeout)
		err := client.CancelOrder(ctx, o.ID, o.ProductID)
		cancel()
		if err != nil {
			fmt.Printf("  order #%d cancel failed: %v\n", o.ID, err)
			continue
		}
		fmt.Printf("  order #%d cancelled\n", o.ID)
	}

	closed := 0
	for _, p := range held {
		side := models.SideSell
		size := p.Size
		if p.Short() {
			side = models.SideBuy
			size = -size
		}

		ctx, cancel := context.WithTimeout(context.Background(), venueTimeout)
		order, err := client.PlaceOrder(ctx, exchange.OrderRequest{
			ProductID:     p.ProductID,
			ProductSymbol: p.ProductSymbol,
			Size:          size,
			Side:          side,
			OrderType:     exchange.OrderTypeMarket,
			TimeInForce:   exchange.TIFImmediateOrCancel,
			ReduceOnly:    true,
			ClientOrderID: fmt.Sprintf("flatten-%d", time.Now().UnixNano()),
		})
		cancel()
		if err != nil {
			fmt.Printf("  %s close failed: %v\n", p.ProductSymbol, err)
			continue
		}
		fmt.Printf("  %s closed by order #%d at %.2f\n", p.ProductSymbol, order.ID, order.AverageFillPrice)
		closed++
	}

	fmt.Printf("\nClosed %d of %d position(s).\n", closed, len(held))
	fmt.Println("Close orders are immediate-or-cancel; rerun if anything remains.")
	if closed != len(held) {
		os.Exit(1)
	}
}
