// cancelorders clears resting orders from the venue account. After a
// manual intervention or a bad deploy the book can hold stale stop and
// target orders no journal entry owns; cancelling them lets the bot
// rebuild exit protection from a clean slate on the next start.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/movetrader/movebot/internal/config"
	"github.com/movetrader/movebot/internal/exchange"
)

const venueTimeout = 15 * time.Second

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		dryRun     = flag.Bool("dry-run", false, "Show what would be cancelled without touching the venue")
		yes        = flag.Bool("yes", false, "Skip the confirmation prompt")
		symbol     = flag.String("symbol", "", "Only cancel orders whose symbol contains this substring")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[CANCEL] ", log.LstdFlags)
	client := exchange.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.IsTestnet()).
		WithLogger(logger).
		WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst).
		WithMaxRetries(cfg.Exchange.MaxRetries)
	if cfg.Exchange.BaseURL != "" {
		client = client.WithBaseURL(cfg.Exchange.BaseURL)
	}

	fmt.Println("=== Open order cleanup ===")
	fmt.Printf("Config: %s\n", *configPath)
	fmt.Printf("Mode: %s\n\n", cfg.Environment.Mode)

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

	held := 0
	for _, p := range positions {
		if p.Size != 0 {
			held++
		}
	}

	matched := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		if *symbol != "" && !strings.Contains(o.ProductSymbol, *symbol) {
			continue
		}
		matched = append(matched, o)
	}

	fmt.Printf("Venue state: %d held positions, %d resting orders", held, len(orders))
	if *symbol != "" {
		fmt.Printf(" (%d matching %q)", len(matched), *symbol)
	}
	fmt.Printf("\n\n")

	if len(matched) == 0 {
		fmt.Println("Nothing to cancel.")
		return
	}

	for _, o := range matched {
		fmt.Printf("  #%d %s %s %d", o.ID, o.ProductSymbol, o.Side, o.Size)
		switch {
		case o.StopOrderType != "":
			fmt.Printf(" %s trigger %.2f", o.StopOrderType, o.StopPrice)
		case o.LimitPrice > 0:
			fmt.Printf(" limit %.2f", o.LimitPrice)
		}
		fmt.Printf(" (%s)\n", o.State)
	}
	fmt.Println()

	if *dryRun {
		fmt.Printf("Dry run: would cancel %d order(s).\n", len(matched))
		return
	}

	if !*yes {
		fmt.Printf("Cancel %d order(s)? (yes/no): ", len(matched))
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			fmt.Printf("Error reading input: %v\n", err)
			return
		}
		if response != "yes" && response != "y" {
			fmt.Println("Aborted, nothing cancelled.")
			return
		}
	}

	cancelled := 0
	for _, o := range matched {
		ctx, cancel := context.WithTimeout(context.Background(), venueTimeout)
		err := client.CancelOrder(ctx, o.ID, o.ProductID)
		cancel()
		if err != nil {
			fmt.Printf("  #%d failed: %v\n", o.ID, err)
			continue
		}
		fmt.Printf("  #%d cancelled\n", o.ID)
		cancelled++
	}

	fmt.Printf("\nCancelled %d of %d order(s).\n", cancelled, len(matched))
	if cancelled > 0 {
		fmt.Println("Restart the bot so reconciliation can re-arm exit protection on open positions.")
	}
	if cancelled != len(matched) {
		os.Exit(1)
	}
}
