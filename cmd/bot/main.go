package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/movetrader/movebot/internal/config"
	"github.com/movetrader/movebot/internal/dashboard"
	"github.com/movetrader/movebot/internal/exchange"
	"github.com/movetrader/movebot/internal/feed"
	"github.com/movetrader/movebot/internal/monitor"
	"github.com/movetrader/movebot/internal/notify"
	"github.com/movetrader/movebot/internal/schedule"
	"github.com/movetrader/movebot/internal/selector"
	"github.com/movetrader/movebot/internal/sequencer"
	"github.com/movetrader/movebot/internal/session"
	"github.com/movetrader/movebot/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; deployments normally inject the real environment.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)
	logger.Printf("Starting MOVE bot in %s mode", cfg.Environment.Mode)
	if !cfg.IsTestnet() {
		logger.Println("LIVE TRADING MODE - orders will be placed with real money")
	}

	journal, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open trade journal: %v", err)
	}

	client := exchange.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.IsTestnet()).
		WithLogger(logger).
		WithRateLimit(cfg.Exchange.RateLimit, cfg.Exchange.RateBurst).
		WithMaxRetries(cfg.Exchange.MaxRetries).
		WithHTTPClient(&http.Client{Timeout: cfg.ExchangeTimeout()})
	if cfg.Exchange.BaseURL != "" {
		client = client.WithBaseURL(cfg.Exchange.BaseURL)
	}
	venue := exchange.NewCircuitBreakerExchange(client)
	catalog := exchange.NewCatalog(venue, cfg.CatalogTTL())

	sel := selector.New(catalog, venue, logger)
	seq := sequencer.New(sel, venue, logger, sequencer.Config{FillPause: cfg.FillPause()})

	var notifier notify.Notifier = notify.Nop{}
	var telegram *notify.Telegram
	if cfg.Telegram.Token != "" {
		telegram = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		notifier = telegram
	} else {
		logger.Println("Telegram token not configured, running without notifications")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan struct{})

	marks := feed.New(cfg.IsTestnet(), logger)
	if cfg.Exchange.WSURL != "" {
		marks = marks.WithURL(cfg.Exchange.WSURL)
	}
	if err := marks.Connect(ctx); err != nil {
		// The feed reconnects on its own once the venue is reachable.
		logger.Printf("Warning: mark-price feed unavailable: %v", err)
	}
	defer marks.Close()

	sessions := session.NewStore(logger, session.Config{
		TTL:           cfg.SessionTTL(),
		SweepInterval: cfg.SessionSweep(),
	})
	defer sessions.Stop()

	var replies replySender
	if telegram != nil {
		replies = telegram
	}
	bot := newBot(cfg, seq, journal, marks, notifier, sessions, replies, logger)

	// Reconcile before anything trades; the journal may be stale after a
	// restart.
	summary := newReconciler(venue, journal, notifier, logger).Run(ctx)
	logger.Printf("Reconciliation: %s", summary)
	bot.watchOpenTrades()

	if cfg.Monitor.Enabled {
		watchdog := monitor.NewMonitor(journal, marks, notifier, logger, stop, monitor.Config{
			Interval:    cfg.MonitorInterval(),
			CallTimeout: cfg.MonitorCallTimeout(),
		})
		go watchdog.Run(ctx)
	}

	if len(cfg.Schedule.Entries) > 0 {
		entries := make([]schedule.Entry, 0, len(cfg.Schedule.Entries))
		for _, e := range cfg.Schedule.Entries {
			entries = append(entries, schedule.Entry{ID: e.ID, At: e.At, Request: e.Request})
		}
		scheduler := schedule.NewScheduler(entries, seq, journal, notifier, cfg.ScheduleLocation(), logger, stop)
		go scheduler.Run(ctx)
	}

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashLog := logrus.New()
		if cfg.Environment.LogLevel == "debug" {
			dashLog.SetLevel(logrus.DebugLevel)
		}
		dash = dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Dashboard.Addr,
			AuthToken: cfg.Dashboard.AuthToken,
		}, journal, dashLog)
		go func() {
			logger.Printf("Dashboard listening on %s", cfg.Dashboard.Addr)
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Warning: dashboard server: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping bot...")
		close(stop)
		cancel()
	}()

	if telegram != nil {
		logger.Println("Listening for telegram commands")
		if err := telegram.Listen(ctx, func(u notify.Update) { bot.handleUpdate(ctx, u) }); err != nil &&
			!errors.Is(err, context.Canceled) {
			logger.Printf("Warning: telegram listener: %v", err)
		}
	} else {
		<-ctx.Done()
	}

	if dash != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dash.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Warning: dashboard shutdown: %v", err)
		}
		shutdownCancel()
	}

	logger.Println("Bot stopped")
}
