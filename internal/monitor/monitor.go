// Package monitor watches open journal entries against live mark prices
// and raises a one-shot notification when a recorded exit level is
// crossed. It never places or amends orders; the exchange-held bracket
// orders remain responsible for closing the position.
package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/movetrader/movebot/internal/feed"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/notify"
	"github.com/movetrader/movebot/internal/storage"
)

// Config holds tunable monitoring parameters.
type Config struct {
	// Interval is the delay between successive level checks.
	Interval time.Duration
	// CallTimeout bounds each notification delivery.
	CallTimeout time.Duration
}

// DefaultConfig provides sensible defaults for level monitoring.
var DefaultConfig = Config{
	Interval:    30 * time.Second,
	CallTimeout: 5 * time.Second,
}

// PriceSource yields the latest known quote for a symbol.
type PriceSource interface {
	Price(symbol string) (feed.Quote, bool)
}

// Journal lists the trades that still need watching.
type Journal interface {
	OpenTrades() []storage.Record
}

var (
	_ PriceSource = (*feed.Feed)(nil)
	_ Journal     = storage.Interface(nil)
)

// levelFlags records which levels of one execution have already been
// announced.
type levelFlags struct {
	stop   bool
	target bool
}

// Monitor compares live mark prices against the stop and target triggers
// of open journal entries and notifies once per crossed level. All state
// is owned by the Run goroutine; Monitor is not safe for concurrent use.
type Monitor struct {
	journal  Journal
	prices   PriceSource
	notifier notify.Notifier
	logger   *log.Logger
	stop     <-chan struct{}
	config   Config

	notified map[string]levelFlags
}

// NewMonitor creates a Monitor. A nil notifier drops notifications, a
// nil logger falls back to stderr, and zero config fields take their
// defaults. The journal and price source are required.
func NewMonitor(journal Journal, prices PriceSource, notifier notify.Notifier, logger *log.Logger, stop <-chan struct{}, config ...Config) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "monitor: ", log.LstdFlags)
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if journal == nil {
		panic("monitor: nil journal")
	}
	if prices == nil {
		panic("monitor: nil price source")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Monitor{
		journal:  journal,
		prices:   prices,
		notifier: notifier,
		logger:   logger,
		stop:     stop,
		config:   cfg,
		notified: make(map[string]levelFlags),
	}
}

// Run blocks, checking levels once per interval, until ctx is cancelled
// or the stop channel closes.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Printf("Level monitor started (interval %s)", m.config.Interval)
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Printf("Level monitor stopped: %v", ctx.Err())
			return
		case <-m.stop:
			m.logger.Println("Level monitor stopped")
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check sweeps every open trade once and prunes suppression state for
// trades that are no longer open.
func (m *Monitor) check(ctx context.Context) {
	open := m.journal.OpenTrades()
	alive := make(map[string]bool, len(open))
	for i := range open {
		rec := &open[i]
		alive[rec.ExecutionID] = true
		quote, ok := m.prices.Price(rec.Symbol)
		if !ok {
			continue
		}
		m.checkTrade(ctx, rec, quote.MarkPrice)
	}
	for id := range m.notified {
		if !alive[id] {
			delete(m.notified, id)
		}
	}
}

func (m *Monitor) checkTrade(ctx context.Context, rec *storage.Record, mark float64) {
	var stopHit, targetHit bool
	switch rec.Direction {
	case models.Long:
		stopHit = rec.SLTrigger > 0 && mark <= rec.SLTrigger
		targetHit = rec.TargetTrigger > 0 && mark >= rec.TargetTrigger
	case models.Short:
		stopHit = rec.SLTrigger > 0 && mark >= rec.SLTrigger
		targetHit = rec.TargetTrigger > 0 && mark <= rec.TargetTrigger
	default:
		// Entries journaled without a direction cannot be oriented.
		return
	}

	flags := m.notified[rec.ExecutionID]
	if stopHit && !flags.stop {
		m.logger.Printf("Execution %s: mark %.2f crossed stop trigger %.2f on %s",
			rec.ExecutionID, mark, rec.SLTrigger, rec.Symbol)
		body := fmt.Sprintf("%s %s: mark %.2f at or past stop trigger %.2f\nExecution %s",
			rec.Symbol, rec.Direction, mark, rec.SLTrigger, rec.ExecutionID)
		if m.send(ctx, "Stop level hit", body) {
			flags.stop = true
		}
	}
	if targetHit && !flags.target {
		m.logger.Printf("Execution %s: mark %.2f crossed target trigger %.2f on %s",
			rec.ExecutionID, mark, rec.TargetTrigger, rec.Symbol)
		body := fmt.Sprintf("%s %s: mark %.2f at or past target trigger %.2f\nExecution %s",
			rec.Symbol, rec.Direction, mark, rec.TargetTrigger, rec.ExecutionID)
		if m.send(ctx, "Target level hit", body) {
			flags.target = true
		}
	}
	m.notified[rec.ExecutionID] = flags
}

// send delivers one notification within the configured call timeout.
// Failures are logged and reported so the caller can retry on the next
// sweep instead of marking the level as announced.
func (m *Monitor) send(ctx context.Context, title, body string) bool {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()
	if err := m.notifier.Send(callCtx, title, body); err != nil {
		m.logger.Printf("Warning: %q notification via %s failed: %v", title, m.notifier.Name(), err)
		return false
	}
	return true
}
