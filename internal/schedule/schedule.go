// Package schedule fires preconfigured trade requests at fixed wall-clock
// times in the exchange timezone. Entries are scanned once a minute; an
// entry fires at most once per calendar day, and entries due in the same
// minute execute concurrently.
package schedule

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/notify"
	"github.com/movetrader/movebot/internal/sequencer"
	"github.com/movetrader/movebot/internal/storage"
)

// wallFormat is the clock layout entries are matched against.
const wallFormat = "15:04"

// Config holds tunable scheduler parameters.
type Config struct {
	// ScanInterval is the delay between due-entry scans.
	ScanInterval time.Duration
}

// DefaultConfig provides sensible defaults for entry scanning.
var DefaultConfig = Config{
	ScanInterval: time.Minute,
}

// Entry is one timed trade: fire Request every day at At (wall clock in
// the scheduler's location).
type Entry struct {
	ID      string
	At      string
	Request models.TradeRequest
}

// Executor runs a trade request through the execution pipeline.
type Executor interface {
	ExecuteTrade(ctx context.Context, req models.TradeRequest) (*models.TradeResult, error)
}

// Journal persists execution outcomes.
type Journal interface {
	SaveTrade(rec storage.Record) error
}

var (
	_ Executor = (*sequencer.Sequencer)(nil)
	_ Journal  = storage.Interface(nil)
)

// Scheduler scans its entries once per interval and fires the ones whose
// wall-clock time matches the current minute. All state is owned by the
// Run goroutine.
type Scheduler struct {
	entries  []Entry
	exec     Executor
	journal  Journal
	notifier notify.Notifier
	loc      *time.Location
	logger   *log.Logger
	stop     <-chan struct{}
	config   Config
	now      func() time.Time

	fired map[string]string // entry ID -> last day ("2006-01-02") it fired
}

// NewScheduler creates a Scheduler. Entry times are canonicalized to
// HH:MM; entries that do not parse are kept but never fire. A nil
// notifier drops notifications, a nil location means local time, and
// zero config fields take their defaults.
func NewScheduler(entries []Entry, exec Executor, journal Journal, notifier notify.Notifier, loc *time.Location, logger *log.Logger, stop <-chan struct{}, config ...Config) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "schedule: ", log.LstdFlags)
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultConfig.ScanInterval
	}
	if exec == nil {
		panic("schedule: nil executor")
	}
	if journal == nil {
		panic("schedule: nil journal")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}

	canon := make([]Entry, len(entries))
	copy(canon, entries)
	for i := range canon {
		at, err := time.Parse(wallFormat, canon[i].At)
		if err != nil {
			logger.Printf("Warning: schedule %s has unparseable time %q and will never fire", canon[i].ID, canon[i].At)
			continue
		}
		canon[i].At = at.Format(wallFormat)
	}

	return &Scheduler{
		entries:  canon,
		exec:     exec,
		journal:  journal,
		notifier: notifier,
		loc:      loc,
		logger:   logger,
		stop:     stop,
		config:   cfg,
		now:      time.Now,
		fired:    make(map[string]string),
	}
}

// Run blocks, scanning once per interval, until ctx is cancelled or the
// stop channel closes. It returns immediately when no entries are
// configured.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.entries) == 0 {
		s.logger.Println("Scheduler idle: no entries configured")
		return
	}
	s.logger.Printf("Scheduler started: %d entries in %s", len(s.entries), s.loc)
	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	// Catch entries due in the minute the process came up.
	s.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("Scheduler stopped: %v", ctx.Err())
			return
		case <-s.stop:
			s.logger.Println("Scheduler stopped")
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan fires every entry matching the current minute that has not fired
// today. Entries are marked fired at dispatch, so a failed execution is
// not retried until the next day.
func (s *Scheduler) scan(ctx context.Context) {
	now := s.now().In(s.loc)
	wall := now.Format(wallFormat)
	day := now.Format("2006-01-02")

	var due []Entry
	for _, e := range s.entries {
		if e.At != wall || s.fired[e.ID] == day {
			continue
		}
		s.fired[e.ID] = day
		due = append(due, e)
	}
	if len(due) == 0 {
		return
	}

	var g errgroup.Group
	for _, e := range due {
		g.Go(func() error {
			return s.execute(ctx, e)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Printf("Warning: scheduled run: %v", err)
	}
}

func (s *Scheduler) execute(ctx context.Context, e Entry) error {
	s.logger.Printf("Schedule %s firing: %s %s %d lots", e.ID, e.Request.Asset, e.Request.Direction, e.Request.Lots)
	result, err := s.exec.ExecuteTrade(ctx, e.Request)
	if result != nil {
		if saveErr := s.journal.SaveTrade(storage.NewRecord(*result)); saveErr != nil {
			s.logger.Printf("Warning: schedule %s journal write failed: %v", e.ID, saveErr)
		}
		s.announce(ctx, e, result)
	}
	if err != nil {
		return fmt.Errorf("schedule %s: %w", e.ID, err)
	}
	return nil
}

func (s *Scheduler) announce(ctx context.Context, e Entry, result *models.TradeResult) {
	var title, body string
	switch {
	case result.Success:
		title = "Scheduled trade done"
		body = fmt.Sprintf("%s: %s %s %d lots filled at %.2f", e.ID, result.Symbol, result.Direction, e.Request.Lots, result.FillPrice)
		if result.Unprotected() {
			body += "\nNo stop-loss order is in place."
		}
	default:
		title = "Scheduled trade failed"
		body = fmt.Sprintf("%s: %s", e.ID, result.Error)
	}
	if err := s.notifier.Send(ctx, title, body); err != nil {
		s.logger.Printf("Warning: schedule %s notification via %s failed: %v", e.ID, s.notifier.Name(), err)
	}
}
