package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/storage"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []models.TradeRequest
	result  *models.TradeResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeExecutor) ExecuteTrade(_ context.Context, req models.TradeRequest) (*models.TradeResult, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()

	if f.result != nil {
		res := *f.result
		return &res, f.err
	}
	return &models.TradeResult{
		ExecutionID: fmt.Sprintf("exec-%d", n),
		Success:     true,
		Symbol:      req.Asset + "-MOVE-090126",
		Direction:   req.Direction,
		FillPrice:   1000,
		FinalState:  models.StateDone,
		ExecutedAt:  time.Now(),
	}, f.err
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeJournal struct {
	mu      sync.Mutex
	records []storage.Record
	saveErr error
}

func (f *fakeJournal) SaveTrade(rec storage.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeJournal) Records() []storage.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Record, len(f.records))
	copy(out, f.records)
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (f *fakeNotifier) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.titles))
	copy(out, f.titles)
	return out
}

func entryAt(id, at string) Entry {
	return Entry{
		ID: id,
		At: at,
		Request: models.TradeRequest{
			Asset:     "BTC",
			Direction: models.Long,
			Lots:      1,
		},
	}
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestScheduler_FiresDueEntry(t *testing.T) {
	exec := &fakeExecutor{}
	journal := &fakeJournal{}
	notifier := &fakeNotifier{}
	s := NewScheduler([]Entry{entryAt("morning", "10:30")}, exec, journal, notifier, ist, testLogger(), nil)
	s.now = func() time.Time { return time.Date(2026, 1, 9, 10, 30, 15, 0, ist) }

	s.scan(context.Background())

	if exec.Calls() != 1 {
		t.Fatalf("executions = %d, want 1", exec.Calls())
	}
	recs := journal.Records()
	if len(recs) != 1 {
		t.Fatalf("journal records = %d, want 1", len(recs))
	}
	if recs[0].Status != storage.StatusOpen {
		t.Errorf("record status = %q, want %q", recs[0].Status, storage.StatusOpen)
	}
	titles := notifier.Titles()
	if len(titles) != 1 || titles[0] != "Scheduled trade done" {
		t.Errorf("notifications = %v, want one %q", titles, "Scheduled trade done")
	}
}

func TestScheduler_FiresOncePerDay(t *testing.T) {
	exec := &fakeExecutor{}
	s := NewScheduler([]Entry{entryAt("morning", "10:30")}, exec, &fakeJournal{}, nil, ist, testLogger(), nil)
	clock := time.Date(2026, 1, 9, 10, 30, 5, 0, ist)
	s.now = func() time.Time { return clock }

	s.scan(context.Background())
	clock = clock.Add(40 * time.Second) // same minute, second sweep
	s.scan(context.Background())
	if exec.Calls() != 1 {
		t.Fatalf("executions = %d after same-minute sweeps, want 1", exec.Calls())
	}

	clock = clock.Add(24 * time.Hour)
	s.scan(context.Background())
	if exec.Calls() != 2 {
		t.Errorf("executions = %d across days, want 2", exec.Calls())
	}
}

func TestScheduler_MinuteMustMatch(t *testing.T) {
	exec := &fakeExecutor{}
	s := NewScheduler([]Entry{entryAt("late", "10:31")}, exec, &fakeJournal{}, nil, ist, testLogger(), nil)
	clock := time.Date(2026, 1, 9, 10, 30, 59, 0, ist)
	s.now = func() time.Time { return clock }

	s.scan(context.Background())
	if exec.Calls() != 0 {
		t.Fatalf("executions = %d a minute early, want 0", exec.Calls())
	}

	clock = clock.Add(time.Minute)
	s.scan(context.Background())
	if exec.Calls() != 1 {
		t.Errorf("executions = %d at the scheduled minute, want 1", exec.Calls())
	}
}

func TestScheduler_ResolvesWallClockInLocation(t *testing.T) {
	exec := &fakeExecutor{}
	s := NewScheduler([]Entry{entryAt("morning", "10:30")}, exec, &fakeJournal{}, nil, ist, testLogger(), nil)
	// 05:00 UTC is 10:30 in IST.
	s.now = func() time.Time { return time.Date(2026, 1, 9, 5, 0, 0, 0, time.UTC) }

	s.scan(context.Background())
	if exec.Calls() != 1 {
		t.Errorf("executions = %d, want 1 (wall clock should resolve in IST)", exec.Calls())
	}
}

func TestScheduler_DueEntriesRunConcurrently(t *testing.T) {
	exec := &fakeExecutor{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	journal := &fakeJournal{}
	entries := []Entry{entryAt("btc", "10:30"), entryAt("eth", "10:30")}
	entries[1].Request.Asset = "ETH"
	s := NewScheduler(entries, exec, journal, nil, ist, testLogger(), nil)
	s.now = func() time.Time { return time.Date(2026, 1, 9, 10, 30, 0, 0, ist) }

	done := make(chan struct{})
	go func() {
		s.scan(context.Background())
		close(done)
	}()

	// Both executions must be in flight before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-exec.started:
		case <-time.After(2 * time.Second):
			t.Fatal("due entries did not start concurrently")
		}
	}
	close(exec.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not finish")
	}
	if exec.Calls() != 2 {
		t.Errorf("executions = %d, want 2", exec.Calls())
	}
	if len(journal.Records()) != 2 {
		t.Errorf("journal records = %d, want 2", len(journal.Records()))
	}
}

func TestScheduler_FailureJournaledAndNotified(t *testing.T) {
	exec := &fakeExecutor{
		result: &models.TradeResult{
			ExecutionID: "exec-fail",
			Success:     false,
			Error:       "entry order rejected",
			FinalState:  models.StateFailed,
			ExecutedAt:  time.Now(),
		},
		err: errors.New("entry order: rejected"),
	}
	journal := &fakeJournal{}
	notifier := &fakeNotifier{}
	s := NewScheduler([]Entry{entryAt("morning", "10:30")}, exec, journal, notifier, ist, testLogger(), nil)
	s.now = func() time.Time { return time.Date(2026, 1, 9, 10, 30, 0, 0, ist) }

	s.scan(context.Background())

	recs := journal.Records()
	if len(recs) != 1 || recs[0].Status != storage.StatusRejected {
		t.Fatalf("journal = %+v, want one rejected record", recs)
	}
	titles := notifier.Titles()
	if len(titles) != 1 || titles[0] != "Scheduled trade failed" {
		t.Errorf("notifications = %v, want one %q", titles, "Scheduled trade failed")
	}
}

func TestScheduler_NotifyFailureDoesNotAbort(t *testing.T) {
	exec := &fakeExecutor{}
	journal := &fakeJournal{}
	s := NewScheduler([]Entry{entryAt("morning", "10:30")}, exec, journal, &fakeNotifier{err: errors.New("telegram down")}, ist, testLogger(), nil)
	s.now = func() time.Time { return time.Date(2026, 1, 9, 10, 30, 0, 0, ist) }

	s.scan(context.Background())
	if len(journal.Records()) != 1 {
		t.Errorf("journal records = %d, want 1 despite notify failure", len(journal.Records()))
	}
}

func TestScheduler_TimeCanonicalization(t *testing.T) {
	t.Run("short form fires", func(t *testing.T) {
		exec := &fakeExecutor{}
		s := NewScheduler([]Entry{entryAt("early", "9:05")}, exec, &fakeJournal{}, nil, ist, testLogger(), nil)
		if s.entries[0].At != "09:05" {
			t.Fatalf("canonical time = %q, want %q", s.entries[0].At, "09:05")
		}
		s.now = func() time.Time { return time.Date(2026, 1, 9, 9, 5, 0, 0, ist) }
		s.scan(context.Background())
		if exec.Calls() != 1 {
			t.Errorf("executions = %d, want 1", exec.Calls())
		}
	})

	t.Run("unparseable never fires", func(t *testing.T) {
		exec := &fakeExecutor{}
		s := NewScheduler([]Entry{entryAt("broken", "later")}, exec, &fakeJournal{}, nil, ist, testLogger(), nil)
		s.now = func() time.Time { return time.Date(2026, 1, 9, 10, 30, 0, 0, ist) }
		s.scan(context.Background())
		if exec.Calls() != 0 {
			t.Errorf("executions = %d, want 0", exec.Calls())
		}
	})
}

func TestScheduler_RunScansAtStartupAndStops(t *testing.T) {
	exec := &fakeExecutor{}
	stop := make(chan struct{})
	s := NewScheduler([]Entry{entryAt("midnight", "00:00")}, exec, &fakeJournal{}, nil, ist, testLogger(), stop, Config{ScanInterval: 5 * time.Millisecond})
	s.now = func() time.Time { return time.Date(2026, 1, 9, 0, 0, 30, 0, ist) }

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for exec.Calls() == 0 {
		select {
		case <-deadline:
			t.Fatal("startup scan never fired the due entry")
		case <-time.After(time.Millisecond):
		}
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after stop")
	}
}

func TestScheduler_RunReturnsWithoutEntries(t *testing.T) {
	s := NewScheduler(nil, &fakeExecutor{}, &fakeJournal{}, nil, ist, testLogger(), nil)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run with no entries should return immediately")
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	t.Run("nil executor panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		NewScheduler(nil, nil, &fakeJournal{}, nil, ist, testLogger(), nil)
	})

	t.Run("nil journal panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic")
			}
		}()
		NewScheduler(nil, &fakeExecutor{}, nil, nil, ist, testLogger(), nil)
	})

	t.Run("zero config takes defaults", func(t *testing.T) {
		s := NewScheduler(nil, &fakeExecutor{}, &fakeJournal{}, nil, nil, testLogger(), nil, Config{})
		if s.config != DefaultConfig {
			t.Errorf("config = %+v, want %+v", s.config, DefaultConfig)
		}
		if s.loc == nil {
			t.Error("nil location not defaulted")
		}
	})
}
