package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/movetrader/movebot/internal/exchange"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/notify"
	"github.com/movetrader/movebot/internal/storage"
)

const reconcileFetchTimeout = 8 * time.Second

// venueState is the read slice of the exchange the reconciler needs.
type venueState interface {
	GetOpenOrders(ctx context.Context) ([]exchange.Order, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
}

var _ venueState = (*exchange.CircuitBreakerExchange)(nil)

// Reconciler aligns the journal with what the venue actually holds after a
// restart: positions that closed while the bot was down, protective orders
// that stopped resting, and venue positions the journal never saw. It only
// ever reads from the venue; corrections are journal writes and warnings.
type Reconciler struct {
	venue    venueState
	journal  storage.Interface
	notifier notify.Notifier
	logger   *log.Logger
}

func newReconciler(venue venueState, journal storage.Interface, notifier notify.Notifier, logger *log.Logger) *Reconciler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Reconciler{
		venue:    venue,
		journal:  journal,
		notifier: notifier,
		logger:   logger,
	}
}

// Summary counts what one reconciliation pass found.
type Summary struct {
	Checked     int
	Closed      int
	Unprotected int
	Recovered   int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d open entries checked, %d closed on venue, %d unprotected, %d recovered",
		s.Checked, s.Closed, s.Unprotected, s.Recovered)
}

// Run reconciles once. A venue read failure leaves the journal untouched;
// a wrong correction is worse than a late one.
func (r *Reconciler) Run(ctx context.Context) Summary {
	var summary Summary

	fetchCtx, cancel := context.WithTimeout(ctx, reconcileFetchTimeout)
	defer cancel()

	positions, err := r.venue.GetPositions(fetchCtx)
	if err != nil {
		r.logger.Printf("Warning: reconciliation skipped, positions unavailable: %v", err)
		return summary
	}
	orders, err := r.venue.GetOpenOrders(fetchCtx)
	if err != nil {
		r.logger.Printf("Warning: reconciliation skipped, open orders unavailable: %v", err)
		return summary
	}

	held := make(map[string]exchange.Position, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			held[p.ProductSymbol] = p
		}
	}
	resting := make(map[string]bool, len(orders))
	for _, o := range orders {
		resting[strconv.FormatInt(o.ID, 10)] = true
	}

	journaled := make(map[string]bool)
	for _, rec := range r.journal.OpenTrades() {
		if rec.Symbol == "" {
			continue
		}
		summary.Checked++
		journaled[rec.Symbol] = true

		if _, open := held[rec.Symbol]; !open {
			rec.Status = storage.StatusClosed
			rec.ClosedAt = time.Now().UTC()
			rec.Note = "closed on venue while bot was down"
			if err := r.journal.SaveTrade(rec); err != nil {
				r.logger.Printf("Warning: closing journal entry %s: %v", shortID(rec.ExecutionID), err)
				continue
			}
			summary.Closed++
			r.logger.Printf("Execution %s (%s) closed on venue, journal updated", shortID(rec.ExecutionID), rec.Symbol)
			continue
		}

		// Position alive: its protective orders should still be resting.
		if rec.HasStopLoss() && !resting[rec.StopLossOrderID] {
			summary.Unprotected++
			r.logger.Printf("Warning: execution %s lost stop-loss order %s", shortID(rec.ExecutionID), rec.StopLossOrderID)
			r.notify(ctx, "Unprotected position",
				fmt.Sprintf("%s %s: stop-loss order %s is no longer resting on the venue.",
					rec.Symbol, rec.Direction, rec.StopLossOrderID))
		}
		if rec.HasTarget() && !resting[rec.TargetOrderID] {
			r.logger.Printf("Execution %s target order %s is no longer resting", shortID(rec.ExecutionID), rec.TargetOrderID)
		}
	}

	// Venue positions the journal never saw. Journal them with what the
	// venue can still tell us, so the monitor and dashboard see the full
	// book.
	for symbol, pos := range held {
		if journaled[symbol] {
			continue
		}
		rec := recoveryRecord(pos)
		if err := r.journal.SaveTrade(rec); err != nil {
			r.logger.Printf("Warning: journaling recovered position %s: %v", symbol, err)
			continue
		}
		summary.Recovered++
		r.logger.Printf("Recovered untracked venue position %s (%d contracts)", symbol, pos.Size)
	}

	return summary
}

// recoveryRecord builds a journal entry for a venue position the journal
// never saw. Exit references are unknowable, so the entry surfaces as
// unprotected until an operator intervenes.
func recoveryRecord(pos exchange.Position) storage.Record {
	direction := models.Long
	if pos.Short() {
		direction = models.Short
	}
	rec := storage.NewRecord(models.TradeResult{
		ExecutionID: uuid.NewString(),
		Success:     true,
		Symbol:      pos.ProductSymbol,
		ContractID:  pos.ProductID,
		Direction:   direction,
		FillPrice:   pos.EntryPrice,
		FinalState:  models.StateDone,
		ExecutedAt:  time.Now().UTC(),
	})
	rec.Note = "recovered from venue position at startup"
	return rec
}

func (r *Reconciler) notify(ctx context.Context, title, body string) {
	notifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.notifier.Send(notifyCtx, title, body); err != nil {
		r.logger.Printf("Warning: %q notification via %s failed: %v", title, r.notifier.Name(), err)
	}
}
