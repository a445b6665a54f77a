package storage

import (
	"time"

	"github.com/movetrader/movebot/internal/models"
)

// Trade lifecycle states as the journal sees them. Rejected executions
// never opened a position; open ones did and have not been observed
// closing; closed ones carry an exit price and realized P&L.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusRejected = "rejected"
)

// Record is one journaled execution: the immutable trade result plus the
// journal's own lifecycle fields, which change as the position is later
// observed closing.
type Record struct {
	models.TradeResult

	Status    string    `json:"status"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
	ExitPrice float64   `json:"exit_price,omitempty"`
	PnL       float64   `json:"pnl,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// NewRecord wraps a trade result in a journal record with its initial
// lifecycle status derived from the outcome.
func NewRecord(result models.TradeResult) Record {
	status := StatusOpen
	if !result.Success {
		status = StatusRejected
	}
	return Record{TradeResult: result, Status: status}
}

// Statistics summarizes the journal. All figures are derived from the
// stored records on each call, so upserts never skew the counts.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	OpenTrades    int     `json:"open_trades"`
	ClosedTrades  int     `json:"closed_trades"`
	Rejected      int     `json:"rejected"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	// Unprotected counts open positions without a resting stop loss.
	Unprotected int `json:"unprotected"`
	// ApproxFills counts executions whose exits were derived from a
	// mark-price approximation rather than a real average fill.
	ApproxFills int       `json:"approx_fills"`
	LastTradeAt time.Time `json:"last_trade_at,omitempty"`
}

// Interface defines the contract for trade journal persistence.
//
// Implementations must be safe for concurrent use: the sequencer, the
// monitor, and the dashboard all touch the journal from their own
// goroutines.
type Interface interface {
	// SaveTrade inserts or replaces the record keyed by its execution ID
	// and persists the journal.
	SaveTrade(rec Record) error

	// Trades returns a copy of every record in insertion order.
	Trades() []Record

	// TradeByID returns the record for one execution ID.
	TradeByID(executionID string) (Record, error)

	// OpenTrades returns the records still marked open.
	OpenTrades() []Record

	// Statistics summarizes the journal.
	Statistics() Statistics
}

// NewStorage creates the default journal implementation (currently
// JSON-file based).
func NewStorage(path string) (Interface, error) {
	return NewJSONStorage(path)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
