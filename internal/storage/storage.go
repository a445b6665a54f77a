package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// JSONStorage journals trades to a single JSON file. Every mutation
// rewrites the whole file through a temp-file rename, so a crash mid-write
// never leaves a truncated journal behind.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data *journalData
}

type journalData struct {
	Trades      []Record  `json:"trades"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewJSONStorage opens the journal at path, loading existing records if
// the file is present.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		path: path,
		data: &journalData{},
	}
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
	}
	return s, nil
}

func (s *JSONStorage) load() error {
	raw, err := os.ReadFile(s.path) // #nosec G304 - path comes from our own config
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, s.data)
}

// save rewrites the journal. Callers hold the write lock.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// SaveTrade inserts or replaces the record keyed by execution ID and
// persists the journal.
func (s *JSONStorage) SaveTrade(rec Record) error {
	if rec.ExecutionID == "" {
		return ErrMissingExecutionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.data.Trades {
		if s.data.Trades[i].ExecutionID == rec.ExecutionID {
			s.data.Trades[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Trades = append(s.data.Trades, rec)
	}
	return s.save()
}

// Trades returns a copy of every record in insertion order.
func (s *JSONStorage) Trades() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.data.Trades...)
}

// TradeByID returns the record for one execution ID.
func (s *JSONStorage) TradeByID(executionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.data.Trades {
		if rec.ExecutionID == executionID {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrTradeNotFound, executionID)
}

// OpenTrades returns the records still marked open.
func (s *JSONStorage) OpenTrades() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []Record
	for _, rec := range s.data.Trades {
		if rec.Status == StatusOpen {
			open = append(open, rec)
		}
	}
	return open
}

// Statistics summarizes the journal.
func (s *JSONStorage) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.data.Trades)
}

// summarize derives journal statistics from scratch. Win rate counts only
// decided trades; a breakeven close moves neither column.
func summarize(trades []Record) Statistics {
	var stats Statistics
	stats.TotalTrades = len(trades)
	for _, rec := range trades {
		switch rec.Status {
		case StatusOpen:
			stats.OpenTrades++
			if rec.Unprotected() {
				stats.Unprotected++
			}
		case StatusClosed:
			stats.ClosedTrades++
			stats.TotalPnL += rec.PnL
			if rec.PnL > 0 {
				stats.WinningTrades++
			} else if rec.PnL < 0 {
				stats.LosingTrades++
			}
		case StatusRejected:
			stats.Rejected++
		}
		if rec.FillPriceApprox {
			stats.ApproxFills++
		}
		if rec.ExecutedAt.After(stats.LastTradeAt) {
			stats.LastTradeAt = rec.ExecutedAt
		}
	}
	if decided := stats.WinningTrades + stats.LosingTrades; decided > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(decided) * 100
	}
	return stats
}
