package storage

import "fmt"

// MockStorage implements Interface in memory for tests, with error
// injection and call counting.
type MockStorage struct {
	trades    []Record
	saveError error
	saveCalls int
}

// NewMockStorage creates an empty in-memory journal.
func NewMockStorage() *MockStorage {
	return &MockStorage{}
}

func (m *MockStorage) SaveTrade(rec Record) error {
	m.saveCalls++
	if m.saveError != nil {
		return m.saveError
	}
	if rec.ExecutionID == "" {
		return ErrMissingExecutionID
	}
	for i := range m.trades {
		if m.trades[i].ExecutionID == rec.ExecutionID {
			m.trades[i] = rec
			return nil
		}
	}
	m.trades = append(m.trades, rec)
	return nil
}

func (m *MockStorage) Trades() []Record {
	return append([]Record(nil), m.trades...)
}

func (m *MockStorage) TradeByID(executionID string) (Record, error) {
	for _, rec := range m.trades {
		if rec.ExecutionID == executionID {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrTradeNotFound, executionID)
}

func (m *MockStorage) OpenTrades() []Record {
	var open []Record
	for _, rec := range m.trades {
		if rec.Status == StatusOpen {
			open = append(open, rec)
		}
	}
	return open
}

func (m *MockStorage) Statistics() Statistics {
	return summarize(m.trades)
}

// Mock control methods for tests.

func (m *MockStorage) SetSaveError(err error) {
	m.saveError = err
}

func (m *MockStorage) SaveCalls() int {
	return m.saveCalls
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
