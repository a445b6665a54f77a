package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movetrader/movebot/internal/exchange"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/storage"
)

type fakeVenueState struct {
	positions []exchange.Position
	orders    []exchange.Order
	posErr    error
	ordErr    error
}

func (f *fakeVenueState) GetPositions(context.Context) ([]exchange.Position, error) {
	return f.positions, f.posErr
}

func (f *fakeVenueState) GetOpenOrders(context.Context) ([]exchange.Order, error) {
	return f.orders, f.ordErr
}

type captureNotifier struct {
	titles []string
	bodies []string
}

func (c *captureNotifier) Send(_ context.Context, title, body string) error {
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, body)
	return nil
}

func (c *captureNotifier) Name() string { return "capture" }

func openedTrade(id, symbol, slOrderID string) storage.Record {
	return storage.NewRecord(models.TradeResult{
		ExecutionID:     id,
		Success:         true,
		Symbol:          symbol,
		ContractID:      27001,
		Direction:       models.Long,
		FillPrice:       1000,
		StopLossOrderID: slOrderID,
		SLTrigger:       500,
		FinalState:      models.StateDone,
	})
}

func TestReconciler_ClosesEntriesMissingFromVenue(t *testing.T) {
	journal := storage.NewMockStorage()
	require.NoError(t, journal.SaveTrade(openedTrade("exec-1", "BTC-MOVE-090126", "41")))

	venue := &fakeVenueState{}
	summary := newReconciler(venue, journal, nil, testLogger()).Run(context.Background())

	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Closed)

	rec, err := journal.TradeByID("exec-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusClosed, rec.Status)
	assert.False(t, rec.ClosedAt.IsZero())
	assert.Contains(t, rec.Note, "closed on venue")
	assert.Empty(t, journal.OpenTrades())
}

func TestReconciler_KeepsHeldPositions(t *testing.T) {
	journal := storage.NewMockStorage()
	require.NoError(t, journal.SaveTrade(openedTrade("exec-1", "BTC-MOVE-090126", "41")))

	venue := &fakeVenueState{
		positions: []exchange.Position{
			{ProductID: 27001, ProductSymbol: "BTC-MOVE-090126", Size: 1, EntryPrice: 1000},
		},
		orders: []exchange.Order{{ID: 41}},
	}
	notifier := &captureNotifier{}
	summary := newReconciler(venue, journal, notifier, testLogger()).Run(context.Background())

	assert.Equal(t, Summary{Checked: 1}, summary)
	rec, err := journal.TradeByID("exec-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOpen, rec.Status)
	assert.Empty(t, notifier.titles)
}

func TestReconciler_FlagsLostStopLoss(t *testing.T) {
	journal := storage.NewMockStorage()
	require.NoError(t, journal.SaveTrade(openedTrade("exec-1", "BTC-MOVE-090126", "41")))

	// Position alive but order 41 no longer rests on the venue.
	venue := &fakeVenueState{
		positions: []exchange.Position{{ProductSymbol: "BTC-MOVE-090126", Size: 1}},
	}
	notifier := &captureNotifier{}
	summary := newReconciler(venue, journal, notifier, testLogger()).Run(context.Background())

	assert.Equal(t, 1, summary.Unprotected)
	assert.Equal(t, 0, summary.Closed)
	require.Len(t, notifier.titles, 1)
	assert.Equal(t, "Unprotected position", notifier.titles[0])
	assert.Contains(t, notifier.bodies[0], "41")

	rec, err := journal.TradeByID("exec-1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOpen, rec.Status, "a lost stop loss does not close the entry")
}

func TestReconciler_RecoversUntrackedPositions(t *testing.T) {
	journal := storage.NewMockStorage()
	venue := &fakeVenueState{
		positions: []exchange.Position{
			{ProductID: 27002, ProductSymbol: "ETH-MOVE-090126", Size: -2, EntryPrice: 44.5},
		},
	}
	summary := newReconciler(venue, journal, nil, testLogger()).Run(context.Background())

	assert.Equal(t, 1, summary.Recovered)
	open := journal.OpenTrades()
	require.Len(t, open, 1)
	rec := open[0]
	assert.Equal(t, "ETH-MOVE-090126", rec.Symbol)
	assert.Equal(t, 27002, rec.ContractID)
	assert.Equal(t, models.Short, rec.Direction)
	assert.Equal(t, 44.5, rec.FillPrice)
	assert.NotEmpty(t, rec.ExecutionID)
	assert.Contains(t, rec.Note, "recovered")
	assert.True(t, rec.Unprotected(), "recovered entries carry no exit references")
}

func TestReconciler_ZeroSizePositionCountsAsClosed(t *testing.T) {
	journal := storage.NewMockStorage()
	require.NoError(t, journal.SaveTrade(openedTrade("exec-1", "BTC-MOVE-090126", "41")))

	venue := &fakeVenueState{
		positions: []exchange.Position{{ProductSymbol: "BTC-MOVE-090126", Size: 0}},
	}
	summary := newReconciler(venue, journal, nil, testLogger()).Run(context.Background())

	assert.Equal(t, 1, summary.Closed)
}

func TestReconciler_VenueErrorLeavesJournalAlone(t *testing.T) {
	journal := storage.NewMockStorage()
	require.NoError(t, journal.SaveTrade(openedTrade("exec-1", "BTC-MOVE-090126", "41")))

	tests := []struct {
		name  string
		venue *fakeVenueState
	}{
		{"positions_unavailable", &fakeVenueState{posErr: errors.New("gateway timeout")}},
		{"orders_unavailable", &fakeVenueState{ordErr: errors.New("gateway timeout")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			summary := newReconciler(tc.venue, journal, nil, testLogger()).Run(context.Background())
			assert.Equal(t, Summary{}, summary)

			rec, err := journal.TradeByID("exec-1")
			require.NoError(t, err)
			assert.Equal(t, storage.StatusOpen, rec.Status)
		})
	}
}

func TestSummaryString(t *testing.T) {
	s := Summary{Checked: 3, Closed: 1, Unprotected: 1, Recovered: 2}
	assert.Equal(t, "3 open entries checked, 1 closed on venue, 1 unprotected, 2 recovered", s.String())
}
