package main

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movetrader/movebot/internal/config"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/notify"
	"github.com/movetrader/movebot/internal/session"
	"github.com/movetrader/movebot/internal/storage"
)

const testUserID = 9000

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// fakeExecutor returns a canned result and records the requests it saw.
type fakeExecutor struct {
	requests []models.TradeRequest
	result   *models.TradeResult
	err      error
}

func (f *fakeExecutor) ExecuteTrade(_ context.Context, req models.TradeRequest) (*models.TradeResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type fakeWatcher struct {
	watched []string
	err     error
}

func (f *fakeWatcher) Watch(symbols ...string) error {
	f.watched = append(f.watched, symbols...)
	return f.err
}

type fakeReplies struct {
	chats []int64
	texts []string
	err   error
}

func (f *fakeReplies) SendTo(_ context.Context, chatID int64, text string) error {
	f.chats = append(f.chats, chatID)
	f.texts = append(f.texts, text)
	return f.err
}

type botFixture struct {
	bot     *Bot
	exec    *fakeExecutor
	journal *storage.MockStorage
	watcher *fakeWatcher
	replies *fakeReplies
}

func newTestBot(t *testing.T) *botFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Environment.Mode = "testnet"
	cfg.Trading.DefaultAsset = "BTC"
	cfg.Trading.DefaultLots = 1
	cfg.Trading.StopLoss = &models.ExitPercents{TriggerPct: 50, LimitPct: 55}
	cfg.Telegram.ChatID = testUserID

	sessions := session.NewStore(nil)
	t.Cleanup(sessions.Stop)

	fx := &botFixture{
		exec:    &fakeExecutor{result: filledResult()},
		journal: storage.NewMockStorage(),
		watcher: &fakeWatcher{},
		replies: &fakeReplies{},
	}
	fx.bot = newBot(cfg, fx.exec, fx.journal, fx.watcher, notify.Nop{}, sessions, fx.replies, testLogger())
	return fx
}

func filledResult() *models.TradeResult {
	return &models.TradeResult{
		ExecutionID:     "exec-12345678",
		Success:         true,
		Symbol:          "BTC-MOVE-090126",
		ContractID:      27001,
		Direction:       models.Long,
		EntryOrderID:    "551",
		FillPrice:       1000,
		StopLossOrderID: "552",
		SLTrigger:       500,
		SLLimit:         450,
		FinalState:      models.StateDone,
	}
}

func send(fx *botFixture, text string) {
	fx.bot.handleUpdate(context.Background(), notify.Update{UserID: testUserID, ChatID: testUserID, Text: text})
}

func TestTradeFlow_ConfirmExecutes(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/trade long 2")
	require.Len(t, fx.replies.texts, 1)
	assert.Contains(t, fx.replies.texts[0], "About to go long 2 lot(s)")
	assert.Contains(t, fx.replies.texts[0], "BTC")
	assert.Empty(t, fx.exec.requests, "nothing executes before confirmation")

	send(fx, "yes")
	require.Len(t, fx.exec.requests, 1)
	req := fx.exec.requests[0]
	assert.Equal(t, "BTC", req.Asset)
	assert.Equal(t, models.Long, req.Direction)
	assert.Equal(t, 2, req.Lots)
	require.NotNil(t, req.StopLoss)
	assert.Equal(t, 50.0, req.StopLoss.TriggerPct)

	trades := fx.journal.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, storage.StatusOpen, trades[0].Status)
	assert.Equal(t, []string{"BTC-MOVE-090126"}, fx.watcher.watched)

	require.Len(t, fx.replies.texts, 2)
	assert.Contains(t, fx.replies.texts[1], "Filled BTC-MOVE-090126")
	assert.Contains(t, fx.replies.texts[1], "Stop loss armed at 500.00")
	assert.Contains(t, fx.replies.texts[1], "Execution exec-123")
}

func TestTradeFlow_NoAborts(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/short")
	send(fx, "no")
	assert.Empty(t, fx.exec.requests)
	require.Len(t, fx.replies.texts, 2)
	assert.Equal(t, "Aborted. Nothing was placed.", fx.replies.texts[1])

	// The session is gone: a stray yes cannot fire anything.
	send(fx, "yes")
	assert.Empty(t, fx.exec.requests)
	require.Len(t, fx.replies.texts, 3)
	assert.Contains(t, fx.replies.texts[2], "No active flow")
}

func TestTradeFlow_ConfirmIsCaseInsensitive(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/long")
	send(fx, "perhaps")
	require.Len(t, fx.replies.texts, 2)
	assert.Equal(t, "Reply yes to execute or no to abort.", fx.replies.texts[1])
	assert.Empty(t, fx.exec.requests, "re-prompt must not execute")

	send(fx, "YES")
	require.Len(t, fx.exec.requests, 1)
	assert.Equal(t, models.Long, fx.exec.requests[0].Direction)
}

func TestTradeFlow_BadArguments(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"bare_trade", "/trade", "Usage:"},
		{"bad_direction", "/trade sideways", `Unknown direction "sideways"`},
		{"bad_lots", "/trade long zero", "Lots must be a positive number"},
		{"negative_lots", "/long -3", "Lots must be a positive number"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fx := newTestBot(t)
			send(fx, tc.text)
			require.Len(t, fx.replies.texts, 1)
			assert.Contains(t, fx.replies.texts[0], tc.want)
			assert.Empty(t, fx.exec.requests)
		})
	}
}

func TestShortcutCommands(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/short 3 eth")
	require.Len(t, fx.replies.texts, 1)
	assert.Contains(t, fx.replies.texts[0], "About to go short 3 lot(s)")
	assert.Contains(t, fx.replies.texts[0], "ETH")
}

func TestCancelCommandDropsFlow(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/long")
	send(fx, "/cancel")
	require.Len(t, fx.replies.texts, 2)
	assert.Equal(t, "Flow cancelled.", fx.replies.texts[1])

	send(fx, "yes")
	assert.Empty(t, fx.exec.requests)
}

func TestExecuteFailureReported(t *testing.T) {
	fx := newTestBot(t)
	fx.exec.result = &models.TradeResult{
		ExecutionID: "exec-9",
		Success:     false,
		Error:       "entry order rejected: insufficient margin",
		FinalState:  models.StateFailed,
	}
	fx.exec.err = errors.New("entry order rejected")

	send(fx, "/long")
	send(fx, "yes")

	trades := fx.journal.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, storage.StatusRejected, trades[0].Status)
	assert.Empty(t, fx.watcher.watched, "rejected trades are not watched")
	require.Len(t, fx.replies.texts, 2)
	assert.Contains(t, fx.replies.texts[1], "Trade failed: entry order rejected")
}

func TestUnprotectedFillWarns(t *testing.T) {
	fx := newTestBot(t)
	fx.exec.result.StopLossOrderID = ""

	send(fx, "/long")
	send(fx, "yes")

	require.Len(t, fx.replies.texts, 2)
	assert.Contains(t, fx.replies.texts[1], "no stop-loss order is in place")
}

func TestStatusReply(t *testing.T) {
	fx := newTestBot(t)

	open := storage.NewRecord(models.TradeResult{
		ExecutionID: "open-1", Success: true, Symbol: "BTC-MOVE-090126",
		Direction: models.Long, FillPrice: 1000, StopLossOrderID: "7",
		FinalState: models.StateDone,
	})
	require.NoError(t, fx.journal.SaveTrade(open))

	closed := storage.NewRecord(models.TradeResult{
		ExecutionID: "closed-1", Success: true, Symbol: "ETH-MOVE-090126",
		Direction: models.Short, FillPrice: 55, FinalState: models.StateDone,
	})
	closed.Status = storage.StatusClosed
	closed.PnL = 12.5
	require.NoError(t, fx.journal.SaveTrade(closed))

	rejected := storage.NewRecord(models.TradeResult{
		ExecutionID: "rej-1", Success: false, Error: "no contracts",
		FinalState: models.StateFailed,
	})
	require.NoError(t, fx.journal.SaveTrade(rejected))

	send(fx, "/status")
	require.Len(t, fx.replies.texts, 1)
	status := fx.replies.texts[0]
	assert.Contains(t, status, "3 total, 1 open, 1 closed, 1 rejected")
	assert.Contains(t, status, "Win rate 100%")
	assert.Contains(t, status, "open-1 BTC-MOVE-090126 long at 1000.00")
}

func TestStatusReplyEmptyJournal(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/status")
	require.Len(t, fx.replies.texts, 1)
	assert.Contains(t, fx.replies.texts[0], "No open positions.")
}

func TestUnauthorizedUserIgnored(t *testing.T) {
	fx := newTestBot(t)

	fx.bot.handleUpdate(context.Background(), notify.Update{UserID: 4242, ChatID: 4242, Text: "/status"})
	assert.Empty(t, fx.replies.texts)
	assert.Empty(t, fx.exec.requests)
}

func TestUnknownCommand(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/frobnicate")
	require.Len(t, fx.replies.texts, 1)
	assert.Contains(t, fx.replies.texts[0], "Unknown command /frobnicate")
}

func TestHelpListsCommands(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "/help")
	require.Len(t, fx.replies.texts, 1)
	for _, cmd := range []string{"/trade", "/status", "/cancel"} {
		assert.Contains(t, fx.replies.texts[0], cmd)
	}
}

func TestPlainTextWithoutFlow(t *testing.T) {
	fx := newTestBot(t)

	send(fx, "hello there")
	require.Len(t, fx.replies.texts, 1)
	assert.Contains(t, fx.replies.texts[0], "No active flow")
}

func TestWatchOpenTrades(t *testing.T) {
	fx := newTestBot(t)

	first := storage.NewRecord(models.TradeResult{
		ExecutionID: "a", Success: true, Symbol: "BTC-MOVE-090126", FinalState: models.StateDone,
	})
	second := storage.NewRecord(models.TradeResult{
		ExecutionID: "b", Success: true, Symbol: "BTC-MOVE-090126", FinalState: models.StateDone,
	})
	third := storage.NewRecord(models.TradeResult{
		ExecutionID: "c", Success: true, Symbol: "ETH-MOVE-100126", FinalState: models.StateDone,
	})
	done := storage.NewRecord(models.TradeResult{
		ExecutionID: "d", Success: true, Symbol: "BTC-MOVE-080126", FinalState: models.StateDone,
	})
	done.Status = storage.StatusClosed
	for _, rec := range []storage.Record{first, second, third, done} {
		require.NoError(t, fx.journal.SaveTrade(rec))
	}

	fx.bot.watchOpenTrades()
	assert.ElementsMatch(t, []string{"BTC-MOVE-090126", "ETH-MOVE-100126"}, fx.watcher.watched,
		"open symbols watched once each, closed ones skipped")
}
