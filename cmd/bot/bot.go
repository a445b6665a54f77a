package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/movetrader/movebot/internal/config"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/notify"
	"github.com/movetrader/movebot/internal/router"
	"github.com/movetrader/movebot/internal/sequencer"
	"github.com/movetrader/movebot/internal/session"
	"github.com/movetrader/movebot/internal/storage"
)

// stateConfirmTrade is the single step of the /trade flow: a request is
// parked in the session and waits for a yes/no.
const stateConfirmTrade session.State = "confirm_trade"

// keyRequest holds the parked models.TradeRequest in the session data.
const keyRequest = "request"

const replyTimeout = 10 * time.Second

const helpText = `Commands:
/trade long|short [lots] [asset] - execute with confirmation
/long [lots] [asset] - shortcut for /trade long
/short [lots] [asset] - shortcut for /trade short
/status - journal summary and open positions
/cancel - abort the current flow
/help - this text`

// executor runs validated trade requests.
type executor interface {
	ExecuteTrade(ctx context.Context, req models.TradeRequest) (*models.TradeResult, error)
}

var _ executor = (*sequencer.Sequencer)(nil)

// replySender pushes a text reply into a chat.
type replySender interface {
	SendTo(ctx context.Context, chatID int64, text string) error
}

var _ replySender = (*notify.Telegram)(nil)

// symbolWatcher subscribes mark-price streaming for traded symbols.
type symbolWatcher interface {
	Watch(symbols ...string) error
}

// Bot glues the command surface to the trading core. One instance serves
// all users; per-user flow state lives in the session store.
type Bot struct {
	config   *config.Config
	exec     executor
	journal  storage.Interface
	feed     symbolWatcher
	notifier notify.Notifier
	sessions *session.Store
	router   *router.Router
	replies  replySender
	logger   *log.Logger
}

func newBot(cfg *config.Config, exec executor, journal storage.Interface, feed symbolWatcher,
	notifier notify.Notifier, sessions *session.Store, replies replySender, logger *log.Logger) *Bot {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	b := &Bot{
		config:   cfg,
		exec:     exec,
		journal:  journal,
		feed:     feed,
		notifier: notifier,
		sessions: sessions,
		replies:  replies,
		logger:   logger,
	}
	b.router = router.New(sessions, logger)
	b.router.Register(stateConfirmTrade, b.handleConfirm)
	return b
}

// handleUpdate processes one inbound message end to end: authorization,
// command handling, then stateful flow dispatch.
func (b *Bot) handleUpdate(ctx context.Context, u notify.Update) {
	if !b.config.UserAllowed(u.UserID) {
		b.logger.Printf("Warning: ignoring message from unauthorized user %d", u.UserID)
		return
	}

	reply, err := b.dispatch(ctx, u)
	if err != nil {
		b.logger.Printf("Warning: handling %q from user %d: %v", u.Text, u.UserID, err)
		if reply == "" {
			reply = "Something went wrong, check the logs."
		}
	}
	if reply != "" {
		b.reply(ctx, u.ChatID, reply)
	}
}

func (b *Bot) dispatch(ctx context.Context, u notify.Update) (string, error) {
	fields := strings.Fields(u.Text)
	if len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		return b.handleCommand(ctx, fields[0], fields[1:], u)
	}
	return b.router.Dispatch(ctx, router.Message{UserID: u.UserID, ChatID: u.ChatID, Text: u.Text})
}

func (b *Bot) handleCommand(_ context.Context, cmd string, args []string, u notify.Update) (string, error) {
	switch cmd {
	case "/start", "/help":
		return helpText, nil
	case "/status":
		return b.statusReply(), nil
	case "/trade", "/long", "/short":
		return b.startTradeFlow(cmd, args, u)
	case "/cancel":
		b.sessions.Clear(u.UserID)
		return "Flow cancelled.", nil
	default:
		return fmt.Sprintf("Unknown command %s. Send /help for the list.", cmd), nil
	}
}

// startTradeFlow builds a request from the command and the configured
// trading defaults, parks it in the session, and asks for confirmation.
func (b *Bot) startTradeFlow(cmd string, args []string, u notify.Update) (string, error) {
	const usage = "Usage: /trade long|short [lots] [asset]"

	direction := models.Long
	switch cmd {
	case "/short":
		direction = models.Short
	case "/trade":
		if len(args) == 0 {
			return usage, nil
		}
		switch strings.ToLower(args[0]) {
		case "long":
			direction = models.Long
		case "short":
			direction = models.Short
		default:
			return fmt.Sprintf("Unknown direction %q. %s", args[0], usage), nil
		}
		args = args[1:]
	}

	req := b.config.DefaultRequest(direction)
	if len(args) > 0 {
		lots, err := strconv.Atoi(args[0])
		if err != nil || lots < 1 {
			return fmt.Sprintf("Lots must be a positive number, got %q. %s", args[0], usage), nil
		}
		req.Lots = lots
		args = args[1:]
	}
	if len(args) > 0 {
		req.Asset = strings.ToUpper(args[0])
	}
	if err := req.Validate(); err != nil {
		return fmt.Sprintf("Cannot build that trade: %v", err), nil
	}

	b.sessions.Set(u.UserID, stateConfirmTrade, map[string]any{keyRequest: req})
	return confirmPrompt(req), nil
}

func confirmPrompt(req models.TradeRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "About to go %s %d lot(s) on the nearest %s MOVE contract.\n", req.Direction, req.Lots, req.Asset)
	if req.StopLoss != nil {
		fmt.Fprintf(&sb, "Stop loss: trigger %.0f%%, limit %.0f%% of entry.\n", req.StopLoss.TriggerPct, req.StopLoss.LimitPct)
	}
	if req.Target != nil {
		fmt.Fprintf(&sb, "Target: trigger %.0f%%, limit %.0f%% of entry.\n", req.Target.TriggerPct, req.Target.LimitPct)
	}
	sb.WriteString("Reply yes to execute or no to abort.")
	return sb.String()
}

// handleConfirm resolves the parked request on a yes/no answer. Anything
// else re-prompts without touching the session.
func (b *Bot) handleConfirm(ctx context.Context, msg router.Message) (string, error) {
	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case "yes", "y":
		data, ok := b.sessions.Data(msg.UserID)
		b.sessions.Clear(msg.UserID)
		if !ok {
			return "That flow expired. Send /trade to start again.", nil
		}
		req, ok := data[keyRequest].(models.TradeRequest)
		if !ok {
			return "That flow lost its request. Send /trade to start again.", nil
		}
		return b.execute(ctx, req)
	case "no", "n", "cancel":
		b.sessions.Clear(msg.UserID)
		return "Aborted. Nothing was placed.", nil
	default:
		return "Reply yes to execute or no to abort.", nil
	}
}

// execute runs the confirmed request, journals the outcome, and keeps the
// feed watching the traded symbol so the monitor sees its marks.
func (b *Bot) execute(ctx context.Context, req models.TradeRequest) (string, error) {
	b.logger.Printf("Executing %s %s for %d lots", req.Asset, req.Direction, req.Lots)

	result, execErr := b.exec.ExecuteTrade(ctx, req)
	if result == nil {
		return "", fmt.Errorf("executing trade: %w", execErr)
	}

	if err := b.journal.SaveTrade(storage.NewRecord(*result)); err != nil {
		b.logger.Printf("Warning: journaling execution %s: %v", shortID(result.ExecutionID), err)
	}
	if result.Success && result.Symbol != "" {
		if err := b.feed.Watch(result.Symbol); err != nil {
			b.logger.Printf("Warning: watching %s: %v", result.Symbol, err)
		}
	}
	return resultReply(req, result), nil
}

func resultReply(req models.TradeRequest, result *models.TradeResult) string {
	if !result.Success {
		return fmt.Sprintf("Trade failed: %s", result.Error)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Filled %s %s, %d lot(s) at %.2f.\n", result.Symbol, result.Direction, req.Lots, result.FillPrice)
	if result.FillPriceApprox {
		sb.WriteString("Fill price is a mark-price approximation.\n")
	}
	if result.FallbackReason != "" {
		fmt.Fprintf(&sb, "Note: %s.\n", result.FallbackReason)
	}
	if result.HasStopLoss() {
		fmt.Fprintf(&sb, "Stop loss armed at %.2f.\n", result.SLTrigger)
	}
	if result.HasTarget() {
		fmt.Fprintf(&sb, "Target armed at %.2f.\n", result.TargetTrigger)
	}
	if result.Unprotected() {
		sb.WriteString("Warning: no stop-loss order is in place.\n")
	}
	fmt.Fprintf(&sb, "Execution %s", shortID(result.ExecutionID))
	return sb.String()
}

// statusReply summarizes the journal and lists open positions.
func (b *Bot) statusReply() string {
	stats := b.journal.Statistics()
	open := b.journal.OpenTrades()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trades: %d total, %d open, %d closed, %d rejected.\n",
		stats.TotalTrades, stats.OpenTrades, stats.ClosedTrades, stats.Rejected)
	if stats.WinningTrades+stats.LosingTrades > 0 {
		fmt.Fprintf(&sb, "Win rate %.0f%%, realized PnL %.2f.\n", stats.WinRate, stats.TotalPnL)
	}
	if stats.Unprotected > 0 {
		fmt.Fprintf(&sb, "Warning: %d open position(s) without a stop loss.\n", stats.Unprotected)
	}
	if len(open) == 0 {
		sb.WriteString("No open positions.")
		return sb.String()
	}
	for _, rec := range open {
		fmt.Fprintf(&sb, "%s %s %s at %.2f\n", shortID(rec.ExecutionID), rec.Symbol, rec.Direction, rec.FillPrice)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// watchOpenTrades subscribes the feed to every open journal entry so the
// monitor has marks to compare from the first sweep.
func (b *Bot) watchOpenTrades() {
	seen := make(map[string]bool)
	var symbols []string
	for _, rec := range b.journal.OpenTrades() {
		if rec.Symbol == "" || seen[rec.Symbol] {
			continue
		}
		seen[rec.Symbol] = true
		symbols = append(symbols, rec.Symbol)
	}
	if len(symbols) == 0 {
		return
	}
	if err := b.feed.Watch(symbols...); err != nil {
		b.logger.Printf("Warning: watching open-trade symbols: %v", err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if b.replies == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if err := b.replies.SendTo(sendCtx, chatID, text); err != nil {
		b.logger.Printf("Warning: replying to chat %d: %v", chatID, err)
	}
}
