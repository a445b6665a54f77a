// Package sequencer drives one trade end to end: contract selection,
// market entry, fill-price discovery, exit-price derivation, and the two
// protective orders, advancing an execution state machine at each stage.
// Failures before entry acceptance abort the trade; anything after is
// absorbed into a partially successful result, because the position exists
// whether or not its protection does. Nothing is ever rolled back.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/movetrader/movebot/internal/exchange"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/pricing"
	"github.com/movetrader/movebot/internal/selector"
)

var (
	// ErrEntryOrderRejected marks a venue rejection of the entry order.
	// The execution fails; no position was opened.
	ErrEntryOrderRejected = errors.New("entry order rejected")

	// ErrExitOrderRejected marks a venue rejection of a protective order.
	// The execution still succeeds; the result carries an empty order
	// reference for that side.
	ErrExitOrderRejected = errors.New("exit order rejected")

	// ErrUpstreamUnavailable marks a transport-level failure talking to
	// the venue.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ContractSelector resolves a trade request to one contract.
type ContractSelector interface {
	Select(ctx context.Context, asset string, offset int, expiryCode string) (selector.Selection, error)
}

// OrderVenue is the slice of the exchange client the sequencer uses.
type OrderVenue interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*exchange.Order, error)
	GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
}

// Config holds the sequencer's tunables.
type Config struct {
	// FillPause is the single fixed wait between entry acceptance and the
	// one fill-price read. Not a polling loop: one pause, one read.
	FillPause time.Duration
}

// DefaultConfig waits two seconds for fill-price propagation, which
// covers the venue's usual settlement of IOC market orders.
var DefaultConfig = Config{
	FillPause: 2 * time.Second,
}

// Sequencer executes trades. Each call owns its request and result; a
// single Sequencer may run any number of executions concurrently.
type Sequencer struct {
	selector ContractSelector
	venue    OrderVenue
	logger   *log.Logger
	config   Config
	now      func() time.Time
}

// New creates a Sequencer. A nil logger discards output.
func New(sel ContractSelector, venue OrderVenue, logger *log.Logger, config ...Config) *Sequencer {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Sequencer{
		selector: sel,
		venue:    venue,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// ExecuteTrade runs one full execution from contract selection onward.
// The returned TradeResult is always populated; the error is non-nil only
// when the execution failed before a position was opened.
func (s *Sequencer) ExecuteTrade(ctx context.Context, req models.TradeRequest) (*models.TradeResult, error) {
	sm := models.NewStateMachine()
	result := s.newResult()

	if err := req.Validate(); err != nil {
		return result, s.fail(sm, result, "invalid trade request", err)
	}

	sel, err := s.selector.Select(ctx, req.Asset, req.StrikeOffset, req.ExpiryCode)
	if err != nil {
		return result, s.fail(sm, result, "contract selection", err)
	}
	return s.run(ctx, sm, result, req, sel)
}

// ExecuteContract runs an execution against an already selected contract.
// Multi-leg strategies resolve their legs up front and feed each one
// through here.
func (s *Sequencer) ExecuteContract(ctx context.Context, req models.TradeRequest, sel selector.Selection) (*models.TradeResult, error) {
	sm := models.NewStateMachine()
	result := s.newResult()

	if err := req.Validate(); err != nil {
		return result, s.fail(sm, result, "invalid trade request", err)
	}
	if sel.Contract.ID == 0 {
		return result, s.fail(sm, result, "contract selection", selector.ErrNoContractsFound)
	}
	return s.run(ctx, sm, result, req, sel)
}

func (s *Sequencer) newResult() *models.TradeResult {
	return &models.TradeResult{
		ExecutionID: uuid.NewString(),
		ExecutedAt:  s.now(),
	}
}

// run advances the pipeline from PlacingEntry to a terminal state.
func (s *Sequencer) run(ctx context.Context, sm *models.StateMachine, result *models.TradeResult, req models.TradeRequest, sel selector.Selection) (*models.TradeResult, error) {
	contract := sel.Contract
	result.Symbol = contract.Symbol
	result.ContractID = contract.ID
	result.Direction = req.Direction
	if !sel.Exact() {
		result.FallbackReason = string(sel.Fallback)
		s.logger.Printf("Warning: execution %s selected %s via fallback %s", result.ExecutionID, contract.Symbol, sel.Fallback)
	}

	if err := sm.Transition(models.StatePlacingEntry, "contract_selected"); err != nil {
		return result, s.fail(sm, result, "state machine", err)
	}

	entry, err := s.venue.PlaceOrder(ctx, exchange.OrderRequest{
		ProductID:     contract.ID,
		ProductSymbol: contract.Symbol,
		Size:          req.Lots,
		Side:          req.Direction.EntrySide(),
		OrderType:     exchange.OrderTypeMarket,
		TimeInForce:   exchange.TIFImmediateOrCancel,
		ClientOrderID: result.ExecutionID + "-e",
		TickSize:      contract.TickSize,
	})
	if err != nil {
		return result, s.fail(sm, result, "entry order", classifyEntryError(err))
	}
	result.EntryOrderID = strconv.FormatInt(entry.ID, 10)
	s.logger.Printf("Execution %s: entry order %d placed on %s (%s %d lots)",
		result.ExecutionID, entry.ID, contract.Symbol, req.Direction, req.Lots)

	if err := sm.Transition(models.StateAwaitingFill, "entry_accepted"); err != nil {
		return result, s.fail(sm, result, "state machine", err)
	}

	fill, approx := s.readFillPrice(ctx, entry, contract.Symbol)
	if fill <= 0 {
		// The position exists but its entry price is unknowable right
		// now, so percentage-derived exits cannot be computed. Surface
		// the unprotected position instead of guessing.
		s.logger.Printf("Warning: execution %s has no readable fill price, skipping protective orders", result.ExecutionID)
		result.Success = true
		result.FallbackReason = joinReasons(result.FallbackReason, "fill price unavailable, protective orders skipped")
		_ = sm.Transition(models.StateDone, "fill_price_unknown")
		result.FinalState = sm.GetCurrentState()
		return result, nil
	}
	result.FillPrice = fill
	result.FillPriceApprox = approx

	if err := sm.Transition(models.StateComputingExits, "fill_price_read"); err != nil {
		return result, s.fail(sm, result, "state machine", err)
	}
	levels := pricing.ExitPrices(fill, req.Direction, req.StopLoss, req.Target)

	exitSide := req.Direction.ExitSide()
	switch {
	case levels.StopLoss == nil && levels.Target == nil:
		_ = sm.Transition(models.StateDone, "no_exits_configured")

	case levels.StopLoss != nil:
		_ = sm.Transition(models.StatePlacingStopLoss, "stop_loss_configured")
		if id := s.placeExit(ctx, contract, req.Lots, exitSide, exchange.StopOrderStopLoss, *levels.StopLoss, result.ExecutionID); id != "" {
			result.StopLossOrderID = id
			result.SLTrigger = levels.StopLoss.Trigger
			result.SLLimit = levels.StopLoss.Limit
		}
		if levels.Target != nil {
			_ = sm.Transition(models.StatePlacingTarget, "target_configured")
			if id := s.placeExit(ctx, contract, req.Lots, exitSide, exchange.StopOrderTakeProfit, *levels.Target, result.ExecutionID); id != "" {
				result.TargetOrderID = id
				result.TargetTrigger = levels.Target.Trigger
				result.TargetLimit = levels.Target.Limit
			}
			_ = sm.Transition(models.StateDone, "target_stage_complete")
		} else {
			_ = sm.Transition(models.StateDone, "no_target")
		}

	default:
		_ = sm.Transition(models.StatePlacingTarget, "target_only")
		if id := s.placeExit(ctx, contract, req.Lots, exitSide, exchange.StopOrderTakeProfit, *levels.Target, result.ExecutionID); id != "" {
			result.TargetOrderID = id
			result.TargetTrigger = levels.Target.Trigger
			result.TargetLimit = levels.Target.Limit
		}
		_ = sm.Transition(models.StateDone, "target_stage_complete")
	}

	result.Success = true
	result.FinalState = sm.GetCurrentState()
	if result.Unprotected() && req.StopLoss != nil {
		s.logger.Printf("Warning: execution %s finished with a filled entry and no stop loss", result.ExecutionID)
	}
	return result, nil
}

// readFillPrice waits the configured pause, reads the order's average fill
// once, and falls back to the contract's mark price when the average has
// not propagated yet. Returns 0 when both sources fail.
func (s *Sequencer) readFillPrice(ctx context.Context, entry *exchange.Order, symbol string) (price float64, approx bool) {
	if s.config.FillPause > 0 {
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(s.config.FillPause):
		}
	}

	order, err := s.venue.GetOrder(ctx, entry.ID)
	if err == nil && order.AverageFillPrice > 0 {
		return order.AverageFillPrice, false
	}
	if err != nil {
		s.logger.Printf("Warning: reading order %d fill price: %v", entry.ID, err)
	} else {
		s.logger.Printf("Warning: order %d reports no average fill price yet, approximating from mark price", entry.ID)
	}

	// Mark price stands in for the fill. An approximation for exit
	// derivation, not a realized price; the result flags it.
	ticker, err := s.venue.GetTicker(ctx, symbol)
	if err != nil {
		s.logger.Printf("Warning: reading %s mark price: %v", symbol, err)
		return 0, false
	}
	if ticker.MarkPrice <= 0 {
		return 0, false
	}
	return ticker.MarkPrice, true
}

// placeExit submits one protective order. Rejections are logged and
// swallowed; the entry is already filled and a missing exit must not fail
// the trade.
func (s *Sequencer) placeExit(ctx context.Context, contract models.Contract, lots int, side models.OrderSide, kind exchange.StopOrderType, pair pricing.ExitPair, execID string) string {
	suffix := "-sl"
	if kind == exchange.StopOrderTakeProfit {
		suffix = "-tp"
	}
	order, err := s.venue.PlaceOrder(ctx, exchange.OrderRequest{
		ProductID:     contract.ID,
		ProductSymbol: contract.Symbol,
		Size:          lots,
		Side:          side,
		OrderType:     exchange.OrderTypeLimit,
		LimitPrice:    pair.Limit,
		StopPrice:     pair.Trigger,
		StopOrderType: kind,
		TimeInForce:   exchange.TIFGoodTillCancel,
		ReduceOnly:    true,
		ClientOrderID: execID + suffix,
		TickSize:      contract.TickSize,
	})
	if err != nil {
		s.logger.Printf("Warning: execution %s %s on %s: %v", execID, ErrExitOrderRejected, contract.Symbol, err)
		return ""
	}
	return strconv.FormatInt(order.ID, 10)
}

// fail moves the machine to Failed and stamps the result. Only reachable
// before entry acceptance.
func (s *Sequencer) fail(sm *models.StateMachine, result *models.TradeResult, stage string, err error) error {
	if terr := sm.Transition(models.StateFailed, ""); terr != nil {
		s.logger.Printf("ERROR: cannot fail execution %s from state %s: %v", result.ExecutionID, sm.GetCurrentState(), terr)
	}
	result.Success = false
	result.FinalState = sm.GetCurrentState()
	result.Error = fmt.Sprintf("%s: %v", stage, err)
	s.logger.Printf("ERROR: execution %s failed at %s: %v", result.ExecutionID, stage, err)
	return fmt.Errorf("%s: %w", stage, err)
}

// classifyEntryError maps venue responses onto the entry failure taxonomy:
// explicit rejections versus an unreachable upstream.
func classifyEntryError(err error) error {
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrEntryOrderRejected, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

func joinReasons(existing, added string) string {
	if existing == "" {
		return added
	}
	return existing + "; " + added
}
