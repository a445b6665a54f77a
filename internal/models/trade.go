package models

import (
	"fmt"
	"time"
)

// ExitPercents configures one protective side (stop loss or target) as
// trigger and limit offsets from the entry price, in percent of entry.
// The limit percentage is the slippage margin past the trigger that still
// guarantees a fill, not a price target of its own.
type ExitPercents struct {
	TriggerPct float64 `yaml:"trigger_pct" json:"trigger_pct"`
	LimitPct   float64 `yaml:"limit_pct" json:"limit_pct"`
}

// Validate checks both percentages are in (0, 100].
func (p ExitPercents) Validate(side string) error {
	if p.TriggerPct <= 0 || p.TriggerPct > 100 {
		return fmt.Errorf("%s trigger percentage %.2f out of range (0, 100]", side, p.TriggerPct)
	}
	if p.LimitPct <= 0 || p.LimitPct > 100 {
		return fmt.Errorf("%s limit percentage %.2f out of range (0, 100]", side, p.LimitPct)
	}
	return nil
}

// TradeRequest describes one trade to execute. The caller constructs a
// request per user action; it is immutable for the duration of a single
// execution and discarded afterwards.
type TradeRequest struct {
	Asset     string    `yaml:"asset" json:"asset"`
	Direction Direction `yaml:"direction" json:"direction"`

	// StrikeOffset selects the strike relative to at-the-money in whole
	// increments. Zero requests the at-the-money contract.
	StrikeOffset int `yaml:"strike_offset" json:"strike_offset"`

	// Lots is the order size in contracts.
	Lots int `yaml:"lots" json:"lots"`

	// ExpiryCode optionally pins the settlement bucket (D, D+1, W, W+2,
	// M, ...). Empty selects the nearest settlement.
	ExpiryCode string `yaml:"expiry,omitempty" json:"expiry,omitempty"`

	// StopLoss and Target each arm their protective order only when the
	// full trigger/limit pair is supplied.
	StopLoss *ExitPercents `yaml:"stop_loss,omitempty" json:"stop_loss,omitempty"`
	Target   *ExitPercents `yaml:"target,omitempty" json:"target,omitempty"`
}

// Validate rejects malformed requests before any exchange call is made.
func (r TradeRequest) Validate() error {
	if r.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("unknown direction %q", r.Direction)
	}
	if r.Lots < 1 {
		return fmt.Errorf("lots must be at least 1, got %d", r.Lots)
	}
	if r.StopLoss != nil {
		if err := r.StopLoss.Validate("stop loss"); err != nil {
			return err
		}
	}
	if r.Target != nil {
		if err := r.Target.Validate("target"); err != nil {
			return err
		}
	}
	return nil
}

// TradeResult is the outcome of one execution, constructed once per run and
// never mutated after return.
//
// Success=false means no trade happened and no order references are set.
// Success=true with an empty StopLossOrderID or TargetOrderID means the
// entry filled but that protective order could not be placed; callers must
// treat such positions as unprotected.
type TradeResult struct {
	ExecutionID string `json:"execution_id"`
	Success     bool   `json:"success"`

	Symbol     string    `json:"symbol,omitempty"`
	ContractID int       `json:"contract_id,omitempty"`
	Direction  Direction `json:"direction,omitempty"`

	EntryOrderID string  `json:"entry_order_id,omitempty"`
	FillPrice    float64 `json:"fill_price,omitempty"`
	// FillPriceApprox marks the fill price as a mark-price approximation
	// taken when the order's average fill had not propagated yet.
	FillPriceApprox bool `json:"fill_price_approx,omitempty"`

	StopLossOrderID string  `json:"stop_loss_order_id,omitempty"`
	SLTrigger       float64 `json:"sl_trigger,omitempty"`
	SLLimit         float64 `json:"sl_limit,omitempty"`

	TargetOrderID string  `json:"target_order_id,omitempty"`
	TargetTrigger float64 `json:"target_trigger,omitempty"`
	TargetLimit   float64 `json:"target_limit,omitempty"`

	// FallbackReason records a degraded contract selection (auction
	// fallback, missing spot price, clamped strike). Empty means the
	// request was honored exactly.
	FallbackReason string `json:"fallback_reason,omitempty"`

	Error      string         `json:"error,omitempty"`
	FinalState ExecutionState `json:"final_state"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// HasStopLoss reports whether a stop-loss order reference was recorded.
func (r *TradeResult) HasStopLoss() bool {
	return r.StopLossOrderID != ""
}

// HasTarget reports whether a target order reference was recorded.
func (r *TradeResult) HasTarget() bool {
	return r.TargetOrderID != ""
}

// Unprotected reports whether the trade filled without a stop-loss order,
// the condition the caller must surface to the user.
func (r *TradeResult) Unprotected() bool {
	return r.Success && !r.HasStopLoss()
}
