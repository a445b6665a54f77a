// Package models provides the trading domain types shared across the bot:
// exchange contracts, trade requests and results, and the execution
// state machine.
package models

import (
	"time"
)

// ContractState represents the lifecycle state of an exchange product.
type ContractState string

const (
	// StateLive means the contract is open for regular trading.
	StateLive ContractState = "live"
	// StateAuction means the contract is in its pre-open auction window.
	StateAuction ContractState = "auction"
	// StateExpired means the contract has settled.
	StateExpired ContractState = "expired"
	// StateOther covers any state the bot does not trade.
	StateOther ContractState = "other"
)

// Product categories the bot trades. CategoryMove is the volatility
// straddle (MOVE) contract: an at-the-money call and put bundled at a
// strike fixed when the measurement window opens. CategoryCall and
// CategoryPut are the plain option legs used by multi-leg structures.
const (
	CategoryMove = "move_options"
	CategoryCall = "call_options"
	CategoryPut  = "put_options"
)

// Contract is a read-only snapshot of one exchange product. The exchange
// owns and mutates contract records; the bot fetches one snapshot per
// execution and never persists it.
type Contract struct {
	ID             int           `json:"id"`
	Symbol         string        `json:"symbol"`
	Asset          string        `json:"asset"`
	Category       string        `json:"category"`
	State          ContractState `json:"state"`
	SettlementTime time.Time     `json:"settlement_time"`

	// Strike is zero until the settlement window opens and the exchange
	// assigns the at-the-money strike.
	Strike float64 `json:"strike,omitempty"`

	// StrikeIncrement and TickSize are zero when the catalog does not
	// report them; callers fall back to per-asset defaults.
	StrikeIncrement float64 `json:"strike_increment,omitempty"`
	TickSize        float64 `json:"tick_size,omitempty"`
}

// HasStrike reports whether the exchange has assigned a strike yet.
func (c Contract) HasStrike() bool {
	return c.Strike > 0
}

// Tradeable reports whether orders can be placed against the contract.
func (c Contract) Tradeable() bool {
	return c.State == StateLive || c.State == StateAuction
}

// Direction is the trade direction: long buys premium, short sells it.
type Direction string

const (
	// Long profits when the contract premium rises.
	Long Direction = "long"
	// Short profits when the contract premium falls.
	Short Direction = "short"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// OrderSide is the side of an exchange order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// EntrySide returns the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == Short {
		return SideSell
	}
	return SideBuy
}

// ExitSide returns the order side that closes a position in this direction.
// Entry and exit sides are always opposite.
func (d Direction) ExitSide() OrderSide {
	if d == Short {
		return SideBuy
	}
	return SideSell
}
