// Package strategy plans two-leg volatility structures, straddles and
// strangles, from an option-chain snapshot and runs each leg through the
// trade sequencer. Legs are independent: a rejected leg never rolls back
// its sibling, matching the no-rollback policy of single-contract trades.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/pricing"
	"github.com/movetrader/movebot/internal/selector"
	"github.com/movetrader/movebot/internal/sequencer"
)

var (
	// ErrChainIncomplete means the snapshot lacks tradeable calls or puts
	// with assigned strikes for the requested asset.
	ErrChainIncomplete = errors.New("option chain missing a tradeable side")

	// ErrNoSharedExpiry means no settlement time carries both legs.
	ErrNoSharedExpiry = errors.New("no settlement with both call and put")

	// ErrOffsetRequired means a strangle was requested without a wing
	// distance.
	ErrOffsetRequired = errors.New("strangle needs a wing offset")
)

// Plan is a resolved two-leg structure: one call and one put settling at
// the same time. CallStrike and PutStrike are the requested grid strikes
// before snapping to what the chain actually lists.
type Plan struct {
	Asset      string
	Call       models.Contract
	Put        models.Contract
	CallStrike float64
	PutStrike  float64
	Settlement time.Time
	Spot       float64
}

// OTMOffset selects the strangle wing distance from spot. Percent wins
// when both are set.
type OTMOffset struct {
	Percent  float64
	Absolute float64
}

// PlanStraddle picks the call and put closest to the offset at-the-money
// strike on the nearest settlement listing both sides.
func PlanStraddle(chain []models.Contract, spot float64, asset string, offset int) (Plan, error) {
	calls, puts, err := splitChain(chain, asset)
	if err != nil {
		return Plan{}, err
	}
	settlement, calls, puts, err := sharedSettlement(calls, puts)
	if err != nil {
		return Plan{}, err
	}

	increment := chainIncrement(calls, puts)
	if increment <= 0 {
		increment = pricing.DefaultIncrement(asset)
	}
	strike := pricing.StraddleStrike(spot, increment, offset)

	return Plan{
		Asset:      asset,
		Call:       nearestByStrike(calls, strike),
		Put:        nearestByStrike(puts, strike),
		CallStrike: strike,
		PutStrike:  strike,
		Settlement: settlement,
		Spot:       spot,
	}, nil
}

// PlanStrangle picks out-of-the-money wings offset symmetrically from
// spot on the nearest settlement listing both sides.
func PlanStrangle(chain []models.Contract, spot float64, asset string, otm OTMOffset) (Plan, error) {
	distance := otm.Absolute
	if otm.Percent > 0 {
		distance = pricing.PercentOffset(spot, otm.Percent)
	}
	if distance <= 0 {
		return Plan{}, ErrOffsetRequired
	}

	calls, puts, err := splitChain(chain, asset)
	if err != nil {
		return Plan{}, err
	}
	settlement, calls, puts, err := sharedSettlement(calls, puts)
	if err != nil {
		return Plan{}, err
	}

	increment := chainIncrement(calls, puts)
	if increment <= 0 {
		increment = pricing.DefaultIncrement(asset)
	}
	callStrike, putStrike := pricing.OTMStrikes(spot, increment, distance)

	return Plan{
		Asset:      asset,
		Call:       nearestByStrike(calls, callStrike),
		Put:        nearestByStrike(puts, putStrike),
		CallStrike: callStrike,
		PutStrike:  putStrike,
		Settlement: settlement,
		Spot:       spot,
	}, nil
}

// splitChain keeps tradeable contracts with assigned strikes for the
// asset, split by side.
func splitChain(chain []models.Contract, asset string) (calls, puts []models.Contract, err error) {
	for _, c := range chain {
		if c.Asset != asset || !c.Tradeable() || !c.HasStrike() {
			continue
		}
		switch c.Category {
		case models.CategoryCall:
			calls = append(calls, c)
		case models.CategoryPut:
			puts = append(puts, c)
		}
	}
	if len(calls) == 0 || len(puts) == 0 {
		return nil, nil, ErrChainIncomplete
	}
	return calls, puts, nil
}

// sharedSettlement finds the earliest settlement time present on both
// sides and restricts each side to it.
func sharedSettlement(calls, puts []models.Contract) (time.Time, []models.Contract, []models.Contract, error) {
	putTimes := make(map[int64]bool, len(puts))
	for _, p := range puts {
		putTimes[p.SettlementTime.Unix()] = true
	}

	var settlement time.Time
	found := false
	for _, c := range calls {
		if !putTimes[c.SettlementTime.Unix()] {
			continue
		}
		if !found || c.SettlementTime.Before(settlement) {
			settlement = c.SettlementTime
			found = true
		}
	}
	if !found {
		return time.Time{}, nil, nil, ErrNoSharedExpiry
	}
	return settlement, atSettlement(calls, settlement), atSettlement(puts, settlement), nil
}

func atSettlement(contracts []models.Contract, at time.Time) []models.Contract {
	var out []models.Contract
	for _, c := range contracts {
		if c.SettlementTime.Equal(at) {
			out = append(out, c)
		}
	}
	return out
}

// chainIncrement returns the first strike increment the chain reports,
// or zero when none do.
func chainIncrement(sides ...[]models.Contract) float64 {
	for _, side := range sides {
		for _, c := range side {
			if c.StrikeIncrement > 0 {
				return c.StrikeIncrement
			}
		}
	}
	return 0
}

// nearestByStrike picks the contract numerically closest to the target
// strike; ties keep the first listed.
func nearestByStrike(contracts []models.Contract, target float64) models.Contract {
	best := contracts[0]
	bestDiff := math.Abs(best.Strike - target)
	for _, c := range contracts[1:] {
		if diff := math.Abs(c.Strike - target); diff < bestDiff {
			best, bestDiff = c, diff
		}
	}
	return best
}

// LegExecutor runs one resolved leg through the execution pipeline.
type LegExecutor interface {
	ExecuteContract(ctx context.Context, req models.TradeRequest, sel selector.Selection) (*models.TradeResult, error)
}

var _ LegExecutor = (*sequencer.Sequencer)(nil)

// Result carries both leg outcomes of one structure execution.
type Result struct {
	Call *models.TradeResult
	Put  *models.TradeResult
}

// Success reports whether both legs opened.
func (r Result) Success() bool {
	return r.Call != nil && r.Call.Success && r.Put != nil && r.Put.Success
}

// Runner executes plans leg by leg. A nil logger discards output.
type Runner struct {
	exec   LegExecutor
	logger *log.Logger
}

func NewRunner(exec LegExecutor, logger *log.Logger) *Runner {
	if exec == nil {
		panic("strategy: nil executor")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Runner{exec: exec, logger: logger}
}

// Execute runs the call leg, then the put leg regardless of the call
// outcome. Both results are always populated; the error describes which
// legs failed to open.
func (r *Runner) Execute(ctx context.Context, plan Plan, req models.TradeRequest) (Result, error) {
	r.logger.Printf("Executing %s structure: call %s / put %s (%d lots %s)",
		plan.Asset, plan.Call.Symbol, plan.Put.Symbol, req.Lots, req.Direction)

	var res Result
	var callErr, putErr error
	res.Call, callErr = r.exec.ExecuteContract(ctx, req, selector.Selection{Contract: plan.Call})
	if callErr != nil {
		r.logger.Printf("Warning: call leg %s failed: %v", plan.Call.Symbol, callErr)
	}
	res.Put, putErr = r.exec.ExecuteContract(ctx, req, selector.Selection{Contract: plan.Put})
	if putErr != nil {
		r.logger.Printf("Warning: put leg %s failed: %v", plan.Put.Symbol, putErr)
	}

	switch {
	case callErr != nil && putErr != nil:
		return res, fmt.Errorf("call leg: %v; put leg: %w", callErr, putErr)
	case callErr != nil:
		return res, fmt.Errorf("call leg: %w", callErr)
	case putErr != nil:
		return res, fmt.Errorf("put leg: %w", putErr)
	}
	return res, nil
}
