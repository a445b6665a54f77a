// Package pricing implements the pure price and strike derivations shared by
// every strategy: at-the-money strike rounding, offset strikes, and
// stop-loss/target exit levels computed from percentage offsets. Nothing in
// this package performs I/O.
package pricing

import (
	"math"

	"github.com/movetrader/movebot/internal/models"
)

// Per-asset strike increments used when the catalog does not report one.
const (
	incrementBTC     = 200
	incrementETH     = 20
	incrementDefault = 100
)

// DefaultIncrement returns the strike increment for an asset.
func DefaultIncrement(asset string) float64 {
	switch asset {
	case "BTC":
		return incrementBTC
	case "ETH":
		return incrementETH
	default:
		return incrementDefault
	}
}

// NearestStrike rounds spot to the nearest multiple of increment. A spot
// exactly halfway between two strikes resolves to the even multiple, so
// NearestStrike(65250, 100) is 65200, not 65300. Non-positive increments
// return spot unchanged.
func NearestStrike(spot, increment float64) float64 {
	if increment <= 0 {
		return spot
	}
	return math.RoundToEven(spot/increment) * increment
}

// TargetStrike offsets an at-the-money strike by a signed number of whole
// increments. Offset 0 returns the at-the-money strike itself.
func TargetStrike(atmStrike, increment float64, offset int) float64 {
	return atmStrike + float64(offset)*increment
}

// ExitPair is one armed protective side: the trigger price that fires the
// order and the limit price bounding the worst acceptable fill once fired.
// The limit is always the less favorable of the two.
type ExitPair struct {
	Trigger float64
	Limit   float64
}

// ExitLevels carries the derived protective prices for one entry. A nil
// side means its percentages were not supplied and no order should be
// placed for it.
type ExitLevels struct {
	StopLoss *ExitPair
	Target   *ExitPair
}

// ExitPrices derives absolute stop-loss and target prices from percentage
// offsets of the entry price. For a long position the stop loss sits below
// entry and the target above; a short position inverts all four signs,
// since its loss is a premium rise and its profit a premium fall. Each side
// is computed only when its percentage pair is present.
func ExitPrices(entry float64, direction models.Direction, stopLoss, target *models.ExitPercents) ExitLevels {
	var levels ExitLevels
	if stopLoss != nil {
		levels.StopLoss = &ExitPair{
			Trigger: offsetByPercent(entry, direction, -stopLoss.TriggerPct),
			Limit:   offsetByPercent(entry, direction, -stopLoss.LimitPct),
		}
	}
	if target != nil {
		levels.Target = &ExitPair{
			Trigger: offsetByPercent(entry, direction, target.TriggerPct),
			Limit:   offsetByPercent(entry, direction, target.LimitPct),
		}
	}
	return levels
}

// offsetByPercent moves entry by pct percent in profit terms: positive pct
// is favorable movement, negative is adverse. Long favors a rise, short a
// fall.
func offsetByPercent(entry float64, direction models.Direction, pct float64) float64 {
	if direction == models.Short {
		pct = -pct
	}
	return entry * (1 + pct/100)
}

// StraddleStrike returns the single strike shared by both legs of a
// straddle: spot rounded to the nearest strike, shifted by the offset.
func StraddleStrike(spot, increment float64, offset int) float64 {
	return TargetStrike(NearestStrike(spot, increment), increment, offset)
}

// OTMStrikes returns the out-of-the-money call and put strikes for a
// strangle, offset symmetrically from spot by a price distance and rounded
// to the strike grid.
func OTMStrikes(spot, increment, offset float64) (callStrike, putStrike float64) {
	callStrike = NearestStrike(spot+offset, increment)
	putStrike = NearestStrike(spot-offset, increment)
	return callStrike, putStrike
}

// PercentOffset converts a percentage of spot into a price distance, the
// usual way strangle wings are specified.
func PercentOffset(spot, pct float64) float64 {
	return spot * pct / 100
}
