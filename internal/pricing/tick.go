package pricing

import "math"

// RoundToTick rounds a price to the nearest multiple of the contract's tick
// size. A zero tick returns the price unchanged; a negative tick is treated
// as its absolute value. NaN and infinite prices pass through.
func RoundToTick(price, tick float64) float64 {
	if tick == 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	tick = math.Abs(tick)
	return math.Round(price/tick) * tick
}

// FloorToTick rounds a price down to the previous tick multiple. Used for
// sell-side limit prices so the order never asks above the intended level.
func FloorToTick(price, tick float64) float64 {
	if tick == 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	tick = math.Abs(tick)
	return math.Floor(price/tick) * tick
}

// CeilToTick rounds a price up to the next tick multiple. Used for buy-side
// limit prices so the order never bids below the intended level.
func CeilToTick(price, tick float64) float64 {
	if tick == 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	tick = math.Abs(tick)
	return math.Ceil(price/tick) * tick
}
