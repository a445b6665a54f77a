// Package selector picks exactly one MOVE contract from the venue catalog
// for a trade request: filter by asset and lifecycle state, optionally pin
// a settlement date via an expiry code, then resolve the strike offset
// against spot. Selection is deterministic for a given catalog snapshot and
// spot price.
package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/pricing"
)

var (
	// ErrNoContractsFound means the catalog has no tradeable contract for
	// the requested asset (or none on the requested settlement date).
	ErrNoContractsFound = errors.New("no contracts found")

	// ErrSpotPriceUnavailable marks a failed spot lookup. Selection does
	// not fail on it; the offset is abandoned and the nearest expiry is
	// chosen instead.
	ErrSpotPriceUnavailable = errors.New("spot price unavailable")

	// ErrNoStrikeData means every candidate lacks a strike, which happens
	// in the window before the venue assigns strikes for a settlement.
	ErrNoStrikeData = errors.New("no strike data available")
)

// FallbackKind records how far a selection drifted from what was asked.
type FallbackKind string

const (
	// FallbackNone is an exact selection.
	FallbackNone FallbackKind = ""
	// FallbackAuction means no live contract existed and an auction-state
	// contract was chosen instead.
	FallbackAuction FallbackKind = "auction"
	// FallbackDegradedSpot means the spot lookup failed, so the strike
	// offset was ignored and the nearest expiry selected.
	FallbackDegradedSpot FallbackKind = "degraded_spot"
	// FallbackClampedLow and FallbackClampedHigh mean the target strike
	// fell outside the listed range and snapped to its boundary.
	FallbackClampedLow  FallbackKind = "clamped_low"
	FallbackClampedHigh FallbackKind = "clamped_high"
)

// Selection is the outcome of one selector run. TargetStrike and SpotPrice
// are zero on the offset-0 and fallback paths, where no strike arithmetic
// happens.
type Selection struct {
	Contract     models.Contract
	Fallback     FallbackKind
	SpotPrice    float64
	TargetStrike float64
}

// Exact reports whether the selection honored the request without any
// fallback substitution.
func (s Selection) Exact() bool {
	return s.Fallback == FallbackNone
}

// CatalogSource lists the venue's contracts for one category.
type CatalogSource interface {
	ListContracts(ctx context.Context, category string) ([]models.Contract, error)
}

// SpotSource resolves the current spot index price for an asset.
type SpotSource interface {
	GetSpotPrice(ctx context.Context, asset string) (float64, error)
}

// Selector resolves trade requests against the live catalog.
type Selector struct {
	catalog CatalogSource
	spot    SpotSource
	logger  *log.Logger
	now     func() time.Time
}

// New creates a Selector. A nil logger discards output.
func New(catalog CatalogSource, spot SpotSource, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Selector{
		catalog: catalog,
		spot:    spot,
		logger:  logger,
		now:     time.Now,
	}
}

// Select picks one contract for the asset. Offset 0 means the nearest
// expiry at whatever strike it carries; a non-zero offset targets the
// strike that many increments away from at-the-money. A non-empty
// expiryCode restricts candidates to that settlement date first.
func (s *Selector) Select(ctx context.Context, asset string, offset int, expiryCode string) (Selection, error) {
	contracts, err := s.catalog.ListContracts(ctx, models.CategoryMove)
	if err != nil {
		return Selection{}, fmt.Errorf("listing %s contracts: %w", models.CategoryMove, err)
	}

	candidates := make([]models.Contract, 0, len(contracts))
	for _, c := range contracts {
		if c.Asset == asset && c.Category == models.CategoryMove && c.Tradeable() {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("%w: asset %s", ErrNoContractsFound, asset)
	}

	if expiryCode != "" {
		settlement, err := ResolveExpiry(expiryCode, s.now())
		if err != nil {
			return Selection{}, err
		}
		filtered := candidates[:0]
		for _, c := range candidates {
			if sameSettlementDay(c.SettlementTime, settlement) {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			return Selection{}, fmt.Errorf("%w: asset %s has no contract settling %s",
				ErrNoContractsFound, asset, settlement.Format("2006-01-02"))
		}
		candidates = filtered
	}

	// Ties on settlement keep catalog order so reruns over the same
	// snapshot pick the same contract.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SettlementTime.Before(candidates[j].SettlementTime)
	})

	if offset == 0 {
		return s.selectNearest(asset, candidates), nil
	}

	spot, err := s.spot.GetSpotPrice(ctx, asset)
	if err == nil && spot <= 0 {
		err = ErrSpotPriceUnavailable
	}
	if err != nil {
		s.logger.Printf("Warning: spot price unavailable for %s, ignoring strike offset %+d: %v", asset, offset, err)
		sel := s.selectNearest(asset, candidates)
		sel.Fallback = FallbackDegradedSpot
		return sel, nil
	}

	return s.selectByStrike(asset, candidates, spot, offset)
}

// selectNearest implements offset-0 selection: earliest settlement, live
// contracts preferred over auction.
func (s *Selector) selectNearest(asset string, sorted []models.Contract) Selection {
	for _, c := range sorted {
		if c.State == models.StateLive {
			return Selection{Contract: c}
		}
	}
	c := sorted[0]
	s.logger.Printf("Warning: no live %s contracts, selecting auction contract %s settling %s",
		asset, c.Symbol, c.SettlementTime.Format(time.RFC3339))
	return Selection{Contract: c, Fallback: FallbackAuction}
}

// selectByStrike narrows to the nearest settlement and picks the contract
// whose strike is closest to the offset target.
func (s *Selector) selectByStrike(asset string, sorted []models.Contract, spot float64, offset int) (Selection, error) {
	increment := sorted[0].StrikeIncrement
	if increment <= 0 {
		increment = pricing.DefaultIncrement(asset)
	}
	atm := pricing.NearestStrike(spot, increment)
	target := pricing.TargetStrike(atm, increment, offset)

	nearest := sorted[0].SettlementTime
	best := -1
	var lowest, highest float64
	for i, c := range sorted {
		if !c.SettlementTime.Equal(nearest) {
			break
		}
		if !c.HasStrike() {
			continue
		}
		if best < 0 {
			best, lowest, highest = i, c.Strike, c.Strike
			continue
		}
		if c.Strike < lowest {
			lowest = c.Strike
		}
		if c.Strike > highest {
			highest = c.Strike
		}
		if absDiff(c.Strike, target) < absDiff(sorted[best].Strike, target) {
			best = i
		}
	}
	if best < 0 {
		return Selection{}, fmt.Errorf("%w: asset %s settlement %s",
			ErrNoStrikeData, asset, nearest.Format(time.RFC3339))
	}

	sel := Selection{
		Contract:     sorted[best],
		SpotPrice:    spot,
		TargetStrike: target,
	}
	switch {
	case target < lowest:
		sel.Fallback = FallbackClampedLow
		s.logger.Printf("Warning: target strike %.0f below lowest listed %s strike %.0f, clamping", target, asset, lowest)
	case target > highest:
		sel.Fallback = FallbackClampedHigh
		s.logger.Printf("Warning: target strike %.0f above highest listed %s strike %.0f, clamping", target, asset, highest)
	}
	return sel, nil
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
