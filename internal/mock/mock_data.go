// Package mock generates deterministic exchange fixtures: MOVE contract
// catalogs, vanilla option chains, tickers, and fills. Two Providers
// built with the same seed produce identical data, so tests and the
// integration binary can assert exact values without touching the venue.
package mock

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/movetrader/movebot/internal/exchange"
	"github.com/movetrader/movebot/internal/models"
	"github.com/movetrader/movebot/internal/pricing"
)

// Reference spot levels the generated prices drift around.
const (
	baseSpotBTC     = 64000.0
	baseSpotETH     = 3200.0
	baseSpotUnknown = 1000.0

	// movePremiumRatio approximates a daily MOVE premium as a share of
	// the underlying spot.
	movePremiumRatio = 0.015
)

// Provider generates fixtures. Prices drift a little on every read, but
// the drift sequence is fixed by the seed, so a given call sequence is
// reproducible.
type Provider struct {
	rng    *rand.Rand
	spots  map[string]float64
	nextID int
}

// NewProvider creates a fixture generator for the given seed.
func NewProvider(seed int64) *Provider {
	return &Provider{
		rng: rand.New(rand.NewSource(seed)),
		spots: map[string]float64{
			"BTC": baseSpotBTC,
			"ETH": baseSpotETH,
		},
		nextID: 27001,
	}
}

// Spot returns the asset spot price, drifting it by up to 0.05% per read.
func (p *Provider) Spot(asset string) float64 {
	s, ok := p.spots[asset]
	if !ok {
		s = baseSpotUnknown
	}
	s += (p.rng.Float64() - 0.5) * s * 0.001
	p.spots[asset] = s
	return s
}

// MoveCatalog lists daily MOVE contracts from the given day onward. The
// nearest window is live with its strike assigned, the next is still in
// auction, and later windows have no strike yet.
func (p *Provider) MoveCatalog(asset string, from time.Time, days int) []models.Contract {
	spot := p.Spot(asset)
	increment := pricing.DefaultIncrement(asset)

	contracts := make([]models.Contract, 0, days)
	for i := 0; i < days; i++ {
		settlement := from.AddDate(0, 0, i)
		c := models.Contract{
			ID:              p.id(),
			Symbol:          fmt.Sprintf("%s-MOVE-%s", asset, settlement.Format("020106")),
			Asset:           asset,
			Category:        models.CategoryMove,
			State:           models.StateLive,
			SettlementTime:  settlement,
			StrikeIncrement: increment,
			TickSize:        tickSize(asset),
		}
		switch i {
		case 0:
			c.Strike = pricing.NearestStrike(spot, increment)
		case 1:
			c.State = models.StateAuction
			c.Strike = pricing.NearestStrike(spot, increment)
		}
		contracts = append(contracts, c)
	}
	return contracts
}

// OptionChain lists live calls and puts on one settlement: the
// at-the-money strike plus the given number of wings on each side.
func (p *Provider) OptionChain(asset string, settlement time.Time, wings int) []models.Contract {
	spot := p.Spot(asset)
	increment := pricing.DefaultIncrement(asset)
	atm := pricing.NearestStrike(spot, increment)

	var chain []models.Contract
	for i := -wings; i <= wings; i++ {
		strike := pricing.TargetStrike(atm, increment, i)
		for _, category := range []string{models.CategoryCall, models.CategoryPut} {
			prefix := "C"
			if category == models.CategoryPut {
				prefix = "P"
			}
			chain = append(chain, models.Contract{
				ID:              p.id(),
				Symbol:          fmt.Sprintf("%s-%s-%d-%s", prefix, asset, int(strike), settlement.Format("020106")),
				Asset:           asset,
				Category:        category,
				State:           models.StateLive,
				SettlementTime:  settlement,
				Strike:          strike,
				StrikeIncrement: increment,
				TickSize:        tickSize(asset),
			})
		}
	}
	return chain
}

// Ticker quotes a symbol. Symbols referencing a known asset price near
// the MOVE premium ratio of its spot; anything else quotes around 100.
func (p *Provider) Ticker(symbol string) *exchange.Ticker {
	var spot float64
	for _, part := range strings.Split(symbol, "-") {
		if s, ok := p.spots[part]; ok {
			spot = s
			break
		}
	}
	mark := 100.0
	if spot > 0 {
		mark = spot * movePremiumRatio
	}
	mark *= 1 + (p.rng.Float64()-0.5)*0.02
	return &exchange.Ticker{
		Symbol:    symbol,
		MarkPrice: mark,
		SpotPrice: spot,
		Close:     mark,
		Volume:    float64(p.rng.Intn(100000)),
	}
}

// Fill closes an order request at the quoted mark for its symbol,
// rounded to the contract tick.
func (p *Provider) Fill(req exchange.OrderRequest, id int64) *exchange.Order {
	price := pricing.RoundToTick(p.Ticker(req.ProductSymbol).MarkPrice, req.TickSize)
	return &exchange.Order{
		ID:               id,
		ClientOrderID:    req.ClientOrderID,
		ProductID:        req.ProductID,
		ProductSymbol:    req.ProductSymbol,
		Side:             req.Side,
		Size:             req.Size,
		UnfilledSize:     0,
		OrderType:        req.OrderType,
		StopOrderType:    req.StopOrderType,
		State:            exchange.OrderStateClosed,
		AverageFillPrice: price,
		LimitPrice:       req.LimitPrice,
		StopPrice:        req.StopPrice,
		CreatedAt:        time.Now(),
	}
}

func (p *Provider) id() int {
	id := p.nextID
	p.nextID++
	return id
}

func tickSize(asset string) float64 {
	switch asset {
	case "BTC":
		return 0.5
	case "ETH":
		return 0.05
	default:
		return 0.1
	}
}
