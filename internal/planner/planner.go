// Package planner decides what one cycle should do to a market.
//
// The planner classifies the book into one of three phases and emits an
// action plan of creates and cancels in human units:
//
//   - MOVE: the testnet price has drifted too far from mainnet and the book
//     is deep enough to act on. Cancel the orders propping up the wrong
//     price and quote tightly on the correcting side.
//   - BUILD: the book is sparse. Lay down a 28-order staircase (14 per
//     side) across five spread tiers around the mainnet mid.
//   - MAINTAIN: the book is healthy. Top up 5–8 orders per side in a
//     rotating depth band and recycle 4–6 old orders.
//
// All randomness comes from the planner's own seeded RNG, so a planner
// replayed with the same seed and inputs produces the same plan.
package planner

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"injective-mm/pkg/types"
)

// Phase classification depth thresholds.
const (
	moveMinTotalOrders = 30 // MOVE needs this much book to act on
	buildTotalOrders   = 50 // below this the book counts as sparse
	buildNearOrders    = 20 // likewise for orders near the reference price
)

// buildTier is one band of the BUILD staircase.
type buildTier struct {
	minSpread float64
	maxSpread float64
	levels    int
	sizeMult  float64
}

var buildTiers = []buildTier{
	{0.0001, 0.001, 5, 0.8}, // micro: hug the mid
	{0.001, 0.005, 5, 1.3},  // tight
	{0.005, 0.015, 2, 2.0},  // medium
	{0.015, 0.03, 1, 3.0},   // wide
	{0.03, 0.05, 1, 4.5},    // deep
}

// maintainStages are the rotating MAINTAIN depth bands, cycled on
// successive MAINTAIN plans.
var maintainStages = [][2]float64{
	{0.005, 0.015},
	{0.015, 0.03},
	{0.03, 0.05},
	{0.05, 0.08},
}

// Planner produces action plans for one worker. Not safe for concurrent
// use; each worker owns exactly one.
type Planner struct {
	rng           *rand.Rand
	maxOpenOrders int
	stage         int
	logger        *slog.Logger
}

// New creates a planner with its own seeded RNG.
func New(seed int64, maxOpenOrders int, logger *slog.Logger) *Planner {
	return &Planner{
		rng:           rand.New(rand.NewSource(seed)),
		maxOpenOrders: maxOpenOrders,
		logger:        logger.With("component", "planner"),
	}
}

// Plan classifies the market state and produces this cycle's actions.
func (p *Planner) Plan(m *types.Market, sample types.PriceSample, snap types.OrderbookSnapshot, open []types.OpenOrder, params types.MarketParams) types.ActionPlan {
	if !sample.MainnetOK {
		return types.ActionPlan{
			Phase:     types.PhaseIdle,
			Rationale: "no mainnet reference price",
		}
	}

	gap := sample.Gap()
	threshold := decimal.New(int64(params.DeviationThresholdBps), -4)

	var plan types.ActionPlan
	switch {
	case gap.GreaterThan(threshold) && snap.TotalOrders >= moveMinTotalOrders:
		plan = p.planMove(m, sample, open, params)
	case snap.TotalOrders < buildTotalOrders || snap.OrdersNearPrice < buildNearOrders:
		plan = p.planBuild(m, sample, snap, open, params)
	default:
		plan = p.planMaintain(m, sample, open, params)
	}

	plan.Creates = p.filterCreates(m, plan.Creates, open)
	if plan.Phase == types.PhaseBuild {
		plan.Creates = p.capForBuild(plan.Creates, open)
	}
	return plan
}

// planMove shifts the testnet price toward mainnet: cancel the worker's
// orders farthest from the mainnet mid, quote tightly on the correcting
// side.
func (p *Planner) planMove(m *types.Market, sample types.PriceSample, open []types.OpenOrder, params types.MarketParams) types.ActionPlan {
	mid := sample.MainnetMid

	nCancels := 8 + p.rng.Intn(5) // 8..12
	nCreates := 6 + p.rng.Intn(5) // 6..10

	ranked := make([]types.OpenOrder, len(open))
	copy(ranked, open)
	sort.SliceStable(ranked, func(i, j int) bool {
		di := ranked[i].Price.Sub(mid).Abs()
		dj := ranked[j].Price.Sub(mid).Abs()
		if !di.Equal(dj) {
			return di.GreaterThan(dj)
		}
		return ranked[i].Quantity.GreaterThan(ranked[j].Quantity)
	})
	if nCancels > len(ranked) {
		nCancels = len(ranked)
	}
	cancels := make([]types.CancelRef, 0, nCancels)
	for _, o := range ranked[:nCancels] {
		cancels = append(cancels, types.CancelRef{OrderHash: o.OrderHash})
	}

	side := types.BUY
	if sample.TestnetMid.GreaterThan(mid) {
		side = types.SELL
	}

	creates := make([]types.CreateIntent, 0, nCreates)
	for i := 0; i < nCreates; i++ {
		spread := p.uniform(0.001, 0.010)
		size := p.uniform(0.5, 1.0)
		creates = append(creates, p.intent(m, side, mid, spread, params.BaseOrderSize, size))
	}

	return types.ActionPlan{
		Phase:   types.PhaseMove,
		Creates: creates,
		Cancels: cancels,
		Rationale: fmt.Sprintf("gap %s%% with %d own orders, correcting via %s",
			sample.Gap().Mul(decimal.NewFromInt(100)).StringFixed(2), len(open), side),
	}
}

// planBuild lays the five-tier staircase, 14 levels per side, symmetric
// around the mainnet mid. No cancels: the book is sparse by definition.
func (p *Planner) planBuild(m *types.Market, sample types.PriceSample, snap types.OrderbookSnapshot, open []types.OpenOrder, params types.MarketParams) types.ActionPlan {
	mid := sample.MainnetMid

	var creates []types.CreateIntent
	for _, tier := range buildTiers {
		for lvl := 0; lvl < tier.levels; lvl++ {
			spread := p.uniform(tier.minSpread, tier.maxSpread)
			buySize := tier.sizeMult * p.uniform(0.9, 1.1)
			sellSize := tier.sizeMult * p.uniform(0.9, 1.1)
			creates = append(creates,
				p.intent(m, types.BUY, mid, spread, params.BaseOrderSize, buySize),
				p.intent(m, types.SELL, mid, spread, params.BaseOrderSize, sellSize),
			)
		}
	}

	return types.ActionPlan{
		Phase:   types.PhaseBuild,
		Creates: creates,
		Rationale: fmt.Sprintf("sparse book: total=%d near=%d, laying %d-level staircase",
			snap.TotalOrders, snap.OrdersNearPrice, len(creates)),
	}
}

// planMaintain tops up depth in the current rotating stage band and
// recycles a few old orders, preferring ones outside the band.
func (p *Planner) planMaintain(m *types.Market, sample types.PriceSample, open []types.OpenOrder, params types.MarketParams) types.ActionPlan {
	mid := sample.MainnetMid
	band := maintainStages[p.stage%len(maintainStages)]
	stage := p.stage % len(maintainStages)
	p.stage++

	nPerSide := 5 + p.rng.Intn(4) // 5..8
	nCancels := 4 + p.rng.Intn(3) // 4..6

	creates := make([]types.CreateIntent, 0, 2*nPerSide)
	for i := 0; i < nPerSide; i++ {
		buySpread := p.uniform(band[0], band[1])
		sellSpread := p.uniform(band[0], band[1])
		buySize := p.uniform(0.2, 0.5)
		sellSize := p.uniform(0.2, 0.5)
		creates = append(creates,
			p.intent(m, types.BUY, mid, buySpread, params.BaseOrderSize, buySize),
			p.intent(m, types.SELL, mid, sellSpread, params.BaseOrderSize, sellSize),
		)
	}

	cancels := p.recycleCancels(open, mid, band, nCancels)

	return types.ActionPlan{
		Phase:   types.PhaseMaintain,
		Creates: creates,
		Cancels: cancels,
		Rationale: fmt.Sprintf("healthy book, stage %d band %.1f%%-%.1f%%",
			stage, band[0]*100, band[1]*100),
	}
}

// recycleCancels picks up to n of the worker's orders, outside-band orders
// first, preserving book order within each group.
func (p *Planner) recycleCancels(open []types.OpenOrder, mid decimal.Decimal, band [2]float64, n int) []types.CancelRef {
	lo := decimal.NewFromFloat(band[0])
	hi := decimal.NewFromFloat(band[1])

	var outside, inside []types.OpenOrder
	for _, o := range open {
		dist := o.Price.Sub(mid).Abs().Div(mid)
		if dist.LessThan(lo) || dist.GreaterThan(hi) {
			outside = append(outside, o)
		} else {
			inside = append(inside, o)
		}
	}

	ordered := append(outside, inside...)
	if n > len(ordered) {
		n = len(ordered)
	}
	cancels := make([]types.CancelRef, 0, n)
	for _, o := range ordered[:n] {
		cancels = append(cancels, types.CancelRef{OrderHash: o.OrderHash})
	}
	return cancels
}

// intent builds one create at mid shifted by spread on the given side,
// with price aligned inward to the price tick and quantity floored to the
// quantity tick.
func (p *Planner) intent(m *types.Market, side types.Side, mid decimal.Decimal, spread float64, baseSize decimal.Decimal, sizeMult float64) types.CreateIntent {
	factor := decimal.NewFromFloat(1 - spread)
	if side == types.SELL {
		factor = decimal.NewFromFloat(1 + spread)
	}
	price := alignPrice(m, side, mid.Mul(factor))

	qty := baseSize.Mul(decimal.NewFromFloat(sizeMult))
	qty = qty.Div(m.MinQuantityTick).Floor().Mul(m.MinQuantityTick)

	return types.CreateIntent{Side: side, Price: price, Quantity: qty}
}

// alignPrice snaps a human price onto the price tick grid, rounding inward.
func alignPrice(m *types.Market, side types.Side, price decimal.Decimal) decimal.Decimal {
	ticks := price.Div(m.MinPriceTick)
	if side == types.BUY {
		ticks = ticks.Floor()
	} else {
		ticks = ticks.Ceil()
	}
	return ticks.Mul(m.MinPriceTick)
}

// filterCreates drops duplicates of existing orders (same side, price
// within one tick) and creates that cannot clear the notional floor.
func (p *Planner) filterCreates(m *types.Market, creates []types.CreateIntent, open []types.OpenOrder) []types.CreateIntent {
	out := creates[:0]
	for _, c := range creates {
		if c.Quantity.IsZero() || !c.Price.IsPositive() {
			continue
		}
		if p.duplicatesOpen(m, c, open) {
			continue
		}
		if !m.MeetsNotional(m.ChainPrice(c.Price), m.ChainQuantity(c.Quantity)) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (p *Planner) duplicatesOpen(m *types.Market, c types.CreateIntent, open []types.OpenOrder) bool {
	for _, o := range open {
		if o.Side == c.Side && o.Price.Sub(c.Price).Abs().LessThan(m.MinPriceTick) {
			return true
		}
	}
	return false
}

// capForBuild trims BUILD creates from the widest tier inward so the
// projected open-order count stays within the wallet's limit.
func (p *Planner) capForBuild(creates []types.CreateIntent, open []types.OpenOrder) []types.CreateIntent {
	if p.maxOpenOrders <= 0 {
		return creates
	}
	for len(creates) > 0 && len(open)+len(creates) > p.maxOpenOrders {
		creates = creates[:len(creates)-1]
	}
	return creates
}

func (p *Planner) uniform(lo, hi float64) float64 {
	return lo + p.rng.Float64()*(hi-lo)
}
