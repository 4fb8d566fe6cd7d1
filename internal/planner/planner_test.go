package planner

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"injective-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testMarket() *types.Market {
	return &types.Market{
		Symbol:          "INJ/USDT",
		Type:            types.Spot,
		TestnetMarketID: "0xtest",
		MainnetMarketID: "0xmain",
		PriceScale:      12,
		BaseDecimals:    18,
		QuoteDecimals:   6,
		MinPriceTick:    dec("0.0001"),
		MinQuantityTick: dec("0.01"),
		MinNotional:     dec("1000000"),
	}
}

func testParams() types.MarketParams {
	return types.MarketParams{
		BaseOrderSize:         dec("15"),
		BaseSpreadBps:         10,
		MinSpreadBps:          1,
		MaxSpreadBps:          100,
		DeviationThresholdBps: 1500,
		PriceRefreshInterval:  5 * time.Second,
		CycleInterval:         15 * time.Second,
	}
}

func sampleWith(mainnet, testnet string) types.PriceSample {
	s := types.PriceSample{
		Market:    "INJ/USDT",
		SampledAt: time.Now(),
	}
	if mainnet != "" {
		s.MainnetMid = dec(mainnet)
		s.MainnetOK = true
	}
	if testnet != "" {
		s.TestnetMid = dec(testnet)
		s.TestnetOK = true
	}
	return s
}

func snapWith(total, near int) types.OrderbookSnapshot {
	return types.OrderbookSnapshot{
		Market:          "INJ/USDT",
		TotalOrders:     total,
		OrdersNearPrice: near,
		SampledAt:       time.Now(),
	}
}

func ownOrdersAround(mid decimal.Decimal, n int) []types.OpenOrder {
	orders := make([]types.OpenOrder, 0, n)
	for i := 0; i < n; i++ {
		// Alternate sides, starting 2% out and stepping 1% further from
		// mid each order, clear of the tight MOVE quoting band.
		offset := decimal.NewFromFloat(0.02 + 0.01*float64(i))
		side := types.BUY
		price := mid.Mul(decimal.NewFromInt(1).Sub(offset))
		if i%2 == 1 {
			side = types.SELL
			price = mid.Mul(decimal.NewFromInt(1).Add(offset))
		}
		orders = append(orders, types.OpenOrder{
			OrderHash: fmt.Sprintf("0xhash%02d", i),
			Side:      side,
			Price:     price,
			Quantity:  dec("5"),
			State:     types.OrderBooked,
		})
	}
	return orders
}

func TestIdleWithoutMainnetReference(t *testing.T) {
	t.Parallel()
	p := New(42, 50, testLogger())

	plan := p.Plan(testMarket(), sampleWith("", "24.5"), snapWith(0, 0), nil, testParams())

	if plan.Phase != types.PhaseIdle {
		t.Fatalf("expected IDLE, got %s", plan.Phase)
	}
	if !plan.Empty() {
		t.Errorf("idle plan should be empty: %d creates, %d cancels", len(plan.Creates), len(plan.Cancels))
	}
}

func TestBuildOnEmptyBook(t *testing.T) {
	t.Parallel()
	p := New(42, 50, testLogger())
	m := testMarket()
	mid := dec("24.5623")

	plan := p.Plan(m, sampleWith("24.5623", ""), snapWith(0, 0), nil, testParams())

	if plan.Phase != types.PhaseBuild {
		t.Fatalf("expected BUILD, got %s", plan.Phase)
	}
	if len(plan.Creates) != 28 {
		t.Fatalf("expected 28 creates, got %d", len(plan.Creates))
	}
	if len(plan.Cancels) != 0 {
		t.Fatalf("expected 0 cancels, got %d", len(plan.Cancels))
	}

	buys, sells := 0, 0
	minSize := dec("15").Mul(dec("0.8")).Mul(dec("0.9"))
	maxSize := dec("15").Mul(dec("4.5")).Mul(dec("1.1"))
	for _, c := range plan.Creates {
		switch c.Side {
		case types.BUY:
			buys++
			if c.Price.GreaterThanOrEqual(mid) {
				t.Errorf("buy price %s not below mid", c.Price)
			}
		case types.SELL:
			sells++
			if c.Price.LessThanOrEqual(mid) {
				t.Errorf("sell price %s not above mid", c.Price)
			}
		}
		if !c.Price.Mod(m.MinPriceTick).IsZero() {
			t.Errorf("price %s not aligned to tick %s", c.Price, m.MinPriceTick)
		}
		if !c.Quantity.Mod(m.MinQuantityTick).IsZero() {
			t.Errorf("quantity %s not aligned to tick %s", c.Quantity, m.MinQuantityTick)
		}
		if c.Quantity.LessThan(minSize) || c.Quantity.GreaterThan(maxSize) {
			t.Errorf("quantity %s outside [%s, %s]", c.Quantity, minSize, maxSize)
		}
		// Deepest tier reaches at most 5% from mid.
		dist := c.Price.Sub(mid).Abs().Div(mid)
		if dist.GreaterThan(dec("0.051")) {
			t.Errorf("price %s is %s from mid, beyond deepest tier", c.Price, dist)
		}
	}
	if buys != 14 || sells != 14 {
		t.Errorf("expected 14 buys and 14 sells, got %d/%d", buys, sells)
	}
}

func TestBuildWhenNearCountLow(t *testing.T) {
	t.Parallel()
	p := New(42, 50, testLogger())

	// Gap ~10% is under the move threshold, and near < 20 forces BUILD.
	plan := p.Plan(testMarket(), sampleWith("24.5623", "22.1043"), snapWith(78, 12), nil, testParams())

	if plan.Phase != types.PhaseBuild {
		t.Fatalf("expected BUILD, got %s", plan.Phase)
	}
	if len(plan.Creates) != 28 || len(plan.Cancels) != 0 {
		t.Fatalf("expected 28 creates / 0 cancels, got %d/%d", len(plan.Creates), len(plan.Cancels))
	}
}

func TestMoveWhenGapLargeAndBookDeep(t *testing.T) {
	t.Parallel()
	p := New(42, 50, testLogger())
	mid := dec("24.5623")
	open := ownOrdersAround(mid, 15)

	// Gap ~18.6% with a deep book triggers MOVE.
	plan := p.Plan(testMarket(), sampleWith("24.5623", "20.00"), snapWith(50, 30), open, testParams())

	if plan.Phase != types.PhaseMove {
		t.Fatalf("expected MOVE, got %s", plan.Phase)
	}
	if len(plan.Creates) < 6 || len(plan.Creates) > 10 {
		t.Errorf("expected 6-10 creates, got %d", len(plan.Creates))
	}
	if len(plan.Cancels) < 8 || len(plan.Cancels) > 12 {
		t.Errorf("expected 8-12 cancels, got %d", len(plan.Cancels))
	}

	// Testnet below mainnet: every create buys the price back up.
	for _, c := range plan.Creates {
		if c.Side != types.BUY {
			t.Errorf("expected BUY, got %s at %s", c.Side, c.Price)
		}
		dist := mid.Sub(c.Price).Div(mid)
		if dist.LessThan(dec("0.0009")) || dist.GreaterThan(dec("0.0101")) {
			t.Errorf("create spread %s outside tight band", dist)
		}
	}

	// Cancels target the orders farthest from the mainnet mid. With 1%
	// steps, the farthest N are the highest-numbered hashes.
	chosen := make(map[string]bool, len(plan.Cancels))
	for _, ref := range plan.Cancels {
		chosen[ref.OrderHash] = true
	}
	for i := len(open) - len(plan.Cancels); i < len(open); i++ {
		if !chosen[open[i].OrderHash] {
			t.Errorf("expected farthest order %s to be cancelled", open[i].OrderHash)
		}
	}
}

func TestMoveDirectionSellWhenTestnetHigh(t *testing.T) {
	t.Parallel()
	p := New(42, 50, testLogger())
	open := ownOrdersAround(dec("24.5623"), 12)

	plan := p.Plan(testMarket(), sampleWith("24.5623", "30.00"), snapWith(60, 40), open, testParams())

	if plan.Phase != types.PhaseMove {
		t.Fatalf("expected MOVE, got %s", plan.Phase)
	}
	for _, c := range plan.Creates {
		if c.Side != types.SELL {
			t.Errorf("expected SELL, got %s", c.Side)
		}
	}
}

func TestMaintainStageZeroBand(t *testing.T) {
	t.Parallel()
	p := New(42, 50, testLogger())
	mid := dec("24.5623")

	// Park own orders far outside the stage-0 band so they are preferred
	// cancels and never collide with fresh creates.
	open := []types.OpenOrder{
		{OrderHash: "0xfar1", Side: types.BUY, Price: mid.Mul(dec("0.93")), Quantity: dec("5")},
		{OrderHash: "0xfar2", Side: types.SELL, Price: mid.Mul(dec("1.07")), Quantity: dec("5")},
		{OrderHash: "0xin1", Side: types.BUY, Price: mid.Mul(dec("0.99")), Quantity: dec("5")},
		{OrderHash: "0xin2", Side: types.SELL, Price: mid.Mul(dec("1.01")), Quantity: dec("5")},
		{OrderHash: "0xin3", Side: types.BUY, Price: mid.Mul(dec("0.992")), Quantity: dec("5")},
		{OrderHash: "0xin4", Side: types.SELL, Price: mid.Mul(dec("1.012")), Quantity: dec("5")},
	}

	plan := p.Plan(testMarket(), sampleWith("24.5623", "24.57"), snapWith(120, 80), open, testParams())

	if plan.Phase != types.PhaseMaintain {
		t.Fatalf("expected MAINTAIN, got %s", plan.Phase)
	}
	if len(plan.Creates) < 9 || len(plan.Creates) > 16 {
		t.Errorf("expected 9-16 creates, got %d", len(plan.Creates))
	}
	if len(plan.Cancels) < 4 || len(plan.Cancels) > 6 {
		t.Errorf("expected 4-6 cancels, got %d", len(plan.Cancels))
	}

	buys, sells := 0, 0
	for _, c := range plan.Creates {
		if c.Side == types.BUY {
			buys++
		} else {
			sells++
		}
		// First MAINTAIN cycle uses the 0.5%-1.5% band (small tolerance
		// for tick alignment).
		dist := c.Price.Sub(mid).Abs().Div(mid)
		if dist.LessThan(dec("0.0049")) || dist.GreaterThan(dec("0.0151")) {
			t.Errorf("create at distance %s outside stage-0 band", dist)
		}
	}
	// Dedupe against an open order may drop at most the odd create.
	if diff := buys - sells; diff < -1 || diff > 1 {
		t.Errorf("expected balanced sides, got %d buys / %d sells", buys, sells)
	}

	// Out-of-band orders are recycled first.
	if plan.Cancels[0].OrderHash != "0xfar1" || plan.Cancels[1].OrderHash != "0xfar2" {
		t.Errorf("expected out-of-band orders cancelled first, got %v", plan.Cancels[:2])
	}
}

func TestMaintainStageRotates(t *testing.T) {
	t.Parallel()
	p := New(42, 50, testLogger())
	mid := dec("24.5623")
	sample := sampleWith("24.5623", "24.57")
	snap := snapWith(120, 80)

	p.Plan(testMarket(), sample, snap, nil, testParams())
	second := p.Plan(testMarket(), sample, snap, nil, testParams())

	// Second MAINTAIN cycle moves to the 1.5%-3% band.
	for _, c := range second.Creates {
		dist := c.Price.Sub(mid).Abs().Div(mid)
		if dist.LessThan(dec("0.0149")) || dist.GreaterThan(dec("0.0301")) {
			t.Errorf("create at distance %s outside stage-1 band", dist)
		}
	}
}

func TestPlannerIsDeterministic(t *testing.T) {
	t.Parallel()
	m := testMarket()
	sample := sampleWith("24.5623", "20.00")
	snap := snapWith(50, 30)
	open := ownOrdersAround(dec("24.5623"), 15)

	a := New(42, 50, testLogger()).Plan(m, sample, snap, open, testParams())
	b := New(42, 50, testLogger()).Plan(m, sample, snap, open, testParams())

	if a.Phase != b.Phase {
		t.Fatalf("phases differ: %s vs %s", a.Phase, b.Phase)
	}
	if len(a.Creates) != len(b.Creates) || len(a.Cancels) != len(b.Cancels) {
		t.Fatalf("plan sizes differ: %d/%d vs %d/%d",
			len(a.Creates), len(a.Cancels), len(b.Creates), len(b.Cancels))
	}
	for i := range a.Creates {
		if a.Creates[i].Side != b.Creates[i].Side ||
			!a.Creates[i].Price.Equal(b.Creates[i].Price) ||
			!a.Creates[i].Quantity.Equal(b.Creates[i].Quantity) {
			t.Errorf("create %d differs: %+v vs %+v", i, a.Creates[i], b.Creates[i])
		}
	}
	for i := range a.Cancels {
		if a.Cancels[i] != b.Cancels[i] {
			t.Errorf("cancel %d differs: %v vs %v", i, a.Cancels[i], b.Cancels[i])
		}
	}
}

func TestBuildCappedByMaxOpenOrders(t *testing.T) {
	t.Parallel()
	p := New(42, 30, testLogger())
	open := ownOrdersAround(dec("24.5623"), 10)

	plan := p.Plan(testMarket(), sampleWith("24.5623", ""), snapWith(10, 5), open, testParams())

	if plan.Phase != types.PhaseBuild {
		t.Fatalf("expected BUILD, got %s", plan.Phase)
	}
	if got := len(open) + len(plan.Creates); got > 30 {
		t.Errorf("projected open orders %d exceed cap 30", got)
	}
	if len(plan.Creates) != 20 {
		t.Errorf("expected creates trimmed to 20, got %d", len(plan.Creates))
	}
}

func TestBuildDeduplicatesAgainstOpenOrders(t *testing.T) {
	t.Parallel()
	m := testMarket()
	sample := sampleWith("24.5623", "")
	snap := snapWith(0, 0)

	first := New(42, 50, testLogger()).Plan(m, sample, snap, nil, testParams())
	if len(first.Creates) != 28 {
		t.Fatalf("baseline plan has %d creates", len(first.Creates))
	}

	// Replay with an open order sitting exactly on one planned level.
	dup := first.Creates[3]
	open := []types.OpenOrder{{
		OrderHash: "0xdup",
		Side:      dup.Side,
		Price:     dup.Price,
		Quantity:  dup.Quantity,
	}}
	second := New(42, 50, testLogger()).Plan(m, sample, snap, open, testParams())

	if len(second.Creates) >= 28 {
		t.Fatalf("expected duplicate dropped, still %d creates", len(second.Creates))
	}
	for _, c := range second.Creates {
		if c.Side == dup.Side && c.Price.Sub(dup.Price).Abs().LessThan(m.MinPriceTick) {
			t.Errorf("duplicate create %s %s survived", c.Side, c.Price)
		}
	}
}

func TestSubNotionalCreatesDroppedSilently(t *testing.T) {
	t.Parallel()
	m := testMarket()
	m.MinNotional = dec("1e45") // nothing can clear this
	p := New(42, 50, testLogger())

	plan := p.Plan(m, sampleWith("24.5623", ""), snapWith(0, 0), nil, testParams())

	if plan.Phase != types.PhaseBuild {
		t.Fatalf("expected BUILD, got %s", plan.Phase)
	}
	if len(plan.Creates) != 0 {
		t.Errorf("expected all creates dropped, got %d", len(plan.Creates))
	}
}
