package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if BUY.Opposite() != SELL {
		t.Error("BUY.Opposite() should be SELL")
	}
	if SELL.Opposite() != BUY {
		t.Error("SELL.Opposite() should be BUY")
	}
}

func TestMarketChainConversions(t *testing.T) {
	t.Parallel()
	m := &Market{
		PriceScale:   12,
		BaseDecimals: 18,
	}

	if got := m.ChainPrice(dec("24.5623")); !got.Equal(dec("24562300000000")) {
		t.Errorf("ChainPrice = %s", got)
	}
	if got := m.ChainQuantity(dec("15")); !got.Equal(dec("15000000000000000000")) {
		t.Errorf("ChainQuantity = %s", got)
	}
}

func TestMeetsNotional(t *testing.T) {
	t.Parallel()
	m := &Market{MinNotional: dec("100")}

	if m.MeetsNotional(dec("10"), dec("9")) {
		t.Error("90 should miss a 100 floor")
	}
	if !m.MeetsNotional(dec("10"), dec("10")) {
		t.Error("exactly 100 should clear a 100 floor")
	}
}

func TestPriceSampleGap(t *testing.T) {
	t.Parallel()
	s := PriceSample{
		MainnetMid: dec("100"),
		MainnetOK:  true,
		TestnetMid: dec("85"),
		TestnetOK:  true,
		SampledAt:  time.Now(),
	}
	if got := s.Gap(); !got.Equal(dec("0.15")) {
		t.Errorf("Gap = %s, want 0.15", got)
	}

	// Symmetric: testnet above mainnet.
	s.TestnetMid = dec("115")
	if got := s.Gap(); !got.Equal(dec("0.15")) {
		t.Errorf("Gap = %s, want 0.15", got)
	}

	s.TestnetOK = false
	if !s.Gap().IsZero() {
		t.Error("Gap with missing testnet mid should be zero")
	}
	s.TestnetOK = true
	s.MainnetOK = false
	if !s.Gap().IsZero() {
		t.Error("Gap with missing mainnet mid should be zero")
	}
}

func TestActionPlanEmpty(t *testing.T) {
	t.Parallel()
	if !(ActionPlan{Phase: PhaseIdle}).Empty() {
		t.Error("plan without actions should be empty")
	}
	withCreate := ActionPlan{Creates: []CreateIntent{{Side: BUY, Price: dec("1"), Quantity: dec("1")}}}
	if withCreate.Empty() {
		t.Error("plan with a create is not empty")
	}
	withCancel := ActionPlan{Cancels: []CancelRef{{OrderHash: "0x1"}}}
	if withCancel.Empty() {
		t.Error("plan with a cancel is not empty")
	}
}
