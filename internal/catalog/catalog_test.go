package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"injective-mm/internal/config"
	"injective-mm/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Defaults: config.TradingDefaults{
			CycleInterval:        15 * time.Second,
			PriceRefreshInterval: 5 * time.Second,
		},
		Wallets: map[string]config.WalletEntry{
			"wallet_1": {Markets: []string{"INJ/USDT"}},
			"wallet_2": {Markets: []string{"INJ/USDT", "INJ/USDT-PERP"}},
		},
		Markets: map[string]config.MarketConfig{
			"INJ/USDT": {
				TestnetMarketID:       "0xaaa",
				MainnetMarketID:       "0xbbb",
				Type:                  "SPOT",
				BaseOrderSize:         "15",
				DeviationThresholdBps: 1500,
				MinPriceTick:          "0.0001",
				MinQuantityTick:       "0.01",
				MinNotional:           "1000000",
				BaseDecimals:          18,
				QuoteDecimals:         6,
				PriceScale:            12,
			},
			"INJ/USDT-PERP": {
				TestnetMarketID: "0xccc",
				MainnetMarketID: "0xddd",
				Type:            "DERIVATIVE",
				BaseOrderSize:   "10",
				MinPriceTick:    "0.001",
				MinQuantityTick: "0.001",
				MinNotional:     "1000000",
				BaseDecimals:    18,
				QuoteDecimals:   6,
				PriceScale:      18,
				CycleInterval:   20 * time.Second,
			},
		},
	}
}

func TestLoadParsesMarkets(t *testing.T) {
	t.Parallel()
	cat, err := Load(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, err := cat.Lookup("INJ/USDT")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.Type != types.Spot || m.PriceScale != 12 {
		t.Errorf("market mangled: %+v", m)
	}
	if !m.MinPriceTick.Equal(decimal.RequireFromString("0.0001")) {
		t.Errorf("min price tick = %s", m.MinPriceTick)
	}

	perp, err := cat.Lookup("INJ/USDT-PERP")
	if err != nil {
		t.Fatalf("lookup perp: %v", err)
	}
	if perp.Type != types.Derivative {
		t.Errorf("perp type = %s", perp.Type)
	}
}

func TestParamsDefaultsAndOverrides(t *testing.T) {
	t.Parallel()
	cat, err := Load(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spot, err := cat.Params("INJ/USDT")
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if spot.CycleInterval != 15*time.Second {
		t.Errorf("spot cycle interval = %s, want default 15s", spot.CycleInterval)
	}
	if spot.DeviationThresholdBps != 1500 {
		t.Errorf("deviation = %d", spot.DeviationThresholdBps)
	}

	perp, err := cat.Params("INJ/USDT-PERP")
	if err != nil {
		t.Fatalf("params perp: %v", err)
	}
	if perp.CycleInterval != 20*time.Second {
		t.Errorf("perp cycle interval = %s, want override 20s", perp.CycleInterval)
	}
	// Unset deviation threshold falls back to 15%.
	if perp.DeviationThresholdBps != 1500 {
		t.Errorf("perp deviation = %d", perp.DeviationThresholdBps)
	}
}

func TestEnabledMarketsPerWallet(t *testing.T) {
	t.Parallel()
	cat, err := Load(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	one, err := cat.EnabledMarkets("wallet_1")
	if err != nil {
		t.Fatalf("wallet_1: %v", err)
	}
	if len(one) != 1 || one[0].Symbol != "INJ/USDT" {
		t.Errorf("wallet_1 markets: %v", one)
	}

	two, err := cat.EnabledMarkets("wallet_2")
	if err != nil {
		t.Fatalf("wallet_2: %v", err)
	}
	if len(two) != 2 || two[0].Symbol != "INJ/USDT" || two[1].Symbol != "INJ/USDT-PERP" {
		t.Errorf("wallet_2 markets out of order: %v", two)
	}

	if _, err := cat.EnabledMarkets("wallet_9"); !errors.Is(err, ErrUnknownWallet) {
		t.Errorf("expected ErrUnknownWallet, got %v", err)
	}
}

func TestLookupUnknownMarket(t *testing.T) {
	t.Parallel()
	cat, err := Load(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cat.Lookup("BTC/USDT"); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket, got %v", err)
	}
	if _, err := cat.Params("BTC/USDT"); !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket, got %v", err)
	}
}

func TestLoadRejectsUnparsableDecimal(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	mc := cfg.Markets["INJ/USDT"]
	mc.BaseOrderSize = "fifteen"
	cfg.Markets["INJ/USDT"] = mc

	if _, err := Load(cfg); err == nil {
		t.Error("expected error for unparsable base_order_size")
	}
}
