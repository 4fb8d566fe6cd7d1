package main

import (
	"errors"
	"testing"

	"injective-mm/internal/catalog"
	"injective-mm/internal/config"
	"injective-mm/internal/keys"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cfg := &config.Config{
		Markets: map[string]config.MarketConfig{
			"INJ/USDT": {
				TestnetMarketID: "0xaaa",
				MainnetMarketID: "0xbbb",
				Type:            "SPOT",
				BaseOrderSize:   "15",
				MinPriceTick:    "0.0001",
				MinQuantityTick: "0.01",
				MinNotional:     "1000000",
				BaseDecimals:    18,
				QuoteDecimals:   6,
				PriceScale:      12,
			},
		},
		Wallets: map[string]config.WalletEntry{
			"wallet_1": {Markets: []string{"INJ/USDT"}},
		},
	}
	cat, err := catalog.Load(cfg)
	if err != nil {
		t.Fatalf("catalog load: %v", err)
	}
	return cat
}

func TestWalletMarketsResolvesAssignments(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t)

	got, err := walletMarkets(cat, []keys.Wallet{{ID: "wallet_1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	markets := got["wallet_1"]
	if len(markets) != 1 || markets[0].Symbol != "INJ/USDT" {
		t.Errorf("wallet_1 markets = %v", markets)
	}
}

func TestWalletMarketsRejectsUnknownWallet(t *testing.T) {
	t.Parallel()
	cat := testCatalog(t)

	_, err := walletMarkets(cat, []keys.Wallet{{ID: "wallet_1"}, {ID: "wallet_9"}})
	if err == nil {
		t.Fatal("a wallet missing from the config must fail resolution, not idle")
	}
	if !errors.Is(err, catalog.ErrUnknownWallet) {
		t.Errorf("error = %v, want ErrUnknownWallet", err)
	}
}

func TestWorkerSeedStablePerWallet(t *testing.T) {
	t.Parallel()
	a := workerSeed(42, "wallet_1")
	b := workerSeed(42, "wallet_2")
	if a == b {
		t.Error("different wallets must not share an RNG stream")
	}
	if a != workerSeed(42, "wallet_1") {
		t.Error("seed for a wallet must be stable across calls")
	}
}
