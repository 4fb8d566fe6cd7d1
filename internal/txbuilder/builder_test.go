package txbuilder

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"injective-mm/internal/chain"
	"injective-mm/internal/keys"
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
		PriceScale:      12,
		BaseDecimals:    18,
		QuoteDecimals:   6,
		MinPriceTick:    dec("0.0001"),
		MinQuantityTick: dec("0.01"),
		MinNotional:     dec("1000000"),
	}
}

// flatMarket keeps scaling at identity (scale 0, decimals 0) so rounding
// behavior is visible directly in human numbers.
func flatMarket() *types.Market {
	return &types.Market{
		Symbol:          "FLAT/USD",
		Type:            types.Spot,
		TestnetMarketID: "0xflat",
		PriceScale:      0,
		BaseDecimals:    0,
		QuoteDecimals:   0,
		MinPriceTick:    dec("0.0001"),
		MinQuantityTick: dec("0.01"),
		MinNotional:     dec("0"),
	}
}

type fakeSigner struct {
	lastSeq   uint64
	lastBatch chain.BatchUpdate
	err       error
}

func (f *fakeSigner) BuildSignedBatch(_ keys.Wallet, seq uint64, batch chain.BatchUpdate) (chain.SignedTx, error) {
	if f.err != nil {
		return chain.SignedTx{}, f.err
	}
	f.lastSeq = seq
	f.lastBatch = batch
	return chain.SignedTx{Bytes: []byte("tx"), Sequence: seq}, nil
}

func testWallet() keys.Wallet {
	return keys.Wallet{
		ID:           "wallet_1",
		Address:      "0xabc",
		SubaccountID: "0xabc" + "000000000000000000000000000000000000000000000000",
	}
}

func TestScalePriceRoundsInward(t *testing.T) {
	t.Parallel()
	m := flatMarket()

	buy := ScalePrice(m, types.BUY, dec("1.00005"))
	if !buy.Equal(dec("1.0000")) {
		t.Errorf("BUY should floor to 1.0000, got %s", buy)
	}
	sell := ScalePrice(m, types.SELL, dec("1.00005"))
	if !sell.Equal(dec("1.0001")) {
		t.Errorf("SELL should ceil to 1.0001, got %s", sell)
	}

	// Already aligned prices pass through untouched.
	aligned := ScalePrice(m, types.BUY, dec("24.5623"))
	if !aligned.Equal(dec("24.5623")) {
		t.Errorf("aligned price changed to %s", aligned)
	}
}

// Ticks are human-unit grids, so alignment must hold even for ticks that
// are not powers of ten: the chain price has to be the scaled image of a
// tick-aligned human price.
func TestScalePriceNonDecimalTick(t *testing.T) {
	t.Parallel()
	m := testMarket()
	m.MinPriceTick = dec("0.0005")

	buy := ScalePrice(m, types.BUY, dec("24.5623"))
	if !buy.Equal(dec("24562000000000")) {
		t.Errorf("BUY should floor to 24.5620 scaled, got %s", buy)
	}
	sell := ScalePrice(m, types.SELL, dec("24.5623"))
	if !sell.Equal(dec("24562500000000")) {
		t.Errorf("SELL should ceil to 24.5625 scaled, got %s", sell)
	}
	if !buy.Shift(-m.PriceScale).Mod(m.MinPriceTick).IsZero() {
		t.Errorf("human image of %s not on the 0.0005 grid", buy)
	}
}

func TestScaleQuantityFloors(t *testing.T) {
	t.Parallel()
	m := flatMarket()

	qty := ScaleQuantity(m, dec("15.0199"))
	if !qty.Equal(dec("15.01")) {
		t.Errorf("quantity should floor to 15.01, got %s", qty)
	}
}

func TestScaleAppliesMarketDecimals(t *testing.T) {
	t.Parallel()
	m := testMarket()

	price, qty, err := Scale(m, types.CreateIntent{
		Side:     types.BUY,
		Price:    dec("24.5623"),
		Quantity: dec("15"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 24.5623 × 10^12, still aligned on the 0.0001 human tick grid.
	if !price.Equal(dec("24562300000000")) {
		t.Errorf("expected chain price 24562300000000, got %s", price)
	}
	if !price.Mod(m.MinPriceTick).IsZero() {
		t.Errorf("chain price %s not tick aligned", price)
	}
	if !qty.Equal(dec("15000000000000000000")) {
		t.Errorf("expected chain quantity 15e18, got %s", qty)
	}
}

func TestScaleRejectsZeroQuantity(t *testing.T) {
	t.Parallel()
	m := flatMarket()

	if _, _, err := Scale(m, types.CreateIntent{Side: types.BUY, Price: dec("1"), Quantity: dec("0.005")}); err == nil {
		t.Error("expected error for quantity below one tick")
	}
}

func TestScaleRejectsSubNotional(t *testing.T) {
	t.Parallel()
	m := flatMarket()
	m.MinNotional = dec("100")

	if _, _, err := Scale(m, types.CreateIntent{Side: types.BUY, Price: dec("1"), Quantity: dec("50")}); err == nil {
		t.Error("expected error for notional 50 below minimum 100")
	}
	if _, _, err := Scale(m, types.CreateIntent{Side: types.BUY, Price: dec("1"), Quantity: dec("150")}); err != nil {
		t.Errorf("notional 150 should pass: %v", err)
	}
}

func TestAssembleDropsBadCreatesKeepsRest(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&fakeSigner{}, testLogger())
	m := flatMarket()
	m.MinNotional = dec("100")

	plan := types.ActionPlan{
		Phase: types.PhaseMaintain,
		Creates: []types.CreateIntent{
			{Side: types.BUY, Price: dec("1"), Quantity: dec("200")},
			{Side: types.BUY, Price: dec("1"), Quantity: dec("10")}, // sub-notional
			{Side: types.SELL, Price: dec("1.1"), Quantity: dec("150")},
		},
	}
	batch, err := b.Assemble(m, "0xsub", plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Creates) != 2 {
		t.Fatalf("expected 2 surviving creates, got %d", len(batch.Creates))
	}
	for _, c := range batch.Creates {
		if c.Cid == "" {
			t.Error("create missing client order id")
		}
		if c.MarketID != m.TestnetMarketID || c.SubaccountID != "0xsub" {
			t.Errorf("create carries wrong routing: %+v", c)
		}
	}
}

func TestAssembleFiltersStaleCancels(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&fakeSigner{}, testLogger())

	open := []types.OpenOrder{
		{OrderHash: "0xlive1"},
		{OrderHash: "0xlive2"},
	}
	plan := types.ActionPlan{
		Phase: types.PhaseMove,
		Cancels: []types.CancelRef{
			{OrderHash: "0xlive1"},
			{OrderHash: "0xgone"},
			{OrderHash: "0xlive2"},
		},
	}
	batch, err := b.Assemble(flatMarket(), "0xsub", plan, open)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.CancelHashes) != 2 {
		t.Fatalf("expected 2 cancels, got %d", len(batch.CancelHashes))
	}
	if batch.CancelHashes[0] != "0xlive1" || batch.CancelHashes[1] != "0xlive2" {
		t.Errorf("unexpected cancel set: %v", batch.CancelHashes)
	}
}

func TestAssembleEmptyPlanIsNothingToDo(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&fakeSigner{}, testLogger())

	// All cancels stale, no creates.
	plan := types.ActionPlan{
		Phase:   types.PhaseMove,
		Cancels: []types.CancelRef{{OrderHash: "0xgone"}},
	}
	_, err := b.Assemble(flatMarket(), "0xsub", plan, nil)
	if !errors.Is(err, ErrNothingToDo) {
		t.Errorf("expected ErrNothingToDo, got %v", err)
	}
}

func TestBuildSignsWithGivenSequence(t *testing.T) {
	t.Parallel()
	signer := &fakeSigner{}
	b := NewBuilder(signer, testLogger())

	plan := types.ActionPlan{
		Phase:   types.PhaseBuild,
		Creates: []types.CreateIntent{{Side: types.BUY, Price: dec("1"), Quantity: dec("5")}},
	}
	tx, err := b.Build(flatMarket(), testWallet(), 17, plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Sequence != 17 || signer.lastSeq != 17 {
		t.Errorf("sequence not threaded through: tx=%d signer=%d", tx.Sequence, signer.lastSeq)
	}
	if len(signer.lastBatch.Creates) != 1 {
		t.Errorf("signer saw %d creates", len(signer.lastBatch.Creates))
	}
}

func TestBuildPropagatesSignerError(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&fakeSigner{err: errors.New("bad key")}, testLogger())

	plan := types.ActionPlan{
		Phase:   types.PhaseBuild,
		Creates: []types.CreateIntent{{Side: types.BUY, Price: dec("1"), Quantity: dec("5")}},
	}
	if _, err := b.Build(flatMarket(), testWallet(), 0, plan, nil); err == nil {
		t.Error("expected signer error to propagate")
	}
}
