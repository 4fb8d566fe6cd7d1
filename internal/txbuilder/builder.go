// Package txbuilder turns an action plan into one batched create-and-cancel
// transaction in chain units.
//
// Scaling rules:
//
//	chainPrice = round(priceHuman / minPriceTick) × minPriceTick × 10^priceScale
//	chainQty   = floor(qtyHuman / minQuantityTick) × minQuantityTick × 10^baseDecimals
//
// Ticks are human-unit increments; alignment happens on the human value and
// the aligned result is then shifted into chain units, so the chain grid is
// the scaled image of the human grid for any tick size.
// Price rounding is always inward — BUY floors, SELL ceils — so an order
// never lands more aggressive than the planner intended. Creates that scale
// to zero quantity or miss the minimum notional are dropped, not failed.
// Cancel refs are advisory: refs that no longer match a live order are
// filtered out. A plan that empties completely yields ErrNothingToDo and
// the worker skips the broadcast without consuming a sequence number.
package txbuilder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"injective-mm/internal/chain"
	"injective-mm/internal/keys"
	"injective-mm/pkg/types"
)

// ErrNothingToDo means the plan has no creates and no cancels left after
// filtering.
var ErrNothingToDo = errors.New("nothing to do")

// Signer produces a signed transaction from an assembled batch.
type Signer interface {
	BuildSignedBatch(w keys.Wallet, sequence uint64, batch chain.BatchUpdate) (chain.SignedTx, error)
}

// Builder assembles and signs batch update transactions.
type Builder struct {
	signer Signer
	logger *slog.Logger
}

// NewBuilder creates a builder over a signer.
func NewBuilder(signer Signer, logger *slog.Logger) *Builder {
	return &Builder{
		signer: signer,
		logger: logger.With("component", "txbuilder"),
	}
}

// Assemble scales the plan into chain units and filters invalid creates
// and stale cancels. Pure except for logging; no sequence involved.
func (b *Builder) Assemble(m *types.Market, subaccountID string, plan types.ActionPlan, open []types.OpenOrder) (chain.BatchUpdate, error) {
	batch := chain.BatchUpdate{
		MarketType:   m.Type,
		MarketID:     m.TestnetMarketID,
		SubaccountID: subaccountID,
	}

	for _, intent := range plan.Creates {
		price, qty, err := Scale(m, intent)
		if err != nil {
			b.logger.Debug("dropping create", "market", m.Symbol, "side", intent.Side,
				"price", intent.Price, "quantity", intent.Quantity, "reason", err)
			continue
		}
		batch.Creates = append(batch.Creates, chain.OrderData{
			MarketID:     m.TestnetMarketID,
			SubaccountID: subaccountID,
			Side:         intent.Side,
			Price:        chain.ToChainDec(price),
			Quantity:     chain.ToChainDec(qty),
			Cid:          uuid.NewString(),
		})
	}

	live := make(map[string]bool, len(open))
	for _, o := range open {
		live[o.OrderHash] = true
	}
	for _, ref := range plan.Cancels {
		if !live[ref.OrderHash] {
			b.logger.Debug("dropping stale cancel ref", "market", m.Symbol, "hash", ref.OrderHash)
			continue
		}
		batch.CancelHashes = append(batch.CancelHashes, ref.OrderHash)
	}

	if batch.Empty() {
		return chain.BatchUpdate{}, ErrNothingToDo
	}
	return batch, nil
}

// Build assembles the plan and signs it under the given sequence number.
func (b *Builder) Build(m *types.Market, w keys.Wallet, sequence uint64, plan types.ActionPlan, open []types.OpenOrder) (chain.SignedTx, error) {
	batch, err := b.Assemble(m, w.SubaccountID, plan, open)
	if err != nil {
		return chain.SignedTx{}, err
	}
	tx, err := b.signer.BuildSignedBatch(w, sequence, batch)
	if err != nil {
		return chain.SignedTx{}, fmt.Errorf("sign batch: %w", err)
	}
	return tx, nil
}

// Scale converts one create intent into chain units, enforcing tick
// alignment and the notional floor.
func Scale(m *types.Market, intent types.CreateIntent) (price, qty decimal.Decimal, err error) {
	price = ScalePrice(m, intent.Side, intent.Price)
	if !price.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price %s scales to zero", intent.Price)
	}

	qty = ScaleQuantity(m, intent.Quantity)
	if qty.IsZero() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quantity %s scales to zero", intent.Quantity)
	}

	if !m.MeetsNotional(price, qty) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("notional %s below minimum %s",
			price.Mul(qty), m.MinNotional)
	}
	return price, qty, nil
}

// ScalePrice aligns a human price to the market's price tick, rounding
// inward for the given side, then shifts the aligned value into chain
// units.
func ScalePrice(m *types.Market, side types.Side, human decimal.Decimal) decimal.Decimal {
	ticks := human.Div(m.MinPriceTick)
	if side == types.BUY {
		ticks = ticks.Floor()
	} else {
		ticks = ticks.Ceil()
	}
	return m.ChainPrice(ticks.Mul(m.MinPriceTick))
}

// ScaleQuantity aligns a human quantity down to the market's quantity
// tick, then shifts it into chain units.
func ScaleQuantity(m *types.Market, human decimal.Decimal) decimal.Decimal {
	ticks := human.Div(m.MinQuantityTick).Floor()
	return m.ChainQuantity(ticks.Mul(m.MinQuantityTick))
}
