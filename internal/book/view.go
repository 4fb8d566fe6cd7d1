// Package book provides the per-cycle view of testnet orderbook depth and
// the worker's own open orders.
//
// The view is a thin read layer over the chain client: it does not cache.
// Each cycle takes one Snapshot and one OwnOrders read; both may fail
// transiently, in which case the worker skips the cycle rather than acting
// on stale data.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"injective-mm/internal/chain"
	"injective-mm/pkg/types"
)

// nearBandPct is the relative distance from the reference price within
// which a book entry counts as "near".
var nearBandPct = decimal.NewFromFloat(0.05)

// OrderSource is the slice of the chain client the view needs.
type OrderSource interface {
	Orderbook(ctx context.Context, m *types.Market, marketID string) (chain.Book, error)
	OpenOrders(ctx context.Context, m *types.Market, subaccountID string) ([]types.OpenOrder, error)
}

// View reads testnet book state for one or more markets.
type View struct {
	client OrderSource
	logger *slog.Logger
}

// NewView creates a view over the testnet client.
func NewView(client OrderSource, logger *slog.Logger) *View {
	return &View{
		client: client,
		logger: logger.With("component", "book-view"),
	}
}

// Snapshot summarises current depth. OrdersNearPrice counts entries within
// ±5% of refPrice; with a zero refPrice the near count is zero.
func (v *View) Snapshot(ctx context.Context, m *types.Market, refPrice decimal.Decimal) (types.OrderbookSnapshot, error) {
	b, err := v.client.Orderbook(ctx, m, m.TestnetMarketID)
	if err != nil {
		return types.OrderbookSnapshot{}, fmt.Errorf("snapshot %s: %w", m.Symbol, err)
	}

	snap := types.OrderbookSnapshot{
		Market:      m.Symbol,
		TotalOrders: len(b.Buys) + len(b.Sells),
		SampledAt:   time.Now(),
	}
	if bid, ok := b.BestBid(); ok {
		snap.BestBid = bid
	}
	if ask, ok := b.BestAsk(); ok {
		snap.BestAsk = ask
	}

	if refPrice.IsPositive() {
		for _, lvl := range b.Buys {
			if withinBand(lvl.Price, refPrice) {
				snap.OrdersNearPrice++
			}
		}
		for _, lvl := range b.Sells {
			if withinBand(lvl.Price, refPrice) {
				snap.OrdersNearPrice++
			}
		}
	}

	return snap, nil
}

// OwnOrders returns the wallet's live orders on the market.
func (v *View) OwnOrders(ctx context.Context, m *types.Market, subaccountID string) ([]types.OpenOrder, error) {
	orders, err := v.client.OpenOrders(ctx, m, subaccountID)
	if err != nil {
		return nil, fmt.Errorf("own orders %s: %w", m.Symbol, err)
	}
	return orders, nil
}

func withinBand(price, ref decimal.Decimal) bool {
	return price.Sub(ref).Abs().Div(ref).LessThanOrEqual(nearBandPct)
}
