// Package oracle samples mainnet and testnet mid-prices with a short TTL
// cache.
//
// Mid selection prefers the venue's last trade price when it is coherent
// with the book (within 5% of (bestBid+bestAsk)/2); otherwise the book mid
// is used; a venue with neither yields ErrUnavailable. On a fetch error a
// cached sample may be served, but never one older than twice the TTL —
// beyond that the oracle reports ErrUnavailable rather than guessing. The
// oracle does not retry; callers decide what an unavailable price means.
package oracle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"injective-mm/internal/chain"
	"injective-mm/pkg/types"
)

// ErrUnavailable means no usable price could be produced for the venue.
var ErrUnavailable = errors.New("price unavailable")

// coherenceThreshold is the max relative distance between the last trade
// and the book mid for the trade price to be trusted.
var coherenceThreshold = decimal.NewFromFloat(0.05)

// QuoteSource is the slice of the chain client the oracle needs.
type QuoteSource interface {
	Orderbook(ctx context.Context, m *types.Market, marketID string) (chain.Book, error)
	LastTradePrice(ctx context.Context, m *types.Market, marketID string) (decimal.Decimal, error)
}

type cacheEntry struct {
	mid       decimal.Decimal
	fetchedAt time.Time
}

// Oracle caches mid-prices per (venue, symbol). Safe for concurrent use
// and shareable read-only across workers.
type Oracle struct {
	testnet QuoteSource
	mainnet QuoteSource
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	logger *slog.Logger
}

// New creates an oracle over the two venues. ttl is the cache lifetime
// (the price refresh interval).
func New(testnet, mainnet QuoteSource, ttl time.Duration, logger *slog.Logger) *Oracle {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Oracle{
		testnet: testnet,
		mainnet: mainnet,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
		logger:  logger.With("component", "oracle"),
	}
}

// MainnetMid returns the mainnet mid-price for a market.
func (o *Oracle) MainnetMid(ctx context.Context, m *types.Market) (decimal.Decimal, error) {
	return o.mid(ctx, o.mainnet, m, m.MainnetMarketID, "mainnet")
}

// TestnetMid returns the testnet mid-price for a market.
func (o *Oracle) TestnetMid(ctx context.Context, m *types.Market) (decimal.Decimal, error) {
	return o.mid(ctx, o.testnet, m, m.TestnetMarketID, "testnet")
}

func (o *Oracle) mid(ctx context.Context, src QuoteSource, m *types.Market, marketID, venue string) (decimal.Decimal, error) {
	key := venue + "/" + m.Symbol

	o.mu.Lock()
	entry, ok := o.cache[key]
	o.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < o.ttl {
		return entry.mid, nil
	}

	mid, err := o.fetchMid(ctx, src, m, marketID)
	if err != nil {
		// Serve the cached value through one grace interval, then give up.
		if ok && time.Since(entry.fetchedAt) <= 2*o.ttl {
			return entry.mid, nil
		}
		o.logger.Debug("price fetch failed", "venue", venue, "market", m.Symbol, "error", err)
		return decimal.Zero, ErrUnavailable
	}

	o.mu.Lock()
	o.cache[key] = cacheEntry{mid: mid, fetchedAt: time.Now()}
	o.mu.Unlock()

	return mid, nil
}

// fetchMid applies the mid selection rule against fresh venue data.
func (o *Oracle) fetchMid(ctx context.Context, src QuoteSource, m *types.Market, marketID string) (decimal.Decimal, error) {
	book, err := src.Orderbook(ctx, m, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	bookMid, haveBookMid := book.Mid()

	lastTrade, tradeErr := src.LastTradePrice(ctx, m, marketID)
	haveTrade := tradeErr == nil && lastTrade.IsPositive()

	switch {
	case haveTrade && haveBookMid:
		dist := lastTrade.Sub(bookMid).Abs().Div(bookMid)
		if dist.LessThanOrEqual(coherenceThreshold) {
			return lastTrade, nil
		}
		return bookMid, nil
	case haveBookMid:
		return bookMid, nil
	case haveTrade:
		return lastTrade, nil
	default:
		return decimal.Zero, ErrUnavailable
	}
}
