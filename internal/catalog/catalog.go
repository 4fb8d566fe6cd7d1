// Package catalog turns validated config into immutable market metadata.
//
// The catalog is built once at startup and shared read-only across all
// workers. It answers two questions: what is market X (tick sizes,
// decimals, chain ids) and which markets does wallet Y trade.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"injective-mm/internal/config"
	"injective-mm/pkg/types"
)

var (
	ErrUnknownMarket = errors.New("unknown market")
	ErrUnknownWallet = errors.New("unknown wallet")
)

// Catalog holds parsed market metadata and the wallet → markets mapping.
type Catalog struct {
	markets map[string]*types.Market
	params  map[string]types.MarketParams
	wallets map[string][]string
}

// Load parses every configured market. Config must already be validated;
// parsing errors here indicate values that passed syntactic validation but
// are semantically unusable.
func Load(cfg *config.Config) (*Catalog, error) {
	c := &Catalog{
		markets: make(map[string]*types.Market, len(cfg.Markets)),
		params:  make(map[string]types.MarketParams, len(cfg.Markets)),
		wallets: make(map[string][]string, len(cfg.Wallets)),
	}

	for symbol, mc := range cfg.Markets {
		m, p, err := buildMarket(symbol, mc, cfg.Defaults)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", symbol, err)
		}
		c.markets[symbol] = m
		c.params[symbol] = p
	}

	for walletID, w := range cfg.Wallets {
		symbols := make([]string, len(w.Markets))
		copy(symbols, w.Markets)
		c.wallets[walletID] = symbols
	}

	return c, nil
}

func buildMarket(symbol string, mc config.MarketConfig, def config.TradingDefaults) (*types.Market, types.MarketParams, error) {
	priceTick, err := decimal.NewFromString(mc.MinPriceTick)
	if err != nil {
		return nil, types.MarketParams{}, fmt.Errorf("min_price_tick: %w", err)
	}
	qtyTick, err := decimal.NewFromString(mc.MinQuantityTick)
	if err != nil {
		return nil, types.MarketParams{}, fmt.Errorf("min_quantity_tick: %w", err)
	}
	notional, err := decimal.NewFromString(mc.MinNotional)
	if err != nil {
		return nil, types.MarketParams{}, fmt.Errorf("min_notional: %w", err)
	}
	baseSize, err := decimal.NewFromString(mc.BaseOrderSize)
	if err != nil {
		return nil, types.MarketParams{}, fmt.Errorf("base_order_size: %w", err)
	}

	m := &types.Market{
		Symbol:          symbol,
		Type:            types.MarketType(mc.Type),
		TestnetMarketID: mc.TestnetMarketID,
		MainnetMarketID: mc.MainnetMarketID,
		PriceScale:      mc.PriceScale,
		BaseDecimals:    mc.BaseDecimals,
		QuoteDecimals:   mc.QuoteDecimals,
		MinPriceTick:    priceTick,
		MinQuantityTick: qtyTick,
		MinNotional:     notional,
	}

	deviation := mc.DeviationThresholdBps
	if deviation == 0 {
		deviation = 1500
	}
	cycle := mc.CycleInterval
	if cycle == 0 {
		cycle = def.CycleInterval
	}
	if cycle == 0 {
		cycle = 15 * time.Second
	}

	p := types.MarketParams{
		BaseOrderSize:         baseSize,
		BaseSpreadBps:         mc.BaseSpreadBps,
		MinSpreadBps:          mc.MinSpreadBps,
		MaxSpreadBps:          mc.MaxSpreadBps,
		DeviationThresholdBps: deviation,
		PriceRefreshInterval:  def.PriceRefreshInterval,
		CycleInterval:         cycle,
	}

	return m, p, nil
}

// Lookup returns the market for a symbol.
func (c *Catalog) Lookup(symbol string) (*types.Market, error) {
	m, ok := c.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
	}
	return m, nil
}

// Params returns the trading parameters for a symbol.
func (c *Catalog) Params(symbol string) (types.MarketParams, error) {
	p, ok := c.params[symbol]
	if !ok {
		return types.MarketParams{}, fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
	}
	return p, nil
}

// EnabledMarkets returns the markets assigned to a wallet, in config order.
func (c *Catalog) EnabledMarkets(walletID string) ([]*types.Market, error) {
	symbols, ok := c.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, walletID)
	}
	markets := make([]*types.Market, 0, len(symbols))
	for _, symbol := range symbols {
		m, err := c.Lookup(symbol)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Symbols returns all configured market symbols.
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.markets))
	for s := range c.markets {
		out = append(out, s)
	}
	return out
}
