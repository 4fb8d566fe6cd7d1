// Package config defines all configuration for the liquidity engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// overrides via INJ_* environment variables. Wallet private keys are NOT
// part of this file; they come from the environment via the keys package.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"injective-mm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool                    `mapstructure:"dry_run"`
	Network  NetworkConfig           `mapstructure:"network"`
	Defaults TradingDefaults         `mapstructure:"defaults"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Status   StatusConfig            `mapstructure:"status"`
	Wallets  map[string]WalletEntry  `mapstructure:"wallets"`
	Markets  map[string]MarketConfig `mapstructure:"markets"`
}

// NetworkConfig holds chain endpoints. The testnet indexer serves queries
// and broadcasts; the mainnet indexer is read-only and used as the price
// reference. StreamURL is the websocket endpoint for order/trade events.
type NetworkConfig struct {
	ChainID           string        `mapstructure:"chain_id"`
	TestnetIndexerURL string        `mapstructure:"testnet_indexer_url"`
	MainnetIndexerURL string        `mapstructure:"mainnet_indexer_url"`
	StreamURL         string        `mapstructure:"stream_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	BroadcastTimeout  time.Duration `mapstructure:"broadcast_timeout"`
}

// TradingDefaults apply to every (wallet, market) pair unless the market
// entry overrides them.
//
//   - CycleInterval: pause between trading cycles.
//   - PriceRefreshInterval: oracle cache TTL.
//   - MaintenanceInterval: how often the sequence controller refreshes and
//     checks drift between cycles.
//   - CooldownPeriod: sleep after the circuit breaker trips.
//   - RNGSeed: planner seed; 0 derives a seed per worker from the clock.
type TradingDefaults struct {
	CycleInterval        time.Duration `mapstructure:"cycle_interval"`
	PriceRefreshInterval time.Duration `mapstructure:"price_refresh_interval"`
	MaintenanceInterval  time.Duration `mapstructure:"maintenance_interval"`
	CooldownPeriod       time.Duration `mapstructure:"cooldown_period"`
	RNGSeed              int64         `mapstructure:"rng_seed"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the HTTP status server (health + worker status).
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// WalletEntry assigns markets to a wallet. The wallet's key material and
// enable flag live in the environment, keyed by the same wallet id.
type WalletEntry struct {
	Markets []string `mapstructure:"markets"`
}

// MarketConfig is the YAML shape of one market. Decimal-valued fields are
// strings so YAML float parsing never mangles them; the catalog parses
// them into decimal.Decimal.
type MarketConfig struct {
	TestnetMarketID       string        `mapstructure:"testnet_market_id"`
	MainnetMarketID       string        `mapstructure:"mainnet_market_id"`
	Type                  string        `mapstructure:"type"`
	BaseOrderSize         string        `mapstructure:"base_order_size"`
	BaseSpreadBps         int           `mapstructure:"base_spread_bps"`
	MinSpreadBps          int           `mapstructure:"min_spread_bps"`
	MaxSpreadBps          int           `mapstructure:"max_spread_bps"`
	DeviationThresholdBps int           `mapstructure:"deviation_threshold_bps"`
	MinPriceTick          string        `mapstructure:"min_price_tick"`
	MinQuantityTick       string        `mapstructure:"min_quantity_tick"`
	MinNotional           string        `mapstructure:"min_notional"`
	BaseDecimals          int32         `mapstructure:"base_decimals"`
	QuoteDecimals         int32         `mapstructure:"quote_decimals"`
	PriceScale            int32         `mapstructure:"price_scale"`
	CycleInterval         time.Duration `mapstructure:"cycle_interval"`
}

// Load reads config from a YAML file with env var overrides (INJ_ prefix,
// dots replaced by underscores, e.g. INJ_LOGGING_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("INJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if os.Getenv("INJ_DRY_RUN") == "true" || os.Getenv("INJ_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.canonicalizeSymbols()
	cfg.applyDefaults()

	return &cfg, nil
}

// canonicalizeSymbols rewrites market symbols to upper case. Viper
// lowercases map keys during unmarshal, so "INJ/USDT" arrives as
// "inj/usdt"; normalizing both the market keys and the wallet references
// keeps every lookup on one canonical form.
func (c *Config) canonicalizeSymbols() {
	markets := make(map[string]MarketConfig, len(c.Markets))
	for symbol, m := range c.Markets {
		markets[strings.ToUpper(symbol)] = m
	}
	c.Markets = markets

	for id, w := range c.Wallets {
		for i, symbol := range w.Markets {
			w.Markets[i] = strings.ToUpper(symbol)
		}
		c.Wallets[id] = w
	}
}

func (c *Config) applyDefaults() {
	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 10 * time.Second
	}
	if c.Network.BroadcastTimeout == 0 {
		c.Network.BroadcastTimeout = 10 * time.Second
	}
	if c.Defaults.CycleInterval == 0 {
		c.Defaults.CycleInterval = 15 * time.Second
	}
	if c.Defaults.PriceRefreshInterval == 0 {
		c.Defaults.PriceRefreshInterval = 5 * time.Second
	}
	if c.Defaults.MaintenanceInterval == 0 {
		c.Defaults.MaintenanceInterval = 30 * time.Second
	}
	if c.Defaults.CooldownPeriod == 0 {
		c.Defaults.CooldownPeriod = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Network.TestnetIndexerURL == "" {
		return fmt.Errorf("network.testnet_indexer_url is required")
	}
	if c.Network.MainnetIndexerURL == "" {
		return fmt.Errorf("network.mainnet_indexer_url is required")
	}
	if c.Network.ChainID == "" {
		return fmt.Errorf("network.chain_id is required")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market must be configured")
	}
	for symbol, m := range c.Markets {
		if err := m.validate(); err != nil {
			return fmt.Errorf("markets.%s: %w", symbol, err)
		}
	}
	for walletID, w := range c.Wallets {
		if len(w.Markets) == 0 {
			return fmt.Errorf("wallets.%s: markets list is empty", walletID)
		}
		for _, symbol := range w.Markets {
			if _, ok := c.Markets[symbol]; !ok {
				return fmt.Errorf("wallets.%s: unknown market %q", walletID, symbol)
			}
		}
	}
	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port must be in (0, 65535] when status.enabled")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.TestnetMarketID == "" {
		return fmt.Errorf("testnet_market_id is required")
	}
	if m.MainnetMarketID == "" {
		return fmt.Errorf("mainnet_market_id is required")
	}
	switch types.MarketType(m.Type) {
	case types.Spot, types.Derivative:
	default:
		return fmt.Errorf("type must be SPOT or DERIVATIVE, got %q", m.Type)
	}
	if m.BaseDecimals <= 0 {
		return fmt.Errorf("base_decimals must be a positive integer")
	}
	if m.QuoteDecimals <= 0 {
		return fmt.Errorf("quote_decimals must be a positive integer")
	}
	if m.PriceScale < 0 {
		return fmt.Errorf("price_scale must be >= 0")
	}
	for name, raw := range map[string]string{
		"base_order_size":   m.BaseOrderSize,
		"min_price_tick":    m.MinPriceTick,
		"min_quantity_tick": m.MinQuantityTick,
		"min_notional":      m.MinNotional,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s: not a decimal: %q", name, raw)
		}
		if !d.IsPositive() {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if m.MinSpreadBps < 0 || m.MaxSpreadBps < m.MinSpreadBps {
		return fmt.Errorf("spread bps range invalid: min=%d max=%d", m.MinSpreadBps, m.MaxSpreadBps)
	}
	return nil
}
