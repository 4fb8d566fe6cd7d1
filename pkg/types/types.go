// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — market metadata, open
// orders, price samples, orderbook snapshots, and the planner's action plan.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// MarketType distinguishes spot pairs from perpetual derivatives. The two
// use different order messages and price scaling on chain.
type MarketType string

const (
	Spot       MarketType = "SPOT"
	Derivative MarketType = "DERIVATIVE"
)

// OrderState is the chain-side lifecycle state of an open order.
type OrderState string

const (
	OrderBooked  OrderState = "BOOKED"  // resting, unfilled
	OrderPartial OrderState = "PARTIAL" // partially filled
	OrderActive  OrderState = "ACTIVE"  // generic live state from some endpoints
)

// Phase is the planner's classification of what the current cycle should do.
type Phase string

const (
	PhaseMove     Phase = "MOVE"     // shift testnet price toward mainnet
	PhaseBuild    Phase = "BUILD"    // build a depth staircase on a sparse book
	PhaseMaintain Phase = "MAINTAIN" // top up and rotate existing depth
	PhaseIdle     Phase = "IDLE"     // nothing to do (e.g. no mainnet reference)
)

// WorkerState is the lifecycle state of a wallet worker.
type WorkerState string

const (
	WorkerStarting WorkerState = "STARTING"
	WorkerRunning  WorkerState = "RUNNING"
	WorkerCooling  WorkerState = "COOLING"
	WorkerStopping WorkerState = "STOPPING"
	WorkerStopped  WorkerState = "STOPPED"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market holds the static per-market metadata loaded from config. Immutable
// after load; shared read-only across workers.
//
// PriceScale is the exponent converting a human quote price into chain
// units: 12 for typical spot pairs (18 base decimals vs 6 quote decimals),
// 18 for derivatives quoted in 6-decimal USDT, 0 for same-decimal pairs.
// MinPriceTick and MinQuantityTick are human-unit increments. The planner
// aligns human prices to them and the tx builder aligns the human values
// again before shifting into chain units, so the chain grid is exactly the
// scaled image of the human grid whatever the tick size.
type Market struct {
	Symbol          string
	Type            MarketType
	TestnetMarketID string
	MainnetMarketID string
	PriceScale      int32
	BaseDecimals    int32
	QuoteDecimals   int32
	MinPriceTick    decimal.Decimal
	MinQuantityTick decimal.Decimal
	MinNotional     decimal.Decimal // chain units (post-scaling notional floor)
}

// ChainPrice converts a human price into chain units, without tick
// alignment. The tx builder aligns the result to MinPriceTick.
func (m *Market) ChainPrice(human decimal.Decimal) decimal.Decimal {
	return human.Shift(m.PriceScale)
}

// ChainQuantity converts a human base quantity into chain units.
func (m *Market) ChainQuantity(human decimal.Decimal) decimal.Decimal {
	return human.Shift(m.BaseDecimals)
}

// MeetsNotional reports whether a chain-unit price and quantity clear the
// market's minimum notional.
func (m *Market) MeetsNotional(chainPrice, chainQty decimal.Decimal) bool {
	return chainPrice.Mul(chainQty).GreaterThanOrEqual(m.MinNotional)
}

// MarketParams tunes one worker's behaviour on one market. Spread values
// are basis points of the mainnet mid.
type MarketParams struct {
	BaseOrderSize         decimal.Decimal // base-asset units per unit-size order
	BaseSpreadBps         int
	MinSpreadBps          int
	MaxSpreadBps          int
	DeviationThresholdBps int // gap above which MOVE engages (default 1500)
	PriceRefreshInterval  time.Duration
	CycleInterval         time.Duration
}

// ————————————————————————————————————————————————————————————————————————
// Per-cycle observations
// ————————————————————————————————————————————————————————————————————————

// PriceSample pairs the mainnet and testnet mid-prices observed at the top
// of a cycle. Either venue may be unavailable; the OK flags gate the value
// fields. A sample with MainnetOK == false causes the cycle to go idle.
type PriceSample struct {
	Market     string
	MainnetMid decimal.Decimal
	MainnetOK  bool
	TestnetMid decimal.Decimal
	TestnetOK  bool
	SampledAt  time.Time
}

// Gap returns |testnetMid − mainnetMid| / mainnetMid, or zero when either
// side is unavailable.
func (s PriceSample) Gap() decimal.Decimal {
	if !s.MainnetOK || !s.TestnetOK || s.MainnetMid.IsZero() {
		return decimal.Zero
	}
	return s.TestnetMid.Sub(s.MainnetMid).Abs().Div(s.MainnetMid)
}

// OrderbookSnapshot summarises testnet book depth for the planner.
// OrdersNearPrice counts book entries within ±5% of the reference price
// the snapshot was taken against.
type OrderbookSnapshot struct {
	Market          string
	BestBid         decimal.Decimal
	BestAsk         decimal.Decimal
	TotalOrders     int
	OrdersNearPrice int
	SampledAt       time.Time
}

// OpenOrder mirrors one of the wallet's resting orders on chain.
// Prices and quantities are human units.
type OpenOrder struct {
	OrderHash      string
	Side           Side
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	State          OrderState
}

// ————————————————————————————————————————————————————————————————————————
// Action plan
// ————————————————————————————————————————————————————————————————————————

// CreateIntent is one order the planner wants placed, in human units.
// The tx builder scales it into chain units and enforces tick/notional
// constraints.
type CreateIntent struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// CancelRef names one of the worker's own orders to cancel. Refs are
// advisory: a ref that no longer matches a live order is dropped from the
// batch rather than failing it.
type CancelRef struct {
	OrderHash string
}

// ActionPlan is the planner's output for one cycle.
type ActionPlan struct {
	Phase     Phase
	Creates   []CreateIntent
	Cancels   []CancelRef
	Rationale string
}

// Empty reports whether the plan carries no work.
func (p ActionPlan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Cancels) == 0
}

// ————————————————————————————————————————————————————————————————————————
// Worker status
// ————————————————————————————————————————————————————————————————————————

// CycleStats are monotonic per-worker counters, reported via WorkerStatus
// and logged at shutdown.
type CycleStats struct {
	Cycles     uint64 `json:"cycles"`
	Broadcasts uint64 `json:"broadcasts"`
	Creates    uint64 `json:"creates"`
	Cancels    uint64 `json:"cancels"`
	Retries    uint64 `json:"retries"`
	Trips      uint64 `json:"trips"`
	Fills      uint64 `json:"fills"`
}

// WorkerStatus is the supervisor-facing view of one worker.
type WorkerStatus struct {
	Wallet      string        `json:"wallet"`
	State       WorkerState   `json:"state"`
	Uptime      time.Duration `json:"uptime"`
	LastCycleAt time.Time     `json:"last_cycle_at"`
	LastError   string        `json:"last_error,omitempty"`
	Stats       CycleStats    `json:"stats"`
}
