package chain

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"injective-mm/pkg/types"
)

// Level is one aggregated orderbook entry, in human units.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Book is a full orderbook: buys sorted best (highest) first, sells sorted
// best (lowest) first, as returned by the indexer.
type Book struct {
	Buys      []Level
	Sells     []Level
	SampledAt time.Time
}

// BestBid returns the highest buy price, if any.
func (b Book) BestBid() (decimal.Decimal, bool) {
	if len(b.Buys) == 0 {
		return decimal.Zero, false
	}
	return b.Buys[0].Price, true
}

// BestAsk returns the lowest sell price, if any.
func (b Book) BestAsk() (decimal.Decimal, bool) {
	if len(b.Sells) == 0 {
		return decimal.Zero, false
	}
	return b.Sells[0].Price, true
}

// Mid returns (bestBid+bestAsk)/2 when both sides are present.
func (b Book) Mid() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// OrderData is one order in chain units, ready for a batch update message.
// Prices and quantities use the chain's fixed-point decimal representation.
type OrderData struct {
	MarketID     string            `json:"market_id"`
	SubaccountID string            `json:"subaccount_id"`
	Side         types.Side        `json:"side"`
	Price        sdkmath.LegacyDec `json:"price"`
	Quantity     sdkmath.LegacyDec `json:"quantity"`
	Cid          string            `json:"cid"`
}

// BatchUpdate is the payload of one batched create-and-cancel transaction.
// A batch targets a single market; the market type selects the spot or
// derivative message on the wire.
type BatchUpdate struct {
	MarketType   types.MarketType `json:"market_type"`
	MarketID     string           `json:"market_id"`
	SubaccountID string           `json:"subaccount_id"`
	Creates      []OrderData      `json:"creates"`
	CancelHashes []string         `json:"cancel_hashes"`
}

// Empty reports whether the batch carries no mutations.
func (b BatchUpdate) Empty() bool {
	return len(b.Creates) == 0 && len(b.CancelHashes) == 0
}

// SignedTx is an encoded, signed transaction ready to broadcast.
type SignedTx struct {
	Bytes     []byte
	Signature []byte
	Sequence  uint64
}

// TxResult is the chain's response to a broadcast. Code 0 means accepted
// into the mempool; anything else carries the rejection reason in RawLog.
type TxResult struct {
	OK     bool
	Code   uint32
	TxHash string
	RawLog string
}

// ————————————————————————————————————————————————————————————————————————
// Indexer wire formats
// ————————————————————————————————————————————————————————————————————————

type rawLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type orderbookResponse struct {
	Orderbook struct {
		Buys  []rawLevel `json:"buys"`
		Sells []rawLevel `json:"sells"`
	} `json:"orderbook"`
}

type tradesResponse struct {
	Trades []struct {
		Price      string `json:"price"`
		ExecutedAt int64  `json:"executedAt"`
	} `json:"trades"`
}

type ordersResponse struct {
	Orders []struct {
		OrderHash      string `json:"orderHash"`
		OrderSide      string `json:"orderSide"`
		Price          string `json:"price"`
		Quantity       string `json:"quantity"`
		FilledQuantity string `json:"filledQuantity"`
		State          string `json:"state"`
	} `json:"orders"`
}

type accountResponse struct {
	Account struct {
		Sequence string `json:"sequence"`
	} `json:"account"`
}

type broadcastResponse struct {
	TxResponse struct {
		Code   uint32 `json:"code"`
		TxHash string `json:"txhash"`
		RawLog string `json:"raw_log"`
	} `json:"tx_response"`
}
