// Package chain implements the Injective indexer/LCD REST client and the
// order event stream.
//
// The REST client (IndexerClient) serves five concerns:
//   - Orderbook:       GET /api/exchange/{spot|derivative}/v1/orderbook/{id}
//   - LastTradePrice:  GET /api/exchange/{spot|derivative}/v1/trades?marketId=&limit=1
//   - OpenOrders:      GET /api/exchange/{spot|derivative}/v1/orders
//   - AccountSequence: GET /cosmos/auth/v1beta1/accounts/{address}
//   - Broadcast:       POST /cosmos/tx/v1beta1/txs
//
// Every request passes a shared client-side rate limiter and is retried on
// 5xx. Values cross the boundary in chain units and are converted to human
// units using the market's decimals, so the rest of the engine never sees
// raw scaling.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"injective-mm/internal/keys"
	"injective-mm/pkg/types"
)

// ErrNoTrades is returned by LastTradePrice when the venue has no recent
// trades for the market.
var ErrNoTrades = fmt.Errorf("no recent trades")

// Client is the chain access surface the engine consumes. Implementations
// must be safe for concurrent use.
type Client interface {
	AccountSequence(ctx context.Context, address string) (uint64, error)
	Orderbook(ctx context.Context, m *types.Market, marketID string) (Book, error)
	LastTradePrice(ctx context.Context, m *types.Market, marketID string) (decimal.Decimal, error)
	OpenOrders(ctx context.Context, m *types.Market, subaccountID string) ([]types.OpenOrder, error)
	BuildSignedBatch(w keys.Wallet, sequence uint64, batch BatchUpdate) (SignedTx, error)
	Broadcast(ctx context.Context, tx SignedTx) (TxResult, error)
}

// IndexerClient talks to one venue (testnet or mainnet) over REST.
type IndexerClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	chainID string
	dryRun  bool
	logger  *slog.Logger
}

var _ Client = (*IndexerClient)(nil)

// NewIndexerClient creates a REST client for one venue.
func NewIndexerClient(baseURL, chainID string, timeout time.Duration, dryRun bool, logger *slog.Logger) *IndexerClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &IndexerClient{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		chainID: chainID,
		dryRun:  dryRun,
		logger:  logger.With("component", "chain-client"),
	}
}

func segment(t types.MarketType) string {
	if t == types.Derivative {
		return "derivative"
	}
	return "spot"
}

// AccountSequence queries the authoritative sequence number for an account.
func (c *IndexerClient) AccountSequence(ctx context.Context, address string) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var result accountResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/cosmos/auth/v1beta1/accounts/" + address)
	if err != nil {
		return 0, fmt.Errorf("account sequence: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("account sequence: status %d: %s", resp.StatusCode(), resp.String())
	}

	seq, err := strconv.ParseUint(result.Account.Sequence, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("account sequence: parse %q: %w", result.Account.Sequence, err)
	}
	return seq, nil
}

// Orderbook fetches the full aggregated book for a market, converted to
// human units.
func (c *IndexerClient) Orderbook(ctx context.Context, m *types.Market, marketID string) (Book, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Book{}, err
	}

	var result orderbookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/api/exchange/%s/v1/orderbook/%s", segment(m.Type), marketID))
	if err != nil {
		return Book{}, fmt.Errorf("orderbook: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Book{}, fmt.Errorf("orderbook: status %d: %s", resp.StatusCode(), resp.String())
	}

	book := Book{SampledAt: time.Now()}
	for _, lvl := range result.Orderbook.Buys {
		l, err := c.toHumanLevel(m, lvl)
		if err != nil {
			return Book{}, fmt.Errorf("orderbook buy level: %w", err)
		}
		book.Buys = append(book.Buys, l)
	}
	for _, lvl := range result.Orderbook.Sells {
		l, err := c.toHumanLevel(m, lvl)
		if err != nil {
			return Book{}, fmt.Errorf("orderbook sell level: %w", err)
		}
		book.Sells = append(book.Sells, l)
	}
	return book, nil
}

func (c *IndexerClient) toHumanLevel(m *types.Market, lvl rawLevel) (Level, error) {
	price, err := decimal.NewFromString(lvl.Price)
	if err != nil {
		return Level{}, fmt.Errorf("price %q: %w", lvl.Price, err)
	}
	qty, err := decimal.NewFromString(lvl.Quantity)
	if err != nil {
		return Level{}, fmt.Errorf("quantity %q: %w", lvl.Quantity, err)
	}
	return Level{
		Price:    price.Shift(-m.PriceScale),
		Quantity: qty.Shift(-m.BaseDecimals),
	}, nil
}

// LastTradePrice returns the most recent trade price in human units, or
// ErrNoTrades if the venue reports none.
func (c *IndexerClient) LastTradePrice(ctx context.Context, m *types.Market, marketID string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var result tradesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"marketId": marketID,
			"limit":    "1",
		}).
		SetResult(&result).
		Get(fmt.Sprintf("/api/exchange/%s/v1/trades", segment(m.Type)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("trades: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Trades) == 0 {
		return decimal.Zero, ErrNoTrades
	}

	price, err := decimal.NewFromString(result.Trades[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("trade price %q: %w", result.Trades[0].Price, err)
	}
	return price.Shift(-m.PriceScale), nil
}

// OpenOrders fetches the subaccount's live orders on a market, converted
// to human units.
func (c *IndexerClient) OpenOrders(ctx context.Context, m *types.Market, subaccountID string) ([]types.OpenOrder, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result ordersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"marketId":     m.TestnetMarketID,
			"subaccountId": subaccountID,
		}).
		SetResult(&result).
		Get(fmt.Sprintf("/api/exchange/%s/v1/orders", segment(m.Type)))
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("open orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	orders := make([]types.OpenOrder, 0, len(result.Orders))
	for _, o := range result.Orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, fmt.Errorf("order %s price: %w", o.OrderHash, err)
		}
		qty, err := decimal.NewFromString(o.Quantity)
		if err != nil {
			return nil, fmt.Errorf("order %s quantity: %w", o.OrderHash, err)
		}
		filled := decimal.Zero
		if o.FilledQuantity != "" {
			filled, err = decimal.NewFromString(o.FilledQuantity)
			if err != nil {
				return nil, fmt.Errorf("order %s filled quantity: %w", o.OrderHash, err)
			}
		}

		side := types.BUY
		if strings.EqualFold(o.OrderSide, "sell") {
			side = types.SELL
		}

		orders = append(orders, types.OpenOrder{
			OrderHash:      o.OrderHash,
			Side:           side,
			Price:          price.Shift(-m.PriceScale),
			Quantity:       qty.Shift(-m.BaseDecimals),
			FilledQuantity: filled.Shift(-m.BaseDecimals),
			State:          orderState(o.State),
		})
	}
	return orders, nil
}

func orderState(s string) types.OrderState {
	switch strings.ToLower(s) {
	case "booked":
		return types.OrderBooked
	case "partial_filled", "partially_filled":
		return types.OrderPartial
	default:
		return types.OrderActive
	}
}

// BuildSignedBatch encodes a batch update into a transaction envelope and
// signs its digest with the wallet's secp256k1 key.
func (c *IndexerClient) BuildSignedBatch(w keys.Wallet, sequence uint64, batch BatchUpdate) (SignedTx, error) {
	envelope := struct {
		ChainID  string      `json:"chain_id"`
		Sender   string      `json:"sender"`
		Sequence uint64      `json:"sequence"`
		MsgType  string      `json:"msg_type"`
		Batch    BatchUpdate `json:"batch"`
	}{
		ChainID:  c.chainID,
		Sender:   w.Address,
		Sequence: sequence,
		MsgType:  batchMsgType(batch.MarketType),
		Batch:    batch,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return SignedTx{}, fmt.Errorf("encode batch: %w", err)
	}

	priv, err := crypto.HexToECDSA(strings.TrimPrefix(w.PrivateKey.Reveal(), "0x"))
	if err != nil {
		return SignedTx{}, fmt.Errorf("load signing key: %w", err)
	}
	digest := sha256.Sum256(body)
	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return SignedTx{}, fmt.Errorf("sign batch: %w", err)
	}

	return SignedTx{Bytes: body, Signature: sig, Sequence: sequence}, nil
}

func batchMsgType(t types.MarketType) string {
	if t == types.Derivative {
		return "/injective.exchange.v1beta1.MsgBatchUpdateOrders.derivative"
	}
	return "/injective.exchange.v1beta1.MsgBatchUpdateOrders.spot"
}

// Broadcast submits a signed transaction in sync mode. A non-zero response
// code is returned as an error so the sequence controller can classify the
// raw log text.
func (c *IndexerClient) Broadcast(ctx context.Context, tx SignedTx) (TxResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would broadcast batch", "sequence", tx.Sequence, "bytes", len(tx.Bytes))
		return TxResult{OK: true, TxHash: fmt.Sprintf("dry-run-%d", tx.Sequence)}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return TxResult{}, err
	}

	payload := struct {
		TxBytes   string `json:"tx_bytes"`
		Signature string `json:"signature"`
		Mode      string `json:"mode"`
	}{
		TxBytes:   base64.StdEncoding.EncodeToString(tx.Bytes),
		Signature: base64.StdEncoding.EncodeToString(tx.Signature),
		Mode:      "BROADCAST_MODE_SYNC",
	}

	var result broadcastResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/cosmos/tx/v1beta1/txs")
	if err != nil {
		return TxResult{}, fmt.Errorf("broadcast: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return TxResult{}, fmt.Errorf("broadcast: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := TxResult{
		OK:     result.TxResponse.Code == 0,
		Code:   result.TxResponse.Code,
		TxHash: result.TxResponse.TxHash,
		RawLog: result.TxResponse.RawLog,
	}
	if !out.OK {
		return out, fmt.Errorf("broadcast rejected: code %d: %s", out.Code, out.RawLog)
	}
	return out, nil
}

// ToChainDec converts a decimal into the chain's fixed-point representation.
func ToChainDec(d decimal.Decimal) sdkmath.LegacyDec {
	return sdkmath.LegacyMustNewDecFromStr(d.String())
}
