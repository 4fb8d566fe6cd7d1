// stream.go implements the websocket feed of the wallet's own order events.
//
// The feed subscribes by subaccount and market ids and receives "order"
// lifecycle events (booked, filled, cancelled) and "trade" fills. It
// auto-reconnects with exponential backoff (1s → 30s max) and re-subscribes
// to all tracked markets on reconnection. A read deadline (90s) detects
// silent server failures within ~2 missed pings.
//
// The feed is advisory: workers use it for fill accounting and logging,
// while the per-cycle REST refresh remains the source of truth for open
// orders.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	streamPingInterval = 50 * time.Second
	streamReadTimeout  = 90 * time.Second
	streamWriteTimeout = 10 * time.Second
	orderBufferSize    = 64
	tradeBufferSize    = 64
)

// OrderEvent is one order lifecycle notification from the stream.
type OrderEvent struct {
	EventType    string `json:"event_type"`
	OrderHash    string `json:"order_hash"`
	MarketID     string `json:"market_id"`
	SubaccountID string `json:"subaccount_id"`
	State        string `json:"state"`
	FilledQty    string `json:"filled_quantity"`
}

// TradeEvent is one fill notification from the stream.
type TradeEvent struct {
	EventType    string `json:"event_type"`
	OrderHash    string `json:"order_hash"`
	MarketID     string `json:"market_id"`
	SubaccountID string `json:"subaccount_id"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
}

type streamSubscribeMsg struct {
	Operation    string   `json:"op"`
	SubaccountID string   `json:"subaccount_id"`
	MarketIDs    []string `json:"market_ids"`
}

// OrderFeed manages the order-event websocket connection for one wallet.
type OrderFeed struct {
	url          string
	subaccountID string

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // market ids, re-subscribed on reconnect

	orderCh chan OrderEvent
	tradeCh chan TradeEvent

	logger *slog.Logger
}

// NewOrderFeed creates a feed for one wallet's subaccount.
func NewOrderFeed(wsURL, subaccountID string, logger *slog.Logger) *OrderFeed {
	return &OrderFeed{
		url:          wsURL,
		subaccountID: subaccountID,
		subscribed:   make(map[string]bool),
		orderCh:      make(chan OrderEvent, orderBufferSize),
		tradeCh:      make(chan TradeEvent, tradeBufferSize),
		logger:       logger.With("component", "order-feed"),
	}
}

// OrderEvents returns a read-only channel of order lifecycle events.
func (f *OrderFeed) OrderEvents() <-chan OrderEvent { return f.orderCh }

// TradeEvents returns a read-only channel of fill events.
func (f *OrderFeed) TradeEvents() <-chan TradeEvent { return f.tradeCh }

// Subscribe adds market ids to the feed.
func (f *OrderFeed) Subscribe(marketIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range marketIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(streamSubscribeMsg{
		Operation:    "subscribe",
		SubaccountID: f.subaccountID,
		MarketIDs:    marketIDs,
	})
}

// Run connects and maintains the websocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *OrderFeed) Run(ctx context.Context) error {
	wait := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		d := wait.Duration()
		f.logger.Warn("order feed disconnected, reconnecting", "error", err, "backoff", d)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// Close gracefully closes the connection.
func (f *OrderFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *OrderFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("order feed connected", "subaccount", f.subaccountID)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *OrderFeed) resubscribe() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(streamSubscribeMsg{
		Operation:    "subscribe",
		SubaccountID: f.subaccountID,
		MarketIDs:    ids,
	})
}

func (f *OrderFeed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "order":
		var evt OrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "hash", evt.OrderHash)
		}

	case "trade":
		var evt TradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "hash", evt.OrderHash)
		}

	default:
		f.logger.Debug("unknown stream event type", "type", envelope.EventType)
	}
}

func (f *OrderFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *OrderFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("order feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *OrderFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("order feed not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return f.conn.WriteMessage(msgType, data)
}
