package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// MidsHandler is called with the full mid price map on every allMids frame.
type MidsHandler func(mids map[string]decimal.Decimal)

// WSClient streams real-time mark prices from the Hyperliquid websocket. It
// manages the connection lifecycle, restores subscriptions on reconnect, and
// dispatches mid updates to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsSubscription

	midsHandlers []MidsHandler
	handlerMu    sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a websocket client for the given endpoint,
// e.g. "wss://api.hyperliquid.xyz/ws".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("hyperliquid/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, sub := range w.subscriptions {
		if err := w.sendSubscription(sub); err != nil {
			return fmt.Errorf("hyperliquid/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// SubscribeAllMids subscribes to the allMids channel carrying mid prices for
// every market.
func (w *WSClient) SubscribeAllMids(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("hyperliquid/ws: not connected")
	}

	sub := wsSubscription{Method: "subscribe"}
	sub.Subscription.Type = "allMids"

	if err := w.sendSubscription(sub); err != nil {
		return fmt.Errorf("hyperliquid/ws: subscribe allMids: %w", err)
	}

	// Track the subscription for reconnection.
	w.subscriptions = append(w.subscriptions, sub)
	return nil
}

// OnMids registers a handler called for every allMids frame.
func (w *WSClient) OnMids(handler MidsHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.midsHandlers = append(w.midsHandlers, handler)
}

// FeedPriceCache registers a handler that writes every mid update into the
// price cache. Cache write failures are logged and dropped so a transient
// cache outage does not stall the feed.
func (w *WSClient) FeedPriceCache(cache domain.PriceCache, logger *slog.Logger) {
	log := logger.With(slog.String("component", "hyperliquid_ws"))
	w.OnMids(func(mids map[string]decimal.Decimal) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		now := time.Now()
		for asset, price := range mids {
			if err := cache.SetPrice(ctx, asset, price, now); err != nil {
				log.Warn("price cache write failed",
					slog.String("asset", asset),
					slog.String("error", err.Error()))
				return
			}
		}
	})
}

// Close shuts down the websocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// sendSubscription sends a subscription command. Caller must hold w.mu.
func (w *WSClient) sendSubscription(sub wsSubscription) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads frames and dispatches mid updates. On
// disconnect it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and routes allMids updates to the
// registered handlers. Unparseable frames and other channels are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Channel != "allMids" {
		return
	}

	mids := make(map[string]decimal.Decimal, len(msg.Data.Mids))
	for asset, px := range msg.Data.Mids {
		price, err := decimal.NewFromString(px)
		if err != nil {
			continue
		}
		mids[asset] = price
	}
	if len(mids) == 0 {
		return
	}

	w.handlerMu.RLock()
	handlers := w.midsHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(mids)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
