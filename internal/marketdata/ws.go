package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openpredict/tradebot/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TopOfBook is the best bid and ask for one token as read off a book frame.
// A zero side means the book was empty on that side.
type TopOfBook struct {
	TokenID string
	BestBid float64
	BestAsk float64
	At      time.Time
}

// BookHandler receives every top-of-book update from the socket.
type BookHandler func(TopOfBook)

// WSFeed streams top-of-book updates from the CLOB market WebSocket into the
// shared price cache, so the close loop sees fresher marks than the REST scan
// interval provides. It reconnects with exponential backoff and restores its
// subscriptions.
type WSFeed struct {
	wsURL  string
	prices domain.PriceCache
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	assets []string
	closed bool

	handlerMu sync.RWMutex
	handlers  []BookHandler

	done chan struct{}
}

// NewWSFeed creates a feed against the market data WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market". prices may be nil
// when only handlers consume the feed.
func NewWSFeed(wsURL string, prices domain.PriceCache, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:  wsURL,
		prices: prices,
		logger: logger.With(slog.String("component", "ws_feed")),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSFeed) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("marketdata: ws feed closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return &domain.ConnectivityError{Op: "ws connect", Err: err}
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if len(w.assets) > 0 {
		if err := w.sendCommand(wsCommand{Type: "subscribe", Assets: w.assets}); err != nil {
			return fmt.Errorf("marketdata: restore subscription: %w", err)
		}
	}
	return nil
}

// Subscribe adds token ids to the book subscription.
func (w *WSFeed) Subscribe(ctx context.Context, tokenIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("marketdata: ws feed not connected")
	}
	if err := w.sendCommand(wsCommand{Type: "subscribe", Assets: tokenIDs}); err != nil {
		return fmt.Errorf("marketdata: subscribe: %w", err)
	}
	w.assets = append(w.assets, tokenIDs...)
	return nil
}

// OnBook registers a handler called for every top-of-book update.
func (w *WSFeed) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts the feed down. It is safe to call more than once.
func (w *WSFeed) Close() error {
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

// sendCommand sends a JSON command to the socket. Caller must hold w.mu.
func (w *WSFeed) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSFeed) readLoop() {
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
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSFeed) pingLoop() {
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

// handleMessage routes a raw frame. Unparseable frames are dropped.
func (w *WSFeed) handleMessage(raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.EventType != "book" {
		return
	}

	var book wsBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return
	}
	top := bookToTop(&book)

	if w.prices != nil && top.BestBid > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.prices.SetPrice(ctx, top.TokenID, top.BestBid, top.At); err != nil {
			w.logger.WarnContext(ctx, "price cache write failed",
				slog.String("token_id", top.TokenID),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(top)
	}
}

// bookToTop extracts the best levels from a full book frame.
func bookToTop(b *wsBook) TopOfBook {
	top := TopOfBook{TokenID: b.AssetID, At: time.Now().UTC()}
	for _, lvl := range b.Bids {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && p > top.BestBid {
			top.BestBid = p
		}
	}
	for _, lvl := range b.Asks {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && (top.BestAsk == 0 || p < top.BestAsk) {
			top.BestAsk = p
		}
	}
	return top
}

// reconnect re-establishes the connection with exponential backoff. It blocks
// until connected or the feed is closed.
func (w *WSFeed) reconnect() {
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
			w.logger.Info("ws feed reconnected")
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
