package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/venue"
	"github.com/gorilla/websocket"
)

const (
	// kalshiWriteWait is the time allowed to write a message to the peer.
	kalshiWriteWait = 10 * time.Second

	// kalshiPongWait is the time allowed to read the next pong message.
	kalshiPongWait = 30 * time.Second

	// kalshiPingPeriod sends pings at this interval. Must be less than pongWait.
	kalshiPingPeriod = (kalshiPongWait * 9) / 10

	eventBuffer = 256
)

// subscribeChannels are the channels requested for every market.
var subscribeChannels = []string{"orderbook_delta", "trade", "ticker"}

// Dialer opens Kalshi WebSocket connections. It implements venue.StreamDialer.
// Reconnection is left to the streaming session.
type Dialer struct {
	venue  string
	wsURL  string
	signer *Client
}

// NewDialer creates a dialer for wsURL, e.g.
// "wss://api.elections.kalshi.com/trade-api/ws/v2". When signer carries a
// private key the handshake is signed like a REST request.
func NewDialer(venueName, wsURL string, signer *Client) *Dialer {
	return &Dialer{venue: venueName, wsURL: wsURL, signer: signer}
}

// Dial connects and starts the read and ping loops.
func (d *Dialer) Dial(ctx context.Context) (venue.StreamConn, error) {
	header := http.Header{}
	if d.signer != nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi/ws: build handshake: %w", err)
		}
		if err := d.signer.signRequest(req); err != nil {
			return nil, fmt.Errorf("kalshi/ws: sign handshake: %w", err)
		}
		header = req.Header
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, d.wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("kalshi/ws: connect: %w: %v", domain.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("kalshi/ws: connect: %w", err)
	}

	c := &Conn{
		venue:  d.venue,
		ws:     ws,
		events: make(chan venue.StreamEvent, eventBuffer),
		done:   make(chan struct{}),
	}

	ws.SetReadDeadline(time.Now().Add(kalshiPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(kalshiPongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Conn is one live Kalshi WebSocket connection. It implements
// venue.StreamConn.
type Conn struct {
	venue  string
	ws     *websocket.Conn
	events chan venue.StreamEvent

	writeMu sync.Mutex
	cmdID   int64

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe requests book, trade and ticker updates for the given tickers.
func (c *Conn) Subscribe(_ context.Context, tickers []string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.cmdID++
	cmd := KalshiWSSubscribeCmd{
		ID:  c.cmdID,
		Cmd: "subscribe",
		Params: KalshiWSSubscribeParams{
			Channels: subscribeChannels,
			Tickers:  tickers,
		},
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("kalshi/ws: marshal subscribe: %w", err)
	}

	c.ws.SetWriteDeadline(time.Now().Add(kalshiWriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	return nil
}

func (c *Conn) Events() <-chan venue.StreamEvent { return c.events }

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close shuts down the WebSocket connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(kalshiWriteWait),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// readLoop decodes messages onto the events channel until the connection
// fails, then records the error and closes the channel.
func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				err = nil
			default:
			}
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			return
		}

		ev, ok, err := decodeMessage(c.venue, raw)
		if err != nil {
			ev = venue.StreamEvent{Kind: venue.StreamError, Message: err.Error()}
		} else if !ok {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(kalshiPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(kalshiWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// decodeMessage parses one raw frame. ok is false for message types the
// session does not consume.
func decodeMessage(venueName string, raw []byte) (venue.StreamEvent, bool, error) {
	var envelope KalshiWSMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return venue.StreamEvent{}, false, fmt.Errorf("kalshi/ws: decode envelope: %w", err)
	}

	switch envelope.Type {
	case "subscribed", "ok", "unsubscribed":
		return venue.StreamEvent{Kind: venue.StreamAck, Message: fmt.Sprintf("%s id=%d sid=%d", envelope.Type, envelope.ID, envelope.SID)}, true, nil

	case "orderbook_snapshot":
		var ob KalshiWSOrderbook
		if err := json.Unmarshal(envelope.Msg, &ob); err != nil {
			return venue.StreamEvent{}, false, fmt.Errorf("kalshi/ws: decode snapshot: %w", err)
		}
		return venue.StreamEvent{Kind: venue.StreamSnapshot, MarketID: ob.Ticker, Book: bookFromSides(ob.Yes, ob.No)}, true, nil

	case "orderbook_delta":
		var d KalshiWSDelta
		if err := json.Unmarshal(envelope.Msg, &d); err != nil {
			return venue.StreamEvent{}, false, fmt.Errorf("kalshi/ws: decode delta: %w", err)
		}
		if d.Ticker == "" {
			return venue.StreamEvent{}, false, errors.New("kalshi/ws: delta without market ticker")
		}
		return venue.StreamEvent{Kind: venue.StreamDelta, MarketID: d.Ticker, Delta: d.ToDomain()}, true, nil

	case "trade":
		var t KalshiWSTrade
		if err := json.Unmarshal(envelope.Msg, &t); err != nil {
			return venue.StreamEvent{}, false, fmt.Errorf("kalshi/ws: decode trade: %w", err)
		}
		return venue.StreamEvent{Kind: venue.StreamTrade, MarketID: t.Ticker, Trade: t.ToDomain(venueName)}, true, nil

	case "ticker", "market_ticker", "ticker_v2":
		var tk KalshiWSTicker
		if err := json.Unmarshal(envelope.Msg, &tk); err != nil {
			return venue.StreamEvent{}, false, fmt.Errorf("kalshi/ws: decode ticker: %w", err)
		}
		return venue.StreamEvent{Kind: venue.StreamTicker, MarketID: tk.Ticker, LastPrice: centsToProb(tk.Price)}, true, nil

	case "error":
		var e KalshiWSError
		_ = json.Unmarshal(envelope.Msg, &e)
		return venue.StreamEvent{Kind: venue.StreamError, Message: fmt.Sprintf("code %d: %s", e.Code, e.Msg)}, true, nil
	}

	return venue.StreamEvent{}, false, nil
}
