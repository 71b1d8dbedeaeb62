package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/venue"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	eventBuffer = 256
)

// TokenResolver maps a condition id to the token whose book is streamed.
// *ClobClient implements it.
type TokenResolver interface {
	YesToken(ctx context.Context, conditionID string) (string, error)
}

// Dialer opens connections to the CLOB market channel. It implements
// venue.StreamDialer.
type Dialer struct {
	venue  string
	wsURL  string
	tokens TokenResolver
}

// NewDialer creates a dialer for wsURL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewDialer(venueName, wsURL string, tokens TokenResolver) *Dialer {
	return &Dialer{venue: venueName, wsURL: wsURL, tokens: tokens}
}

// Dial connects and starts the read and ping loops.
func (d *Dialer) Dial(ctx context.Context) (venue.StreamConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, d.wsURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("polymarket/ws: connect: %w: %v", domain.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	c := &Conn{
		venue:   d.venue,
		ws:      ws,
		tokens:  d.tokens,
		markets: make(map[string]string),
		events:  make(chan venue.StreamEvent, eventBuffer),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Conn is one live market-channel connection. It implements
// venue.StreamConn.
type Conn struct {
	venue  string
	ws     *websocket.Conn
	tokens TokenResolver
	events chan venue.StreamEvent
	now    func() time.Time

	writeMu    sync.Mutex
	subscribed bool

	mapMu   sync.RWMutex
	markets map[string]string // token id -> condition id

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe resolves each condition id to its YES token and subscribes the
// tokens. Markets whose token cannot be resolved are skipped.
func (c *Conn) Subscribe(ctx context.Context, conditionIDs []string) error {
	assets := make([]string, 0, len(conditionIDs))
	for _, id := range conditionIDs {
		tok, err := c.tokens.YesToken(ctx, id)
		if err != nil {
			continue
		}
		c.mapMu.Lock()
		c.markets[tok] = id
		c.mapMu.Unlock()
		assets = append(assets, tok)
	}
	if len(assets) == 0 {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg := WSSubscribe{Type: "market", Assets: assets}
	var payload any = msg
	if c.subscribed {
		payload = struct {
			Assets    []string `json:"assets_ids"`
			Operation string   `json:"operation"`
		}{Assets: assets, Operation: "subscribe"}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	c.subscribed = true
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
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.ws.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (c *Conn) marketOf(assetID, fallback string) string {
	c.mapMu.RLock()
	defer c.mapMu.RUnlock()
	if id, ok := c.markets[assetID]; ok {
		return id
	}
	return fallback
}

// readLoop decodes frames onto the events channel until the connection
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

		events, err := decodeFrame(c.venue, raw, c.marketOf, c.now())
		if err != nil {
			events = []venue.StreamEvent{{Kind: venue.StreamError, Message: err.Error()}}
		}
		for _, ev := range events {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// decodeFrame parses one frame, which holds a single event or an array of
// events. marketOf maps a token id back to its condition id.
func decodeFrame(venueName string, raw []byte, marketOf func(assetID, fallback string) string, now time.Time) ([]venue.StreamEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "PONG" {
		return nil, nil
	}

	var batch []WSEvent
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode frame: %w", err)
		}
	} else {
		var one WSEvent
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode frame: %w", err)
		}
		batch = []WSEvent{one}
	}

	var out []venue.StreamEvent
	for _, ev := range batch {
		switch ev.EventType {
		case "book":
			out = append(out, venue.StreamEvent{
				Kind:     venue.StreamSnapshot,
				MarketID: marketOf(ev.AssetID, ev.Market),
				Book:     domain.OrderBook{Bids: levels(ev.Bids), Asks: levels(ev.Asks)},
			})

		case "price_change":
			for _, pc := range ev.PriceChanges {
				marketID := marketOf(pc.AssetID, ev.Market)
				if pc.AssetID != "" && marketOf(pc.AssetID, "") == "" {
					// Change on the NO token of a subscribed market.
					continue
				}
				side := domain.SideBid
				if strings.EqualFold(pc.Side, "SELL") {
					side = domain.SideAsk
				}
				out = append(out, venue.StreamEvent{
					Kind:     venue.StreamDelta,
					MarketID: marketID,
					Delta: domain.BookDelta{
						MarketID: marketID,
						Side:     side,
						Price:    float64(pc.Price),
						Size:     float64(pc.Size),
					},
				})
			}

		case "last_trade_price":
			marketID := marketOf(ev.AssetID, ev.Market)
			executedAt := parseTimestamp(ev.Timestamp, now)
			out = append(out,
				venue.StreamEvent{
					Kind:     venue.StreamTrade,
					MarketID: marketID,
					Trade: domain.Trade{
						Venue:      venueName,
						MarketID:   marketID,
						TradeID:    fmt.Sprintf("%s:%d", ev.AssetID, executedAt.UnixMilli()),
						Price:      float64(ev.Price),
						Size:       float64(ev.Size),
						Side:       strings.ToLower(ev.Side),
						ExecutedAt: executedAt,
					},
				},
				venue.StreamEvent{Kind: venue.StreamTicker, MarketID: marketID, LastPrice: float64(ev.Price)},
			)

		case "tick_size_change":
			out = append(out, venue.StreamEvent{Kind: venue.StreamAck, MarketID: marketOf(ev.AssetID, ev.Market), Message: "tick size change"})
		}
	}
	return out, nil
}
