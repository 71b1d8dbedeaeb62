package kalshi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// KalshiMarket represents a market as returned by the Kalshi REST API.
type KalshiMarket struct {
	Ticker                 string  `json:"ticker"`
	EventTicker            string  `json:"event_ticker"`
	Title                  string  `json:"title"`
	Subtitle               string  `json:"subtitle"`
	YesSubTitle            string  `json:"yes_sub_title"`
	NoSubTitle             string  `json:"no_sub_title"`
	Status                 string  `json:"status"` // "open", "active", "closed", "settled", "finalized"
	RulesPrimary           string  `json:"rules_primary"`
	RulesSecondary         string  `json:"rules_secondary"`
	LastPrice              float64 `json:"last_price"`
	Volume                 int64   `json:"volume"`
	OpenInterest           int64   `json:"open_interest"`
	Category               string  `json:"category"`
	CloseTime              string  `json:"close_time"`
	ExpirationTime         string  `json:"expiration_time"`
	ExpectedExpirationTime string  `json:"expected_expiration_time"`
	Result                 string  `json:"result"`
}

// KalshiMarketsPage is one page of GET /markets.
type KalshiMarketsPage struct {
	Markets []KalshiMarket `json:"markets"`
	Cursor  string         `json:"cursor"`
}

// KalshiOrderbook represents the orderbook for a Kalshi market. Both sides
// are resting bids: YES bids and NO bids.
type KalshiOrderbook struct {
	Ticker  string             `json:"ticker"`
	YesBids []KalshiPriceLevel `json:"yes"`
	NoBids  []KalshiPriceLevel `json:"no"`
}

// KalshiPriceLevel is a single price+quantity entry in the Kalshi orderbook.
// The API sends levels as [price_cents, quantity] pairs; the object form is
// accepted too.
type KalshiPriceLevel struct {
	Price    int64 `json:"price"`    // in cents (1-99)
	Quantity int64 `json:"quantity"` // number of contracts
}

func (l *KalshiPriceLevel) UnmarshalJSON(data []byte) error {
	var pair []int64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("kalshi: price level has %d elements", len(pair))
		}
		l.Price, l.Quantity = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Price    int64 `json:"price"`
		Quantity int64 `json:"quantity"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("kalshi: decode price level: %w", err)
	}
	l.Price, l.Quantity = obj.Price, obj.Quantity
	return nil
}

// KalshiTrade is one public trade from GET /markets/trades.
type KalshiTrade struct {
	TradeID     string `json:"trade_id"`
	Ticker      string `json:"ticker"`
	YesPrice    int64  `json:"yes_price"`
	NoPrice     int64  `json:"no_price"`
	Count       int64  `json:"count"`
	TakerSide   string `json:"taker_side"` // "yes" or "no"
	CreatedTime string `json:"created_time"`
}

// KalshiErrorResponse represents a Kalshi API error response.
type KalshiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// KalshiWSMessage is the envelope for Kalshi WebSocket messages.
type KalshiWSMessage struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", "trade", "ticker", "subscribed", "ok", "error"
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// KalshiWSOrderbook is the orderbook_snapshot payload.
type KalshiWSOrderbook struct {
	Ticker string             `json:"market_ticker"`
	Yes    []KalshiPriceLevel `json:"yes"`
	No     []KalshiPriceLevel `json:"no"`
}

// KalshiWSDelta is the orderbook_delta payload. Delta is the signed change in
// resting quantity at Price on Side.
type KalshiWSDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	Delta  int64  `json:"delta"`
	Side   string `json:"side"` // "yes" or "no"
}

// KalshiWSTrade is the trade payload.
type KalshiWSTrade struct {
	Ticker    string `json:"market_ticker"`
	TradeID   string `json:"trade_id"`
	YesPrice  int64  `json:"yes_price"`
	NoPrice   int64  `json:"no_price"`
	Count     int64  `json:"count"`
	TakerSide string `json:"taker_side"`
	TS        int64  `json:"ts"`
}

// KalshiWSTicker is the ticker payload.
type KalshiWSTicker struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
}

// KalshiWSError is the error payload.
type KalshiWSError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// KalshiWSSubscribeCmd is the command sent to subscribe to Kalshi WebSocket channels.
type KalshiWSSubscribeCmd struct {
	ID     int64                   `json:"id"`
	Cmd    string                  `json:"cmd"` // "subscribe" or "unsubscribe"
	Params KalshiWSSubscribeParams `json:"params"`
}

// KalshiWSSubscribeParams defines the subscription parameters.
type KalshiWSSubscribeParams struct {
	Channels []string `json:"channels"` // e.g. ["orderbook_delta", "trade"]
	Tickers  []string `json:"market_tickers"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

func centsToProb(c int64) float64 { return float64(c) / 100 }

// ToDomain converts the book into bid/ask form. A NO bid at p cents is a YES
// ask at 100 - p cents.
func (o KalshiOrderbook) ToDomain() domain.OrderBook {
	return bookFromSides(o.YesBids, o.NoBids)
}

func bookFromSides(yes, no []KalshiPriceLevel) domain.OrderBook {
	book := domain.OrderBook{
		Bids: make([]domain.PriceLevel, 0, len(yes)),
		Asks: make([]domain.PriceLevel, 0, len(no)),
	}
	for _, l := range yes {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: centsToProb(l.Price), Size: float64(l.Quantity)})
	}
	for _, l := range no {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: centsToProb(100 - l.Price), Size: float64(l.Quantity)})
	}
	return book
}

// ToDomain converts a Kalshi market to a domain.MarketDescriptor. The
// expected expiration is the resolution date, falling back to close time.
func (m KalshiMarket) ToDomain(venue string, seenAt time.Time) domain.MarketDescriptor {
	title := m.Title
	if m.Subtitle != "" {
		title += " - " + m.Subtitle
	}
	rules := m.RulesPrimary
	if m.RulesSecondary != "" {
		rules += "\n\n" + m.RulesSecondary
	}
	md := domain.MarketDescriptor{
		Venue:     venue,
		ID:        m.Ticker,
		Title:     title,
		RulesText: rules,
		Status:    marketStatus(m.Status),
		Outcomes:  []domain.Outcome{{Name: "Yes"}, {Name: "No"}},
		UpdatedAt: seenAt,
	}
	for _, raw := range []string{m.ExpectedExpirationTime, m.CloseTime, m.ExpirationTime} {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			t = t.UTC()
			md.ResolutionDate = &t
			break
		}
	}
	return md
}

func marketStatus(s string) domain.MarketStatus {
	switch s {
	case "closed":
		return domain.MarketStatusClosed
	case "settled", "finalized", "determined":
		return domain.MarketStatusSettled
	default:
		return domain.MarketStatusActive
	}
}

// ToDomain converts a REST trade. Price is the YES price; a NO taker sold YES.
func (t KalshiTrade) ToDomain(venue string) domain.Trade {
	tr := domain.Trade{
		Venue:    venue,
		MarketID: t.Ticker,
		TradeID:  t.TradeID,
		Price:    centsToProb(t.YesPrice),
		Size:     float64(t.Count),
		Side:     takerSide(t.TakerSide),
		Outcome:  t.TakerSide,
	}
	if ts, err := time.Parse(time.RFC3339, t.CreatedTime); err == nil {
		tr.ExecutedAt = ts.UTC()
	}
	return tr
}

// ToDomain converts a streamed trade.
func (t KalshiWSTrade) ToDomain(venue string) domain.Trade {
	return domain.Trade{
		Venue:      venue,
		MarketID:   t.Ticker,
		TradeID:    t.TradeID,
		Price:      centsToProb(t.YesPrice),
		Size:       float64(t.Count),
		Side:       takerSide(t.TakerSide),
		Outcome:    t.TakerSide,
		ExecutedAt: time.Unix(t.TS, 0).UTC(),
	}
}

// ToDomain converts a delta into a relative level change on the YES book.
func (d KalshiWSDelta) ToDomain() domain.BookDelta {
	delta := domain.BookDelta{
		MarketID: d.Ticker,
		Side:     domain.SideBid,
		Price:    centsToProb(d.Price),
		Size:     float64(d.Delta),
		Relative: true,
	}
	if d.Side == "no" {
		delta.Side = domain.SideAsk
		delta.Price = centsToProb(100 - d.Price)
	}
	return delta
}

func takerSide(s string) string {
	if s == "no" {
		return "sell"
	}
	return "buy"
}
