package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// endCursor is the CLOB's "no more pages" marker.
const endCursor = "LTE="

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIMarketsPage is one page of CLOB GET /markets.
type APIMarketsPage struct {
	Data       []APIMarket `json:"data"`
	NextCursor string      `json:"next_cursor"`
	Count      int         `json:"count"`
}

// APIMarket represents a market as returned by the CLOB API.
type APIMarket struct {
	ConditionID     string   `json:"condition_id"`
	QuestionID      string   `json:"question_id"`
	Question        string   `json:"question"`
	Description     string   `json:"description"`
	MarketSlug      string   `json:"market_slug"`
	EndDateISO      string   `json:"end_date_iso"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	Archived        bool     `json:"archived"`
	AcceptingOrders bool     `json:"accepting_orders"`
	EnableOrderBook bool     `json:"enable_order_book"`
	NegRisk         bool     `json:"neg_risk"`
	Tokens          []Token  `json:"tokens"`
}

// Token represents one outcome token of a market.
type Token struct {
	TokenID string    `json:"token_id"`
	Outcome string    `json:"outcome"`
	Price   flexFloat `json:"price"`
	Winner  bool      `json:"winner"`
}

// APIBook is the CLOB GET /book response for one token.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// APIBookLevel is a single bid/ask level; the API sends decimal strings.
type APIBookLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// APITrade is one entry of the data-api GET /trades response.
type APITrade struct {
	ProxyWallet     string    `json:"proxyWallet"`
	Side            string    `json:"side"` // "BUY" or "SELL"
	Asset           string    `json:"asset"`
	ConditionID     string    `json:"conditionId"`
	Size            flexFloat `json:"size"`
	Price           flexFloat `json:"price"`
	Timestamp       int64     `json:"timestamp"`
	Outcome         string    `json:"outcome"`
	TransactionHash string    `json:"transactionHash"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSEvent is the union of market-channel events. event_type selects which
// fields are set.
type WSEvent struct {
	EventType string `json:"event_type"` // "book", "price_change", "last_trade_price", "tick_size_change"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"`

	// book
	Bids []APIBookLevel `json:"bids"`
	Asks []APIBookLevel `json:"asks"`

	// price_change
	PriceChanges []WSPriceChange `json:"price_changes"`

	// last_trade_price
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
	Side  string    `json:"side"`
}

// WSPriceChange is one level update inside a price_change event. Size is the
// new absolute size at the level; "0" removes it.
type WSPriceChange struct {
	AssetID string    `json:"asset_id"`
	Price   flexFloat `json:"price"`
	Size    flexFloat `json:"size"`
	Side    string    `json:"side"` // "BUY" or "SELL"
}

// WSSubscribe is the market-channel subscription message.
type WSSubscribe struct {
	Type   string   `json:"type"` // "market"
	Assets []string `json:"assets_ids"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// ToDomain converts a CLOB market. The condition id is the market id; the
// first token is the YES outcome used for quotes.
func (m APIMarket) ToDomain(venue string, seenAt time.Time) domain.MarketDescriptor {
	md := domain.MarketDescriptor{
		Venue:     venue,
		ID:        m.ConditionID,
		Title:     m.Question,
		RulesText: m.Description,
		UpdatedAt: seenAt,
	}
	switch {
	case m.Closed || m.Archived:
		md.Status = domain.MarketStatusClosed
	case bool(m.Active):
		md.Status = domain.MarketStatusActive
	default:
		md.Status = domain.MarketStatusSettled
	}
	for _, tok := range m.Tokens {
		md.Outcomes = append(md.Outcomes, domain.Outcome{Name: tok.Outcome, TokenID: tok.TokenID})
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			t = t.UTC()
			md.ResolutionDate = &t
		}
	}
	return md
}

// YesToken returns the token id quotes are taken from.
func (m APIMarket) YesToken() string {
	for _, tok := range m.Tokens {
		if strings.EqualFold(tok.Outcome, "yes") {
			return tok.TokenID
		}
	}
	if len(m.Tokens) > 0 {
		return m.Tokens[0].TokenID
	}
	return ""
}

// ToDomain converts a token book.
func (b APIBook) ToDomain() domain.OrderBook {
	return domain.OrderBook{Bids: levels(b.Bids), Asks: levels(b.Asks)}
}

func levels(in []APIBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		out = append(out, domain.PriceLevel{Price: float64(l.Price), Size: float64(l.Size)})
	}
	return out
}

// ToDomain converts a data-api trade. The data-api carries no trade id, so
// transaction hash and asset identify the fill.
func (t APITrade) ToDomain(venue string) domain.Trade {
	return domain.Trade{
		Venue:      venue,
		MarketID:   t.ConditionID,
		TradeID:    t.TransactionHash + ":" + t.Asset,
		Price:      float64(t.Price),
		Size:       float64(t.Size),
		Side:       strings.ToLower(t.Side),
		Outcome:    t.Outcome,
		TxHash:     t.TransactionHash,
		ExecutedAt: time.Unix(t.Timestamp, 0).UTC(),
	}
}

// parseTimestamp accepts the millisecond epoch strings the WebSocket sends.
func parseTimestamp(s string, fallback time.Time) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return fallback
}
