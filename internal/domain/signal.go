package domain

import "time"

// Strategy names the two cross-venue trade shapes an engine can pick.
type Strategy string

const (
	StrategyBuyASellB Strategy = "buy_a_sell_b"
	StrategySellABuyB Strategy = "sell_a_buy_b"
)

// Direction is the side taken on one leg of a signal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Directions returns the per-leg directions for the strategy.
func (s Strategy) Directions() (a, b Direction) {
	if s == StrategyBuyASellB {
		return DirectionBuy, DirectionSell
	}
	return DirectionSell, DirectionBuy
}

// SignalStatus is the lifecycle state of a signal. The only transition is
// active to expired.
type SignalStatus string

const (
	SignalStatusActive  SignalStatus = "active"
	SignalStatusExpired SignalStatus = "expired"
)

// LegQuote is the top of book observed for one leg at evaluation time.
type LegQuote struct {
	Venue   string  `json:"venue"`
	BestBid float64 `json:"best_bid"`
	BestAsk float64 `json:"best_ask"`
	BidSize float64 `json:"bid_size"`
	AskSize float64 `json:"ask_size"`
}

// Spread is ask minus bid.
func (q LegQuote) Spread() float64 {
	return q.BestAsk - q.BestBid
}

// Signal is an auditable record of one pair evaluation. Every field except
// Status is fixed at creation.
type Signal struct {
	ID             string         `json:"id"`
	PairID         string         `json:"pair_id"`
	MarketA        MarketRef      `json:"market_a"`
	MarketB        MarketRef      `json:"market_b"`
	Strategy       Strategy       `json:"strategy"`
	DirectionA     Direction      `json:"direction_a"`
	DirectionB     Direction      `json:"direction_b"`
	TotalCost      float64        `json:"total_cost"`
	EdgeBuffer     float64        `json:"edge_buffer"`
	IsArbitrage    bool           `json:"is_arbitrage"`
	ExecutableSize float64        `json:"executable_size"`
	QuoteA         LegQuote       `json:"quote_a"`
	QuoteB         LegQuote       `json:"quote_b"`
	FeesA          float64        `json:"fees_a"`
	FeesB          float64        `json:"fees_b"`
	SlippageBuffer float64        `json:"slippage_buffer"`
	SignalStrength float64        `json:"signal_strength"`
	Confidence     float64        `json:"confidence"`
	Status         SignalStatus   `json:"status"`
	ExpiresAt      time.Time      `json:"expires_at"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Live reports whether the signal is an active arbitrage at now.
func (s Signal) Live(now time.Time) bool {
	return s.Status == SignalStatusActive && s.IsArbitrage && s.ExpiresAt.After(now)
}

// ActiveQuery filters QueryActive. A non-positive Limit returns every match;
// a zero Now means the current time.
type ActiveQuery struct {
	MinConfidence float64
	Limit         int
	Now           time.Time
}

// SignalStats summarizes the signal table.
type SignalStats struct {
	Total                  int64   `json:"total_signals"`
	Active                 int64   `json:"active_signals"`
	ArbitrageOpportunities int64   `json:"arbitrage_opportunities"`
	AverageStrength        float64 `json:"average_signal_strength"`
}
