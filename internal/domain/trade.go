package domain

import "time"

// Trade is a venue execution captured on a best-effort basis.
type Trade struct {
	Venue      string    `json:"venue"`
	MarketID   string    `json:"market_id"`
	TradeID    string    `json:"trade_id"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Side       string    `json:"side"`
	Outcome    string    `json:"outcome,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}
