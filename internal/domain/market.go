package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// MarketRef identifies a market by its venue and venue-native id.
type MarketRef struct {
	Venue    string `json:"venue"`
	MarketID string `json:"market_id"`
}

func (r MarketRef) String() string {
	return r.Venue + ":" + r.MarketID
}

// Outcome is one tradable side of a market, e.g. "Yes" with its token id.
type Outcome struct {
	Name    string `json:"name"`
	TokenID string `json:"token_id,omitempty"`
}

// MarketDescriptor is a discovered market as normalized from any venue.
type MarketDescriptor struct {
	Venue          string
	ID             string
	Title          string
	RulesText      string
	ResolutionDate *time.Time
	Status         MarketStatus
	Outcomes       []Outcome
	UpdatedAt      time.Time
}

// Ref returns the market's reference.
func (m MarketDescriptor) Ref() MarketRef {
	return MarketRef{Venue: m.Venue, MarketID: m.ID}
}

// ResolvesWithin reports whether the market resolves no later than
// now+horizon. Markets without a resolution date never qualify.
func (m MarketDescriptor) ResolvesWithin(now time.Time, horizon time.Duration) bool {
	if m.ResolutionDate == nil {
		return false
	}
	return !m.ResolutionDate.After(now.Add(horizon))
}
