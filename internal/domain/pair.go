package domain

import "time"

// MinEquivalenceScore is the lowest equivalence score a pair may carry and
// still be evaluated.
const MinEquivalenceScore = 0.7

// PairStatus is the lifecycle state of a matched pair.
type PairStatus string

const (
	PairStatusActive   PairStatus = "active"
	PairStatusInactive PairStatus = "inactive"
	PairStatusFlagged  PairStatus = "flagged"
)

// MatchedPair links two markets judged to describe the same event. Pairs are
// produced elsewhere and only read here.
type MatchedPair struct {
	ID               string     `json:"id"`
	MarketA          MarketRef  `json:"market_a"`
	MarketB          MarketRef  `json:"market_b"`
	EquivalenceScore float64    `json:"equivalence_score"`
	Confidence       float64    `json:"confidence"`
	HardOK           bool       `json:"hard_ok"`
	Status           PairStatus `json:"status"`
	ConflictList     []string   `json:"conflict_list,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Eligible reports whether the pair may be evaluated for arbitrage.
func (p MatchedPair) Eligible() bool {
	return p.Status == PairStatusActive && p.HardOK && p.EquivalenceScore >= MinEquivalenceScore
}
