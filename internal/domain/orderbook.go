package domain

import (
	"sort"
	"time"
)

// MaxBookLevels is the number of price levels kept per side of a book.
const MaxBookLevels = 10

// Side is the side of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a venue's book for one market, prices in [0,1].
type OrderBook struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Normalized returns a copy of the book with non-positive sizes dropped,
// bids sorted descending, asks ascending, and each side trimmed to
// MaxBookLevels.
func (b OrderBook) Normalized() OrderBook {
	return OrderBook{
		Bids: normalizeSide(b.Bids, true),
		Asks: normalizeSide(b.Asks, false),
	}
}

func normalizeSide(levels []PriceLevel, desc bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Size > 0 {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	if len(out) > MaxBookLevels {
		out = out[:MaxBookLevels]
	}
	return out
}

// BookLevel is one persisted row of a market's book.
type BookLevel struct {
	Venue      string
	MarketID   string
	Side       Side
	Rank       int // 1 is the best price for its side
	Price      float64
	Size       float64
	CapturedAt time.Time
}

// LevelsFromBook ranks a normalized book into persisted rows.
func LevelsFromBook(venue, marketID string, book OrderBook, capturedAt time.Time) []BookLevel {
	book = book.Normalized()
	rows := make([]BookLevel, 0, len(book.Bids)+len(book.Asks))
	for i, l := range book.Bids {
		rows = append(rows, BookLevel{venue, marketID, SideBid, i + 1, l.Price, l.Size, capturedAt})
	}
	for i, l := range book.Asks {
		rows = append(rows, BookLevel{venue, marketID, SideAsk, i + 1, l.Price, l.Size, capturedAt})
	}
	return rows
}

// Quote is a best price with the size available at it.
type Quote struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is the derived best bid/ask for one market.
type BookSnapshot struct {
	Venue      string
	MarketID   string
	Bid        *Quote
	Ask        *Quote
	CapturedAt time.Time
	IsStale    bool
}

// SnapshotFromLevels derives the best bid (max price) and best ask (min
// price) from persisted rows. The snapshot is stale when it is older than
// staleAfter at now, or when there are no rows at all.
func SnapshotFromLevels(venue, marketID string, levels []BookLevel, staleAfter time.Duration, now time.Time) BookSnapshot {
	snap := BookSnapshot{Venue: venue, MarketID: marketID}
	for _, l := range levels {
		if l.CapturedAt.After(snap.CapturedAt) {
			snap.CapturedAt = l.CapturedAt
		}
		switch l.Side {
		case SideBid:
			if snap.Bid == nil || l.Price > snap.Bid.Price {
				snap.Bid = &Quote{Price: l.Price, Size: l.Size}
			}
		case SideAsk:
			if snap.Ask == nil || l.Price < snap.Ask.Price {
				snap.Ask = &Quote{Price: l.Price, Size: l.Size}
			}
		}
	}
	snap.IsStale = snap.CapturedAt.IsZero() || now.Sub(snap.CapturedAt) > staleAfter
	return snap
}

// BookDelta is a level change received from a streaming venue. When Relative
// is set, Size is added to the level's current size; otherwise it replaces
// it. A level whose size ends at or below zero is removed.
type BookDelta struct {
	MarketID string
	Side     Side
	Price    float64
	Size     float64
	Relative bool
}
