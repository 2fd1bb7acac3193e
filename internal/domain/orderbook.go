package domain

import "time"

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a book snapshot as returned by the exchange. Levels are not
// assumed to be sorted.
type OrderBook struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid level.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, lvl := range b.Bids {
		if lvl.Size <= 0 {
			continue
		}
		if !found || lvl.Price > best.Price {
			best = lvl
			found = true
		}
	}
	return best, found
}

// BestAsk returns the lowest ask level.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, lvl := range b.Asks {
		if lvl.Size <= 0 {
			continue
		}
		if !found || lvl.Price < best.Price {
			best = lvl
			found = true
		}
	}
	return best, found
}
