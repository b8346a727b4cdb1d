package engine

import "prime-flipper/internal/market"

// Price resolution reduces an order book to a single executable price.
// Only orders from online sellers are eligible. A (0, false) result
// means no eligible order exists; callers treat the set as unprofitable
// but keep it in the output.

// ResolveSetPrice returns the price at which the assembled set sells.
func ResolveSetPrice(book *market.OrderBook, mode ExecutionMode) (float64, bool) {
	if book == nil {
		return 0, false
	}
	if mode == ModePatient {
		// List just under the cheapest competing ask, never below 1.
		if ask, ok := bestAsk(book); ok {
			return undercut(ask), true
		}
		return 0, false
	}
	// Instant: hit the top bid.
	return bestBid(book)
}

// ResolvePartPrice returns the price at which one part is acquired.
func ResolvePartPrice(book *market.OrderBook, mode ExecutionMode) (float64, bool) {
	if book == nil {
		return 0, false
	}
	if mode == ModePatient {
		// Post a buy order just over the highest competing bid.
		if bid, ok := bestBid(book); ok {
			return bid + 1, true
		}
		return 0, false
	}
	// Instant: lift the lowest ask.
	return bestAsk(book)
}

// bestAsk returns the lowest online sell price. Sell orders arrive
// sorted ascending.
func bestAsk(book *market.OrderBook) (float64, bool) {
	for _, o := range book.Sell {
		if o.Online {
			return o.Platinum, true
		}
	}
	return 0, false
}

// bestBid returns the highest online buy price. Buy orders arrive
// sorted descending.
func bestBid(book *market.OrderBook) (float64, bool) {
	for _, o := range book.Buy {
		if o.Online {
			return o.Platinum, true
		}
	}
	return 0, false
}

func undercut(price float64) float64 {
	if price <= 1 {
		return 1
	}
	return price - 1
}
