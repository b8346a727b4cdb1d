package engine

import (
	"math"
	"time"

	"prime-flipper/internal/market"
)

// trendEpsilon separates rising/falling from stable normalized slopes.
const trendEpsilon = 0.01

// Liquidity summarizes order book depth and recent trade activity.
type Liquidity struct {
	Volume      int     // units traded in the last 48h
	BidAskRatio float64 // online buy qty / online sell qty (1.0 when no asks)
	Competition int     // online sell orders within 10% of the best ask
	Velocity    float64 // last-24h volume / prior-24h volume
	Multiplier  float64 // geometric blend, clamped to [0.5, 1.5]
}

// AnalyzeLiquidity derives liquidity metrics from the order book and the
// 48-hour statistics series. now anchors the volume windows.
func AnalyzeLiquidity(book *market.OrderBook, stats *market.Statistics, now time.Time) Liquidity {
	l := Liquidity{BidAskRatio: 1.0, Velocity: 1.0, Multiplier: 1.0}

	if book != nil {
		var buyQty, sellQty int
		for _, o := range book.Buy {
			if o.Online {
				buyQty += o.Quantity
			}
		}
		for _, o := range book.Sell {
			if o.Online {
				sellQty += o.Quantity
			}
		}
		if sellQty > 0 {
			l.BidAskRatio = float64(buyQty) / float64(sellQty)
		}
		if ask, ok := bestAsk(book); ok {
			limit := ask * 1.10
			for _, o := range book.Sell {
				if o.Online && o.Platinum <= limit {
					l.Competition++
				}
			}
		}
	}

	if stats != nil {
		var recent, older int
		for _, e := range stats.Hours48 {
			age := now.Sub(e.Timestamp)
			switch {
			case age < 0 || age > 48*time.Hour:
				continue
			case age <= 24*time.Hour:
				recent += e.Volume
			default:
				older += e.Volume
			}
			l.Volume += e.Volume
		}
		if older > 0 {
			l.Velocity = float64(recent) / float64(older)
		}
	}

	l.Multiplier = liquidityMultiplier(l.BidAskRatio, l.Competition, l.Velocity)
	return l
}

// liquidityMultiplier blends bid/ask pressure, inverse sell-side
// competition, and velocity via a geometric mean. Each input is clamped
// before blending so a single extreme factor cannot dominate.
func liquidityMultiplier(bidAsk float64, competition int, velocity float64) float64 {
	r := clamp(bidAsk, 0.25, 4.0)
	inv := 10.0 / (10.0 + float64(competition))
	v := clamp(velocity, 0.25, 4.0)
	return clamp(math.Cbrt(r*inv*v), 0.5, 1.5)
}

// Trend holds the normalized price trend over the statistics series.
type Trend struct {
	Slope      float64 // least-squares slope of medians, normalized by mean price
	Direction  string  // rising | falling | stable
	Volatility float64 // coefficient of variation of medians
}

// AnalyzeTrend fits a least-squares line through the median prices and
// measures their dispersion. Fewer than two entries yield a flat trend.
func AnalyzeTrend(entries []market.StatEntry) Trend {
	t := Trend{Direction: "stable"}
	if len(entries) < 2 {
		return t
	}

	prices := make([]float64, len(entries))
	for i, e := range entries {
		prices[i] = e.Median
	}

	mean := meanOf(prices)
	if mean > 0 {
		slope := regressionSlope(prices)
		t.Slope = slope / mean
		t.Volatility = stddevOf(prices, mean) / mean
	}

	switch {
	case t.Slope > trendEpsilon:
		t.Direction = "rising"
	case t.Slope < -trendEpsilon:
		t.Direction = "falling"
	}
	return t
}

// regressionSlope fits y = a + b*x over x = 0..n-1 and returns b.
func regressionSlope(ys []float64) float64 {
	n := float64(len(ys))
	meanX := (n - 1) / 2
	meanY := meanOf(ys)

	var num, den float64
	for i, y := range ys {
		dx := float64(i) - meanX
		num += dx * (y - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
