package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"prime-flipper/internal/market"
)

func TestAnalyzeLiquidityVolumeWindows(t *testing.T) {
	now := time.Now().UTC()
	stats := &market.Statistics{
		Hours48: []market.StatEntry{
			{Timestamp: now.Add(-2 * time.Hour), Volume: 30, Median: 100},
			{Timestamp: now.Add(-30 * time.Hour), Volume: 10, Median: 100},
			{Timestamp: now.Add(-60 * time.Hour), Volume: 999, Median: 100}, // outside window
		},
	}
	l := AnalyzeLiquidity(nil, stats, now)
	assert.Equal(t, 40, l.Volume)
	assert.InDelta(t, 3.0, l.Velocity, 1e-9, "30 recent / 10 older")
}

func TestAnalyzeLiquidityBidAskAndCompetition(t *testing.T) {
	b := book(
		[]market.Order{
			{Platinum: 100, Quantity: 2, Online: true},
			{Platinum: 108, Quantity: 1, Online: true}, // within 10% of best ask
			{Platinum: 125, Quantity: 1, Online: true}, // outside 10%
			{Platinum: 101, Quantity: 5, Online: false},
		},
		[]market.Order{
			{Platinum: 90, Quantity: 8, Online: true},
			{Platinum: 85, Quantity: 4, Online: false},
		},
	)
	l := AnalyzeLiquidity(b, nil, time.Now())
	assert.InDelta(t, 2.0, l.BidAskRatio, 1e-9, "8 buy qty / 4 online sell qty")
	assert.Equal(t, 2, l.Competition)
}

func TestAnalyzeLiquidityDefaultsWithoutData(t *testing.T) {
	l := AnalyzeLiquidity(nil, nil, time.Now())
	assert.Equal(t, 0, l.Volume)
	assert.Equal(t, 1.0, l.BidAskRatio)
	assert.Equal(t, 1.0, l.Velocity)
	assert.Equal(t, 1.0, l.Multiplier, "neutral inputs blend to 1.0")
}

func TestLiquidityMultiplierClamped(t *testing.T) {
	assert.Equal(t, 1.5, liquidityMultiplier(100, 0, 100))
	assert.Equal(t, 0.5, liquidityMultiplier(0.01, 50, 0.01))
	assert.InDelta(t, 1.0, liquidityMultiplier(1.0, 0, 1.0), 1e-9)
}

func TestAnalyzeTrendDirections(t *testing.T) {
	rising := []market.StatEntry{{Median: 100}, {Median: 110}, {Median: 120}, {Median: 130}}
	falling := []market.StatEntry{{Median: 130}, {Median: 120}, {Median: 110}, {Median: 100}}
	flat := []market.StatEntry{{Median: 100}, {Median: 100}, {Median: 100}}

	assert.Equal(t, "rising", AnalyzeTrend(rising).Direction)
	assert.Equal(t, "falling", AnalyzeTrend(falling).Direction)

	ft := AnalyzeTrend(flat)
	assert.Equal(t, "stable", ft.Direction)
	assert.Zero(t, ft.Slope)
	assert.Zero(t, ft.Volatility)
}

func TestAnalyzeTrendSlopeNormalizedByMean(t *testing.T) {
	// Medians 100, 110, 120: raw slope 10 per step, mean 110.
	tr := AnalyzeTrend([]market.StatEntry{{Median: 100}, {Median: 110}, {Median: 120}})
	assert.InDelta(t, 10.0/110.0, tr.Slope, 1e-9)
}

func TestAnalyzeTrendVolatilityIsCoefficientOfVariation(t *testing.T) {
	tr := AnalyzeTrend([]market.StatEntry{{Median: 90}, {Median: 110}})
	// Sample stddev of {90,110} is sqrt(200) ~ 14.142, mean 100.
	assert.InDelta(t, math.Sqrt(200)/100, tr.Volatility, 1e-9)
}

func TestAnalyzeTrendTooShort(t *testing.T) {
	tr := AnalyzeTrend([]market.StatEntry{{Median: 100}})
	assert.Equal(t, "stable", tr.Direction)
	assert.Zero(t, tr.Slope)
}
