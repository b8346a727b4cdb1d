package engine

import (
	"math"
	"sort"
)

// Score fills the strategy-dependent factors and the composite score of
// d in place. Sets below the strategy's volume floor or without positive
// profit keep a zero score and are excluded from the profitable count.
//
// The score is deliberately multiplicative so zeroing any factor zeroes
// the whole score:
//
//	base  = profit_margin * log10(max(volume, 10))
//	score = base * roi_factor * trend_mult * liquidity_mult / volatility_penalty
func Score(d *SetDatum, strat Strategy) {
	d.TrendMultiplier = 1 + clamp(d.TrendSlope*strat.TrendWeight, -0.5, 0.5)
	d.VolatilityPenalty = 1 + d.Volatility*strat.VolatilityWeight
	d.RiskLevel = strat.riskLevel(d.Volatility)

	volumeFactor := math.Log10(math.Max(float64(d.Volume), 10))
	roiFactor := 1 + (d.ProfitPercentage/100)*strat.ROIWeight

	d.ProfitContribution = d.ProfitMargin
	d.VolumeContribution = volumeFactor
	d.ROIContribution = roiFactor
	d.TrendContribution = d.TrendMultiplier
	d.LiquidityContribution = d.LiquidityMultiplier
	d.VolatilityContribution = d.VolatilityPenalty

	if d.Volume < strat.MinVolume || d.ProfitMargin <= 0 {
		d.CompositeScore = 0
		return
	}

	score := d.ProfitMargin * volumeFactor * roiFactor *
		d.TrendMultiplier * d.LiquidityMultiplier / d.VolatilityPenalty
	d.CompositeScore = sanitizeFloat(score)
	if d.CompositeScore < 0 {
		d.CompositeScore = 0
	}
}

// ScoreAll scores every set under the strategy and sorts the slice by
// (composite_score desc, profit_margin desc, set_slug asc). It returns
// the profitable count: sets with a positive score.
func ScoreAll(sets []SetDatum, strat Strategy) int {
	profitable := 0
	for i := range sets {
		Score(&sets[i], strat)
		if sets[i].CompositeScore > 0 {
			profitable++
		}
	}
	sortSets(sets)
	return profitable
}

// Rescore re-derives primary fields for a new (strategy, mode) pair from
// the captured per-set data and re-scores. No upstream calls are made.
func Rescore(sets []SetDatum, strat Strategy, mode ExecutionMode) ([]SetDatum, int) {
	out := make([]SetDatum, len(sets))
	copy(out, sets)
	for i := range out {
		out[i].applyMode(mode)
	}
	profitable := ScoreAll(out, strat)
	return out, profitable
}

func sortSets(sets []SetDatum) {
	sort.Slice(sets, func(i, j int) bool {
		a, b := sets[i], sets[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.ProfitMargin != b.ProfitMargin {
			return a.ProfitMargin > b.ProfitMargin
		}
		return a.SetSlug < b.SetSlug
	})
}

// sanitizeFloat replaces NaN/Inf so results stay JSON-serializable.
func sanitizeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
