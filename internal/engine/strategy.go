package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownStrategy marks strategy lookups with no matching profile.
// The HTTP layer maps it to a client error.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy bundles the factor weights and thresholds controlling how
// aggressively the composite score rewards or penalizes each factor.
type Strategy struct {
	Type             string  `json:"type"`
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	VolatilityWeight float64 `json:"volatility_weight"`
	TrendWeight      float64 `json:"trend_weight"`
	ROIWeight        float64 `json:"roi_weight"`
	MinVolume        int     `json:"min_volume_threshold"`

	// Volatility cutoffs for risk classification.
	RiskLowMax    float64 `json:"risk_low_max"`
	RiskMediumMax float64 `json:"risk_medium_max"`
}

var strategies = []Strategy{
	{
		Type:             "safe_steady",
		Name:             "Safe & Steady",
		Description:      "Prioritizes low volatility and stable profits. Best for risk-averse traders.",
		VolatilityWeight: 1.5,
		TrendWeight:      0.5,
		ROIWeight:        0.8,
		MinVolume:        50,
		RiskLowMax:       0.15,
		RiskMediumMax:    0.30,
	},
	{
		Type:             "balanced",
		Name:             "Balanced",
		Description:      "Equal consideration of all factors. Good for general trading.",
		VolatilityWeight: 1.0,
		TrendWeight:      1.0,
		ROIWeight:        1.0,
		MinVolume:        10,
		RiskLowMax:       0.15,
		RiskMediumMax:    0.35,
	},
	{
		Type:             "aggressive",
		Name:             "Aggressive Growth",
		Description:      "Prioritizes high ROI and positive trends. Tolerates volatility for higher gains.",
		VolatilityWeight: 0.6,
		TrendWeight:      1.3,
		ROIWeight:        1.4,
		MinVolume:        5,
		RiskLowMax:       0.20,
		RiskMediumMax:    0.35,
	},
}

// Strategies returns all available strategy profiles.
func Strategies() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

// StrategyByType looks up a strategy profile by its type identifier.
func StrategyByType(typ string) (Strategy, error) {
	for _, s := range strategies {
		if s.Type == typ {
			return s, nil
		}
	}
	return Strategy{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, typ)
}

// riskLevel classifies volatility against the strategy's cutoffs.
func (s Strategy) riskLevel(volatility float64) string {
	switch {
	case volatility < s.RiskLowMax:
		return "Low"
	case volatility < s.RiskMediumMax:
		return "Medium"
	default:
		return "High"
	}
}
