package engine

import "time"

// ExecutionMode selects which order book side prices are resolved from.
type ExecutionMode string

const (
	// ModeInstant prices against immediate fills: sell the set to the
	// top bid, buy parts from the top ask.
	ModeInstant ExecutionMode = "instant"
	// ModePatient prices against posted listings: undercut the lowest
	// ask by one to sell, outbid the highest bid by one to buy.
	ModePatient ExecutionMode = "patient"
)

// ParseExecutionMode normalizes a mode string, defaulting to instant.
func ParseExecutionMode(s string) ExecutionMode {
	if ExecutionMode(s) == ModePatient {
		return ModePatient
	}
	return ModeInstant
}

// PartDetail is the per-part cost breakdown inside a SetDatum.
type PartDetail struct {
	Slug      string  `json:"slug"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	TotalCost float64 `json:"total_cost"`
}

// SetDatum is the full per-set analysis record for one run.
type SetDatum struct {
	SetSlug string `json:"set_slug"`
	SetName string `json:"set_name"`

	// Primary fields reflect the run's execution mode.
	SetPrice         float64 `json:"set_price"`
	PartCost         float64 `json:"part_cost"`
	ProfitMargin     float64 `json:"profit_margin"`
	ProfitPercentage float64 `json:"profit_percentage"`

	// Both execution-mode variants are captured so a rescore can switch
	// modes without refetching.
	InstantSetPrice         float64 `json:"instant_set_price"`
	InstantPartCost         float64 `json:"instant_part_cost"`
	InstantProfitMargin     float64 `json:"instant_profit_margin"`
	InstantProfitPercentage float64 `json:"instant_profit_percentage"`
	PatientSetPrice         float64 `json:"patient_set_price"`
	PatientPartCost         float64 `json:"patient_part_cost"`
	PatientProfitMargin     float64 `json:"patient_profit_margin"`
	PatientProfitPercentage float64 `json:"patient_profit_percentage"`

	Parts []PartDetail `json:"part_details"`

	// Liquidity and trend factors.
	Volume              int     `json:"volume"`
	BidAskRatio         float64 `json:"bid_ask_ratio"`
	SellSideCompetition int     `json:"sell_side_competition"`
	LiquidityVelocity   float64 `json:"liquidity_velocity"`
	LiquidityMultiplier float64 `json:"liquidity_multiplier"`
	TrendSlope          float64 `json:"trend_slope"`
	TrendMultiplier     float64 `json:"trend_multiplier"`
	TrendDirection      string  `json:"trend_direction"`
	Volatility          float64 `json:"volatility"`
	VolatilityPenalty   float64 `json:"volatility_penalty"`
	RiskLevel           string  `json:"risk_level"`

	// Per-factor contributions; their product reconstructs the score
	// (volatility divides) up to rounding.
	ProfitContribution     float64 `json:"profit_contribution"`
	VolumeContribution     float64 `json:"volume_contribution"`
	ROIContribution        float64 `json:"roi_contribution"`
	TrendContribution      float64 `json:"trend_contribution"`
	LiquidityContribution  float64 `json:"liquidity_contribution"`
	VolatilityContribution float64 `json:"volatility_contribution"`

	CompositeScore float64 `json:"composite_score"`

	// Throughput estimates derived from 48h volume.
	ETAHours     float64 `json:"eta_hours"`
	ProfitPerDay float64 `json:"profit_per_day"`

	ExecutionMode ExecutionMode `json:"execution_mode"`

	// Populated when upstream fetches failed for this set; metrics are
	// zeroed but the set stays in the output.
	FetchError string `json:"fetch_error,omitempty"`
}

// AnalysisResult is the complete scored output of one run.
type AnalysisResult struct {
	RunID          int64         `json:"run_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Strategy       string        `json:"strategy"`
	ExecutionMode  ExecutionMode `json:"execution_mode"`
	Sets           []SetDatum    `json:"sets"`
	TotalSets      int           `json:"total_sets"`
	ProfitableSets int           `json:"profitable_sets"`
	Cached         bool          `json:"cached"`
}
