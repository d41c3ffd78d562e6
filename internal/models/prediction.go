package models

import "github.com/shopspring/decimal"

// Recommendation is the discrete output of the break-even decision tree.
// Recomputed on demand, never stored.
type Recommendation string

const (
	RecommendationStrongBuy Recommendation = "strong_buy"
	RecommendationBuy       Recommendation = "buy"
	RecommendationHold      Recommendation = "hold"
	RecommendationSkip      Recommendation = "skip"
)

// PredictedBreakEven carries the confidence-adjusted break-even picture for one
// opportunity at one size. Hour fields use math.Inf(1) for "never breaks even".
// Derived per evaluation and not cached across cycles.
type PredictedBreakEven struct {
	PredictedBreakEvenHours          float64         `json:"predicted_break_even_hours"`
	Confidence                       float64         `json:"confidence"`
	PredictedSpread                  decimal.Decimal `json:"predicted_spread"`
	WorstCaseBreakEvenHours          float64         `json:"worst_case_break_even_hours"`
	BestCaseBreakEvenHours           float64         `json:"best_case_break_even_hours"`
	ReliableHorizonHours             float64         `json:"reliable_horizon_hours"`
	ConfidenceAdjustedBreakEvenHours float64         `json:"confidence_adjusted_break_even_hours"`
	IsPredictionReliable             bool            `json:"is_prediction_reliable"`
}

// EvaluatedOpportunity pairs an opportunity with its cost, break-even, score and
// recommendation, plus optional historical enrichment.
type EvaluatedOpportunity struct {
	Opportunity    ArbitrageOpportunity `json:"opportunity"`
	Plan           *ExecutionPlan       `json:"plan,omitempty"`
	Costs          TradeCosts           `json:"costs"`
	BreakEven      PredictedBreakEven   `json:"break_even"`
	Score          float64              `json:"score"`
	Recommendation Recommendation       `json:"recommendation"`

	// Historical enrichment; zero-valued when no metrics provider is configured.
	LongConsistency          float64         `json:"long_consistency,omitempty"`
	ShortConsistency         float64         `json:"short_consistency,omitempty"`
	AvgHistoricalSpread      decimal.Decimal `json:"avg_historical_spread,omitempty"`
	WorstCaseHistoricalHours float64         `json:"worst_case_historical_hours,omitempty"`
	HasHistory               bool            `json:"has_history"`
}
