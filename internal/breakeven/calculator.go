package breakeven

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantjourney/fundarb/internal/costs"
	"github.com/quantjourney/fundarb/internal/models"
	"github.com/quantjourney/fundarb/pkg/interfaces"
)

// Config bounds the break-even decision tree.
type Config struct {
	MaxBreakEvenDays     float64 // absolute bound for buy decisions
	ReliabilityThreshold float64 // minimum confidence to trust a prediction
	MinMeaningfulSpread  float64 // economically meaningful current spread, fraction
	AssumedBookSpread    float64 // synthetic bid/ask width as a fraction of mid, used when no order book is observable
}

// DefaultConfig matches production tuning: a week to break even, 60% confidence
// floor, 1 bp minimum spread, 2 bp assumed book width.
func DefaultConfig() Config {
	return Config{
		MaxBreakEvenDays:     7,
		ReliabilityThreshold: 0.6,
		MinMeaningfulSpread:  0.0001,
		AssumedBookSpread:    0.0002,
	}
}

// Scoring weights. Spread magnitude and break-even dominate; liquidity is a
// tiebreaker.
const (
	weightSpread     = 0.3
	weightConfidence = 0.25
	weightBreakEven  = 0.3
	weightLiquidity  = 0.15

	spreadSaturation = 0.0005 // spread score saturates at 5 bps
	strongBuyHours   = 12
	fallbackLowConf  = 0.5
)

// Calculator combines the cost model with the (optional) ensemble predictor to
// produce confidence-adjusted, worst-case and best-case break-even estimates and
// a discrete recommendation.
type Calculator struct {
	costs     *costs.Calculator
	predictor interfaces.EnsembleRatePredictor
	cfg       Config
}

// NewCalculator builds a break-even calculator. predictor may be nil; every
// consumer then takes the current-rate fallback path.
func NewCalculator(costCalc *costs.Calculator, predictor interfaces.EnsembleRatePredictor, cfg Config) *Calculator {
	return &Calculator{costs: costCalc, predictor: predictor, cfg: cfg}
}

// legForecast is the per-leg output of the predictor shim. All consuming logic
// goes through this one adapter rather than null-checking the predictor at call
// sites.
type legForecast struct {
	rate       float64
	lowerBound float64
	upperBound float64
	confidence float64
	predicted  bool
}

// forecastLeg fetches a leg prediction, degrading to the current rate with 0.5
// confidence when the predictor is absent or fails.
func (c *Calculator) forecastLeg(ctx context.Context, symbol, exchange string, currentRate decimal.Decimal) legForecast {
	current := currentRate.InexactFloat64()
	if c.predictor == nil {
		return legForecast{rate: current, confidence: fallbackLowConf}
	}
	pred, err := c.predictor.Predict(ctx, symbol, exchange)
	if err != nil {
		return legForecast{rate: current, confidence: fallbackLowConf}
	}
	return legForecast{
		rate:       pred.Rate.InexactFloat64(),
		lowerBound: pred.LowerBound.InexactFloat64(),
		upperBound: pred.UpperBound.InexactFloat64(),
		confidence: pred.Confidence,
		predicted:  true,
	}
}

// Compute runs the break-even pipeline for one opportunity at one size.
// Hour fields carry math.Inf(1) when the spread never pays for the costs.
func (c *Calculator) Compute(ctx context.Context, opp models.ArbitrageOpportunity, notional decimal.Decimal) models.PredictedBreakEven {
	long := c.forecastLeg(ctx, opp.Symbol, opp.LongExchange, opp.LongRate)
	short := c.forecastLeg(ctx, opp.Symbol, opp.ShortExchange, opp.ShortRate)

	currentSpread := opp.LongRate.Sub(opp.ShortRate).InexactFloat64()

	var predictedSpread, worstCaseSpread, bestCaseSpread, confidence float64
	if long.predicted && short.predicted {
		predictedSpread = long.rate - short.rate
		worstCaseSpread = long.lowerBound - short.upperBound
		bestCaseSpread = long.upperBound - short.lowerBound
		confidence = math.Min(long.confidence, short.confidence)
	} else {
		predictedSpread = currentSpread
		worstCaseSpread = 0.7 * currentSpread
		bestCaseSpread = 1.3 * currentSpread
		confidence = fallbackLowConf
	}

	reliableHorizon := math.Round(24 * math.Max(0.5, confidence))

	tradeCosts := c.opportunityCosts(opp, notional)

	predictedBE := c.breakEvenForSpread(tradeCosts.Total, predictedSpread, notional)
	worstBE := c.breakEvenForSpread(tradeCosts.Total, worstCaseSpread, notional)
	bestBE := c.breakEvenForSpread(tradeCosts.Total, bestCaseSpread, notional)

	adjusted := predictedBE
	if !math.IsInf(predictedBE, 1) {
		adjusted = predictedBE / math.Max(0.5, confidence)
	}

	return models.PredictedBreakEven{
		PredictedBreakEvenHours:          predictedBE,
		Confidence:                       confidence,
		PredictedSpread:                  decimal.NewFromFloat(predictedSpread),
		WorstCaseBreakEvenHours:          worstBE,
		BestCaseBreakEvenHours:           bestBE,
		ReliableHorizonHours:             reliableHorizon,
		ConfidenceAdjustedBreakEvenHours: adjusted,
		IsPredictionReliable:             confidence >= c.cfg.ReliabilityThreshold,
	}
}

// opportunityCosts prices a round trip at the opportunity's book state, using
// the thinner leg's open interest as the liquidity proxy and the mark price gap
// as basis divergence.
func (c *Calculator) opportunityCosts(opp models.ArbitrageOpportunity, notional decimal.Decimal) models.TradeCosts {
	basisDivergence := decimal.Zero
	if !opp.LongMarkPrice.IsZero() {
		basisDivergence = opp.LongMarkPrice.Sub(opp.ShortMarkPrice).Div(opp.LongMarkPrice)
	}

	// The decision engine sees no order book, so the touch is synthesized
	// around the mark at the configured assumed width. This keeps both the
	// half-spread base and the open-interest impact term live; a zero mark
	// price still degrades to the flat slippage fallback.
	openInterest := opp.MinOpenInterest()
	if c.cfg.AssumedBookSpread <= 0 {
		// No assumed width: a zero-width book would price slippage as free,
		// so force the flat fallback instead.
		openInterest = decimal.Zero
	}
	half := decimal.NewFromFloat(c.cfg.AssumedBookSpread / 2)
	one := decimal.NewFromInt(1)
	bestBid := opp.LongMarkPrice.Mul(one.Sub(half))
	bestAsk := opp.LongMarkPrice.Mul(one.Add(half))

	return c.costs.RoundTripCosts(
		notional,
		bestBid,
		bestAsk,
		openInterest,
		basisDivergence,
		models.OrderTypeTaker,
	)
}

// breakEvenForSpread converts a spread forecast into hours to recover costs.
func (c *Calculator) breakEvenForSpread(totalCosts decimal.Decimal, spread float64, notional decimal.Decimal) float64 {
	hourlyReturn := decimal.NewFromFloat(math.Abs(spread)).Mul(notional)
	hours, ok := c.costs.BreakEvenHours(totalCosts, hourlyReturn)
	if !ok {
		return math.Inf(1)
	}
	return hours
}

// Score produces the composite [0,1] opportunity score: spread magnitude
// (saturating at 5 bps), confidence, break-even proximity within a week, and
// log-scaled liquidity.
func (c *Calculator) Score(be models.PredictedBreakEven, minOpenInterest decimal.Decimal) float64 {
	spreadScore := math.Min(math.Abs(be.PredictedSpread.InexactFloat64())/spreadSaturation, 1)

	breakEvenScore := 0.0
	if !math.IsInf(be.PredictedBreakEvenHours, 1) && !math.IsNaN(be.PredictedBreakEvenHours) {
		breakEvenScore = math.Max(0, 1-be.PredictedBreakEvenHours/(24*7))
	}

	return weightSpread*spreadScore +
		weightConfidence*be.Confidence +
		weightBreakEven*breakEvenScore +
		weightLiquidity*LiquidityScore(minOpenInterest)
}

// LiquidityScore maps open interest in USD to [0,1] on a log scale: $1k scores
// 0, $10B scores 1.
func LiquidityScore(openInterest decimal.Decimal) float64 {
	oi := openInterest.InexactFloat64()
	if oi <= 0 {
		return 0
	}
	score := math.Log10(oi/1000) / 10
	return math.Max(0, math.Min(1, score))
}

// Recommend walks the decision tree in order; the first matching rule wins.
//
// The tree deliberately does not skip merely because a reversal is forecast: it
// skips only when break-even cannot be reached before the flip, so capital stays
// deployed whenever the remaining window still pays.
func (c *Calculator) Recommend(opp models.ArbitrageOpportunity, be models.PredictedBreakEven, score float64) models.Recommendation {
	currentSpread := opp.LongRate.Sub(opp.ShortRate).InexactFloat64()
	predictedSpread := be.PredictedSpread.InexactFloat64()
	hours := be.PredictedBreakEvenHours
	maxHours := c.cfg.MaxBreakEvenDays * 24

	// Unusable break-even: fall back to raw current-spread profitability.
	if math.IsNaN(hours) || math.IsInf(hours, 0) {
		if math.Abs(currentSpread) > c.cfg.MinMeaningfulSpread {
			return models.RecommendationBuy
		}
		return models.RecommendationHold
	}

	// Forecast reversal: only step aside when we cannot break even before the
	// flip.
	if predictedSpread*currentSpread < 0 {
		if hours > be.ReliableHorizonHours {
			return models.RecommendationSkip
		}
		return models.RecommendationBuy
	}

	// Unreliable prediction: trade the observable spread on its own merits.
	if !be.IsPredictionReliable {
		if math.Abs(currentSpread) > c.cfg.MinMeaningfulSpread && hours < maxHours {
			return models.RecommendationBuy
		}
		return models.RecommendationHold
	}

	if be.WorstCaseBreakEvenHours > 2*maxHours {
		return models.RecommendationHold
	}

	if hours < strongBuyHours {
		return models.RecommendationStrongBuy
	}
	if score >= 0.7 && hours < 48 && be.Confidence >= 0.7 {
		return models.RecommendationStrongBuy
	}

	if hours <= be.ReliableHorizonHours || hours <= maxHours {
		return models.RecommendationBuy
	}

	return models.RecommendationHold
}

// Evaluate is the convenience pipeline: costs, break-even, score and
// recommendation for one opportunity at one size.
func (c *Calculator) Evaluate(ctx context.Context, opp models.ArbitrageOpportunity, notional decimal.Decimal) models.EvaluatedOpportunity {
	be := c.Compute(ctx, opp, notional)
	score := c.Score(be, opp.MinOpenInterest())
	return models.EvaluatedOpportunity{
		Opportunity:    opp,
		Costs:          c.opportunityCosts(opp, notional),
		BreakEven:      be,
		Score:          score,
		Recommendation: c.Recommend(opp, be, score),
	}
}
