package breakeven

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantjourney/fundarb/internal/costs"
	"github.com/quantjourney/fundarb/internal/models"
	"github.com/quantjourney/fundarb/pkg/interfaces"
)

type fakePredictor struct {
	preds map[string]interfaces.RatePrediction
	err   error
}

func (f *fakePredictor) Predict(_ context.Context, _, exchange string) (interfaces.RatePrediction, error) {
	if f.err != nil {
		return interfaces.RatePrediction{}, f.err
	}
	p, ok := f.preds[exchange]
	if !ok {
		return interfaces.RatePrediction{}, errors.New("no prediction for exchange")
	}
	return p, nil
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// testOpportunity builds an opportunity with equal marks (zero basis
// divergence) and deep open interest, so round-trip costs are four taker fee
// legs plus slippage on the synthetic 2 bp book: just over 0.0024 * notional at
// this depth. Break-even is then roughly 0.0024 / |spread| hours.
func testOpportunity(longRate, shortRate float64) models.ArbitrageOpportunity {
	return models.ArbitrageOpportunity{
		Symbol:            "ETH",
		LongExchange:      "binance",
		ShortExchange:     "bybit",
		LongRate:          d(longRate),
		ShortRate:         d(shortRate),
		Spread:            d(shortRate - longRate),
		ExpectedReturn:    d(math.Abs(shortRate-longRate) * models.HoursPerYear),
		LongMarkPrice:     d(2000),
		ShortMarkPrice:    d(2000),
		LongOpenInterest:  d(1e9),
		ShortOpenInterest: d(1e9),
		Timestamp:         time.Now(),
	}
}

// prediction with bounds collapsed onto the point estimate.
func pointPrediction(rate, confidence float64) interfaces.RatePrediction {
	return interfaces.RatePrediction{
		Rate:       d(rate),
		LowerBound: d(rate),
		UpperBound: d(rate),
		Confidence: confidence,
		Regime:     interfaces.RegimeMeanReverting,
	}
}

func newTestCalculator(p interfaces.EnsembleRatePredictor) *Calculator {
	return NewCalculator(costs.NewCalculator(), p, DefaultConfig())
}

// roundTripTotal mirrors the synthetic-book pricing Compute applies: a touch of
// the configured assumed width around the long mark, taker legs both ways.
func roundTripTotal(t *testing.T, opp models.ArbitrageOpportunity, notional decimal.Decimal) float64 {
	t.Helper()
	half := d(DefaultConfig().AssumedBookSpread / 2)
	one := decimal.NewFromInt(1)
	return costs.NewCalculator().RoundTripCosts(
		notional,
		opp.LongMarkPrice.Mul(one.Sub(half)),
		opp.LongMarkPrice.Mul(one.Add(half)),
		opp.MinOpenInterest(),
		decimal.Zero,
		models.OrderTypeTaker,
	).Total.InexactFloat64()
}

func TestComputeFallbackWithoutPredictor(t *testing.T) {
	calc := newTestCalculator(nil)
	opp := testOpportunity(-0.0003, 0.0001) // current long-short spread -0.0004

	be := calc.Compute(context.Background(), opp, d(10000))

	assert.InDelta(t, 0.5, be.Confidence, 1e-9)
	assert.InDelta(t, -0.0004, be.PredictedSpread.InexactFloat64(), 1e-12)
	assert.InDelta(t, 12, be.ReliableHorizonHours, 1e-9)
	assert.False(t, be.IsPredictionReliable)

	// hours = total costs / (|spread| * notional).
	total := roundTripTotal(t, opp, d(10000))
	assert.InDelta(t, total/(0.0004*10000), be.PredictedBreakEvenHours, 1e-6)
	// worst case uses 0.7x the current spread.
	assert.InDelta(t, total/(0.0004*0.7*10000), be.WorstCaseBreakEvenHours, 1e-6)
	// best case uses 1.3x.
	assert.InDelta(t, total/(0.0004*1.3*10000), be.BestCaseBreakEvenHours, 1e-6)
	// low confidence doubles the adjusted break-even.
	assert.InDelta(t, be.PredictedBreakEvenHours/0.5, be.ConfidenceAdjustedBreakEvenHours, 1e-6)
}

func TestComputeFallbackOnPredictorError(t *testing.T) {
	calc := newTestCalculator(&fakePredictor{err: errors.New("model offline")})
	opp := testOpportunity(-0.0003, 0.0001)

	be := calc.Compute(context.Background(), opp, d(10000))

	assert.InDelta(t, 0.5, be.Confidence, 1e-9)
	assert.InDelta(t, -0.0004, be.PredictedSpread.InexactFloat64(), 1e-12)
}

func TestComputeUsesPredictorBounds(t *testing.T) {
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": {Rate: d(-0.0002), LowerBound: d(-0.0003), UpperBound: d(-0.0001), Confidence: 0.8},
		"bybit":   {Rate: d(0.0001), LowerBound: d(0.00005), UpperBound: d(0.00015), Confidence: 0.9},
	}}
	calc := newTestCalculator(pred)
	opp := testOpportunity(-0.0003, 0.0001)

	be := calc.Compute(context.Background(), opp, d(10000))

	// Confidence is the weaker leg's.
	assert.InDelta(t, 0.8, be.Confidence, 1e-9)
	assert.InDelta(t, -0.0003, be.PredictedSpread.InexactFloat64(), 1e-12)
	assert.InDelta(t, math.Round(24*0.8), be.ReliableHorizonHours, 1e-9)
	assert.True(t, be.IsPredictionReliable)

	// worst = longLower - shortUpper = -0.00045; best = longUpper - shortLower = -0.00015.
	total := roundTripTotal(t, opp, d(10000))
	assert.InDelta(t, total/(0.00045*10000), be.WorstCaseBreakEvenHours, 1e-6)
	assert.InDelta(t, total/(0.00015*10000), be.BestCaseBreakEvenHours, 1e-6)
}

func TestComputeNeverBreaksEvenIsInfinite(t *testing.T) {
	calc := newTestCalculator(nil)
	opp := testOpportunity(0, 0) // zero spread, zero forecast

	be := calc.Compute(context.Background(), opp, d(10000))

	assert.True(t, math.IsInf(be.PredictedBreakEvenHours, 1))
	assert.True(t, math.IsInf(be.ConfidenceAdjustedBreakEvenHours, 1))
}

func TestLiquidityScore(t *testing.T) {
	assert.Zero(t, LiquidityScore(decimal.Zero))
	assert.Zero(t, LiquidityScore(d(-5)))
	assert.Zero(t, LiquidityScore(d(500))) // below the $1k floor clamps to 0
	assert.InDelta(t, 0.3, LiquidityScore(d(1e6)), 1e-9)
	assert.InDelta(t, 0.6, LiquidityScore(d(1e9)), 1e-9)
	assert.InDelta(t, 1.0, LiquidityScore(d(1e14)), 1e-9)
}

func TestScoreWeights(t *testing.T) {
	calc := newTestCalculator(nil)

	be := models.PredictedBreakEven{
		PredictedSpread:         d(0.0005), // saturated
		Confidence:              1.0,
		PredictedBreakEvenHours: 0,
	}
	// 0.3 + 0.25 + 0.3 + 0.15*0.6
	assert.InDelta(t, 0.94, calc.Score(be, d(1e9)), 1e-9)

	// Infinite break-even zeroes that component.
	be.PredictedBreakEvenHours = math.Inf(1)
	assert.InDelta(t, 0.64, calc.Score(be, d(1e9)), 1e-9)
}

// Recommendation tree, one test per branch in tree order.

func recommendFor(t *testing.T, calc *Calculator, opp models.ArbitrageOpportunity) (models.Recommendation, models.PredictedBreakEven) {
	t.Helper()
	be := calc.Compute(context.Background(), opp, d(10000))
	score := calc.Score(be, opp.MinOpenInterest())
	return calc.Recommend(opp, be, score), be
}

func TestRecommendInfiniteBreakEvenFallsBackToRawSpread(t *testing.T) {
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(0.0001, 0.9), // predicted spread 0: never breaks even
		"bybit":   pointPrediction(0.0001, 0.9),
	}}
	calc := newTestCalculator(pred)

	rec, be := recommendFor(t, calc, testOpportunity(-0.0003, 0.0001))
	require.True(t, math.IsInf(be.PredictedBreakEvenHours, 1))
	assert.Equal(t, models.RecommendationBuy, rec, "current spread above 1bp stays a buy")

	rec, _ = recommendFor(t, calc, testOpportunity(0.00004, 0.0001)) // current spread 0.6bp
	assert.Equal(t, models.RecommendationHold, rec)
}

func TestRecommendReversalSkipWhenBreakEvenAfterHorizon(t *testing.T) {
	// Current spread positive (long-short = +0.0002), forecast flips negative
	// and tiny: about 240h to break even against a 19h reliable horizon.
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(-0.00001, 0.8),
		"bybit":   pointPrediction(0, 0.8),
	}}
	calc := newTestCalculator(pred)

	rec, be := recommendFor(t, calc, testOpportunity(0.0002, 0))
	require.Greater(t, be.PredictedBreakEvenHours, be.ReliableHorizonHours)
	assert.Equal(t, models.RecommendationSkip, rec)
}

func TestRecommendReversalBuyWhenProfitBeforeFlip(t *testing.T) {
	// Forecast flips but with enough magnitude to break even in about 5h.
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(-0.0005, 0.8),
		"bybit":   pointPrediction(0, 0.8),
	}}
	calc := newTestCalculator(pred)

	rec, be := recommendFor(t, calc, testOpportunity(0.0002, 0))
	require.LessOrEqual(t, be.PredictedBreakEvenHours, be.ReliableHorizonHours)
	assert.Equal(t, models.RecommendationBuy, rec)
}

func TestRecommendLowConfidence(t *testing.T) {
	t.Run("meaningful spread under max days is a buy", func(t *testing.T) {
		pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
			"binance": pointPrediction(-0.0002, 0.3),
			"bybit":   pointPrediction(0, 0.3),
		}}
		calc := newTestCalculator(pred)

		rec, be := recommendFor(t, calc, testOpportunity(-0.0002, 0))
		require.False(t, be.IsPredictionReliable)
		assert.Equal(t, models.RecommendationBuy, rec)
	})

	t.Run("negligible spread is a hold", func(t *testing.T) {
		pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
			"binance": pointPrediction(-0.00005, 0.3),
			"bybit":   pointPrediction(0, 0.3),
		}}
		calc := newTestCalculator(pred)

		rec, be := recommendFor(t, calc, testOpportunity(-0.00005, 0))
		require.False(t, be.IsPredictionReliable)
		assert.Equal(t, models.RecommendationHold, rec)
	})
}

func TestRecommendWorstCaseHold(t *testing.T) {
	// Roughly 480h worst-case break-even exceeds twice the 168h max-days bound.
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(-0.000005, 0.9),
		"bybit":   pointPrediction(0, 0.9),
	}}
	calc := newTestCalculator(pred)

	rec, be := recommendFor(t, calc, testOpportunity(-0.000005, 0))
	require.Greater(t, be.WorstCaseBreakEvenHours, 2*DefaultConfig().MaxBreakEvenDays*24)
	assert.Equal(t, models.RecommendationHold, rec)
}

func TestRecommendStrongBuyFastBreakEven(t *testing.T) {
	// About 5h break-even.
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(-0.0005, 0.9),
		"bybit":   pointPrediction(0, 0.9),
	}}
	calc := newTestCalculator(pred)

	rec, be := recommendFor(t, calc, testOpportunity(-0.0005, 0))
	require.Less(t, be.PredictedBreakEvenHours, 12.0)
	assert.Equal(t, models.RecommendationStrongBuy, rec)
}

func TestRecommendStrongBuyHighScoreUnder48h(t *testing.T) {
	// About 24h break-even, high confidence, saturated spread score.
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(-0.0001, 0.9),
		"bybit":   pointPrediction(0, 0.9),
	}}
	calc := newTestCalculator(pred)

	opp := testOpportunity(-0.0001, 0)
	be := calc.Compute(context.Background(), opp, d(10000))
	require.Greater(t, be.PredictedBreakEvenHours, 12.0)
	require.Less(t, be.PredictedBreakEvenHours, 48.0)

	// Hand the tree a saturated score to hit the second strong-buy arm.
	assert.Equal(t, models.RecommendationStrongBuy, calc.Recommend(opp, be, 0.75))
}

func TestRecommendBuyWithinMaxDays(t *testing.T) {
	// About 120h break-even: past the horizon, within the 168h bound.
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(-0.00002, 0.9),
		"bybit":   pointPrediction(0, 0.9),
	}}
	calc := newTestCalculator(pred)

	opp := testOpportunity(-0.00002, 0)
	be := calc.Compute(context.Background(), opp, d(10000))
	require.Greater(t, be.PredictedBreakEvenHours, be.ReliableHorizonHours)
	require.Less(t, be.PredictedBreakEvenHours, 168.0)

	assert.Equal(t, models.RecommendationBuy, calc.Recommend(opp, be, 0.4))
}

func TestRecommendFinalHold(t *testing.T) {
	// About 240h break-even: finite, past max days, worst case still under 336h.
	pred := &fakePredictor{preds: map[string]interfaces.RatePrediction{
		"binance": pointPrediction(-0.00001, 0.9),
		"bybit":   pointPrediction(0, 0.9),
	}}
	calc := newTestCalculator(pred)

	opp := testOpportunity(-0.00001, 0)
	be := calc.Compute(context.Background(), opp, d(10000))
	require.Greater(t, be.PredictedBreakEvenHours, 168.0)
	require.LessOrEqual(t, be.WorstCaseBreakEvenHours, 336.0)

	assert.Equal(t, models.RecommendationHold, calc.Recommend(opp, be, 0.4))
}

func TestOpportunityCostsKeepMarketImpactLive(t *testing.T) {
	calc := newTestCalculator(nil)
	notional := d(10000)

	deep := testOpportunity(-0.0003, 0.0001)
	deepCosts := calc.opportunityCosts(deep, notional)
	assert.True(t, deepCosts.Slippage.IsPositive(),
		"slippage must not vanish when open interest is known")

	thin := testOpportunity(-0.0003, 0.0001)
	thin.LongOpenInterest = d(40000)
	thin.ShortOpenInterest = d(40000)
	thinCosts := calc.opportunityCosts(thin, notional)
	assert.True(t, thinCosts.Slippage.GreaterThan(deepCosts.Slippage),
		"a thinner book must cost more")

	unknown := testOpportunity(-0.0003, 0.0001)
	unknown.LongOpenInterest = decimal.Zero
	unknown.ShortOpenInterest = decimal.Zero
	flat := calc.opportunityCosts(unknown, notional)
	// Four flat 5 bp taker legs on $10k.
	assert.InDelta(t, 20.0, flat.Slippage.InexactFloat64(), 1e-9)
}

func TestEvaluatePopulatesEverything(t *testing.T) {
	calc := newTestCalculator(nil)
	opp := testOpportunity(-0.0003, 0.0001)

	ev := calc.Evaluate(context.Background(), opp, d(10000))

	assert.Equal(t, opp.Symbol, ev.Opportunity.Symbol)
	assert.False(t, ev.Costs.Total.IsZero())
	assert.Greater(t, ev.Score, 0.0)
	assert.NotEmpty(t, ev.Recommendation)
}
