package costs

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantjourney/fundarb/internal/models"
)

// Calculator is the pure trade cost model: maker/taker fees, square-root
// market-impact slippage, predicted funding impact of our own order, and
// break-even arithmetic. No I/O; every method is deterministic.
type Calculator struct {
	MakerFeeRate decimal.Decimal // fee per leg, fraction of notional
	TakerFeeRate decimal.Decimal

	MakerSlippageFloor float64 // fixed floor for maker orders
	FlatTakerSlippage  float64 // fallback when open interest is unknown
	FlatMakerSlippage  float64
	MaxImpact          float64 // hard cap on the market-impact term
	MaxFundingImpact   float64 // hard cap on self-inflicted funding drift
}

// NewCalculator returns a calculator with conservative exchange-typical defaults.
func NewCalculator() *Calculator {
	return &Calculator{
		MakerFeeRate:       decimal.NewFromFloat(0.0002), // 2 bps
		TakerFeeRate:       decimal.NewFromFloat(0.0005), // 5 bps
		MakerSlippageFloor: 0.0001,                       // 1 bp
		FlatTakerSlippage:  0.0005,                       // 5 bps
		FlatMakerSlippage:  0.0001,                       // 1 bp
		MaxImpact:          0.02,                         // 2%
		MaxFundingImpact:   0.0005,                       // 5 bps
	}
}

// Slippage estimates the USD slippage for one leg at the given size.
//
// Base term: half the bid/ask spread for taker orders, a fixed 1 bp floor for
// maker orders. Market-impact term: sqrt(notional/openInterest) scaled by twice
// the spread percent, capped at MaxImpact. With zero or unknown open interest a
// conservative flat rate applies instead.
func (c *Calculator) Slippage(notional, bestBid, bestAsk, openInterest decimal.Decimal, orderType models.OrderType) decimal.Decimal {
	if notional.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	notionalF := notional.InexactFloat64()
	bid := bestBid.InexactFloat64()
	ask := bestAsk.InexactFloat64()
	oi := openInterest.InexactFloat64()

	if oi <= 0 || bid <= 0 || ask <= 0 || ask < bid {
		flat := c.FlatTakerSlippage
		if orderType == models.OrderTypeMaker {
			flat = c.FlatMakerSlippage
		}
		return decimal.NewFromFloat(flat * notionalF)
	}

	mid := (bid + ask) / 2
	spreadPct := (ask - bid) / mid

	base := spreadPct / 2
	if orderType == models.OrderTypeMaker {
		base = c.MakerSlippageFloor
	}

	impact := math.Sqrt(math.Min(notionalF/oi, 1)) * spreadPct * 2
	if impact > c.MaxImpact {
		impact = c.MaxImpact
	}

	return decimal.NewFromFloat((base + impact) * notionalF)
}

// FundingImpact predicts how much our own order moves the funding rate against
// us: linear in notional/openInterest, scaled by the prevailing rate, capped at
// MaxFundingImpact. Returns 0 when open interest is unusable or the rate is NaN.
func (c *Calculator) FundingImpact(notional, openInterest decimal.Decimal, currentRate float64) float64 {
	oi := openInterest.InexactFloat64()
	if oi <= 0 || math.IsNaN(currentRate) {
		return 0
	}
	notionalF := notional.InexactFloat64()
	if notionalF <= 0 {
		return 0
	}

	impact := math.Abs(currentRate) * math.Min(notionalF/oi, 1)
	if impact > c.MaxFundingImpact {
		impact = c.MaxFundingImpact
	}
	return impact
}

// BreakEvenHours returns the hours of funding income needed to recover
// totalCosts. ok is false when the position never breaks even (hourly return is
// zero or negative); hours is 0 when there is nothing to recover.
func (c *Calculator) BreakEvenHours(totalCosts, hourlyReturn decimal.Decimal) (hours float64, ok bool) {
	if hourlyReturn.LessThanOrEqual(decimal.Zero) {
		return 0, false
	}
	if totalCosts.LessThanOrEqual(decimal.Zero) {
		return 0, true
	}
	return totalCosts.Div(hourlyReturn).InexactFloat64(), true
}

// TradeCosts aggregates the full USD cost of opening (or closing) both legs at
// the given size. basisDivergence is the mark price gap between the two legs as
// a fraction of mid; it is half-weighted on entry since only exit requires
// crossing the full divergence.
func (c *Calculator) TradeCosts(
	notional, bestBid, bestAsk, openInterest, basisDivergence decimal.Decimal,
	orderType models.OrderType,
	isEntry bool,
) models.TradeCosts {
	feeRate := c.TakerFeeRate
	if orderType == models.OrderTypeMaker {
		feeRate = c.MakerFeeRate
	}

	two := decimal.NewFromInt(2)
	fees := notional.Mul(feeRate).Mul(two)
	slippage := c.Slippage(notional, bestBid, bestAsk, openInterest, orderType).Mul(two)

	basisWeight := decimal.NewFromInt(1)
	if isEntry {
		basisWeight = decimal.NewFromFloat(0.5)
	}
	basisRisk := basisDivergence.Abs().Mul(notional).Mul(basisWeight)

	return models.TradeCosts{
		Fees:          fees,
		Slippage:      slippage,
		BasisRiskCost: basisRisk,
		Total:         fees.Add(slippage).Add(basisRisk),
	}
}

// RoundTripCosts is entry plus exit at the same size and book state.
func (c *Calculator) RoundTripCosts(
	notional, bestBid, bestAsk, openInterest, basisDivergence decimal.Decimal,
	orderType models.OrderType,
) models.TradeCosts {
	entry := c.TradeCosts(notional, bestBid, bestAsk, openInterest, basisDivergence, orderType, true)
	exit := c.TradeCosts(notional, bestBid, bestAsk, openInterest, basisDivergence, orderType, false)
	return entry.Add(exit)
}
