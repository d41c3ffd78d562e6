package evaluator

import (
	"context"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/breakeven"
	"github.com/quantjourney/fundarb/internal/costs"
	"github.com/quantjourney/fundarb/internal/models"
	"github.com/quantjourney/fundarb/pkg/interfaces"
)

// Config bounds opportunity selection.
type Config struct {
	MaxBreakEvenDays float64 // reject a pick whose worst-case break-even exceeds this
}

// DefaultConfig mirrors the break-even bound used elsewhere in the engine.
func DefaultConfig() Config {
	return Config{MaxBreakEvenDays: 7}
}

// Evaluator ranks discovered opportunities and decides whether an existing
// position should yield to a better one. Historical metrics are optional; all
// scoring degrades to the live break-even picture without them.
type Evaluator struct {
	costs   *costs.Calculator
	history interfaces.HistoricalMetricsProvider
	cfg     Config
	logger  *logrus.Logger
}

// New builds an evaluator. history may be nil.
func New(costCalc *costs.Calculator, history interfaces.HistoricalMetricsProvider, cfg Config, logger *logrus.Logger) *Evaluator {
	return &Evaluator{costs: costCalc, history: history, cfg: cfg, logger: logger}
}

// EvaluateWithHistory attaches per-leg historical rate metrics and a worst-case
// break-even computed from each leg's historical minimum rate rather than its
// current rate. Deliberately pessimistic: a spread that has only briefly
// existed should not look cheap to enter. Without a metrics provider (or on a
// failed lookup) the evaluation passes through unchanged.
func (e *Evaluator) EvaluateWithHistory(ctx context.Context, ev models.EvaluatedOpportunity, notional decimal.Decimal) models.EvaluatedOpportunity {
	if e.history == nil {
		return ev
	}

	opp := ev.Opportunity
	longMetrics, err := e.history.HistoricalMetrics(ctx, opp.Symbol, opp.LongExchange)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"symbol": opp.Symbol, "exchange": opp.LongExchange}).
			WithError(err).Debug("no historical metrics for long leg")
		return ev
	}
	shortMetrics, err := e.history.HistoricalMetrics(ctx, opp.Symbol, opp.ShortExchange)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"symbol": opp.Symbol, "exchange": opp.ShortExchange}).
			WithError(err).Debug("no historical metrics for short leg")
		return ev
	}

	ev.LongConsistency = longMetrics.ConsistencyScore
	ev.ShortConsistency = shortMetrics.ConsistencyScore
	ev.AvgHistoricalSpread = shortMetrics.AverageRate.Sub(longMetrics.AverageRate)
	ev.HasHistory = true

	worstSpread := shortMetrics.MinRate.Sub(longMetrics.MinRate).Abs()
	hourlyReturn := worstSpread.Mul(notional)
	hours, ok := e.costs.BreakEvenHours(ev.Costs.Total, hourlyReturn)
	if !ok {
		ev.WorstCaseHistoricalHours = math.Inf(1)
	} else {
		ev.WorstCaseHistoricalHours = hours
	}
	return ev
}

// worstCaseHours picks the historical worst case when available, otherwise the
// prediction-based one.
func worstCaseHours(ev models.EvaluatedOpportunity) float64 {
	if ev.HasHistory {
		return ev.WorstCaseHistoricalHours
	}
	return ev.BreakEven.WorstCaseBreakEvenHours
}

// SelectWorstCase picks the most robust candidate among those carrying a valid
// execution plan: score = consistency * |avg historical spread| * liquidity /
// worst-case break-even hours, with the weaker leg's consistency. Returns nil
// when no candidate survives, including when the best pick's worst case exceeds
// the configured max-days bound.
func (e *Evaluator) SelectWorstCase(evaluated []models.EvaluatedOpportunity) *models.EvaluatedOpportunity {
	var (
		best      *models.EvaluatedOpportunity
		bestScore = math.Inf(-1)
	)

	for i := range evaluated {
		ev := &evaluated[i]
		if ev.Plan == nil {
			continue
		}

		hours := worstCaseHours(*ev)
		if math.IsInf(hours, 1) || math.IsNaN(hours) {
			continue
		}
		if hours < 1 {
			hours = 1 // sub-hour break-evens all count as one hour to keep the ratio bounded
		}

		consistency := math.Min(ev.LongConsistency, ev.ShortConsistency)
		avgSpread := ev.AvgHistoricalSpread.Abs().InexactFloat64()
		if !ev.HasHistory {
			// No history: fall back to the live spread with neutral consistency.
			consistency = 0.5
			avgSpread = ev.Opportunity.Spread.Abs().InexactFloat64()
		}

		liquidity := breakeven.LiquidityScore(ev.Opportunity.MinOpenInterest())
		score := consistency * avgSpread * liquidity / hours

		if score > bestScore {
			bestScore = score
			best = ev
		}
	}

	if best == nil {
		return nil
	}
	if worstCaseHours(*best) > e.cfg.MaxBreakEvenDays*24 {
		e.logger.WithFields(logrus.Fields{
			"symbol":           best.Opportunity.Symbol,
			"worst_case_hours": worstCaseHours(*best),
		}).Info("rejecting best candidate: worst-case break-even beyond bound")
		return nil
	}
	return best
}

// PositionEconomics is the live cost picture of holding an open pair.
type PositionEconomics struct {
	Position         models.OpenPositionPair
	CurrentSpread    decimal.Decimal // signed hourly funding spread being earned
	UnrecoveredCosts decimal.Decimal // entry costs not yet paid back by funding income
	ExitCosts        models.TradeCosts
}

// ShouldRebalance compares the time for the current position (P1) to finish
// breaking even against the time for a replacement (P2) to pay back the full
// switching cost: P1's sunk unrecovered costs plus P1 exit plus P2 round trip.
// The asymmetry is intentional: P1 only has to recover what is still sunk,
// while P2 must additionally pay for the switch. This is what keeps the engine
// from churning between similar-quality opportunities.
func (e *Evaluator) ShouldRebalance(econ PositionEconomics, next models.EvaluatedOpportunity, cumulativeLoss decimal.Decimal) (bool, string) {
	if next.Plan == nil {
		return false, "no execution plan for replacement"
	}

	sunk := econ.UnrecoveredCosts.Add(cumulativeLoss)

	currentHourly := econ.CurrentSpread.Abs().Mul(econ.Position.NotionalSize)
	p1Hours, p1Ok := e.costs.BreakEvenHours(sunk, currentHourly)

	switchingCosts := sunk.Add(econ.ExitCosts.Total).Add(next.Costs.Total)
	nextHourly := next.Opportunity.Spread.Abs().Mul(next.Plan.Notional)
	p2Hours, p2Ok := e.costs.BreakEvenHours(switchingCosts, nextHourly)

	// 1. Switching is instantly net-profitable.
	if p2Ok && p2Hours == 0 {
		return true, "replacement is instantly net-profitable"
	}
	// 2. The current position has already paid for itself.
	if sunk.LessThanOrEqual(decimal.Zero) {
		return false, "current position already profitable"
	}
	// 3. The current position can never break even.
	if !p1Ok {
		if p2Ok {
			return true, "current position never breaks even, replacement does"
		}
		return false, "neither position breaks even"
	}
	// 4. The replacement can never break even.
	if !p2Ok {
		return false, "replacement never breaks even"
	}
	// 5. Switch only if the replacement recovers the full switching cost sooner.
	if p2Hours < p1Hours {
		return true, "replacement breaks even sooner despite switching costs"
	}
	return false, "holding breaks even sooner than switching"
}
