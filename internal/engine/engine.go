package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/aggregator"
	"github.com/quantjourney/fundarb/internal/allocator"
	"github.com/quantjourney/fundarb/internal/breakeven"
	"github.com/quantjourney/fundarb/internal/costs"
	"github.com/quantjourney/fundarb/internal/evaluator"
	"github.com/quantjourney/fundarb/internal/models"
	"github.com/quantjourney/fundarb/internal/stickiness"
	"github.com/quantjourney/fundarb/pkg/interfaces"
)

// PositionSource reports the live open position pairs. The exchange account
// state is the source of truth; the engine never caches positions across cycles.
type PositionSource interface {
	OpenPositions(ctx context.Context) ([]models.OpenPositionPair, error)
}

// CycleJournal persists one cycle's decision output.
type CycleJournal interface {
	RecordCycle(ctx context.Context, cycleID uuid.UUID, detectedAt time.Time, evaluated []models.EvaluatedOpportunity, allocations models.LadderAllocationResult) error
}

// Notifier pushes the cycle's strongest recommendations to an external channel.
type Notifier interface {
	NotifyStrongBuys(ctx context.Context, evaluated []models.EvaluatedOpportunity) error
}

// Config tunes sizing and cycle pacing.
type Config struct {
	Exchanges            []string        // exchanges to snapshot balances for
	MinSpread            decimal.Decimal // discovery gate, fraction per hour
	Leverage             decimal.Decimal // applied to per-pair collateral
	MaxCollateralPerPair decimal.Decimal // sizing cap per exchange pair
	MaxTotalCapital      decimal.Decimal // optional cap on deployable capital, zero = uncapped
	TakerFeeRate         decimal.Decimal // per leg, used for churn cost in hysteresis
	CycleTimeout         time.Duration
}

// DefaultConfig: 1 bp spread gate, 3x leverage, $10k per pair, 5 bp taker legs,
// two minutes per cycle.
func DefaultConfig() Config {
	return Config{
		MinSpread:            decimal.NewFromFloat(0.0001),
		Leverage:             decimal.NewFromInt(3),
		MaxCollateralPerPair: decimal.NewFromInt(10000),
		TakerFeeRate:         decimal.NewFromFloat(0.0005),
		CycleTimeout:         2 * time.Minute,
	}
}

// Deps wires the engine's collaborators. Positions, Journal and Notifier are
// optional; History is carried inside the Evaluator.
type Deps struct {
	Aggregator *aggregator.Aggregator
	BreakEven  *breakeven.Calculator
	Evaluator  *evaluator.Evaluator
	Stickiness *stickiness.Manager
	Allocator  *allocator.Ladder
	Costs      *costs.Calculator
	Balances   interfaces.BalanceProvider
	Positions  PositionSource
	Journal    CycleJournal
	Notifier   Notifier
}

// CycleResult is the complete decision output of one cycle. DataUnavailable
// distinguishes "we could not see the market" from "we saw it and chose zero
// risk"; downstream consumers must not treat an empty allocation as a signal
// when the flag is set.
type CycleResult struct {
	CycleID           uuid.UUID                                    `json:"cycle_id"`
	StartedAt         time.Time                                    `json:"started_at"`
	Duration          time.Duration                                `json:"duration"`
	Symbols           []string                                     `json:"symbols"`
	Evaluated         []models.EvaluatedOpportunity                `json:"evaluated"`
	PositionDecisions map[string]models.StickinessEvaluationResult `json:"position_decisions,omitempty"`
	Allocation        models.LadderAllocationResult                `json:"allocation"`
	DataUnavailable   bool                                         `json:"data_unavailable"`
}

// Engine runs one full decision cycle: discover, evaluate, decide on held
// positions, allocate, journal, notify. It holds no market state between
// cycles; everything is derived fresh from the providers.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *logrus.Logger
}

// New builds an engine from its dependencies.
func New(deps Deps, cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{deps: deps, cfg: cfg, logger: logger}
}

// RunCycle executes one decision cycle. It always returns a result; a cycle
// that cannot see the market returns an empty allocation with DataUnavailable
// set rather than an error, because a blind cycle is an expected operating
// condition, not a fault.
func (e *Engine) RunCycle(ctx context.Context) (result CycleResult) {
	if e.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CycleTimeout)
		defer cancel()
	}

	result.CycleID = uuid.New()
	result.StartedAt = time.Now().UTC()
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	symbols, err := e.deps.Aggregator.DiscoverAssets(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("asset discovery failed, skipping cycle")
		result.DataUnavailable = true
		return result
	}
	result.Symbols = symbols

	balances := e.snapshotBalances(ctx)
	if len(balances) == 0 {
		e.logger.Warn("no exchange balances available, skipping cycle")
		result.DataUnavailable = true
		return result
	}

	opportunities, err := e.deps.Aggregator.FindArbitrageOpportunities(ctx, symbols, e.cfg.MinSpread)
	if err != nil {
		e.logger.WithError(err).Warn("opportunity discovery failed, skipping cycle")
		result.DataUnavailable = true
		return result
	}

	result.Evaluated = e.evaluateAll(ctx, opportunities)

	positions := e.openPositions(ctx)
	result.PositionDecisions = e.decidePositions(ctx, positions, result.Evaluated)
	kept := keptPositions(positions, result.PositionDecisions)

	candidates := allocationCandidates(result.Evaluated)
	result.Allocation = e.deps.Allocator.Allocate(ctx, candidates, kept, e.totalCapital(balances), balances)

	if e.deps.Journal != nil {
		if err := e.deps.Journal.RecordCycle(ctx, result.CycleID, result.StartedAt, result.Evaluated, result.Allocation); err != nil {
			e.logger.WithError(err).Error("failed to journal cycle")
		}
	}
	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyStrongBuys(ctx, result.Evaluated); err != nil {
			e.logger.WithError(err).Warn("failed to send notifications")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"cycle_id":      result.CycleID.String(),
		"symbols":       len(result.Symbols),
		"opportunities": len(result.Evaluated),
		"allocations":   len(result.Allocation.Allocations),
		"allocated":     result.Allocation.TotalAllocated.String(),
	}).Info("cycle completed")

	return result
}

// snapshotBalances fetches every exchange's free collateral once. The same
// snapshot feeds every allocation decision in the cycle; per-opportunity
// re-queries would race against our own allocations. A failed exchange is
// omitted, which makes its opportunities fail the collateral gate downstream.
func (e *Engine) snapshotBalances(ctx context.Context) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal, len(e.cfg.Exchanges))
	for _, exchange := range e.cfg.Exchanges {
		balance, err := e.deps.Balances.Balance(ctx, exchange)
		if err != nil {
			e.logger.WithFields(logrus.Fields{"exchange": exchange}).
				WithError(err).Warn("balance unavailable, omitting exchange")
			continue
		}
		balances[exchange] = balance
	}
	return balances
}

func (e *Engine) totalCapital(balances map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b)
	}
	if e.cfg.MaxTotalCapital.IsPositive() && total.GreaterThan(e.cfg.MaxTotalCapital) {
		return e.cfg.MaxTotalCapital
	}
	return total
}

// evaluateAll runs the break-even pipeline per opportunity at the configured
// size, attaches an execution plan, enriches with history, and re-ranks by
// score for reporting. The ladder's input is ranked separately, see
// allocationCandidates.
func (e *Engine) evaluateAll(ctx context.Context, opportunities []models.ArbitrageOpportunity) []models.EvaluatedOpportunity {
	notional := e.cfg.MaxCollateralPerPair.Mul(e.cfg.Leverage)

	evaluated := make([]models.EvaluatedOpportunity, 0, len(opportunities))
	for _, opp := range opportunities {
		ev := e.deps.BreakEven.Evaluate(ctx, opp, notional)
		ev.Plan = &models.ExecutionPlan{
			Symbol:         opp.Symbol,
			LongExchange:   opp.LongExchange,
			ShortExchange:  opp.ShortExchange,
			Notional:       notional,
			Leverage:       e.cfg.Leverage,
			MaxCollateral:  e.cfg.MaxCollateralPerPair,
			EstimatedCosts: ev.Costs,
		}
		ev = e.deps.Evaluator.EvaluateWithHistory(ctx, ev, notional)
		evaluated = append(evaluated, ev)
	}

	sort.SliceStable(evaluated, func(i, j int) bool {
		if evaluated[i].Score != evaluated[j].Score {
			return evaluated[i].Score > evaluated[j].Score
		}
		return evaluated[i].Opportunity.PairKey() < evaluated[j].Opportunity.PairKey()
	})
	return evaluated
}

// decidePositions runs the hysteresis pass over every open pair.
func (e *Engine) decidePositions(ctx context.Context, positions []models.OpenPositionPair, evaluated []models.EvaluatedOpportunity) map[string]models.StickinessEvaluationResult {
	if len(positions) == 0 {
		return nil
	}

	decisions := make(map[string]models.StickinessEvaluationResult, len(positions))
	for _, pos := range positions {
		in := stickiness.EvaluationInput{
			Symbol:        pos.Symbol,
			LongExchange:  pos.LongExchange,
			ShortExchange: pos.ShortExchange,
			LongFeeRate:   e.cfg.TakerFeeRate,
			ShortFeeRate:  e.cfg.TakerFeeRate,
		}
		in.CurrentSpread, in.SpreadAvailable = e.currentSpread(ctx, pos)
		in.BestAlternativeSpread, in.HasAlternative = bestAlternative(pos, evaluated)

		decision := e.deps.Stickiness.ShouldKeepPosition(ctx, in)
		if decision.Action == models.StickinessReplace {
			decision = e.confirmReplace(pos, in, decision, evaluated)
		}
		decisions[pos.TrackingKey()] = decision

		e.logger.WithFields(logrus.Fields{
			"position": pos.TrackingKey(),
			"action":   string(decision.Action),
			"reason":   decision.Reason,
		}).Info("position decision")
	}
	return decisions
}

// confirmReplace re-checks a REPLACE from the hysteresis pass against the
// sunk-cost-aware rebalance rule. Hysteresis only compares spreads; here the
// exit legs and the replacement's full round trip are charged too, so a
// REPLACE stands only when switching genuinely pays back sooner. The
// replacement candidate is the most robust same-symbol evaluation on a
// different exchange pair.
func (e *Engine) confirmReplace(pos models.OpenPositionPair, in stickiness.EvaluationInput, decision models.StickinessEvaluationResult, evaluated []models.EvaluatedOpportunity) models.StickinessEvaluationResult {
	if e.deps.Costs == nil {
		return decision
	}

	next := e.deps.Evaluator.SelectWorstCase(replacementCandidates(pos, evaluated))
	if next == nil {
		return models.StickinessEvaluationResult{
			ShouldKeep: true,
			Action:     models.StickinessKeep,
			Reason:     "no robust replacement candidate",
		}
	}

	ok, reason := e.deps.Evaluator.ShouldRebalance(e.positionEconomics(pos, in), *next, decimal.Zero)
	if !ok {
		e.logger.WithFields(logrus.Fields{
			"position": pos.TrackingKey(),
			"reason":   reason,
		}).Info("replace rejected by rebalance check")
		return models.StickinessEvaluationResult{
			ShouldKeep: true,
			Action:     models.StickinessKeep,
			Reason:     reason,
		}
	}
	return decision
}

// replacementCandidates filters the cycle's evaluations down to plans that
// could take over the position's symbol on a different exchange pair.
func replacementCandidates(pos models.OpenPositionPair, evaluated []models.EvaluatedOpportunity) []models.EvaluatedOpportunity {
	out := make([]models.EvaluatedOpportunity, 0, len(evaluated))
	for _, ev := range evaluated {
		if ev.Opportunity.Symbol != pos.Symbol || ev.Opportunity.ExchangePairKey() == pos.ExchangePairKey() {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// positionEconomics estimates the live cost picture of an open pair. No order
// book or open interest is observable for a held position, so entry and exit
// legs price at the flat slippage fallback; funding earned since entry pays
// down the entry costs.
func (e *Engine) positionEconomics(pos models.OpenPositionPair, in stickiness.EvaluationInput) evaluator.PositionEconomics {
	entry := e.deps.Costs.TradeCosts(pos.NotionalSize, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, models.OrderTypeTaker, true)
	exit := e.deps.Costs.TradeCosts(pos.NotionalSize, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, models.OrderTypeTaker, false)

	unrecovered := entry.Total
	if !pos.EntryTimestamp.IsZero() {
		heldHours := decimal.NewFromFloat(time.Since(pos.EntryTimestamp).Hours())
		earned := pos.EntrySpread.Abs().Mul(pos.NotionalSize).Mul(heldHours)
		unrecovered = unrecovered.Sub(earned)
	}

	spread := pos.EntrySpread
	if in.SpreadAvailable {
		spread = in.CurrentSpread
	}

	return evaluator.PositionEconomics{
		Position:         pos,
		CurrentSpread:    spread,
		UnrecoveredCosts: unrecovered,
		ExitCosts:        exit,
	}
}

// currentSpread recomputes the position's live spread from fresh per-exchange
// rates. Both legs must answer; a missing leg makes the spread unavailable,
// which the hysteresis pass treats as KEEP.
func (e *Engine) currentSpread(ctx context.Context, pos models.OpenPositionPair) (decimal.Decimal, bool) {
	rates := e.deps.Aggregator.GetFundingRates(ctx, pos.Symbol)

	var longRate, shortRate decimal.Decimal
	var haveLong, haveShort bool
	for _, r := range rates {
		switch r.Exchange {
		case pos.LongExchange:
			longRate, haveLong = r.CurrentRate, true
		case pos.ShortExchange:
			shortRate, haveShort = r.CurrentRate, true
		}
	}
	if !haveLong || !haveShort {
		return decimal.Zero, false
	}
	return shortRate.Sub(longRate), true
}

// bestAlternative finds the strongest discovered spread for the same symbol on
// a different exchange pair.
func bestAlternative(pos models.OpenPositionPair, evaluated []models.EvaluatedOpportunity) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for i := range evaluated {
		opp := evaluated[i].Opportunity
		if opp.Symbol != pos.Symbol || opp.ExchangePairKey() == pos.ExchangePairKey() {
			continue
		}
		if !found || opp.Spread.GreaterThan(best) {
			best = opp.Spread
			found = true
		}
	}
	return best, found
}

// keptPositions filters the open pairs down to those the hysteresis pass kept,
// keyed by symbol for the allocator's top-up and one-pair-per-symbol checks.
// Positions being closed or replaced are excluded so the allocator does not
// top them up mid-exit.
func keptPositions(positions []models.OpenPositionPair, decisions map[string]models.StickinessEvaluationResult) map[string]models.OpenPositionPair {
	if len(positions) == 0 {
		return nil
	}
	kept := make(map[string]models.OpenPositionPair, len(positions))
	for _, pos := range positions {
		if d, ok := decisions[pos.TrackingKey()]; ok && !d.ShouldKeep {
			continue
		}
		kept[pos.Symbol] = pos
	}
	return kept
}

// allocationCandidates keeps only opportunities worth entering and ranks them
// the way the ladder consumes them: annualized expected return descending,
// ties broken by the larger theoretical position size, then pair key for
// determinism. Holds and skips never reach the allocator.
func allocationCandidates(evaluated []models.EvaluatedOpportunity) []models.EvaluatedOpportunity {
	candidates := make([]models.EvaluatedOpportunity, 0, len(evaluated))
	for _, ev := range evaluated {
		switch ev.Recommendation {
		case models.RecommendationStrongBuy, models.RecommendationBuy:
			candidates = append(candidates, ev)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Opportunity.ExpectedReturn, candidates[j].Opportunity.ExpectedReturn
		if !ri.Equal(rj) {
			return ri.GreaterThan(rj)
		}
		var mi, mj decimal.Decimal
		if candidates[i].Plan != nil {
			mi = candidates[i].Plan.MaxCollateral
		}
		if candidates[j].Plan != nil {
			mj = candidates[j].Plan.MaxCollateral
		}
		if !mi.Equal(mj) {
			return mi.GreaterThan(mj)
		}
		return candidates[i].Opportunity.PairKey() < candidates[j].Opportunity.PairKey()
	})
	return candidates
}

func (e *Engine) openPositions(ctx context.Context) []models.OpenPositionPair {
	if e.deps.Positions == nil {
		return nil
	}
	positions, err := e.deps.Positions.OpenPositions(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("open positions unavailable, skipping hysteresis pass")
		return nil
	}
	return positions
}
