package allocator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/models"
)

// Config tunes position sizing gates.
type Config struct {
	MinPositionSize decimal.Decimal // smallest notional worth opening
	Leverage        decimal.Decimal // leverage applied to collateral
	CooldownTTL     time.Duration   // how long a failed pair stays filtered
}

// DefaultConfig: $1,000 minimum positions at 3x, 30 minute cooldown.
func DefaultConfig() Config {
	return Config{
		MinPositionSize: decimal.NewFromInt(1000),
		Leverage:        decimal.NewFromInt(3),
		CooldownTTL:     30 * time.Minute,
	}
}

// Ladder performs waterfall capital allocation: top up matching existing
// positions first, fill each new position fully before moving down the ranking,
// and stop when capital runs out. Given identical inputs the output is
// identical, which execution auditing depends on.
type Ladder struct {
	cooldowns CooldownStore
	cfg       Config
	logger    *logrus.Logger
	now       func() time.Time
}

// New builds a ladder allocator over the given cooldown store.
func New(cooldowns CooldownStore, cfg Config, logger *logrus.Logger) *Ladder {
	return &Ladder{cooldowns: cooldowns, cfg: cfg, logger: logger, now: time.Now}
}

// MarkPairFailed puts an exchange pair on cooldown after a failed execution.
func (l *Ladder) MarkPairFailed(ctx context.Context, pairKey string) error {
	return l.cooldowns.MarkFiltered(ctx, pairKey, l.now().Add(l.cfg.CooldownTTL))
}

// Allocate walks the pre-ranked opportunities in order and distributes
// totalCapital. balances is the per-exchange collateral snapshot taken once for
// the cycle; checking live balances per opportunity would race against our own
// allocations.
func (l *Ladder) Allocate(
	ctx context.Context,
	ranked []models.EvaluatedOpportunity,
	positions map[string]models.OpenPositionPair,
	totalCapital decimal.Decimal,
	balances map[string]decimal.Decimal,
) models.LadderAllocationResult {
	result := models.LadderAllocationResult{
		RemainingCapital: totalCapital,
	}

	minCollateral := decimal.Zero
	if l.cfg.Leverage.IsPositive() {
		minCollateral = l.cfg.MinPositionSize.Div(l.cfg.Leverage)
	}

	for i := range ranked {
		if result.RemainingCapital.LessThanOrEqual(decimal.Zero) {
			break
		}

		ev := ranked[i]
		opp := ev.Opportunity

		if ev.Plan == nil {
			result.Allocations = append(result.Allocations, skipped(opp, "no execution plan"))
			continue
		}

		filtered, err := l.cooldowns.IsFiltered(ctx, opp.ExchangePairKey(), l.now())
		if err != nil {
			l.logger.WithError(err).Warn("cooldown lookup failed, treating pair as filtered")
			filtered = true
		}
		if filtered {
			result.Allocations = append(result.Allocations, skipped(opp, "exchange pair cooling down"))
			continue
		}

		longBalance := balances[opp.LongExchange]
		shortBalance := balances[opp.ShortExchange]
		if longBalance.LessThan(minCollateral) || shortBalance.LessThan(minCollateral) {
			result.Allocations = append(result.Allocations, skipped(opp, "insufficient collateral on an exchange"))
			continue
		}

		if existing, ok := positions[opp.Symbol]; ok {
			if existing.ExchangePairKey() != opp.ExchangePairKey() {
				// One pair per symbol: never build a third leg.
				result.Allocations = append(result.Allocations, skipped(opp, "symbol already held on a different exchange pair"))
				continue
			}

			headroom := ev.Plan.MaxCollateral.Sub(existing.CurrentCollateral)
			if headroom.LessThanOrEqual(decimal.Zero) {
				result.Allocations = append(result.Allocations, skipped(opp, "existing position already at maximum size"))
				continue
			}
			topUp := decimal.Min(result.RemainingCapital, headroom)
			result.Allocations = append(result.Allocations, models.Allocation{
				Opportunity: opp,
				Collateral:  topUp,
				Status:      models.AllocationTopUp,
			})
			result.TotalAllocated = result.TotalAllocated.Add(topUp)
			result.RemainingCapital = result.RemainingCapital.Sub(topUp)
			continue
		}

		amount := decimal.Min(result.RemainingCapital, ev.Plan.MaxCollateral)
		status := models.AllocationFull
		if amount.LessThan(ev.Plan.MaxCollateral) {
			status = models.AllocationPartial
		}
		result.Allocations = append(result.Allocations, models.Allocation{
			Opportunity: opp,
			Collateral:  amount,
			Status:      status,
		})
		result.TotalAllocated = result.TotalAllocated.Add(amount)
		result.RemainingCapital = result.RemainingCapital.Sub(amount)
	}

	l.logger.WithFields(logrus.Fields{
		"allocations": len(result.Allocations),
		"allocated":   result.TotalAllocated.String(),
		"remaining":   result.RemainingCapital.String(),
	}).Info("ladder allocation completed")

	return result
}

func skipped(opp models.ArbitrageOpportunity, reason string) models.Allocation {
	return models.Allocation{
		Opportunity: opp,
		Collateral:  decimal.Zero,
		Status:      models.AllocationSkipped,
		Reason:      reason,
	}
}
