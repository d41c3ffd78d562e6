package stickiness

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/models"
)

// Config tunes the hysteresis state machine.
type Config struct {
	CloseThreshold      decimal.Decimal // strongly negative spread bound
	MinHoldHours        float64         // positions younger than this are not churned
	ChurnCostMultiplier float64         // required improvement as a multiple of churn cost
}

// DefaultConfig: close below -5 bps, 4h minimum hold, improvement must cover
// twice the churn cost.
func DefaultConfig() Config {
	return Config{
		CloseThreshold:      decimal.NewFromFloat(-0.0005),
		MinHoldHours:        4,
		ChurnCostMultiplier: 2.0,
	}
}

// EvaluationInput is everything the hysteresis decision needs for one pair in
// one cycle. SpreadAvailable is false when the rate query failed upstream; the
// spread value is then meaningless and must not be read.
type EvaluationInput struct {
	Symbol        string
	LongExchange  string
	ShortExchange string

	CurrentSpread   decimal.Decimal
	SpreadAvailable bool

	BestAlternativeSpread decimal.Decimal
	HasAlternative        bool

	LongFeeRate  decimal.Decimal
	ShortFeeRate decimal.Decimal
}

func (in EvaluationInput) trackingKey() string {
	return in.Symbol + "-" + in.LongExchange + "-" + in.ShortExchange
}

// Manager decides KEEP / CLOSE / REPLACE for open position pairs using
// hysteresis: a position is only abandoned when the spread has genuinely
// deteriorated or a replacement clears the churn cost with margin.
type Manager struct {
	store  OpenTimeStore
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewManager builds a stickiness manager over the given open-time store.
func NewManager(store OpenTimeStore, cfg Config, logger *logrus.Logger) *Manager {
	return &Manager{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// RecordOpen must be called when a position pair is opened.
func (m *Manager) RecordOpen(ctx context.Context, position models.OpenPositionPair) error {
	return m.store.RecordOpen(ctx, position.TrackingKey(), position.EntryTimestamp)
}

// RemoveOpen must be called exactly when a position pair closes, evicting the
// tracking entry so a reopened symbol never inherits a stale age.
func (m *Manager) RemoveOpen(ctx context.Context, position models.OpenPositionPair) error {
	return m.store.RemoveOpen(ctx, position.TrackingKey())
}

// ShouldKeepPosition runs the five ordered hysteresis cases:
//
//  1. spread unobtainable        -> KEEP (conservative default)
//  2. spread < 2x closeThreshold -> CLOSE regardless of age
//  3. young and spread tolerable -> KEEP
//  4. spread above threshold     -> KEEP, unless an alternative clears the churn bar -> REPLACE
//  5. spread at/below threshold  -> CLOSE
func (m *Manager) ShouldKeepPosition(ctx context.Context, in EvaluationInput) models.StickinessEvaluationResult {
	if !in.SpreadAvailable {
		return keep("current spread unavailable, holding conservatively")
	}

	hardClose := m.cfg.CloseThreshold.Mul(decimal.NewFromInt(2))
	if in.CurrentSpread.LessThan(hardClose) {
		return models.StickinessEvaluationResult{
			ShouldKeep: false,
			Action:     models.StickinessClose,
			Reason:     "spread collapsed below twice the close threshold",
		}
	}

	ageHours, tracked, err := m.store.AgeHours(ctx, in.trackingKey(), m.now())
	if err != nil {
		m.logger.WithFields(logrus.Fields{"key": in.trackingKey()}).
			WithError(err).Warn("open-time lookup failed, treating position as aged")
		tracked = false
	}

	spreadTolerable := in.CurrentSpread.GreaterThan(m.cfg.CloseThreshold)
	if tracked && ageHours < m.cfg.MinHoldHours && spreadTolerable {
		return keep("too young to churn")
	}

	if spreadTolerable {
		if in.HasAlternative {
			churnCost := in.LongFeeRate.Add(in.ShortFeeRate).Mul(decimal.NewFromInt(2))
			required := churnCost.Mul(decimal.NewFromFloat(m.cfg.ChurnCostMultiplier))
			improvement := in.BestAlternativeSpread.Sub(in.CurrentSpread)
			if improvement.GreaterThanOrEqual(required) {
				return models.StickinessEvaluationResult{
					ShouldKeep: false,
					Action:     models.StickinessReplace,
					Reason:     "alternative spread improvement covers churn cost",
				}
			}
		}
		return keep("spread healthy, improvement below churn bar")
	}

	return models.StickinessEvaluationResult{
		ShouldKeep: false,
		Action:     models.StickinessClose,
		Reason:     "spread at or below close threshold",
	}
}

func keep(reason string) models.StickinessEvaluationResult {
	return models.StickinessEvaluationResult{
		ShouldKeep: true,
		Action:     models.StickinessKeep,
		Reason:     reason,
	}
}
