package journal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantjourney/fundarb/internal/models"
)

// DBPool abstracts the pgx pool so tests can substitute pgxmock.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Journal persists per-cycle decision output for auditing. Nothing in the
// decision path reads it back; it exists so a cycle's recommendations and
// allocations can be reconstructed after the fact.
type Journal struct {
	db     DBPool
	logger *logrus.Logger
}

// New builds a journal over a pgx pool.
func New(db DBPool, logger *logrus.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// CycleRecord is a persisted evaluated opportunity row.
type CycleRecord struct {
	ID             string
	CycleID        string
	Symbol         string
	LongExchange   string
	ShortExchange  string
	Spread         decimal.Decimal
	ExpectedReturn decimal.Decimal
	Recommendation models.Recommendation
	DetectedAt     time.Time
}

// RecordCycle writes one cycle's evaluated opportunities and the resulting
// allocation plan in a single transaction. A partially journaled cycle is worse
// than an unjournaled one, so everything commits or nothing does.
func (j *Journal) RecordCycle(
	ctx context.Context,
	cycleID uuid.UUID,
	detectedAt time.Time,
	evaluated []models.EvaluatedOpportunity,
	allocations models.LadderAllocationResult,
) error {
	if j.db == nil {
		return fmt.Errorf("database pool is not available")
	}

	tx, err := j.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
			j.logger.WithError(err).Error("Failed to rollback journal transaction")
		}
	}()

	const oppQuery = `
		INSERT INTO evaluated_opportunities (
			id, cycle_id, symbol, long_exchange, short_exchange,
			spread, expected_return, break_even_hours, confidence,
			score, recommendation, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	for i := range evaluated {
		ev := &evaluated[i]
		_, err := tx.Exec(ctx, oppQuery,
			uuid.New().String(), cycleID.String(),
			ev.Opportunity.Symbol, ev.Opportunity.LongExchange, ev.Opportunity.ShortExchange,
			ev.Opportunity.Spread, ev.Opportunity.ExpectedReturn,
			finiteOrNil(ev.BreakEven.ConfidenceAdjustedBreakEvenHours),
			ev.BreakEven.Confidence, ev.Score, string(ev.Recommendation), detectedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert evaluated opportunity %s: %w", ev.Opportunity.PairKey(), err)
		}
	}

	const allocQuery = `
		INSERT INTO allocations (
			id, cycle_id, symbol, long_exchange, short_exchange,
			collateral, status, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i := range allocations.Allocations {
		a := &allocations.Allocations[i]
		_, err := tx.Exec(ctx, allocQuery,
			uuid.New().String(), cycleID.String(),
			a.Opportunity.Symbol, a.Opportunity.LongExchange, a.Opportunity.ShortExchange,
			a.Collateral, string(a.Status), a.Reason, detectedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation %s: %w", a.Opportunity.PairKey(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit journal transaction: %w", err)
	}

	j.logger.WithFields(logrus.Fields{
		"cycle_id":      cycleID.String(),
		"opportunities": len(evaluated),
		"allocations":   len(allocations.Allocations),
	}).Info("Journaled cycle")

	return nil
}

// RecentOpportunities returns the newest journaled opportunity rows, most
// recent first.
func (j *Journal) RecentOpportunities(ctx context.Context, limit int) ([]CycleRecord, error) {
	if j.db == nil {
		return nil, fmt.Errorf("database pool is not available")
	}

	const query = `
		SELECT id, cycle_id, symbol, long_exchange, short_exchange,
		       spread, expected_return, recommendation, detected_at
		FROM evaluated_opportunities
		ORDER BY detected_at DESC
		LIMIT $1
	`
	rows, err := j.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journaled opportunities: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var recommendation string
		if err := rows.Scan(
			&rec.ID, &rec.CycleID, &rec.Symbol, &rec.LongExchange, &rec.ShortExchange,
			&rec.Spread, &rec.ExpectedReturn, &recommendation, &rec.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journaled opportunity: %w", err)
		}
		rec.Recommendation = models.Recommendation(recommendation)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journaled opportunities: %w", err)
	}

	return records, nil
}

// PurgeBefore deletes journal rows older than the cutoff and reports how many
// opportunity rows were removed.
func (j *Journal) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if j.db == nil {
		return 0, fmt.Errorf("database pool is not available")
	}

	if _, err := j.db.Exec(ctx, `DELETE FROM allocations WHERE created_at < $1`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge allocations: %w", err)
	}
	tag, err := j.db.Exec(ctx, `DELETE FROM evaluated_opportunities WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

// finiteOrNil maps non-finite hour values to SQL NULL; "never breaks even" is
// represented by math.Inf(1) in memory but has no float8 encoding.
func finiteOrNil(f float64) any {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return f
}
