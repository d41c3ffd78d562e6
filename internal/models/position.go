package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenPositionPair is the live paired position for one symbol. The source of
// truth is the exchange account state; the engine reads these each cycle and only
// owns the open-timestamp tracking used for age-based hysteresis.
type OpenPositionPair struct {
	Symbol            string          `json:"symbol"`
	LongExchange      string          `json:"long_exchange"`
	ShortExchange     string          `json:"short_exchange"`
	NotionalSize      decimal.Decimal `json:"notional_size"`
	Leverage          decimal.Decimal `json:"leverage"`
	EntryTimestamp    time.Time       `json:"entry_timestamp"`
	EntrySpread       decimal.Decimal `json:"entry_spread"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	CurrentCollateral decimal.Decimal `json:"current_collateral"`
}

// TrackingKey keys the open-time store. Must be written on open and deleted on
// close; a stale entry corrupts age computation on symbol reuse.
func (p *OpenPositionPair) TrackingKey() string {
	return p.Symbol + "-" + p.LongExchange + "-" + p.ShortExchange
}

// ExchangePairKey identifies just the exchange pair of the position.
func (p *OpenPositionPair) ExchangePairKey() string {
	return p.LongExchange + "-" + p.ShortExchange
}

// ExecutionPlan is the sized proposal attached to an opportunity before
// allocation. MaxCollateral caps what the allocator may commit to the pair.
type ExecutionPlan struct {
	Symbol         string          `json:"symbol"`
	LongExchange   string          `json:"long_exchange"`
	ShortExchange  string          `json:"short_exchange"`
	Notional       decimal.Decimal `json:"notional"`
	Leverage       decimal.Decimal `json:"leverage"`
	MaxCollateral  decimal.Decimal `json:"max_collateral"`
	EstimatedCosts TradeCosts      `json:"estimated_costs"`
}

// StickinessEvaluationResult is the terminal output of the hysteresis state
// machine for one position in one cycle.
type StickinessEvaluationResult struct {
	ShouldKeep bool             `json:"should_keep"`
	Action     StickinessAction `json:"action"`
	Reason     string           `json:"reason"`
}

// StickinessAction distinguishes the two ways a position stops being kept.
type StickinessAction string

const (
	StickinessKeep    StickinessAction = "keep"
	StickinessClose   StickinessAction = "close"
	StickinessReplace StickinessAction = "replace"
)

// AllocationStatus describes how far an opportunity was funded.
type AllocationStatus string

const (
	AllocationFull    AllocationStatus = "full"
	AllocationPartial AllocationStatus = "partial"
	AllocationTopUp   AllocationStatus = "top_up"
	AllocationSkipped AllocationStatus = "skipped"
)

// Allocation is one row of the ladder allocation plan.
type Allocation struct {
	Opportunity ArbitrageOpportunity `json:"opportunity"`
	Collateral  decimal.Decimal      `json:"collateral"`
	Status      AllocationStatus     `json:"status"`
	Reason      string               `json:"reason,omitempty"`
}

// LadderAllocationResult is the full deterministic output of one allocation run.
type LadderAllocationResult struct {
	Allocations      []Allocation    `json:"allocations"`
	TotalAllocated   decimal.Decimal `json:"total_allocated"`
	RemainingCapital decimal.Decimal `json:"remaining_capital"`
}
