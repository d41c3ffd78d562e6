package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HoursPerYear is the annualization factor used across the engine. Spreads are
// treated as hourly rates, so periodsPerYear == hoursPerYear.
const HoursPerYear = 24 * 365

// ExchangeFundingRate is one exchange's funding snapshot for a normalized symbol.
// Produced fresh each cycle and never mutated after creation.
type ExchangeFundingRate struct {
	Exchange      string          `json:"exchange"`
	Symbol        string          `json:"symbol"`
	CurrentRate   decimal.Decimal `json:"current_rate"`
	PredictedRate decimal.Decimal `json:"predicted_rate"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	OpenInterest  decimal.Decimal `json:"open_interest"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ArbitrageOpportunity is a candidate long/short pairing for one symbol.
// Ephemeral: recomputed every cycle, never persisted outside the audit journal.
type ArbitrageOpportunity struct {
	Symbol            string          `json:"symbol"`
	LongExchange      string          `json:"long_exchange"`
	ShortExchange     string          `json:"short_exchange"`
	LongRate          decimal.Decimal `json:"long_rate"`
	ShortRate         decimal.Decimal `json:"short_rate"`
	Spread            decimal.Decimal `json:"spread"`
	ExpectedReturn    decimal.Decimal `json:"expected_return"` // annualized
	LongMarkPrice     decimal.Decimal `json:"long_mark_price,omitempty"`
	ShortMarkPrice    decimal.Decimal `json:"short_mark_price,omitempty"`
	LongOpenInterest  decimal.Decimal `json:"long_open_interest,omitempty"`
	ShortOpenInterest decimal.Decimal `json:"short_open_interest,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// PairKey identifies the symbol/exchange-pair combination of an opportunity.
func (o *ArbitrageOpportunity) PairKey() string {
	return o.Symbol + "-" + o.LongExchange + "-" + o.ShortExchange
}

// ExchangePairKey identifies just the exchange pair, used for cooldown filtering.
func (o *ArbitrageOpportunity) ExchangePairKey() string {
	return o.LongExchange + "-" + o.ShortExchange
}

// MinOpenInterest returns the smaller leg's open interest, the liquidity proxy
// used for scoring and impact modelling.
func (o *ArbitrageOpportunity) MinOpenInterest() decimal.Decimal {
	if o.LongOpenInterest.LessThan(o.ShortOpenInterest) {
		return o.LongOpenInterest
	}
	return o.ShortOpenInterest
}
