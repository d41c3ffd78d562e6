package interfaces

import (
	"context"

	"github.com/shopspring/decimal"
)

// FundingDataProvider exposes per-exchange perpetual market data. Each method is
// independently fallible: a non-nil error means "no data from this exchange", which
// callers must treat as an omission, never as a zero value.
type FundingDataProvider interface {
	// Exchange returns the canonical exchange name (lowercase).
	Exchange() string

	// SupportedSymbols lists the exchange-native perpetual symbols available for
	// funding queries (e.g. "ETHUSDT", "ETH-PERP").
	SupportedSymbols(ctx context.Context) ([]string, error)

	// CurrentFundingRate returns the current funding rate for an exchange-native
	// symbol, expressed as a decimal fraction per funding period.
	CurrentFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)

	// PredictedFundingRate returns the exchange's own next-period rate estimate.
	PredictedFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)

	// MarkPrice returns the current mark price in USD.
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// OpenInterest returns the open interest in USD notional.
	OpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BalanceProvider reports deployable collateral per exchange.
type BalanceProvider interface {
	// Balance returns the free collateral on an exchange in USD.
	Balance(ctx context.Context, exchange string) (decimal.Decimal, error)
}

// RatePrediction is the output contract of the ensemble rate predictor. Bounds
// bracket the point estimate; Confidence is in [0,1]; Regime classifies the spread
// behaviour the prediction was fitted under.
type RatePrediction struct {
	Rate       decimal.Decimal `json:"rate"`
	LowerBound decimal.Decimal `json:"lower_bound"`
	UpperBound decimal.Decimal `json:"upper_bound"`
	Confidence float64         `json:"confidence"`
	Regime     MarketRegime    `json:"regime"`
}

// MarketRegime classifies spread behaviour for prediction weighting.
type MarketRegime string

const (
	RegimeMeanReverting MarketRegime = "mean_reverting"
	RegimeTrending      MarketRegime = "trending"
	RegimeHighVol       MarketRegime = "high_volatility"
	RegimeDislocation   MarketRegime = "extreme_dislocation"
	RegimeUnknown       MarketRegime = "unknown"
)

// EnsembleRatePredictor is an optional capability. Absence of a prediction is an
// error return, not a zero-valued RatePrediction.
type EnsembleRatePredictor interface {
	Predict(ctx context.Context, symbol, exchange string) (RatePrediction, error)
}

// HistoricalMetrics summarizes a leg's funding-rate history.
type HistoricalMetrics struct {
	MinRate          decimal.Decimal `json:"min_rate"`
	AverageRate      decimal.Decimal `json:"average_rate"`
	ConsistencyScore float64         `json:"consistency_score"` // fraction of samples with stable sign, [0,1]
}

// HistoricalMetricsProvider is an optional capability used for worst-case scoring.
type HistoricalMetricsProvider interface {
	HistoricalMetrics(ctx context.Context, symbol, exchange string) (HistoricalMetrics, error)
}
