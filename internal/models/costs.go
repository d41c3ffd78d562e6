package models

import "github.com/shopspring/decimal"

// OrderType selects the fee/slippage profile for a leg.
type OrderType string

const (
	OrderTypeMaker OrderType = "maker"
	OrderTypeTaker OrderType = "taker"
)

// TradeCosts is the full USD cost of one round of order flow (both legs) at a
// given size. Derived deterministically from notional, liquidity and basis
// divergence; one instance per proposed trade size.
type TradeCosts struct {
	Fees          decimal.Decimal `json:"fees"`
	Slippage      decimal.Decimal `json:"slippage"`
	BasisRiskCost decimal.Decimal `json:"basis_risk_cost"`
	Total         decimal.Decimal `json:"total"`
}

// Add combines two cost estimates, e.g. entry plus exit.
func (c TradeCosts) Add(other TradeCosts) TradeCosts {
	return TradeCosts{
		Fees:          c.Fees.Add(other.Fees),
		Slippage:      c.Slippage.Add(other.Slippage),
		BasisRiskCost: c.BasisRiskCost.Add(other.BasisRiskCost),
		Total:         c.Total.Add(other.Total),
	}
}
