package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is one concentrated-liquidity LP position tracked for a user. It
// holds two pool tokens whose amounts and USD prices are refreshed from the
// subgraph on every sync cycle. EntryValueUSD is captured once, on the first
// successful sync, and is the baseline for pool-side unrealized P&L.
type Position struct {
	ID          string
	UserID      string
	Wallet      string
	Network     string
	NFTID       string // Uniswap v3 position manager token id
	PoolAddress string

	Asset0 string
	Asset1 string

	Asset0Decimals int
	Asset1Decimals int

	Asset0Amount decimal.Decimal
	Asset1Amount decimal.Decimal

	Asset0PriceUSD decimal.Decimal
	Asset1PriceUSD decimal.Decimal

	TickLower int
	TickUpper int
	Liquidity string // raw uint256 liquidity as reported by the subgraph

	EntryValueUSD *decimal.Decimal
	Active        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalValueUSD returns the combined USD value of both pool tokens.
func (p Position) TotalValueUSD() decimal.Decimal {
	return p.Asset0Amount.Mul(p.Asset0PriceUSD).Add(p.Asset1Amount.Mul(p.Asset1PriceUSD))
}

// AssetAt returns the pool token symbol and current amount for slot 0 or 1.
func (p Position) AssetAt(slot int) (string, decimal.Decimal) {
	if slot == 0 {
		return p.Asset0, p.Asset0Amount
	}
	return p.Asset1, p.Asset1Amount
}

// PriceAt returns the USD price for the pool token in slot 0 or 1.
func (p Position) PriceAt(slot int) decimal.Decimal {
	if slot == 0 {
		return p.Asset0PriceUSD
	}
	return p.Asset1PriceUSD
}
