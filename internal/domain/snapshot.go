package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PnlSnapshot is a point-in-time P&L record for a position. Snapshots are
// appended by the sync job and never edited; newer snapshots supersede older
// ones. Aged snapshots are archived to object storage and pruned.
type PnlSnapshot struct {
	ID         string
	PositionID string
	CapturedAt time.Time

	Asset0Amount   decimal.Decimal
	Asset1Amount   decimal.Decimal
	Asset0PriceUSD decimal.Decimal
	Asset1PriceUSD decimal.Decimal

	// HedgeUnrealized is the live unrealized P&L of the hedge shorts.
	HedgeUnrealized decimal.Decimal
	// HedgeRealized is the cumulative realized P&L from past rebalances.
	HedgeRealized decimal.Decimal
	// PoolUnrealized is current pool value minus the position's entry value.
	PoolUnrealized decimal.Decimal

	CollectedFees0   decimal.Decimal
	CollectedFees1   decimal.Decimal
	UncollectedFees0 decimal.Decimal
	UncollectedFees1 decimal.Decimal
}

// UncollectedFeesUSD returns the USD value of pending, uncollected fees.
func (s PnlSnapshot) UncollectedFeesUSD() decimal.Decimal {
	return s.UncollectedFees0.Mul(s.Asset0PriceUSD).Add(s.UncollectedFees1.Mul(s.Asset1PriceUSD))
}

// CollectedFeesUSD returns the USD value of cumulative collected fees.
func (s PnlSnapshot) CollectedFeesUSD() decimal.Decimal {
	return s.CollectedFees0.Mul(s.Asset0PriceUSD).Add(s.CollectedFees1.Mul(s.Asset1PriceUSD))
}

// TotalFeesUSD returns collected plus uncollected fees in USD.
func (s PnlSnapshot) TotalFeesUSD() decimal.Decimal {
	return s.CollectedFeesUSD().Add(s.UncollectedFeesUSD())
}
