package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerpPosition is a normalized open perpetual position on the exchange.
// Size is signed: negative for shorts.
type PerpPosition struct {
	Asset            string
	Size             decimal.Decimal
	EntryPrice       decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Leverage         int
	MarginUsed       decimal.Decimal
	LiquidationPrice *decimal.Decimal
}

// AccountState is a normalized exchange account summary for one address.
type AccountState struct {
	Address         string
	AccountValue    decimal.Decimal
	TotalMarginUsed decimal.Decimal
	Withdrawable    decimal.Decimal
	Positions       []PerpPosition
}

// SubAccount is an isolated sub-ledger under the exchange main account.
type SubAccount struct {
	Name         string
	Address      string
	AccountValue decimal.Decimal
}

// Market describes one perpetual market and its size precision.
type Market struct {
	Name        string
	SzDecimals  int
	MaxLeverage int
}

// OrderResult is the normalized response to an order placement.
type OrderResult struct {
	Asset      string
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	OrderID    string
	PlacedAt   time.Time
}
