package hedging

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

// Exchange abstracts the perpetual exchange operations the hedging engine
// needs, so the engine never depends on a concrete API client. The main
// account is addressed by an empty subAccount argument.
type Exchange interface {
	// AccountState returns the margin summary and open positions for the
	// main account or a sub-account address.
	AccountState(ctx context.Context, subAccount string) (domain.AccountState, error)
	// Position returns the open position for one asset on the given account,
	// or false when none is open.
	Position(ctx context.Context, subAccount, asset string) (domain.PerpPosition, bool, error)
	// MarkPrice returns the current mid price for an asset.
	MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error)

	// PlaceMarketOrder places a market order on the given account. Size is
	// signed: negative sells. The client rounds size to the market's
	// precision and treats nested per-order error statuses as failures.
	PlaceMarketOrder(ctx context.Context, subAccount, asset string, size decimal.Decimal, reduceOnly bool) (domain.OrderResult, error)
	// ClosePosition fully closes any open position for the asset. Closing an
	// asset with no open position is a no-op.
	ClosePosition(ctx context.Context, subAccount, asset string) error
	// UpdateLeverage sets cross leverage for an asset on the given account.
	UpdateLeverage(ctx context.Context, subAccount, asset string, leverage int) error

	// SubAccounts lists the existing sub-accounts under the main account.
	SubAccounts(ctx context.Context) ([]domain.SubAccount, error)
	// CreateSubAccount creates a new named sub-account and returns it.
	CreateSubAccount(ctx context.Context, name string) (domain.SubAccount, error)
	// Transfer moves USDC between the main account and a sub-account.
	// Deposit=true funds the sub-account, false withdraws from it.
	Transfer(ctx context.Context, subAccount string, amountUSD decimal.Decimal, deposit bool) error

	// FillsSince returns the account's fills at or after the given time.
	FillsSince(ctx context.Context, subAccount string, since time.Time) ([]domain.Fill, error)
}
