package hedging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

// marginBuffer is the safety factor applied on top of the minimum margin
// requirement when funding a sub-account.
var marginBuffer = decimal.RequireFromString("1.2")

// allocLockTTL bounds how long an account-resolution lock may be held.
const allocLockTTL = 30 * time.Second

// Allocator decides which exchange account holds each asset's short. The
// main account serves the first hedge that needs an asset; later hedges
// colliding on the same asset get dedicated sub-accounts. Resolution runs
// lazily on first need and persists the choice so later cycles are
// idempotent.
type Allocator struct {
	cfg      Config
	hedges   domain.HedgeStore
	exchange Exchange
	locks    domain.LockManager
	logger   *slog.Logger
}

// NewAllocator creates an Allocator.
func NewAllocator(cfg Config, hedges domain.HedgeStore, exchange Exchange, locks domain.LockManager, logger *slog.Logger) *Allocator {
	return &Allocator{
		cfg:      cfg,
		hedges:   hedges,
		exchange: exchange,
		locks:    locks,
		logger:   logger.With(slog.String("component", "allocator")),
	}
}

// Resolve returns the account that should hold the given asset's short for
// one slot of a hedge, choosing and persisting one if the slot has no
// assignment yet. Concurrent resolution for the same exchange asset is
// serialized through the lock manager so two hedges cannot both claim the
// main account.
func (a *Allocator) Resolve(ctx context.Context, hedge *domain.Hedge, slot int, asset string) (domain.AccountAssignment, error) {
	if assignment := hedge.AccountFor(slot); assignment.Resolved {
		return assignment, nil
	}

	unlock, err := a.locks.Acquire(ctx, "hedging:alloc:"+asset, allocLockTTL)
	if err != nil {
		return domain.AccountAssignment{}, fmt.Errorf("hedging: allocate %s: %w", asset, err)
	}
	defer unlock()

	assignment, err := a.pick(ctx, hedge, asset)
	if err != nil {
		return domain.AccountAssignment{}, err
	}

	if err := a.hedges.SetAccount(ctx, hedge.ID, slot, assignment); err != nil {
		return domain.AccountAssignment{}, fmt.Errorf("hedging: persist account for %s: %w", asset, err)
	}
	hedge.SetAccountFor(slot, assignment)

	a.logger.Info("resolved exchange account",
		slog.String("hedge_id", hedge.ID),
		slog.String("asset", asset),
		slog.Bool("main", assignment.IsMain()),
		slog.String("sub_account", assignment.SubAccount))
	return assignment, nil
}

func (a *Allocator) pick(ctx context.Context, hedge *domain.Hedge, asset string) (domain.AccountAssignment, error) {
	symbols := a.cfg.SymbolsFor(asset)

	mainTaken, err := a.hedges.MainAccountInUse(ctx, symbols, hedge.ID)
	if err != nil {
		return domain.AccountAssignment{}, fmt.Errorf("hedging: check main account for %s: %w", asset, err)
	}
	if !mainTaken {
		return domain.AccountAssignment{Resolved: true}, nil
	}

	subs, err := a.exchange.SubAccounts(ctx)
	if err != nil {
		return domain.AccountAssignment{}, fmt.Errorf("hedging: list sub-accounts: %w", err)
	}
	for _, sub := range subs {
		taken, err := a.hedges.SubAccountInUse(ctx, sub.Address, symbols, hedge.ID)
		if err != nil {
			return domain.AccountAssignment{}, fmt.Errorf("hedging: check sub-account %s: %w", sub.Address, err)
		}
		if !taken {
			return domain.AccountAssignment{Resolved: true, SubAccount: sub.Address}, nil
		}
	}

	name := "hedge-" + uuid.NewString()[:8]
	created, err := a.exchange.CreateSubAccount(ctx, name)
	if err != nil {
		return domain.AccountAssignment{}, fmt.Errorf("hedging: create sub-account: %w", err)
	}
	return domain.AccountAssignment{Resolved: true, SubAccount: created.Address}, nil
}

// EnsureMargin funds a sub-account with enough margin for the intended short
// before an order is placed. Required margin is the notional over leverage
// plus a 20% buffer; only the shortfall against the sub-account's current
// value is transferred, never more, and nothing moves when the balance
// already covers the requirement. The main account is left alone.
func (a *Allocator) EnsureMargin(ctx context.Context, subAccount string, targetShort, markPrice decimal.Decimal, leverage int) error {
	if subAccount == "" {
		return nil
	}
	if leverage <= 0 {
		return fmt.Errorf("hedging: ensure margin: leverage %d is invalid", leverage)
	}

	required := targetShort.Abs().Mul(markPrice).
		DivRound(decimal.NewFromInt(int64(leverage)), 8).
		Mul(marginBuffer)

	state, err := a.exchange.AccountState(ctx, subAccount)
	if err != nil {
		return fmt.Errorf("hedging: sub-account state: %w", err)
	}

	shortfall := required.Sub(state.AccountValue)
	if !shortfall.IsPositive() {
		return nil
	}

	if err := a.exchange.Transfer(ctx, subAccount, shortfall, true); err != nil {
		return fmt.Errorf("hedging: fund sub-account %s: %w", subAccount, err)
	}
	a.logger.Info("funded sub-account margin",
		slog.String("sub_account", subAccount),
		slog.String("transferred_usd", shortfall.Round(2).String()),
		slog.String("required_usd", required.Round(2).String()))
	return nil
}

// ReleaseSubAccount withdraws a sub-account's full withdrawable balance back
// to the main account and clears the slot's stored assignment, freeing the
// sub-account for reuse by a future hedge. Called when an asset's target
// falls to zero. Main-account assignments are left in place.
func (a *Allocator) ReleaseSubAccount(ctx context.Context, hedge *domain.Hedge, slot int) error {
	assignment := hedge.AccountFor(slot)
	if !assignment.Resolved || assignment.IsMain() {
		return nil
	}

	state, err := a.exchange.AccountState(ctx, assignment.SubAccount)
	if err != nil {
		return fmt.Errorf("hedging: sub-account state: %w", err)
	}
	if state.Withdrawable.IsPositive() {
		if err := a.exchange.Transfer(ctx, assignment.SubAccount, state.Withdrawable, false); err != nil {
			return fmt.Errorf("hedging: withdraw from sub-account %s: %w", assignment.SubAccount, err)
		}
	}

	if err := a.hedges.SetAccount(ctx, hedge.ID, slot, domain.AccountAssignment{}); err != nil {
		return fmt.Errorf("hedging: clear account assignment: %w", err)
	}
	hedge.SetAccountFor(slot, domain.AccountAssignment{})

	a.logger.Info("released sub-account",
		slog.String("hedge_id", hedge.ID),
		slog.String("sub_account", assignment.SubAccount),
		slog.String("withdrawn_usd", state.Withdrawable.Round(2).String()))
	return nil
}
