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

const (
	// streakLimit is the number of consecutive failed attempts for one
	// hedge+asset after which further attempts are suppressed.
	streakLimit = 3
	// streakWindow bounds how far back the failure streak looks.
	streakWindow = 24 * time.Hour
)

// Executor runs the per-asset rebalance state machine: evaluate, close the
// existing short, open the new one, and record the attempt. The two assets
// of a position are handled through independent calls; one asset failing
// never blocks its sibling.
type Executor struct {
	cfg        Config
	exchange   Exchange
	rebalances domain.RebalanceStore
	allocator  *Allocator
	logger     *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config, exchange Exchange, rebalances domain.RebalanceStore, allocator *Allocator, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:        cfg,
		exchange:   exchange,
		rebalances: rebalances,
		allocator:  allocator,
		logger:     logger.With(slog.String("component", "executor")),
	}
}

// RebalanceAsset evaluates one asset slot of a hedge against the pool amount
// and corrects the exchange short when it has drifted outside tolerance.
//
// A pool amount of zero drives the target to zero, closing any open short
// while the hedge stays active; once the pool amount turns positive again a
// later cycle reopens the short. Every executed attempt, successful or not,
// is persisted as a ShortRebalance. Failures are re-raised so the job-level
// retry policy can act on transient causes.
func (e *Executor) RebalanceAsset(ctx context.Context, hedge *domain.Hedge, slot int, asset string, poolAmount decimal.Decimal) (domain.Outcome, error) {
	currentShort, err := e.currentShort(ctx, hedge, slot, asset)
	if err != nil {
		return nil, err
	}

	if !hedge.NeedsRebalance(poolAmount, currentShort) {
		return domain.NoChange{Asset: asset, Reason: "within tolerance"}, nil
	}

	suppressed, err := e.failureStreak(ctx, hedge.ID, asset)
	if err != nil {
		return nil, err
	}
	if suppressed {
		e.logger.Warn("skipping asset after repeated failures",
			slog.String("hedge_id", hedge.ID),
			slog.String("asset", asset))
		return domain.NoChange{Asset: asset, Reason: "suppressed after repeated failures"}, nil
	}

	assignment, err := e.allocator.Resolve(ctx, hedge, slot, asset)
	if err != nil {
		return nil, err
	}

	targetShort := hedge.TargetShort(poolAmount)
	realized := decimal.Zero
	// actualSize tracks the short that is really open on the exchange, so a
	// failure after a successful close is recorded with size zero.
	actualSize := currentShort

	if currentShort.IsPositive() {
		closeStart := time.Now()
		if err := e.exchange.ClosePosition(ctx, assignment.SubAccount, asset); err != nil {
			err = fmt.Errorf("hedging: close %s short: %w", asset, err)
			e.recordFailure(ctx, hedge.ID, asset, currentShort, actualSize, err)
			return nil, err
		}
		actualSize = decimal.Zero
		realized = e.realizedPnL(ctx, assignment.SubAccount, asset, closeStart)
	}

	if targetShort.IsPositive() {
		if err := e.openShort(ctx, assignment, asset, targetShort); err != nil {
			e.recordFailure(ctx, hedge.ID, asset, currentShort, actualSize, err)
			return nil, err
		}
		actualSize = targetShort
	} else if !assignment.IsMain() {
		if err := e.allocator.ReleaseSubAccount(ctx, hedge, slot); err != nil {
			e.logger.Warn("failed to release sub-account",
				slog.String("hedge_id", hedge.ID),
				slog.String("asset", asset),
				slog.String("error", err.Error()))
		}
	}

	record := domain.ShortRebalance{
		ID:           uuid.NewString(),
		HedgeID:      hedge.ID,
		Asset:        asset,
		OldShortSize: currentShort,
		NewShortSize: actualSize,
		RealizedPnL:  realized,
		Status:       domain.RebalanceSuccess,
		RebalancedAt: time.Now(),
	}
	if err := e.rebalances.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("hedging: record rebalance: %w", err)
	}

	e.logger.Info("rebalanced short",
		slog.String("hedge_id", hedge.ID),
		slog.String("asset", asset),
		slog.String("old_size", currentShort.String()),
		slog.String("new_size", actualSize.String()),
		slog.String("realized_pnl", realized.String()))

	if targetShort.IsPositive() {
		return domain.Rebalanced{
			Asset:       asset,
			OldSize:     currentShort,
			NewSize:     targetShort,
			RealizedPnL: realized,
		}, nil
	}
	return domain.Closed{
		Asset:       asset,
		OldSize:     currentShort,
		RealizedPnL: realized,
	}, nil
}

// currentShort reads the open short size for the asset on whatever account
// the hedge slot is assigned to. An unresolved slot cannot have a short.
func (e *Executor) currentShort(ctx context.Context, hedge *domain.Hedge, slot int, asset string) (decimal.Decimal, error) {
	assignment := hedge.AccountFor(slot)
	if !assignment.Resolved {
		return decimal.Zero, nil
	}
	pos, ok, err := e.exchange.Position(ctx, assignment.SubAccount, asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hedging: read %s position: %w", asset, err)
	}
	if !ok {
		return decimal.Zero, nil
	}
	return pos.Size.Abs(), nil
}

// failureStreak reports whether the last streakLimit attempts for the
// hedge+asset within the window all failed. One success anywhere in the
// streak re-enables attempts, so the suppression self-heals.
func (e *Executor) failureStreak(ctx context.Context, hedgeID, asset string) (bool, error) {
	since := time.Now().Add(-streakWindow)
	attempts, err := e.rebalances.LastForAsset(ctx, hedgeID, asset, since, streakLimit)
	if err != nil {
		return false, fmt.Errorf("hedging: load rebalance history: %w", err)
	}
	if len(attempts) < streakLimit {
		return false, nil
	}
	for _, attempt := range attempts {
		if attempt.Status != domain.RebalanceFailed {
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) openShort(ctx context.Context, assignment domain.AccountAssignment, asset string, targetShort decimal.Decimal) error {
	mark, err := e.exchange.MarkPrice(ctx, asset)
	if err != nil {
		return fmt.Errorf("hedging: mark price for %s: %w", asset, err)
	}
	if err := e.exchange.UpdateLeverage(ctx, assignment.SubAccount, asset, e.cfg.Leverage); err != nil {
		return fmt.Errorf("hedging: set leverage for %s: %w", asset, err)
	}
	if err := e.allocator.EnsureMargin(ctx, assignment.SubAccount, targetShort, mark, e.cfg.Leverage); err != nil {
		return err
	}
	if _, err := e.exchange.PlaceMarketOrder(ctx, assignment.SubAccount, asset, targetShort.Neg(), false); err != nil {
		return fmt.Errorf("hedging: open %s short: %w", asset, err)
	}
	return nil
}

// realizedPnL sums closedPnl over the account's fills for the asset since
// the close started. Fill-fetch failures degrade to zero with a warning
// rather than failing the rebalance.
func (e *Executor) realizedPnL(ctx context.Context, subAccount, asset string, since time.Time) decimal.Decimal {
	fills, err := e.exchange.FillsSince(ctx, subAccount, since)
	if err != nil {
		e.logger.Warn("failed to fetch fills for realized pnl",
			slog.String("asset", asset),
			slog.String("error", err.Error()))
		return decimal.Zero
	}
	total := decimal.Zero
	for _, fill := range fills {
		if fill.Asset == asset && fill.ClosedPnL != nil {
			total = total.Add(*fill.ClosedPnL)
		}
	}
	return total
}

func (e *Executor) recordFailure(ctx context.Context, hedgeID, asset string, oldSize, actualSize decimal.Decimal, cause error) {
	record := domain.ShortRebalance{
		ID:           uuid.NewString(),
		HedgeID:      hedgeID,
		Asset:        asset,
		OldShortSize: oldSize,
		NewShortSize: actualSize,
		RealizedPnL:  decimal.Zero,
		Status:       domain.RebalanceFailed,
		Message:      cause.Error(),
		RebalancedAt: time.Now(),
	}
	if err := e.rebalances.Create(ctx, record); err != nil {
		e.logger.Error("failed to record failed rebalance",
			slog.String("hedge_id", hedgeID),
			slog.String("asset", asset),
			slog.String("error", err.Error()))
	}
}
