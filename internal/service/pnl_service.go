package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
	"github.com/lpquant/hedgebot/internal/hedging"
	"github.com/lpquant/hedgebot/internal/platform/onchain"
)

// FeeSource reads uncollected fee amounts for an LP position from the chain.
type FeeSource interface {
	UncollectedFees(ctx context.Context, nftID string, decimals0, decimals1 int) (onchain.Fees, error)
}

// PnlService captures point-in-time P&L snapshots per position: pool value
// against entry, live hedge unrealized from the exchange, cumulative realized
// from the rebalance log, and collected plus uncollected fees.
type PnlService struct {
	positions  domain.PositionStore
	hedges     domain.HedgeStore
	rebalances domain.RebalanceStore
	snapshots  domain.SnapshotStore
	graph      PositionSource
	fees       FeeSource
	exchange   hedging.Exchange
	cfg        hedging.Config
	logger     *slog.Logger
}

// NewPnlService creates a PnlService with all required dependencies.
func NewPnlService(
	positions domain.PositionStore,
	hedges domain.HedgeStore,
	rebalances domain.RebalanceStore,
	snapshots domain.SnapshotStore,
	graph PositionSource,
	fees FeeSource,
	exchange hedging.Exchange,
	cfg hedging.Config,
	logger *slog.Logger,
) *PnlService {
	return &PnlService{
		positions:  positions,
		hedges:     hedges,
		rebalances: rebalances,
		snapshots:  snapshots,
		graph:      graph,
		fees:       fees,
		exchange:   exchange,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "pnl_service")),
	}
}

// Snapshot captures and persists one P&L snapshot for the position. Fee and
// exchange read failures degrade to zero with a warning; storage failures and
// a missing position abort.
func (s *PnlService) Snapshot(ctx context.Context, pos domain.Position) (domain.PnlSnapshot, error) {
	snap := domain.PnlSnapshot{
		ID:             uuid.NewString(),
		PositionID:     pos.ID,
		CapturedAt:     time.Now().UTC(),
		Asset0Amount:   pos.Asset0Amount,
		Asset1Amount:   pos.Asset1Amount,
		Asset0PriceUSD: pos.Asset0PriceUSD,
		Asset1PriceUSD: pos.Asset1PriceUSD,
	}

	if pos.EntryValueUSD != nil {
		snap.PoolUnrealized = pos.TotalValueUSD().Sub(*pos.EntryValueUSD)
	}

	hedge, err := s.hedges.GetByPosition(ctx, pos.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Unhedged position: pool-side numbers only.
	case err != nil:
		return domain.PnlSnapshot{}, fmt.Errorf("pnl_service: load hedge for %s: %w", pos.ID, err)
	default:
		snap.HedgeUnrealized = s.hedgeUnrealized(ctx, &hedge, pos)
		realized, err := s.rebalances.SumRealizedPnL(ctx, hedge.ID)
		if err != nil {
			return domain.PnlSnapshot{}, fmt.Errorf("pnl_service: sum realized pnl: %w", err)
		}
		snap.HedgeRealized = realized
	}

	snap.CollectedFees0, snap.CollectedFees1 = s.collectedFees(ctx, pos)
	snap.UncollectedFees0, snap.UncollectedFees1 = s.uncollectedFees(ctx, pos)

	if err := s.snapshots.Create(ctx, snap); err != nil {
		return domain.PnlSnapshot{}, fmt.Errorf("pnl_service: store snapshot: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot captured",
		slog.String("position_id", pos.ID),
		slog.String("pool_unrealized", snap.PoolUnrealized.StringFixed(2)),
		slog.String("hedge_unrealized", snap.HedgeUnrealized.StringFixed(2)),
		slog.String("hedge_realized", snap.HedgeRealized.StringFixed(2)),
	)
	return snap, nil
}

// SnapshotAll captures a snapshot for every active position. Failures are
// logged per position and do not stop the sweep.
func (s *PnlService) SnapshotAll(ctx context.Context) error {
	positions, err := s.positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("pnl_service: list active: %w", err)
	}
	for _, pos := range positions {
		if _, err := s.Snapshot(ctx, pos); err != nil {
			s.logger.ErrorContext(ctx, "snapshot failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// History returns the position's snapshots, newest first.
func (s *PnlService) History(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.PnlSnapshot, error) {
	snaps, err := s.snapshots.ListByPosition(ctx, positionID, opts)
	if err != nil {
		return nil, fmt.Errorf("pnl_service: list snapshots: %w", err)
	}
	return snaps, nil
}

// hedgeUnrealized sums the live unrealized P&L of the hedge's shorts across
// the accounts its slots are assigned to. Exchange read failures degrade to
// zero for the affected asset with a warning.
func (s *PnlService) hedgeUnrealized(ctx context.Context, hedge *domain.Hedge, pos domain.Position) decimal.Decimal {
	total := decimal.Zero
	seen := make(map[string]bool, 2)

	for slot := 0; slot < 2; slot++ {
		token, _ := pos.AssetAt(slot)
		if !s.cfg.ShouldHedge(token) {
			continue
		}
		asset := s.cfg.MapSymbol(token)
		if seen[asset] {
			continue
		}
		seen[asset] = true

		assignment := hedge.AccountFor(slot)
		if !assignment.Resolved {
			continue
		}
		perp, ok, err := s.exchange.Position(ctx, assignment.SubAccount, asset)
		if err != nil {
			s.logger.WarnContext(ctx, "unrealized pnl read failed, using zero",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			total = total.Add(perp.UnrealizedPnL)
		}
	}
	return total
}

// collectedFees reads cumulative collected fee amounts from the subgraph.
// Failures degrade to zero with a warning.
func (s *PnlService) collectedFees(ctx context.Context, pos domain.Position) (decimal.Decimal, decimal.Decimal) {
	lp, err := s.graph.Position(ctx, pos.NFTID)
	if err != nil {
		s.logger.WarnContext(ctx, "collected fees unavailable, using zero",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, decimal.Zero
	}
	return lp.CollectedFees0, lp.CollectedFees1
}

// uncollectedFees reads pending fee amounts from the position manager
// contract. Failures degrade to zero with a warning so a snapshot is never
// lost to an RPC hiccup.
func (s *PnlService) uncollectedFees(ctx context.Context, pos domain.Position) (decimal.Decimal, decimal.Decimal) {
	if s.fees == nil {
		return decimal.Zero, decimal.Zero
	}
	fees, err := s.fees.UncollectedFees(ctx, pos.NFTID, pos.Asset0Decimals, pos.Asset1Decimals)
	if err != nil {
		s.logger.WarnContext(ctx, "uncollected fees unavailable, using zero",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, decimal.Zero
	}
	return fees.Fees0, fees.Fees1
}
