package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lpquant/hedgebot/internal/domain"
	"github.com/lpquant/hedgebot/internal/platform/subgraph"
	"github.com/lpquant/hedgebot/internal/univ3"
)

// PositionSource is the subgraph surface the position service needs.
type PositionSource interface {
	Position(ctx context.Context, nftID string) (subgraph.LPPosition, error)
	PositionsByOwner(ctx context.Context, owner string, first int) ([]subgraph.LPPosition, error)
	Pool(ctx context.Context, poolAddress string) (subgraph.PoolData, error)
}

// PositionService keeps tracked LP positions in sync with the chain: token
// amounts recomputed from liquidity and tick range, USD prices from the pool
// query, and entry value captured on the first successful sync.
type PositionService struct {
	positions domain.PositionStore
	graph     PositionSource
	logger    *slog.Logger
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(positions domain.PositionStore, graph PositionSource, logger *slog.Logger) *PositionService {
	return &PositionService{
		positions: positions,
		graph:     graph,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// ImportPosition registers an LP position by its NFT token id and runs the
// first sync so amounts, prices, and entry value are populated immediately.
func (s *PositionService) ImportPosition(ctx context.Context, userID, wallet, network, nftID string) (domain.Position, error) {
	lp, err := s.graph.Position(ctx, nftID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: import %s: %w", nftID, err)
	}

	pos := domain.Position{
		ID:             uuid.NewString(),
		UserID:         userID,
		Wallet:         wallet,
		Network:        network,
		NFTID:          nftID,
		PoolAddress:    lp.Pool.Address,
		Asset0:         lp.Token0.Symbol,
		Asset1:         lp.Token1.Symbol,
		Asset0Decimals: lp.Token0.Decimals,
		Asset1Decimals: lp.Token1.Decimals,
		TickLower:      lp.TickLower,
		TickUpper:      lp.TickUpper,
		Liquidity:      lp.Liquidity,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create position %s: %w", nftID, err)
	}

	synced, err := s.SyncPosition(ctx, pos)
	if err != nil {
		return pos, err
	}

	s.logger.InfoContext(ctx, "position imported",
		slog.String("position_id", synced.ID),
		slog.String("nft_id", nftID),
		slog.String("pair", synced.Asset0+"/"+synced.Asset1),
	)
	return synced, nil
}

// SyncPosition refreshes one position from the subgraph. A position the
// subgraph no longer knows is deactivated; the row stays for history.
func (s *PositionService) SyncPosition(ctx context.Context, pos domain.Position) (domain.Position, error) {
	lp, err := s.graph.Position(ctx, pos.NFTID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "position gone from subgraph, deactivating",
			slog.String("position_id", pos.ID),
			slog.String("nft_id", pos.NFTID),
		)
		if dErr := s.positions.Deactivate(ctx, pos.ID); dErr != nil {
			return pos, fmt.Errorf("position_service: deactivate %s: %w", pos.ID, dErr)
		}
		pos.Active = false
		return pos, nil
	}
	if err != nil {
		return pos, fmt.Errorf("position_service: sync %s: %w", pos.ID, err)
	}

	pool, err := s.graph.Pool(ctx, lp.Pool.Address)
	if err != nil {
		return pos, fmt.Errorf("position_service: pool for %s: %w", pos.ID, err)
	}

	amounts, err := univ3.PositionAmounts(
		lp.Liquidity, pool.Tick, lp.TickLower, lp.TickUpper,
		lp.Token0.Decimals, lp.Token1.Decimals,
	)
	if err != nil {
		return pos, fmt.Errorf("position_service: amounts for %s: %w", pos.ID, err)
	}

	pos.PoolAddress = lp.Pool.Address
	pos.TickLower = lp.TickLower
	pos.TickUpper = lp.TickUpper
	pos.Liquidity = lp.Liquidity
	pos.Asset0Amount = amounts.Token0
	pos.Asset1Amount = amounts.Token1
	pos.Asset0PriceUSD = pool.Token0.PriceUSD
	pos.Asset1PriceUSD = pool.Token1.PriceUSD

	// Entry value is captured once, on the first sync that has prices, and
	// anchors pool-side unrealized P&L from then on.
	if pos.EntryValueUSD == nil {
		entry := pos.TotalValueUSD()
		pos.EntryValueUSD = &entry
		s.logger.InfoContext(ctx, "entry value captured",
			slog.String("position_id", pos.ID),
			slog.String("entry_value_usd", entry.StringFixed(2)),
		)
	}

	if amounts.Token0.IsZero() && amounts.Token1.IsZero() {
		pos.Active = false
		s.logger.InfoContext(ctx, "position fully withdrawn, deactivating",
			slog.String("position_id", pos.ID),
		)
	}

	if err := s.positions.Update(ctx, pos); err != nil {
		return pos, fmt.Errorf("position_service: update %s: %w", pos.ID, err)
	}
	return pos, nil
}

// SyncAll refreshes every active position. Failures are logged per position
// and do not stop the sweep.
func (s *PositionService) SyncAll(ctx context.Context) error {
	positions, err := s.positions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("position_service: list active: %w", err)
	}

	s.logger.DebugContext(ctx, "position sync sweep",
		slog.Int("positions", len(positions)),
	)

	for _, pos := range positions {
		if _, err := s.SyncPosition(ctx, pos); err != nil {
			s.logger.ErrorContext(ctx, "position sync failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// DiscoverPositions lists the wallet's live positions on the subgraph that
// are not yet tracked locally.
func (s *PositionService) DiscoverPositions(ctx context.Context, wallet string) ([]subgraph.LPPosition, error) {
	lps, err := s.graph.PositionsByOwner(ctx, wallet, 100)
	if err != nil {
		return nil, fmt.Errorf("position_service: discover for %s: %w", wallet, err)
	}

	tracked, err := s.positions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list active: %w", err)
	}
	known := make(map[string]bool, len(tracked))
	for _, pos := range tracked {
		known[pos.NFTID] = true
	}

	var fresh []subgraph.LPPosition
	for _, lp := range lps {
		if !known[lp.NFTID] {
			fresh = append(fresh, lp)
		}
	}
	return fresh, nil
}
