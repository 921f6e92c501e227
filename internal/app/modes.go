package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lpquant/hedgebot/internal/crypto"
	"github.com/lpquant/hedgebot/internal/domain"
	"github.com/lpquant/hedgebot/internal/hedging"
	"github.com/lpquant/hedgebot/internal/pipeline"
	"github.com/lpquant/hedgebot/internal/platform/hyperliquid"
	"github.com/lpquant/hedgebot/internal/platform/onchain"
	"github.com/lpquant/hedgebot/internal/platform/subgraph"
	"github.com/lpquant/hedgebot/internal/service"
)

// priceCacheMaxAge bounds how stale a websocket-fed mid may be before
// MarkPrice falls back to the REST endpoint.
const priceCacheMaxAge = 30 * time.Second

// apiRequestLimit and apiRequestWindow throttle outbound exchange calls well
// under the documented address-level budget.
const (
	apiRequestLimit  = 600
	apiRequestWindow = time.Minute
)

// HedgeMode runs position sync and hedge evaluation on the configured
// interval, with live mark prices from the websocket feed. No snapshots or
// archival.
func (a *App) HedgeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting hedge mode")

	exchange, err := a.buildExchange(deps, true)
	if err != nil {
		return fmt.Errorf("hedge mode: %w", err)
	}
	graph := a.newGraph()
	hcfg := a.hedgingConfig()

	positionSvc := service.NewPositionService(deps.PositionStore, graph, a.logger)
	hedgeSvc := a.buildHedgeService(deps, exchange, hcfg)

	g, ctx := errgroup.WithContext(ctx)
	a.startPriceFeed(ctx, g, deps)

	orch := pipeline.NewOrchestrator(positionSvc, hedgeSvc, nil, nil,
		a.cfg.Pipeline.SyncInterval.Duration, a.cfg.Pipeline.SnapshotInterval.Duration, "", a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// MonitorMode refreshes positions and captures P&L snapshots without ever
// touching the exchange's order endpoints. No signing key is required.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	exchange, err := a.buildExchange(deps, false)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	graph := a.newGraph()
	hcfg := a.hedgingConfig()

	positionSvc := service.NewPositionService(deps.PositionStore, graph, a.logger)
	pnlSvc := a.buildPnlService(ctx, deps, exchange, graph, hcfg)

	orch := pipeline.NewOrchestrator(positionSvc, nil, pnlSvc, nil,
		a.cfg.Pipeline.SyncInterval.Duration, a.cfg.Pipeline.SnapshotInterval.Duration, "", a.logger)
	return orch.Run(ctx)
}

// SnapshotMode is MonitorMode plus cold-storage archival of aged snapshots on
// the configured cron schedule.
func (a *App) SnapshotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snapshot mode")

	exchange, err := a.buildExchange(deps, false)
	if err != nil {
		return fmt.Errorf("snapshot mode: %w", err)
	}
	graph := a.newGraph()
	hcfg := a.hedgingConfig()

	positionSvc := service.NewPositionService(deps.PositionStore, graph, a.logger)
	pnlSvc := a.buildPnlService(ctx, deps, exchange, graph, hcfg)

	orch := pipeline.NewOrchestrator(positionSvc, nil, pnlSvc, a.buildArchiver(deps),
		a.cfg.Pipeline.SyncInterval.Duration, a.cfg.Pipeline.SnapshotInterval.Duration,
		a.cfg.Pipeline.ArchiveCron, a.logger)
	return orch.Run(ctx)
}

// FullMode runs everything: hedge evaluation, P&L snapshots, the websocket
// price feed, and snapshot archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	exchange, err := a.buildExchange(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	graph := a.newGraph()
	hcfg := a.hedgingConfig()

	positionSvc := service.NewPositionService(deps.PositionStore, graph, a.logger)
	hedgeSvc := a.buildHedgeService(deps, exchange, hcfg)
	pnlSvc := a.buildPnlService(ctx, deps, exchange, graph, hcfg)

	g, ctx := errgroup.WithContext(ctx)
	a.startPriceFeed(ctx, g, deps)

	orch := pipeline.NewOrchestrator(positionSvc, hedgeSvc, pnlSvc, a.buildArchiver(deps),
		a.cfg.Pipeline.SyncInterval.Duration, a.cfg.Pipeline.SnapshotInterval.Duration,
		a.cfg.Pipeline.ArchiveCron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	return g.Wait()
}

// ImportPosition registers an LP position by NFT id and runs its first sync.
// Used by the import-position CLI subcommand.
func (a *App) ImportPosition(ctx context.Context, deps *Dependencies, userID, wallet, network, nftID string) error {
	graph := a.newGraph()
	positionSvc := service.NewPositionService(deps.PositionStore, graph, a.logger)

	pos, err := positionSvc.ImportPosition(ctx, userID, wallet, network, nftID)
	if err != nil {
		return fmt.Errorf("import position: %w", err)
	}
	a.logger.InfoContext(ctx, "position imported",
		slog.String("position_id", pos.ID),
		slog.String("nft_id", pos.NFTID),
		slog.String("pair", pos.Asset0+"/"+pos.Asset1),
	)
	return nil
}

// Rebalance executes an immediate manually-triggered rebalance for one
// position. Used by the rebalance CLI subcommand.
func (a *App) Rebalance(ctx context.Context, deps *Dependencies, positionID string) error {
	exchange, err := a.buildExchange(deps, true)
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	hedgeSvc := a.buildHedgeService(deps, exchange, a.hedgingConfig())

	event, err := hedgeSvc.ExecuteRebalance(ctx, positionID, domain.TriggerManual)
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	if event == nil {
		a.logger.InfoContext(ctx, "position already on target", slog.String("position_id", positionID))
		return nil
	}
	a.logger.InfoContext(ctx, "rebalance executed",
		slog.String("position_id", positionID),
		slog.String("event_id", event.ID),
		slog.String("status", string(event.Status)),
	)
	return nil
}

// hedgingConfig converts the float knobs from the TOML file into the decimal
// engine config, layering operator symbol mappings over the defaults.
func (a *App) hedgingConfig() hedging.Config {
	mappings := hedging.DefaultMappings()
	for symbol, hedgeAs := range a.cfg.Hedging.Mappings {
		mappings[symbol] = hedgeAs
	}
	return hedging.Config{
		Ratio:     decimal.NewFromFloat(a.cfg.Hedging.Ratio),
		Threshold: decimal.NewFromFloat(a.cfg.Hedging.Threshold),
		Mappings:  mappings,
		Leverage:  a.cfg.Hedging.Leverage,
	}
}

// buildExchange constructs the Hyperliquid client. withSigner loads the
// signing key and derives the main wallet address from it when the config
// does not name one; read-only modes skip the key entirely.
func (a *App) buildExchange(deps *Dependencies, withSigner bool) (*hyperliquid.Client, error) {
	var signer *hyperliquid.Signer
	address := a.cfg.Wallet.Address

	if withSigner {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		signer, err = hyperliquid.NewSigner(key, a.cfg.Hyperliquid.Testnet)
		if err != nil {
			return nil, fmt.Errorf("build signer: %w", err)
		}
		if address == "" {
			address = signer.Address().Hex()
		}
	}

	client := hyperliquid.NewClient(a.cfg.Hyperliquid.BaseURL, address, signer, a.logger).
		WithPriceCache(deps.PriceCache, priceCacheMaxAge).
		WithRateLimiter(deps.RateLimiter, apiRequestLimit, apiRequestWindow)
	return client, nil
}

// newGraph constructs the subgraph client.
func (a *App) newGraph() *subgraph.Client {
	return subgraph.NewClient(a.cfg.Subgraph.URL, a.cfg.Subgraph.ApiKey)
}

// buildHedgeService assembles the hedging engine and the service around it.
func (a *App) buildHedgeService(deps *Dependencies, exchange *hyperliquid.Client, hcfg hedging.Config) *service.HedgeService {
	analyzer := hedging.NewAnalyzer(hedging.NewCalculator(hcfg))
	validator := hedging.NewValidator()
	breaker := hedging.NewCircuitBreaker(deps.BreakerStore, a.logger)
	allocator := hedging.NewAllocator(hcfg, deps.HedgeStore, exchange, deps.LockManager, a.logger)
	executor := hedging.NewExecutor(hcfg, exchange, deps.RebalanceStore, allocator, a.logger)

	return service.NewHedgeService(
		deps.HedgeStore, deps.PositionStore, deps.EventStore,
		exchange, hcfg, analyzer, validator, breaker, executor,
		deps.Notifier, a.logger,
	)
}

// buildPnlService assembles the snapshot service. The on-chain fee reader is
// optional; without an RPC endpoint snapshots record zero uncollected fees.
func (a *App) buildPnlService(ctx context.Context, deps *Dependencies, exchange *hyperliquid.Client, graph *subgraph.Client, hcfg hedging.Config) *service.PnlService {
	var fees service.FeeSource
	if a.cfg.Ethereum.RpcURL != "" {
		reader, err := onchain.Dial(ctx, a.cfg.Ethereum.RpcURL, a.logger)
		if err != nil {
			a.logger.WarnContext(ctx, "ethereum rpc unavailable, uncollected fees disabled",
				slog.String("error", err.Error()),
			)
		} else {
			fees = reader
		}
	}

	return service.NewPnlService(
		deps.PositionStore, deps.HedgeStore, deps.RebalanceStore, deps.SnapshotStore,
		graph, fees, exchange, hcfg, a.logger,
	)
}

// buildArchiver returns the cron archiver when S3 was wired, else nil so the
// orchestrator skips the archival job.
func (a *App) buildArchiver(deps *Dependencies) *pipeline.Archiver {
	if deps.Archiver == nil {
		return nil
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
}

// startPriceFeed connects the websocket allMids feed and pumps mids into the
// shared price cache. A feed failure is logged and the mode keeps running on
// REST mark prices.
func (a *App) startPriceFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Hyperliquid.WsURL == "" {
		return
	}

	ws := hyperliquid.NewWSClient(a.cfg.Hyperliquid.WsURL)
	if err := ws.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "websocket connect failed, using REST mark prices",
			slog.String("error", err.Error()),
		)
		return
	}

	ws.FeedPriceCache(deps.PriceCache, a.logger)
	if err := ws.SubscribeAllMids(ctx); err != nil {
		a.logger.WarnContext(ctx, "allMids subscription failed, using REST mark prices",
			slog.String("error", err.Error()),
		)
		_ = ws.Close()
		return
	}

	g.Go(func() error {
		<-ctx.Done()
		_ = ws.Close()
		return nil
	})
}
