package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lpquant/hedgebot/internal/domain"
	"github.com/lpquant/hedgebot/internal/hedging"
	"github.com/lpquant/hedgebot/internal/notify"
)

// HedgeService ties the hedging engine to persistence and notifications. It
// owns the hedge lifecycle, the per-asset sync path used by the scheduler,
// and the position-level rebalance run with its event audit trail.
type HedgeService struct {
	hedges    domain.HedgeStore
	positions domain.PositionStore
	events    domain.EventStore
	exchange  hedging.Exchange
	cfg       hedging.Config
	analyzer  *hedging.Analyzer
	validator *hedging.Validator
	breaker   *hedging.CircuitBreaker
	executor  *hedging.Executor
	notifier  *notify.Notifier
	logger    *slog.Logger
}

// NewHedgeService creates a HedgeService with all required dependencies.
func NewHedgeService(
	hedges domain.HedgeStore,
	positions domain.PositionStore,
	events domain.EventStore,
	exchange hedging.Exchange,
	cfg hedging.Config,
	analyzer *hedging.Analyzer,
	validator *hedging.Validator,
	breaker *hedging.CircuitBreaker,
	executor *hedging.Executor,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *HedgeService {
	return &HedgeService{
		hedges:    hedges,
		positions: positions,
		events:    events,
		exchange:  exchange,
		cfg:       cfg,
		analyzer:  analyzer,
		validator: validator,
		breaker:   breaker,
		executor:  executor,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "hedge_service")),
	}
}

// CreateHedge attaches a new active hedge to a position. Target and tolerance
// are fractions in (0, 1]. A position can carry at most one active hedge.
func (s *HedgeService) CreateHedge(ctx context.Context, positionID string, target, tolerance decimal.Decimal) (domain.Hedge, error) {
	if !target.IsPositive() || target.GreaterThan(decimal.NewFromInt(1)) {
		return domain.Hedge{}, fmt.Errorf("hedge_service: target %s outside (0, 1]", target)
	}
	if !tolerance.IsPositive() || tolerance.GreaterThan(decimal.NewFromInt(1)) {
		return domain.Hedge{}, fmt.Errorf("hedge_service: tolerance %s outside (0, 1]", tolerance)
	}

	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Hedge{}, fmt.Errorf("hedge_service: load position %s: %w", positionID, err)
	}
	if !pos.Active {
		return domain.Hedge{}, fmt.Errorf("hedge_service: position %s is inactive", positionID)
	}

	existing, err := s.hedges.GetByPosition(ctx, positionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Hedge{}, fmt.Errorf("hedge_service: check existing hedge: %w", err)
	}
	if err == nil && existing.Active {
		return domain.Hedge{}, fmt.Errorf("hedge_service: position %s: %w", positionID, domain.ErrAlreadyExists)
	}

	hedge := domain.Hedge{
		ID:         uuid.NewString(),
		PositionID: positionID,
		UserID:     pos.UserID,
		Target:     target,
		Tolerance:  tolerance,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.hedges.Create(ctx, hedge); err != nil {
		return domain.Hedge{}, fmt.Errorf("hedge_service: create hedge: %w", err)
	}

	s.logger.InfoContext(ctx, "hedge created",
		slog.String("hedge_id", hedge.ID),
		slog.String("position_id", positionID),
		slog.String("target", target.String()),
		slog.String("tolerance", tolerance.String()),
	)
	s.notify(ctx, notify.EventHedgeCreated, "Hedge created",
		fmt.Sprintf("Position %s now hedged at %s of pool amounts (tolerance %s).",
			positionID, target.String(), tolerance.String()))
	return hedge, nil
}

// DeactivateHedge closes any open shorts the hedge holds and marks it
// inactive. The hedge row and its rebalance history are kept.
func (s *HedgeService) DeactivateHedge(ctx context.Context, hedgeID string) error {
	hedge, err := s.hedges.GetByID(ctx, hedgeID)
	if err != nil {
		return fmt.Errorf("hedge_service: load hedge %s: %w", hedgeID, err)
	}
	pos, err := s.positions.GetByID(ctx, hedge.PositionID)
	if err != nil {
		return fmt.Errorf("hedge_service: load position %s: %w", hedge.PositionID, err)
	}

	for slot := 0; slot < 2; slot++ {
		assignment := hedge.AccountFor(slot)
		if !assignment.Resolved {
			continue
		}
		token, _ := pos.AssetAt(slot)
		if !s.cfg.ShouldHedge(token) {
			continue
		}
		asset := s.cfg.MapSymbol(token)
		if err := s.exchange.ClosePosition(ctx, assignment.SubAccount, asset); err != nil {
			return fmt.Errorf("hedge_service: close %s short: %w", asset, err)
		}
	}

	if err := s.hedges.Deactivate(ctx, hedgeID); err != nil {
		return fmt.Errorf("hedge_service: deactivate hedge %s: %w", hedgeID, err)
	}

	s.logger.InfoContext(ctx, "hedge deactivated", slog.String("hedge_id", hedgeID))
	s.notify(ctx, notify.EventPositionClosed, "Hedge deactivated",
		fmt.Sprintf("Hedge %s on position %s closed its shorts and is inactive.",
			hedgeID, hedge.PositionID))
	return nil
}

// SyncHedge runs the per-asset rebalance path for one hedge against the
// position's current pool amounts. Each exchange asset is evaluated
// independently under circuit protection; one asset failing never blocks its
// sibling. When both pool tokens map to the same exchange symbol their
// amounts are combined into a single evaluation.
func (s *HedgeService) SyncHedge(ctx context.Context, hedge *domain.Hedge, pos domain.Position) ([]domain.Outcome, error) {
	type slotTarget struct {
		slot   int
		asset  string
		amount decimal.Decimal
	}
	var targets []slotTarget

	for slot := 0; slot < 2; slot++ {
		token, amount := pos.AssetAt(slot)
		if !s.cfg.ShouldHedge(token) {
			continue
		}
		asset := s.cfg.MapSymbol(token)
		if len(targets) > 0 && targets[0].asset == asset {
			targets[0].amount = targets[0].amount.Add(amount)
			continue
		}
		targets = append(targets, slotTarget{slot: slot, asset: asset, amount: amount})
	}

	var (
		outcomes []domain.Outcome
		errs     []error
	)
	for _, t := range targets {
		var outcome domain.Outcome
		err := s.breaker.Do(ctx, hedge.UserID, func() error {
			var rErr error
			outcome, rErr = s.executor.RebalanceAsset(ctx, hedge, t.slot, t.asset, t.amount)
			return rErr
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("hedge_service: sync %s: %w", t.asset, err))
			s.logger.ErrorContext(ctx, "asset sync failed",
				slog.String("hedge_id", hedge.ID),
				slog.String("asset", t.asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, errors.Join(errs...)
}

// maxParallelHedges bounds how many hedges one sweep evaluates at a time.
const maxParallelHedges = 4

// SyncAll runs SyncHedge for every active hedge whose position is still
// active, with bounded parallelism across hedges. Failures are logged per
// hedge and do not stop the sweep.
func (s *HedgeService) SyncAll(ctx context.Context) error {
	hedges, err := s.hedges.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("hedge_service: list active hedges: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(maxParallelHedges)
	for i := range hedges {
		hedge := &hedges[i]
		g.Go(func() error {
			pos, err := s.positions.GetByID(ctx, hedge.PositionID)
			if err != nil {
				s.logger.ErrorContext(ctx, "hedge sync failed",
					slog.String("hedge_id", hedge.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if !pos.Active {
				return nil
			}
			if _, err := s.SyncHedge(ctx, hedge, pos); err != nil {
				s.logger.ErrorContext(ctx, "hedge sync failed",
					slog.String("hedge_id", hedge.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// ExecuteRebalance runs a full position-level rebalance: compute adjustments
// across both assets, validate them, and execute them as one audited event.
// An open circuit fails fast before any event is created. When the position
// is already on target, or drift sits under the threshold on a non-manual
// trigger, no event is created and nil is returned.
func (s *HedgeService) ExecuteRebalance(ctx context.Context, positionID string, trigger domain.TriggerType) (*domain.RebalanceEvent, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("hedge_service: load position %s: %w", positionID, err)
	}
	hedge, err := s.hedges.GetByPosition(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("hedge_service: load hedge for %s: %w", positionID, err)
	}
	if !hedge.Active {
		return nil, fmt.Errorf("hedge_service: hedge %s is inactive", hedge.ID)
	}

	open, err := s.breaker.Open(ctx, hedge.UserID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fmt.Errorf("hedge_service: user %s: %w", hedge.UserID, domain.ErrCircuitOpen)
	}

	current, shorts, err := s.currentShorts(ctx, &hedge, pos)
	if err != nil {
		return nil, err
	}

	analysis := s.analyzer.Analyze(pos, current)
	adjustments := actionable(analysis.Adjustments)
	if len(adjustments) == 0 {
		s.logger.InfoContext(ctx, "position on target, no rebalance needed",
			slog.String("position_id", positionID),
		)
		return nil, nil
	}
	// A manual trigger always executes; scheduled and threshold triggers only
	// act once drift crosses the configured threshold.
	if trigger != domain.TriggerManual && !analysis.NeedsRebalance {
		s.logger.InfoContext(ctx, "drift within threshold, skipping rebalance",
			slog.String("position_id", positionID),
			slog.String("reason", analysis.Reason),
		)
		return nil, nil
	}

	prices := s.markPrices(ctx, adjustments)
	adjustments = s.dropTooSmall(ctx, adjustments, prices)
	if len(adjustments) == 0 {
		s.logger.InfoContext(ctx, "all adjustments below the hedge floor, skipping rebalance",
			slog.String("position_id", positionID),
		)
		return nil, nil
	}
	for _, warning := range s.validator.Warnings(adjustments, prices) {
		s.logger.WarnContext(ctx, "rebalance warning",
			slog.String("position_id", positionID),
			slog.String("warning", warning),
		)
	}

	event := domain.RebalanceEvent{
		ID:         uuid.NewString(),
		PositionID: positionID,
		Trigger:    trigger,
		Status:     domain.EventPending,
		PreState: domain.PositionState{
			Asset0Amount: pos.Asset0Amount,
			Asset1Amount: pos.Asset1Amount,
			Shorts:       shorts,
		},
		Intended:  adjustments,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("hedge_service: create event: %w", err)
	}

	startedAt := time.Now().UTC()
	if err := s.events.MarkExecuting(ctx, event.ID, startedAt); err != nil {
		return &event, fmt.Errorf("hedge_service: mark executing: %w", err)
	}
	event.Status = domain.EventExecuting
	event.StartedAt = &startedAt

	if err := s.validator.ValidateAdjustments(adjustments, prices); err != nil {
		return s.failEvent(ctx, &event, &hedge, fmt.Errorf("validation failed: %w", err))
	}

	var executed []domain.ExecutedAction
	execErr := s.breaker.Do(ctx, hedge.UserID, func() error {
		for _, adj := range adjustments {
			action, err := s.applyAdjustment(ctx, &hedge, pos, adj)
			executed = append(executed, action)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if execErr != nil {
		return s.failEvent(ctx, &event, &hedge, execErr)
	}

	_, postShorts, err := s.currentShorts(ctx, &hedge, pos)
	if err != nil {
		s.logger.WarnContext(ctx, "post-state read failed",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		postShorts = nil
	}

	completedAt := time.Now().UTC()
	post := domain.PositionState{
		Asset0Amount: pos.Asset0Amount,
		Asset1Amount: pos.Asset1Amount,
		Shorts:       postShorts,
	}
	if err := s.events.MarkCompleted(ctx, event.ID, executed, post, completedAt); err != nil {
		return &event, fmt.Errorf("hedge_service: mark completed: %w", err)
	}
	event.Status = domain.EventCompleted
	event.Executed = executed
	event.PostState = post
	event.CompletedAt = &completedAt

	s.logger.InfoContext(ctx, "rebalance completed",
		slog.String("event_id", event.ID),
		slog.String("position_id", positionID),
		slog.Int("actions", len(executed)),
	)
	s.notify(ctx, notify.EventRebalanceCompleted, "Rebalance completed",
		fmt.Sprintf("Position %s rebalanced with %d action(s).", positionID, len(executed)))
	return &event, nil
}

// failEvent marks the event failed, records the breaker-visible failure in
// notifications, and returns the original error for the caller.
func (s *HedgeService) failEvent(ctx context.Context, event *domain.RebalanceEvent, hedge *domain.Hedge, cause error) (*domain.RebalanceEvent, error) {
	completedAt := time.Now().UTC()
	if err := s.events.MarkFailed(ctx, event.ID, cause.Error(), completedAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark event failed",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
	event.Status = domain.EventFailed
	event.ErrorMessage = cause.Error()
	event.CompletedAt = &completedAt

	s.logger.ErrorContext(ctx, "rebalance failed",
		slog.String("event_id", event.ID),
		slog.String("position_id", event.PositionID),
		slog.String("error", cause.Error()),
	)
	s.notify(ctx, notify.EventRebalanceFailed, "Rebalance failed",
		fmt.Sprintf("Position %s rebalance failed: %s", event.PositionID, cause.Error()))
	return event, cause
}

// applyAdjustment executes one adjustment against the exchange account its
// asset slot is assigned to, the main account when unresolved.
func (s *HedgeService) applyAdjustment(ctx context.Context, hedge *domain.Hedge, pos domain.Position, adj domain.Adjustment) (domain.ExecutedAction, error) {
	action := domain.ExecutedAction{
		Asset:   adj.Asset,
		OldSize: adj.CurrentSize,
		NewSize: adj.TargetSize,
	}
	account := s.accountFor(hedge, pos, adj.Asset)

	if adj.Close || adj.TargetSize.IsZero() {
		closeStart := time.Now()
		if err := s.exchange.ClosePosition(ctx, account, adj.Asset); err != nil {
			action.Error = err.Error()
			return action, fmt.Errorf("hedge_service: close %s: %w", adj.Asset, err)
		}
		action.NewSize = decimal.Zero
		action.RealizedPnL = s.realizedPnL(ctx, account, adj.Asset, closeStart)
		action.Success = true
		return action, nil
	}

	if _, err := s.exchange.PlaceMarketOrder(ctx, account, adj.Asset, adj.Delta, false); err != nil {
		action.Error = err.Error()
		return action, fmt.Errorf("hedge_service: adjust %s by %s: %w", adj.Asset, adj.Delta, err)
	}
	action.Success = true
	return action, nil
}

// currentShorts reads the signed open size per hedged exchange asset from the
// accounts the hedge slots are assigned to. Unresolved slots hold nothing.
func (s *HedgeService) currentShorts(ctx context.Context, hedge *domain.Hedge, pos domain.Position) (map[string]decimal.Decimal, []domain.ShortState, error) {
	current := make(map[string]decimal.Decimal)
	var shorts []domain.ShortState

	for slot := 0; slot < 2; slot++ {
		token, _ := pos.AssetAt(slot)
		if !s.cfg.ShouldHedge(token) {
			continue
		}
		asset := s.cfg.MapSymbol(token)
		if _, seen := current[asset]; seen {
			continue
		}
		assignment := hedge.AccountFor(slot)
		if !assignment.Resolved {
			continue
		}
		perp, ok, err := s.exchange.Position(ctx, assignment.SubAccount, asset)
		if err != nil {
			return nil, nil, fmt.Errorf("hedge_service: read %s position: %w", asset, err)
		}
		if !ok {
			continue
		}
		current[asset] = perp.Size
		shorts = append(shorts, domain.ShortState{
			Asset:      asset,
			Size:       perp.Size,
			EntryPrice: perp.EntryPrice,
		})
	}
	return current, shorts, nil
}

// accountFor returns the exchange account for an asset: the assignment of the
// first slot mapping to it, or the main account when unresolved.
func (s *HedgeService) accountFor(hedge *domain.Hedge, pos domain.Position, asset string) string {
	for slot := 0; slot < 2; slot++ {
		token, _ := pos.AssetAt(slot)
		if !s.cfg.ShouldHedge(token) || s.cfg.MapSymbol(token) != asset {
			continue
		}
		if assignment := hedge.AccountFor(slot); assignment.Resolved {
			return assignment.SubAccount
		}
		return ""
	}
	return ""
}

// dropTooSmall removes adjustments whose trade notional sits under the
// minimum-worth-hedging floor. Closes always go through regardless of size.
func (s *HedgeService) dropTooSmall(ctx context.Context, adjustments []domain.Adjustment, prices map[string]decimal.Decimal) []domain.Adjustment {
	kept := adjustments[:0:0]
	for _, adj := range adjustments {
		notional := adj.Delta.Abs().Mul(prices[adj.Asset])
		// A zero price means the mark was unavailable, not that the trade is
		// worthless; let it through rather than silently dropping it.
		if !adj.Close && notional.IsPositive() && s.validator.ShouldSkip(notional) {
			s.logger.InfoContext(ctx, "adjustment below hedge floor, skipped",
				slog.String("asset", adj.Asset),
				slog.String("notional_usd", notional.StringFixed(2)),
			)
			continue
		}
		kept = append(kept, adj)
	}
	return kept
}

// markPrices fetches the mark price per adjustment asset. A missing price
// degrades to zero so validation still sees the adjustment.
func (s *HedgeService) markPrices(ctx context.Context, adjustments []domain.Adjustment) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(adjustments))
	for _, adj := range adjustments {
		mark, err := s.exchange.MarkPrice(ctx, adj.Asset)
		if err != nil {
			s.logger.WarnContext(ctx, "mark price unavailable, using zero",
				slog.String("asset", adj.Asset),
				slog.String("error", err.Error()),
			)
			mark = decimal.Zero
		}
		prices[adj.Asset] = mark
	}
	return prices
}

// realizedPnL sums closedPnl over the account's fills for the asset since the
// close started. Fetch failures degrade to zero with a warning.
func (s *HedgeService) realizedPnL(ctx context.Context, account, asset string, since time.Time) decimal.Decimal {
	fills, err := s.exchange.FillsSince(ctx, account, since)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to fetch fills for realized pnl",
			slog.String("asset", asset),
			slog.String("error", err.Error()),
		)
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

// actionable drops adjustments whose delta is zero and that close nothing.
func actionable(adjustments []domain.Adjustment) []domain.Adjustment {
	out := adjustments[:0:0]
	for _, adj := range adjustments {
		if adj.Delta.IsZero() && !adj.Close {
			continue
		}
		out = append(out, adj)
	}
	return out
}

func (s *HedgeService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
