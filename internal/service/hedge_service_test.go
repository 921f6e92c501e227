package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpquant/hedgebot/internal/domain"
	"github.com/lpquant/hedgebot/internal/hedging"
)

type hedgeHarness struct {
	svc          *HedgeService
	hedges       *fakeHedgeStore
	positions    *fakePositionStore
	events       *fakeEventStore
	exchange     *fakeExchange
	rebalances   *fakeRebalanceStore
	breakerStore *fakeBreakerStore
}

func newHedgeHarness() *hedgeHarness {
	cfg := testHedgingConfig()
	logger := discardLogger()
	hedges := newFakeHedgeStore()
	positions := newFakePositionStore()
	events := newFakeEventStore()
	exchange := newFakeExchange()
	rebalances := &fakeRebalanceStore{}
	breakerStore := newFakeBreakerStore()

	analyzer := hedging.NewAnalyzer(hedging.NewCalculator(cfg))
	breaker := hedging.NewCircuitBreaker(breakerStore, logger)
	allocator := hedging.NewAllocator(cfg, hedges, exchange, &fakeLockManager{}, logger)
	executor := hedging.NewExecutor(cfg, exchange, rebalances, allocator, logger)

	svc := NewHedgeService(
		hedges, positions, events, exchange, cfg,
		analyzer, hedging.NewValidator(), breaker, executor, nil, logger,
	)
	return &hedgeHarness{
		svc:          svc,
		hedges:       hedges,
		positions:    positions,
		events:       events,
		exchange:     exchange,
		rebalances:   rebalances,
		breakerStore: breakerStore,
	}
}

// hedgedPosition is a WETH/USDC position holding the given WETH amount with a
// main-account hedge on slot 0 already registered in the harness stores.
func (h *hedgeHarness) hedgedPosition(t *testing.T, wethAmount string) (domain.Position, *domain.Hedge) {
	t.Helper()
	ctx := context.Background()

	pos := trackedPosition("p1", "100")
	pos.Asset0Amount = dec(wethAmount)
	pos.Asset1Amount = dec("20000")
	pos.Asset0PriceUSD = dec("2000")
	pos.Asset1PriceUSD = dec("1")
	require.NoError(t, h.positions.Create(ctx, pos))

	hedge := &domain.Hedge{
		ID:            "h1",
		PositionID:    "p1",
		UserID:        "u1",
		Target:        dec("0.5"),
		Tolerance:     dec("0.05"),
		Active:        true,
		Asset0Account: domain.AccountAssignment{Resolved: true},
	}
	h.hedges.add(hedge, "WETH", "USDC")
	return pos, hedge
}

func (h *hedgeHarness) tripBreaker(userID string) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.breakerStore.RecordFailure(ctx, "hedging:breaker:"+userID, time.Now(), time.Hour)
	}
}

func TestCreateHedge(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	require.NoError(t, h.positions.Create(ctx, trackedPosition("p1", "100")))

	hedge, err := h.svc.CreateHedge(ctx, "p1", dec("0.5"), dec("0.05"))
	require.NoError(t, err)
	assert.True(t, hedge.Active)
	assert.Equal(t, "p1", hedge.PositionID)
	assert.Equal(t, "u1", hedge.UserID)
	assert.False(t, hedge.Asset0Account.Resolved)
}

func TestCreateHedgeRejectsBadFractions(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	require.NoError(t, h.positions.Create(ctx, trackedPosition("p1", "100")))

	_, err := h.svc.CreateHedge(ctx, "p1", dec("1.5"), dec("0.05"))
	require.Error(t, err)
	_, err = h.svc.CreateHedge(ctx, "p1", dec("0"), dec("0.05"))
	require.Error(t, err)
	_, err = h.svc.CreateHedge(ctx, "p1", dec("0.5"), dec("0"))
	require.Error(t, err)
}

func TestCreateHedgeRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	require.NoError(t, h.positions.Create(ctx, trackedPosition("p1", "100")))

	_, err := h.svc.CreateHedge(ctx, "p1", dec("0.5"), dec("0.05"))
	require.NoError(t, err)
	_, err = h.svc.CreateHedge(ctx, "p1", dec("0.5"), dec("0.05"))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateHedgeRejectsInactivePosition(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	pos := trackedPosition("p1", "100")
	pos.Active = false
	require.NoError(t, h.positions.Create(ctx, pos))

	_, err := h.svc.CreateHedge(ctx, "p1", dec("0.5"), dec("0.05"))
	require.Error(t, err)
}

func TestDeactivateHedgeClosesShorts(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	h.hedgedPosition(t, "10")
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-5")})

	require.NoError(t, h.svc.DeactivateHedge(ctx, "h1"))

	assert.Contains(t, h.exchange.closes, "/ETH")
	stored, err := h.hedges.GetByID(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestSyncHedgeRebalancesDriftedAsset(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	pos, hedge := h.hedgedPosition(t, "10")

	// Target short 5, current 4.7: outside the 0.25 tolerance band.
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-4.7")})
	h.exchange.marks["ETH"] = dec("2000")

	outcomes, err := h.svc.SyncHedge(ctx, hedge, pos)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	rebalanced, ok := outcomes[0].(domain.Rebalanced)
	require.True(t, ok, "expected Rebalanced, got %T", outcomes[0])
	assert.True(t, rebalanced.NewSize.Equal(dec("5")))

	// Only the WETH slot trades; USDC is never hedged.
	require.Len(t, h.exchange.orders, 1)
	assert.Equal(t, "ETH", h.exchange.orders[0].asset)
}

func TestSyncHedgeWithinTolerance(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	pos, hedge := h.hedgedPosition(t, "10")
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-4.9")})

	outcomes, err := h.svc.SyncHedge(ctx, hedge, pos)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	_, ok := outcomes[0].(domain.NoChange)
	assert.True(t, ok, "expected NoChange, got %T", outcomes[0])
	assert.Empty(t, h.exchange.orders)
}

func TestSyncHedgeFailsFastWhenBreakerOpen(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	pos, hedge := h.hedgedPosition(t, "10")
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-4")})
	h.tripBreaker("u1")

	_, err := h.svc.SyncHedge(ctx, hedge, pos)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Empty(t, h.exchange.orders)
}

func TestExecuteRebalanceCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	h.hedgedPosition(t, "10")
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-4"), EntryPrice: dec("1950")})
	h.exchange.marks["ETH"] = dec("2000")

	event, err := h.svc.ExecuteRebalance(ctx, "p1", domain.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.EventCompleted, event.Status)
	assert.Equal(t, domain.TriggerManual, event.Trigger)
	require.Len(t, event.PreState.Shorts, 1)
	assert.True(t, event.PreState.Shorts[0].Size.Equal(dec("-4")))
	require.Len(t, event.Intended, 1)
	assert.True(t, event.Intended[0].Delta.Equal(dec("-1")))
	require.Len(t, event.Executed, 1)
	assert.True(t, event.Executed[0].Success)
	require.NotNil(t, event.CompletedAt)

	// The delta order went to the main account.
	require.Len(t, h.exchange.orders, 1)
	assert.Equal(t, "", h.exchange.orders[0].account)
	assert.True(t, h.exchange.orders[0].size.Equal(dec("-1")))

	stored, err := h.events.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCompleted, stored.Status)
}

func TestExecuteRebalanceNoopWhenOnTarget(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	h.hedgedPosition(t, "10")
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-5")})

	event, err := h.svc.ExecuteRebalance(ctx, "p1", domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Empty(t, h.events.order)
	assert.Empty(t, h.exchange.orders)
}

func TestExecuteRebalanceScheduledSkipsSmallDrift(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	h.hedgedPosition(t, "10")
	// Target short 5, current 4.9: drifted, but only by 2%.
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-4.9")})

	event, err := h.svc.ExecuteRebalance(ctx, "p1", domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.Empty(t, h.events.order)
	assert.Empty(t, h.exchange.orders)

	// The same drift executes on a manual trigger.
	h.exchange.marks["ETH"] = dec("2000")
	event, err = h.svc.ExecuteRebalance(ctx, "p1", domain.TriggerManual)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, domain.EventCompleted, event.Status)
}

func TestExecuteRebalanceFailsFastWhenBreakerOpen(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	h.hedgedPosition(t, "10")
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-4")})
	h.tripBreaker("u1")

	_, err := h.svc.ExecuteRebalance(ctx, "p1", domain.TriggerManual)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	// Fails before any event is created.
	assert.Empty(t, h.events.order)
}

func TestExecuteRebalanceValidationFailure(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	// 200 WETH at $3000 puts the single-trade notional past the ceiling.
	h.hedgedPosition(t, "200")
	h.exchange.marks["ETH"] = dec("3000")

	event, err := h.svc.ExecuteRebalance(ctx, "p1", domain.TriggerManual)
	require.Error(t, err)
	var vErr *hedging.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, hedging.CodeTradeTooLarge, vErr.Code)

	require.NotNil(t, event)
	assert.Equal(t, domain.EventFailed, event.Status)
	assert.True(t, strings.HasPrefix(event.ErrorMessage, "validation failed:"), event.ErrorMessage)
	assert.Empty(t, h.exchange.orders)
}

func TestExecuteRebalanceExecutionFailureOpensEventFailed(t *testing.T) {
	ctx := context.Background()
	h := newHedgeHarness()
	h.hedgedPosition(t, "10")
	h.exchange.setPerp("", domain.PerpPosition{Asset: "ETH", Size: dec("-4")})
	h.exchange.marks["ETH"] = dec("2000")
	h.exchange.failOrder = errors.New("exchange down")

	event, err := h.svc.ExecuteRebalance(ctx, "p1", domain.TriggerManual)
	require.Error(t, err)
	require.NotNil(t, event)
	assert.Equal(t, domain.EventFailed, event.Status)
	require.Len(t, event.Executed, 0)

	// The breaker saw the failure.
	failures, err := h.breakerStore.Failures(ctx, "hedging:breaker:u1")
	require.NoError(t, err)
	assert.Equal(t, 1, failures)
}
