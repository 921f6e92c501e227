package hedging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpquant/hedgebot/internal/domain"
)

func newTestAllocator(hedges *fakeHedgeStore, exchange *fakeExchange) (*Allocator, *fakeLockManager) {
	locks := &fakeLockManager{}
	return NewAllocator(testConfig(), hedges, exchange, locks, discardLogger()), locks
}

func TestResolveAssignsMainThenSubAccounts(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, locks := newTestAllocator(hedges, exchange)

	h1 := &domain.Hedge{ID: "h1", Active: true}
	h2 := &domain.Hedge{ID: "h2", Active: true}
	h3 := &domain.Hedge{ID: "h3", Active: true}
	hedges.add(h1, "WETH", "USDC")
	hedges.add(h2, "ETH", "USDT")
	hedges.add(h3, "WETH", "DAI")

	// First hedge gets the main account.
	a1, err := allocator.Resolve(ctx, h1, 0, "ETH")
	require.NoError(t, err)
	assert.True(t, a1.IsMain())

	// Second hedge collides on ETH and gets a fresh sub-account.
	a2, err := allocator.Resolve(ctx, h2, 0, "ETH")
	require.NoError(t, err)
	assert.False(t, a2.IsMain())
	assert.Equal(t, "0xsub1", a2.SubAccount)

	// Third hedge gets a different sub-account than the second.
	a3, err := allocator.Resolve(ctx, h3, 0, "ETH")
	require.NoError(t, err)
	assert.False(t, a3.IsMain())
	assert.NotEqual(t, a2.SubAccount, a3.SubAccount)

	// Resolution was serialized per exchange asset.
	assert.Equal(t, []string{"hedging:alloc:ETH", "hedging:alloc:ETH", "hedging:alloc:ETH"}, locks.acquired)
}

func TestResolveReusesFreeSubAccount(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, _ := newTestAllocator(hedges, exchange)

	// A sub-account exists from an earlier hedge but nothing claims it now.
	exchange.subs = []domain.SubAccount{{Name: "hedge-old", Address: "0xfree"}}

	h1 := &domain.Hedge{ID: "h1", Active: true, Asset0Account: domain.AccountAssignment{Resolved: true}}
	h2 := &domain.Hedge{ID: "h2", Active: true}
	hedges.add(h1, "WETH", "USDC")
	hedges.add(h2, "ETH", "USDT")

	a, err := allocator.Resolve(ctx, h2, 0, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "0xfree", a.SubAccount)
	assert.Empty(t, exchange.orders)
	assert.Len(t, exchange.subs, 1, "no new sub-account should be created while one is free")
}

func TestResolveIdempotentOnceAssigned(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, locks := newTestAllocator(hedges, exchange)

	h := &domain.Hedge{ID: "h1", Active: true, Asset0Account: domain.AccountAssignment{Resolved: true, SubAccount: "0xabc"}}
	hedges.add(h, "WETH", "USDC")

	a, err := allocator.Resolve(ctx, h, 0, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", a.SubAccount)
	assert.Empty(t, locks.acquired, "an already-resolved slot must not lock or re-resolve")
}

func TestResolvePersistsAssignment(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, _ := newTestAllocator(hedges, exchange)

	h := &domain.Hedge{ID: "h1", Active: true}
	hedges.add(h, "WETH", "USDC")

	_, err := allocator.Resolve(ctx, h, 0, "ETH")
	require.NoError(t, err)

	stored, err := hedges.GetByID(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, stored.Asset0Account.Resolved)
	assert.True(t, h.Asset0Account.Resolved, "the in-memory hedge must reflect the assignment")
}

func TestEnsureMarginTransfersOnlyShortfall(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, _ := newTestAllocator(hedges, exchange)

	// Required margin: 5 * 2000 / 4 * 1.2 = 3000. Current value 1500.
	exchange.states["0xsub1"] = domain.AccountState{AccountValue: dec("1500")}

	err := allocator.EnsureMargin(ctx, "0xsub1", dec("-5"), dec("2000"), 4)
	require.NoError(t, err)
	require.Len(t, exchange.transfers, 1)
	assert.True(t, exchange.transfers[0].deposit)
	assert.True(t, exchange.transfers[0].amount.Equal(dec("1500")), "got %s", exchange.transfers[0].amount)
}

func TestEnsureMarginSkipsWhenCovered(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, _ := newTestAllocator(hedges, exchange)

	exchange.states["0xsub1"] = domain.AccountState{AccountValue: dec("5000")}

	require.NoError(t, allocator.EnsureMargin(ctx, "0xsub1", dec("-5"), dec("2000"), 3))
	assert.Empty(t, exchange.transfers)
}

func TestEnsureMarginIgnoresMainAccount(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, _ := newTestAllocator(hedges, exchange)

	require.NoError(t, allocator.EnsureMargin(ctx, "", dec("-5"), dec("2000"), 3))
	assert.Empty(t, exchange.transfers)
}

func TestReleaseSubAccount(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, _ := newTestAllocator(hedges, exchange)

	h := &domain.Hedge{ID: "h1", Active: true, Asset0Account: domain.AccountAssignment{Resolved: true, SubAccount: "0xsub1"}}
	hedges.add(h, "WETH", "USDC")
	exchange.states["0xsub1"] = domain.AccountState{Withdrawable: dec("750")}

	require.NoError(t, allocator.ReleaseSubAccount(ctx, h, 0))

	require.Len(t, exchange.transfers, 1)
	assert.False(t, exchange.transfers[0].deposit)
	assert.True(t, exchange.transfers[0].amount.Equal(dec("750")))
	assert.False(t, h.Asset0Account.Resolved, "the assignment must be cleared for reuse")
}

func TestReleaseSubAccountLeavesMainAlone(t *testing.T) {
	ctx := context.Background()
	hedges := newFakeHedgeStore()
	exchange := newFakeExchange()
	allocator, _ := newTestAllocator(hedges, exchange)

	h := &domain.Hedge{ID: "h1", Active: true, Asset0Account: domain.AccountAssignment{Resolved: true}}
	hedges.add(h, "WETH", "USDC")

	require.NoError(t, allocator.ReleaseSubAccount(ctx, h, 0))
	assert.Empty(t, exchange.transfers)
	assert.True(t, h.Asset0Account.IsMain())
}
