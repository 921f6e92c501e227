package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
	"github.com/lpquant/hedgebot/internal/hedging"
	"github.com/lpquant/hedgebot/internal/platform/onchain"
	"github.com/lpquant/hedgebot/internal/platform/subgraph"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testHedgingConfig() hedging.Config {
	return hedging.Config{
		Ratio:     dec("0.5"),
		Threshold: dec("0.05"),
		Mappings:  hedging.DefaultMappings(),
		Leverage:  3,
	}
}

// fakePositionStore is an in-memory domain.PositionStore.
type fakePositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[string]domain.Position)}
}

func (s *fakePositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakePositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakePositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Active {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakePositionStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.Active = false
	s.positions[id] = pos
	return nil
}

// fakeHedgeStore keeps hedges in memory. Account-in-use queries answer from
// recorded assignments and per-slot pool symbols registered via add.
type fakeHedgeStore struct {
	mu      sync.Mutex
	hedges  map[string]*domain.Hedge
	symbols map[string][2]string
}

func newFakeHedgeStore() *fakeHedgeStore {
	return &fakeHedgeStore{
		hedges:  make(map[string]*domain.Hedge),
		symbols: make(map[string][2]string),
	}
}

func (s *fakeHedgeStore) add(h *domain.Hedge, asset0, asset1 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hedges[h.ID] = h
	s.symbols[h.ID] = [2]string{asset0, asset1}
}

func (s *fakeHedgeStore) Create(_ context.Context, h domain.Hedge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hedges[h.ID] = &h
	return nil
}

func (s *fakeHedgeStore) Update(_ context.Context, h domain.Hedge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hedges[h.ID] = &h
	return nil
}

func (s *fakeHedgeStore) GetByID(_ context.Context, id string) (domain.Hedge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hedges[id]
	if !ok {
		return domain.Hedge{}, domain.ErrNotFound
	}
	return *h, nil
}

func (s *fakeHedgeStore) GetByPosition(_ context.Context, positionID string) (domain.Hedge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hedges {
		if h.PositionID == positionID {
			return *h, nil
		}
	}
	return domain.Hedge{}, domain.ErrNotFound
}

func (s *fakeHedgeStore) ListActive(_ context.Context) ([]domain.Hedge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Hedge
	for _, h := range s.hedges {
		if h.Active {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeHedgeStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hedges[id]; ok {
		h.Active = false
	}
	return nil
}

func (s *fakeHedgeStore) SetAccount(_ context.Context, hedgeID string, slot int, assignment domain.AccountAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hedges[hedgeID]
	if !ok {
		return domain.ErrNotFound
	}
	h.SetAccountFor(slot, assignment)
	return nil
}

func (s *fakeHedgeStore) MainAccountInUse(_ context.Context, poolSymbols []string, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.hedges {
		if id == excludeID || !h.Active {
			continue
		}
		for slot := 0; slot < 2; slot++ {
			a := h.AccountFor(slot)
			if a.IsMain() && containsSymbol(poolSymbols, s.symbols[id][slot]) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *fakeHedgeStore) SubAccountInUse(_ context.Context, subAccount string, poolSymbols []string, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.hedges {
		if id == excludeID || !h.Active {
			continue
		}
		for slot := 0; slot < 2; slot++ {
			a := h.AccountFor(slot)
			if a.Resolved && a.SubAccount == subAccount && containsSymbol(poolSymbols, s.symbols[id][slot]) {
				return true, nil
			}
		}
	}
	return false, nil
}

func containsSymbol(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// fakeRebalanceStore is an in-memory append-only domain.RebalanceStore.
type fakeRebalanceStore struct {
	mu      sync.Mutex
	records []domain.ShortRebalance
}

func (s *fakeRebalanceStore) Create(_ context.Context, r domain.ShortRebalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *fakeRebalanceStore) ListByHedge(_ context.Context, hedgeID string, _ domain.ListOpts) ([]domain.ShortRebalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ShortRebalance
	for _, r := range s.records {
		if r.HedgeID == hedgeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRebalanceStore) LastForAsset(_ context.Context, hedgeID, asset string, since time.Time, limit int) ([]domain.ShortRebalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ShortRebalance
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if r.HedgeID == hedgeID && r.Asset == asset && !r.RebalancedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRebalanceStore) SumRealizedPnL(_ context.Context, hedgeID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, r := range s.records {
		if r.HedgeID == hedgeID {
			total = total.Add(r.RealizedPnL)
		}
	}
	return total, nil
}

// fakeEventStore is an in-memory domain.EventStore.
type fakeEventStore struct {
	mu     sync.Mutex
	events map[string]*domain.RebalanceEvent
	order  []string
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[string]*domain.RebalanceEvent)}
}

func (s *fakeEventStore) Create(_ context.Context, e domain.RebalanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = &e
	s.order = append(s.order, e.ID)
	return nil
}

func (s *fakeEventStore) MarkExecuting(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = domain.EventExecuting
	e.StartedAt = &startedAt
	return nil
}

func (s *fakeEventStore) MarkCompleted(_ context.Context, id string, executed []domain.ExecutedAction, post domain.PositionState, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = domain.EventCompleted
	e.Executed = executed
	e.PostState = post
	e.CompletedAt = &completedAt
	return nil
}

func (s *fakeEventStore) MarkFailed(_ context.Context, id string, message string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = domain.EventFailed
	e.ErrorMessage = message
	e.CompletedAt = &completedAt
	return nil
}

func (s *fakeEventStore) GetByID(_ context.Context, id string) (domain.RebalanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.RebalanceEvent{}, domain.ErrNotFound
	}
	return *e, nil
}

func (s *fakeEventStore) ListByPosition(_ context.Context, positionID string, _ domain.ListOpts) ([]domain.RebalanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RebalanceEvent
	for _, id := range s.order {
		if e := s.events[id]; e.PositionID == positionID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// fakeSnapshotStore is an in-memory domain.SnapshotStore.
type fakeSnapshotStore struct {
	mu        sync.Mutex
	snapshots []domain.PnlSnapshot
}

func (s *fakeSnapshotStore) Create(_ context.Context, snap domain.PnlSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *fakeSnapshotStore) ListByPosition(_ context.Context, positionID string, _ domain.ListOpts) ([]domain.PnlSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PnlSnapshot
	for _, snap := range s.snapshots {
		if snap.PositionID == positionID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakeSnapshotStore) ListBefore(_ context.Context, before time.Time) ([]domain.PnlSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PnlSnapshot
	for _, snap := range s.snapshots {
		if snap.CapturedAt.Before(before) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakeSnapshotStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.PnlSnapshot
	var deleted int64
	for _, snap := range s.snapshots {
		if snap.CapturedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	s.snapshots = kept
	return deleted, nil
}

// fakeBreakerStore is an in-memory domain.BreakerStore.
type fakeBreakerStore struct {
	mu       sync.Mutex
	failures map[string]int
	last     map[string]time.Time
}

func newFakeBreakerStore() *fakeBreakerStore {
	return &fakeBreakerStore{
		failures: make(map[string]int),
		last:     make(map[string]time.Time),
	}
}

func (s *fakeBreakerStore) Failures(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[key], nil
}

func (s *fakeBreakerStore) LastFailure(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[key]
	return t, ok, nil
}

func (s *fakeBreakerStore) RecordFailure(_ context.Context, key string, at time.Time, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key]++
	s.last[key] = at
	return s.failures[key], nil
}

func (s *fakeBreakerStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, key)
	delete(s.last, key)
	return nil
}

// fakeLockManager hands out locks immediately.
type fakeLockManager struct{}

func (l *fakeLockManager) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	return func() {}, nil
}

type placedOrder struct {
	account    string
	asset      string
	size       decimal.Decimal
	reduceOnly bool
}

// fakeExchange is an in-memory hedging.Exchange. Positions are keyed by
// account then asset; the empty account key is the main account.
type fakeExchange struct {
	mu sync.Mutex

	positions map[string]map[string]domain.PerpPosition
	marks     map[string]decimal.Decimal
	states    map[string]domain.AccountState
	subs      []domain.SubAccount
	fills     []domain.Fill

	orders    []placedOrder
	closes    []string
	leverages map[string]int

	failClose error
	failOrder error
	failMark  error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		positions: make(map[string]map[string]domain.PerpPosition),
		marks:     make(map[string]decimal.Decimal),
		states:    make(map[string]domain.AccountState),
		leverages: make(map[string]int),
	}
}

func (e *fakeExchange) setPerp(account string, perp domain.PerpPosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.positions[account] == nil {
		e.positions[account] = make(map[string]domain.PerpPosition)
	}
	e.positions[account][perp.Asset] = perp
}

func (e *fakeExchange) AccountState(_ context.Context, subAccount string) (domain.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[subAccount], nil
}

func (e *fakeExchange) Position(_ context.Context, subAccount, asset string) (domain.PerpPosition, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[subAccount][asset]
	return pos, ok, nil
}

func (e *fakeExchange) MarkPrice(_ context.Context, asset string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failMark != nil {
		return decimal.Zero, e.failMark
	}
	return e.marks[asset], nil
}

func (e *fakeExchange) PlaceMarketOrder(_ context.Context, subAccount, asset string, size decimal.Decimal, reduceOnly bool) (domain.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOrder != nil {
		return domain.OrderResult{}, e.failOrder
	}
	e.orders = append(e.orders, placedOrder{account: subAccount, asset: asset, size: size, reduceOnly: reduceOnly})
	if e.positions[subAccount] == nil {
		e.positions[subAccount] = make(map[string]domain.PerpPosition)
	}
	e.positions[subAccount][asset] = domain.PerpPosition{Asset: asset, Size: size}
	return domain.OrderResult{Asset: asset, FilledSize: size}, nil
}

func (e *fakeExchange) ClosePosition(_ context.Context, subAccount, asset string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failClose != nil {
		return e.failClose
	}
	e.closes = append(e.closes, subAccount+"/"+asset)
	delete(e.positions[subAccount], asset)
	return nil
}

func (e *fakeExchange) UpdateLeverage(_ context.Context, subAccount, asset string, leverage int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverages[subAccount+"/"+asset] = leverage
	return nil
}

func (e *fakeExchange) SubAccounts(_ context.Context) ([]domain.SubAccount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.SubAccount(nil), e.subs...), nil
}

func (e *fakeExchange) CreateSubAccount(_ context.Context, name string) (domain.SubAccount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := domain.SubAccount{
		Name:    name,
		Address: fmt.Sprintf("0xsub%d", len(e.subs)+1),
	}
	e.subs = append(e.subs, sub)
	return sub, nil
}

func (e *fakeExchange) Transfer(_ context.Context, _ string, _ decimal.Decimal, _ bool) error {
	return nil
}

func (e *fakeExchange) FillsSince(_ context.Context, _ string, since time.Time) ([]domain.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Fill
	for _, f := range e.fills {
		if !f.Time.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// fakeGraph is an in-memory PositionSource keyed by NFT id and pool address.
type fakeGraph struct {
	mu        sync.Mutex
	positions map[string]subgraph.LPPosition
	pools     map[string]subgraph.PoolData
	owned     []subgraph.LPPosition
	err       error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		positions: make(map[string]subgraph.LPPosition),
		pools:     make(map[string]subgraph.PoolData),
	}
}

func (g *fakeGraph) Position(_ context.Context, nftID string) (subgraph.LPPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return subgraph.LPPosition{}, g.err
	}
	lp, ok := g.positions[nftID]
	if !ok {
		return subgraph.LPPosition{}, domain.ErrNotFound
	}
	return lp, nil
}

func (g *fakeGraph) PositionsByOwner(_ context.Context, _ string, _ int) ([]subgraph.LPPosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	return append([]subgraph.LPPosition(nil), g.owned...), nil
}

func (g *fakeGraph) Pool(_ context.Context, poolAddress string) (subgraph.PoolData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return subgraph.PoolData{}, g.err
	}
	pool, ok := g.pools[poolAddress]
	if !ok {
		return subgraph.PoolData{}, domain.ErrNotFound
	}
	return pool, nil
}

// fakeFees returns fixed uncollected fee amounts.
type fakeFees struct {
	fees onchain.Fees
	err  error
}

func (f *fakeFees) UncollectedFees(_ context.Context, _ string, _, _ int) (onchain.Fees, error) {
	if f.err != nil {
		return onchain.Fees{}, f.err
	}
	return f.fees, nil
}

var (
	_ domain.PositionStore  = (*fakePositionStore)(nil)
	_ domain.HedgeStore     = (*fakeHedgeStore)(nil)
	_ domain.RebalanceStore = (*fakeRebalanceStore)(nil)
	_ domain.EventStore     = (*fakeEventStore)(nil)
	_ domain.SnapshotStore  = (*fakeSnapshotStore)(nil)
	_ domain.BreakerStore   = (*fakeBreakerStore)(nil)
	_ domain.LockManager    = (*fakeLockManager)(nil)
	_ hedging.Exchange      = (*fakeExchange)(nil)
	_ PositionSource        = (*fakeGraph)(nil)
	_ FeeSource             = (*fakeFees)(nil)
)
