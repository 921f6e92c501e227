package hedging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

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

// fakeLockManager hands out locks immediately and counts acquisitions.
type fakeLockManager struct {
	mu       sync.Mutex
	acquired []string
}

func (l *fakeLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired = append(l.acquired, key)
	return func() {}, nil
}

// fakeHedgeStore keeps hedges in memory and answers the account-in-use
// queries from the recorded assignments. Tests register each hedge's pool
// symbols per slot through setSymbols.
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
			if a.IsMain() && contains(poolSymbols, s.symbols[id][slot]) {
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
			if a.Resolved && a.SubAccount == subAccount && contains(poolSymbols, s.symbols[id][slot]) {
				return true, nil
			}
		}
	}
	return false, nil
}

func contains(haystack []string, needle string) bool {
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

type placedOrder struct {
	account    string
	asset      string
	size       decimal.Decimal
	reduceOnly bool
}

type transfer struct {
	account string
	amount  decimal.Decimal
	deposit bool
}

// fakeExchange is an in-memory Exchange. Positions are keyed by account then
// asset; the empty account key is the main account.
type fakeExchange struct {
	mu sync.Mutex

	positions map[string]map[string]domain.PerpPosition
	marks     map[string]decimal.Decimal
	states    map[string]domain.AccountState
	subs      []domain.SubAccount
	fills     []domain.Fill

	orders    []placedOrder
	closes    []string
	transfers []transfer
	leverages map[string]int

	failClose error
	failOrder error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		positions: make(map[string]map[string]domain.PerpPosition),
		marks:     make(map[string]decimal.Decimal),
		states:    make(map[string]domain.AccountState),
		leverages: make(map[string]int),
	}
}

func (e *fakeExchange) setPosition(account, asset string, size decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.positions[account] == nil {
		e.positions[account] = make(map[string]domain.PerpPosition)
	}
	e.positions[account][asset] = domain.PerpPosition{Asset: asset, Size: size}
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

func (e *fakeExchange) Transfer(_ context.Context, subAccount string, amountUSD decimal.Decimal, deposit bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transfers = append(e.transfers, transfer{account: subAccount, amount: amountUSD, deposit: deposit})
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

var _ domain.BreakerStore = (*fakeBreakerStore)(nil)
var _ domain.LockManager = (*fakeLockManager)(nil)
var _ domain.HedgeStore = (*fakeHedgeStore)(nil)
var _ domain.RebalanceStore = (*fakeRebalanceStore)(nil)
var _ Exchange = (*fakeExchange)(nil)
