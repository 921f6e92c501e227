// Package hyperliquid is the REST and websocket client for the Hyperliquid
// perpetual exchange: info endpoint reads, signed exchange endpoint writes,
// sub-account management, and the mark price feed.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

const (
	// MainnetURL is the production API root.
	MainnetURL = "https://api.hyperliquid.xyz"
	// TestnetURL is the test environment API root.
	TestnetURL = "https://api.hyperliquid-testnet.xyz"

	// marketSlippage is the price buffer applied to the mid when emulating a
	// market order with an aggressive IOC limit.
	marketSlippage = "0.05"

	// pxSigFigs is the maximum significant figures the exchange accepts in
	// a price.
	pxSigFigs = 5
)

var slippage = decimal.RequireFromString(marketSlippage)

// Client talks to the Hyperliquid info and exchange endpoints. It keeps a
// cached per-asset size-precision table loaded from the market metadata; all
// other calls are stateless.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	signer      *Signer
	mainAddress string
	logger      *slog.Logger

	priceCache  domain.PriceCache
	priceMaxAge time.Duration

	limiter       domain.RateLimiter
	limiterLimit  int
	limiterWindow time.Duration

	mu         sync.RWMutex
	szDecimals map[string]int
	assetIndex map[string]int
}

// NewClient creates a Client. mainAddress is the master wallet used for info
// queries; signer holds the key that authorizes exchange actions.
func NewClient(baseURL, mainAddress string, signer *Signer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:      signer,
		mainAddress: mainAddress,
		logger:      logger.With(slog.String("component", "hyperliquid")),
	}
}

// WithPriceCache makes MarkPrice consult the shared price cache before the
// REST endpoint. Entries older than maxAge are ignored. The cache is kept warm
// by the websocket allMids feed.
func (c *Client) WithPriceCache(cache domain.PriceCache, maxAge time.Duration) *Client {
	c.priceCache = cache
	c.priceMaxAge = maxAge
	return c
}

// WithRateLimiter throttles outbound requests through a shared distributed
// limiter. A request over the limit fails with domain.ErrRateLimited instead
// of hitting the API.
func (c *Client) WithRateLimiter(limiter domain.RateLimiter, limit int, window time.Duration) *Client {
	c.limiter = limiter
	c.limiterLimit = limit
	c.limiterWindow = window
	return c
}

// address returns the account an info query should target.
func (c *Client) address(subAccount string) string {
	if subAccount != "" {
		return subAccount
	}
	return c.mainAddress
}

// AccountState fetches the margin summary and open positions for the main
// account or a sub-account address.
func (c *Client) AccountState(ctx context.Context, subAccount string) (domain.AccountState, error) {
	var state userState
	req := infoRequest{Type: "clearinghouseState", User: c.address(subAccount)}
	if err := c.postInfo(ctx, req, &state); err != nil {
		return domain.AccountState{}, fmt.Errorf("hyperliquid: account state: %w", err)
	}
	return normalizeAccountState(c.address(subAccount), state), nil
}

// Position returns the open position for one asset, or false when none is
// open on the account.
func (c *Client) Position(ctx context.Context, subAccount, asset string) (domain.PerpPosition, bool, error) {
	state, err := c.AccountState(ctx, subAccount)
	if err != nil {
		return domain.PerpPosition{}, false, err
	}
	for _, pos := range state.Positions {
		if pos.Asset == asset {
			return pos, true, nil
		}
	}
	return domain.PerpPosition{}, false, nil
}

// MarkPrice returns the current mid price for an asset. When a price cache is
// configured a fresh cached mid short-circuits the REST round trip.
func (c *Client) MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if c.priceCache != nil {
		price, ts, err := c.priceCache.GetPrice(ctx, asset)
		if err == nil && time.Since(ts) <= c.priceMaxAge {
			return price, nil
		}
	}

	var mids map[string]string
	if err := c.postInfo(ctx, infoRequest{Type: "allMids"}, &mids); err != nil {
		return decimal.Zero, fmt.Errorf("hyperliquid: all mids: %w", err)
	}
	raw, ok := mids[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("hyperliquid: no mid for %s: %w", asset, domain.ErrNotFound)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hyperliquid: parse mid %q: %w", raw, err)
	}
	return price, nil
}

// Markets returns all perpetual markets with their size precision.
func (c *Client) Markets(ctx context.Context) ([]domain.Market, error) {
	var meta metaResponse
	if err := c.postInfo(ctx, infoRequest{Type: "meta"}, &meta); err != nil {
		return nil, fmt.Errorf("hyperliquid: meta: %w", err)
	}
	markets := make([]domain.Market, 0, len(meta.Universe))
	for _, m := range meta.Universe {
		markets = append(markets, domain.Market{
			Name:        m.Name,
			SzDecimals:  m.SzDecimals,
			MaxLeverage: m.MaxLeverage,
		})
	}
	return markets, nil
}

// PlaceMarketOrder emulates a market order with an aggressive IOC limit
// priced off the current mid. Size is signed: negative sells. The size is
// rounded to the market's precision before submission.
func (c *Client) PlaceMarketOrder(ctx context.Context, subAccount, asset string, size decimal.Decimal, reduceOnly bool) (domain.OrderResult, error) {
	index, szDecimals, err := c.market(ctx, asset)
	if err != nil {
		return domain.OrderResult{}, err
	}

	mid, err := c.MarkPrice(ctx, asset)
	if err != nil {
		return domain.OrderResult{}, err
	}

	isBuy := size.IsPositive()
	limitPx := mid.Mul(decimal.New(1, 0).Sub(slippage))
	if isBuy {
		limitPx = mid.Mul(decimal.New(1, 0).Add(slippage))
	}
	limitPx = roundToSigFigs(limitPx, pxSigFigs)

	sz := size.Abs().Round(int32(szDecimals))
	if sz.IsZero() {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: order size %s for %s rounds to zero", size, asset)
	}

	action := exchangeAction{
		Type:     "order",
		Grouping: "na",
		Orders: []wireOrder{{
			Asset:      index,
			IsBuy:      isBuy,
			Price:      limitPx.String(),
			Size:       sz.String(),
			ReduceOnly: reduceOnly,
			Type:       wireOrderType{Limit: &wireLimit{TIF: "Ioc"}},
		}},
	}

	resp, err := c.postExchange(ctx, action, subAccount)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("hyperliquid: place order for %s: %w", asset, err)
	}

	result := domain.OrderResult{Asset: asset, FilledSize: sz, AvgPrice: limitPx, PlacedAt: time.Now()}
	for _, status := range resp.Response.Data.Statuses {
		if status.Filled != nil {
			result.FilledSize = parseDec(status.Filled.TotalSz)
			result.AvgPrice = parseDec(status.Filled.AvgPx)
			result.OrderID = fmt.Sprintf("%d", status.Filled.Oid)
		}
	}
	return result, nil
}

// ClosePosition fully closes the asset's open position with a reduce-only
// market order. Closing an asset with no open position is a no-op.
func (c *Client) ClosePosition(ctx context.Context, subAccount, asset string) error {
	pos, ok, err := c.Position(ctx, subAccount, asset)
	if err != nil {
		return err
	}
	if !ok || pos.Size.IsZero() {
		c.logger.Warn("no open position to close", slog.String("asset", asset))
		return nil
	}
	if _, err := c.PlaceMarketOrder(ctx, subAccount, asset, pos.Size.Neg(), true); err != nil {
		return fmt.Errorf("hyperliquid: close %s: %w", asset, err)
	}
	return nil
}

// UpdateLeverage sets cross leverage for an asset.
func (c *Client) UpdateLeverage(ctx context.Context, subAccount, asset string, leverage int) error {
	index, _, err := c.market(ctx, asset)
	if err != nil {
		return err
	}
	isCross := true
	action := exchangeAction{
		Type:     "updateLeverage",
		Asset:    &index,
		IsCross:  &isCross,
		Leverage: &leverage,
	}
	if _, err := c.postExchange(ctx, action, subAccount); err != nil {
		return fmt.Errorf("hyperliquid: update leverage for %s: %w", asset, err)
	}
	return nil
}

// SubAccounts lists the sub-accounts under the main account.
func (c *Client) SubAccounts(ctx context.Context) ([]domain.SubAccount, error) {
	var raw []apiSubAccount
	req := infoRequest{Type: "subAccounts", User: c.mainAddress}
	if err := c.postInfo(ctx, req, &raw); err != nil {
		return nil, fmt.Errorf("hyperliquid: sub-accounts: %w", err)
	}
	subs := make([]domain.SubAccount, 0, len(raw))
	for _, s := range raw {
		subs = append(subs, domain.SubAccount{
			Name:         s.Name,
			Address:      s.SubAccountUser,
			AccountValue: parseDec(s.ClearinghouseState.MarginSummary.AccountValue),
		})
	}
	return subs, nil
}

// CreateSubAccount creates a named sub-account and returns it. The exchange
// response does not echo the new address, so the sub-account list is
// re-fetched to resolve it.
func (c *Client) CreateSubAccount(ctx context.Context, name string) (domain.SubAccount, error) {
	action := exchangeAction{Type: "createSubAccount", Name: name}
	if _, err := c.postExchange(ctx, action, ""); err != nil {
		return domain.SubAccount{}, fmt.Errorf("hyperliquid: create sub-account: %w", err)
	}

	subs, err := c.SubAccounts(ctx)
	if err != nil {
		return domain.SubAccount{}, err
	}
	for _, sub := range subs {
		if sub.Name == name {
			return sub, nil
		}
	}
	return domain.SubAccount{}, fmt.Errorf("hyperliquid: created sub-account %q not listed: %w", name, domain.ErrNotFound)
}

// Transfer moves USDC between the main account and a sub-account.
func (c *Client) Transfer(ctx context.Context, subAccount string, amountUSD decimal.Decimal, deposit bool) error {
	if !amountUSD.IsPositive() {
		return fmt.Errorf("hyperliquid: transfer amount %s must be positive", amountUSD)
	}
	action := exchangeAction{
		Type:           "subAccountTransfer",
		SubAccountUser: subAccount,
		IsDeposit:      &deposit,
		USD:            amountUSD.Round(2).String(),
	}
	if _, err := c.postExchange(ctx, action, ""); err != nil {
		return fmt.Errorf("hyperliquid: sub-account transfer: %w", err)
	}
	return nil
}

// FillsSince returns the account's fills at or after the given time.
func (c *Client) FillsSince(ctx context.Context, subAccount string, since time.Time) ([]domain.Fill, error) {
	var raw []apiFill
	req := infoRequest{
		Type:      "userFillsByTime",
		User:      c.address(subAccount),
		StartTime: since.UnixMilli(),
	}
	if err := c.postInfo(ctx, req, &raw); err != nil {
		return nil, fmt.Errorf("hyperliquid: user fills: %w", err)
	}

	fills := make([]domain.Fill, 0, len(raw))
	for _, f := range raw {
		fill := domain.Fill{
			Asset: f.Coin,
			Size:  parseDec(f.Sz),
			Price: parseDec(f.Px),
			Time:  time.UnixMilli(f.Time),
		}
		if f.ClosedPnl != "" {
			pnl := parseDec(f.ClosedPnl)
			fill.ClosedPnL = &pnl
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// market returns the asset index and size precision for one asset, loading
// the metadata cache on first use.
func (c *Client) market(ctx context.Context, asset string) (int, int, error) {
	c.mu.RLock()
	if c.assetIndex != nil {
		index, okIdx := c.assetIndex[asset]
		szDecimals, okSz := c.szDecimals[asset]
		c.mu.RUnlock()
		if okIdx && okSz {
			return index, szDecimals, nil
		}
		return 0, 0, fmt.Errorf("hyperliquid: unknown market %s: %w", asset, domain.ErrNotFound)
	}
	c.mu.RUnlock()

	var meta metaResponse
	if err := c.postInfo(ctx, infoRequest{Type: "meta"}, &meta); err != nil {
		return 0, 0, fmt.Errorf("hyperliquid: load meta: %w", err)
	}

	c.mu.Lock()
	c.assetIndex = make(map[string]int, len(meta.Universe))
	c.szDecimals = make(map[string]int, len(meta.Universe))
	for i, m := range meta.Universe {
		c.assetIndex[m.Name] = i
		c.szDecimals[m.Name] = m.SzDecimals
	}
	index, okIdx := c.assetIndex[asset]
	szDecimals := c.szDecimals[asset]
	c.mu.Unlock()

	if !okIdx {
		return 0, 0, fmt.Errorf("hyperliquid: unknown market %s: %w", asset, domain.ErrNotFound)
	}
	return index, szDecimals, nil
}

// postInfo posts a query to the info endpoint and decodes the response.
func (c *Client) postInfo(ctx context.Context, req infoRequest, out any) error {
	body, err := c.post(ctx, "/info", req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode info response: %w", err)
	}
	return nil
}

// postExchange signs and posts an action to the exchange endpoint. The outer
// response can report "ok" while individual order statuses carry errors, so
// every nested status is checked and any error fails the call.
func (c *Client) postExchange(ctx context.Context, action exchangeAction, vaultAddress string) (exchangeResponse, error) {
	nonce := time.Now().UnixMilli()
	sig, err := c.signer.SignAction(action, nonce, vaultAddress)
	if err != nil {
		return exchangeResponse{}, err
	}

	req := exchangeRequest{
		Action:       action,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: vaultAddress,
	}
	body, err := c.post(ctx, "/exchange", req)
	if err != nil {
		return exchangeResponse{}, err
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchangeResponse{}, fmt.Errorf("decode exchange response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("exchange action %s failed: %s", action.Type, string(body))
	}
	for _, status := range resp.Response.Data.Statuses {
		if status.Error != "" {
			return resp, fmt.Errorf("%w: %s", domain.ErrOrderRejected, status.Error)
		}
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, "hyperliquid"+path, c.limiterLimit, c.limiterWindow)
		if err != nil {
			c.logger.WarnContext(ctx, "rate limiter unavailable, proceeding",
				slog.String("error", err.Error()))
		} else if !allowed {
			return nil, fmt.Errorf("throttled %s: %w", path, domain.ErrRateLimited)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, string(body))
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
}

func normalizeAccountState(address string, state userState) domain.AccountState {
	out := domain.AccountState{
		Address:         address,
		AccountValue:    parseDec(state.MarginSummary.AccountValue),
		TotalMarginUsed: parseDec(state.MarginSummary.TotalMarginUsed),
		Withdrawable:    parseDec(state.Withdrawable),
	}
	for _, ap := range state.AssetPositions {
		pos := domain.PerpPosition{
			Asset:         ap.Position.Coin,
			Size:          parseDec(ap.Position.Szi),
			EntryPrice:    parseDec(ap.Position.EntryPx),
			UnrealizedPnL: parseDec(ap.Position.UnrealizedPnl),
			Leverage:      ap.Position.Leverage.Value,
			MarginUsed:    parseDec(ap.Position.MarginUsed),
		}
		if ap.Position.LiquidationPx != "" {
			px := parseDec(ap.Position.LiquidationPx)
			pos.LiquidationPrice = &px
		}
		out.Positions = append(out.Positions, pos)
	}
	return out
}

// parseDec parses an API decimal string, treating empty or malformed input
// as zero. The API uses strings for all numerics to avoid precision loss.
func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// roundToSigFigs rounds a decimal to the given number of significant
// figures.
func roundToSigFigs(d decimal.Decimal, figs int32) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	msd := int32(d.NumDigits()) + d.Exponent()
	return d.Round(figs - msd)
}
