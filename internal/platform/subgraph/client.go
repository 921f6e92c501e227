// Package subgraph is a GraphQL client for the Uniswap v3 subgraph on The
// Graph, used to read LP positions and pool state.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

// Token is a pool token with subgraph-derived USD pricing.
type Token struct {
	Address    string
	Symbol     string
	Name       string
	Decimals   int
	DerivedETH decimal.Decimal
	PriceUSD   decimal.Decimal
}

// PoolState is the position-embedded view of a pool.
type PoolState struct {
	Address     string
	Tick        int
	SqrtPrice   string
	Token0Price decimal.Decimal
	Token1Price decimal.Decimal
	FeeTier     int
	Liquidity   string
}

// PoolData is the standalone pool query result with volume, TVL and token
// pricing resolved against the ETH/USD bundle.
type PoolData struct {
	PoolState
	VolumeUSD   decimal.Decimal
	TVLUSD      decimal.Decimal
	Token0      Token
	Token1      Token
	ETHPriceUSD decimal.Decimal
}

// LPPosition is a normalized Uniswap v3 position.
type LPPosition struct {
	NFTID     string
	Owner     string
	Liquidity string // raw uint256, passed through for liquidity math
	TickLower int
	TickUpper int

	Deposited0     decimal.Decimal
	Deposited1     decimal.Decimal
	Withdrawn0     decimal.Decimal
	Withdrawn1     decimal.Decimal
	CollectedFees0 decimal.Decimal
	CollectedFees1 decimal.Decimal

	Pool   PoolState
	Token0 Token
	Token1 Token
}

// Client is a GraphQL client for a Uniswap v3 subgraph endpoint.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a subgraph client.
//
// graphqlURL is a The Graph gateway endpoint, e.g.
// "https://gateway.thegraph.com/api/subgraphs/id/5zvR82...".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const positionFields = `
	id
	owner
	liquidity
	depositedToken0
	depositedToken1
	withdrawnToken0
	withdrawnToken1
	collectedFeesToken0
	collectedFeesToken1
	tickLower {
		tickIdx
	}
	tickUpper {
		tickIdx
	}
	pool {
		id
		tick
		sqrtPrice
		token0Price
		token1Price
		feeTier
		liquidity
	}
	token0 {
		id
		symbol
		name
		decimals
	}
	token1 {
		id
		symbol
		name
		decimals
	}
`

// apiPosition mirrors one position object in a subgraph response.
type apiPosition struct {
	ID                  string `json:"id"`
	Owner               string `json:"owner"`
	Liquidity           string `json:"liquidity"`
	DepositedToken0     string `json:"depositedToken0"`
	DepositedToken1     string `json:"depositedToken1"`
	WithdrawnToken0     string `json:"withdrawnToken0"`
	WithdrawnToken1     string `json:"withdrawnToken1"`
	CollectedFeesToken0 string `json:"collectedFeesToken0"`
	CollectedFeesToken1 string `json:"collectedFeesToken1"`
	TickLower           struct {
		TickIdx string `json:"tickIdx"`
	} `json:"tickLower"`
	TickUpper struct {
		TickIdx string `json:"tickIdx"`
	} `json:"tickUpper"`
	Pool   apiPool  `json:"pool"`
	Token0 apiToken `json:"token0"`
	Token1 apiToken `json:"token1"`
}

type apiPool struct {
	ID                  string   `json:"id"`
	Tick                string   `json:"tick"`
	SqrtPrice           string   `json:"sqrtPrice"`
	Token0Price         string   `json:"token0Price"`
	Token1Price         string   `json:"token1Price"`
	FeeTier             string   `json:"feeTier"`
	Liquidity           string   `json:"liquidity"`
	VolumeUSD           string   `json:"volumeUSD"`
	TotalValueLockedUSD string   `json:"totalValueLockedUSD"`
	Token0              apiToken `json:"token0"`
	Token1              apiToken `json:"token1"`
}

type apiToken struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Decimals   string `json:"decimals"`
	DerivedETH string `json:"derivedETH"`
}

// Position fetches a single position by its NFT token id. A missing position
// wraps domain.ErrNotFound so callers can distinguish a withdrawn position
// from a transient failure.
func (c *Client) Position(ctx context.Context, nftID string) (LPPosition, error) {
	query := fmt.Sprintf(`
		query getPosition($id: ID!) {
			position(id: $id) {%s}
		}
	`, positionFields)

	respData, err := c.doQuery(ctx, query, map[string]any{"id": nftID})
	if err != nil {
		return LPPosition{}, fmt.Errorf("subgraph: fetch position %s: %w", nftID, err)
	}

	var result struct {
		Position *apiPosition `json:"position"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return LPPosition{}, fmt.Errorf("subgraph: decode position: %w", err)
	}
	if result.Position == nil {
		return LPPosition{}, fmt.Errorf("subgraph: position %s: %w", nftID, domain.ErrNotFound)
	}
	return normalizePosition(*result.Position), nil
}

// PositionsByOwner fetches all active positions (liquidity > 0) for a wallet
// address.
func (c *Client) PositionsByOwner(ctx context.Context, owner string, first int) ([]LPPosition, error) {
	query := fmt.Sprintf(`
		query getPositionsByOwner($owner: String!, $first: Int!) {
			positions(
				where: { owner: $owner, liquidity_gt: "0" }
				first: $first
				orderBy: id
				orderDirection: desc
			) {%s}
		}
	`, positionFields)

	variables := map[string]any{
		"owner": strings.ToLower(owner),
		"first": first,
	}
	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch positions for %s: %w", owner, err)
	}

	var result struct {
		Positions []apiPosition `json:"positions"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode positions: %w", err)
	}

	positions := make([]LPPosition, 0, len(result.Positions))
	for _, p := range result.Positions {
		positions = append(positions, normalizePosition(p))
	}
	return positions, nil
}

// Pool fetches pool-level state with token pricing resolved against the
// ETH/USD bundle.
func (c *Client) Pool(ctx context.Context, poolAddress string) (PoolData, error) {
	query := `
		query getPool($id: ID!) {
			pool(id: $id) {
				id
				tick
				sqrtPrice
				token0Price
				token1Price
				feeTier
				liquidity
				volumeUSD
				totalValueLockedUSD
				token0 {
					id
					symbol
					name
					decimals
					derivedETH
				}
				token1 {
					id
					symbol
					name
					decimals
					derivedETH
				}
			}
			bundle(id: "1") {
				ethPriceUSD
			}
		}
	`

	variables := map[string]any{"id": strings.ToLower(poolAddress)}
	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return PoolData{}, fmt.Errorf("subgraph: fetch pool %s: %w", poolAddress, err)
	}

	var result struct {
		Pool   *apiPool `json:"pool"`
		Bundle *struct {
			ETHPriceUSD string `json:"ethPriceUSD"`
		} `json:"bundle"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return PoolData{}, fmt.Errorf("subgraph: decode pool: %w", err)
	}
	if result.Pool == nil {
		return PoolData{}, fmt.Errorf("subgraph: pool %s: %w", poolAddress, domain.ErrNotFound)
	}

	ethPriceUSD := decimal.Zero
	if result.Bundle != nil {
		ethPriceUSD = parseDec(result.Bundle.ETHPriceUSD)
	}

	pool := PoolData{
		PoolState:   normalizePool(*result.Pool),
		VolumeUSD:   parseDec(result.Pool.VolumeUSD),
		TVLUSD:      parseDec(result.Pool.TotalValueLockedUSD),
		Token0:      normalizeToken(result.Pool.Token0, ethPriceUSD),
		Token1:      normalizeToken(result.Pool.Token1, ethPriceUSD),
		ETHPriceUSD: ethPriceUSD,
	}
	return pool, nil
}

// LatestBlock returns the latest block indexed by the subgraph, used to
// monitor indexing lag.
func (c *Client) LatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("subgraph: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("subgraph: decode latest block: %w", err)
	}
	return result.Meta.Block.Number, nil
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}

func normalizePosition(p apiPosition) LPPosition {
	return LPPosition{
		NFTID:          p.ID,
		Owner:          p.Owner,
		Liquidity:      p.Liquidity,
		TickLower:      parseInt(p.TickLower.TickIdx),
		TickUpper:      parseInt(p.TickUpper.TickIdx),
		Deposited0:     parseDec(p.DepositedToken0),
		Deposited1:     parseDec(p.DepositedToken1),
		Withdrawn0:     parseDec(p.WithdrawnToken0),
		Withdrawn1:     parseDec(p.WithdrawnToken1),
		CollectedFees0: parseDec(p.CollectedFeesToken0),
		CollectedFees1: parseDec(p.CollectedFeesToken1),
		Pool:           normalizePool(p.Pool),
		Token0:         normalizeToken(p.Token0, decimal.Zero),
		Token1:         normalizeToken(p.Token1, decimal.Zero),
	}
}

func normalizePool(p apiPool) PoolState {
	return PoolState{
		Address:     p.ID,
		Tick:        parseInt(p.Tick),
		SqrtPrice:   p.SqrtPrice,
		Token0Price: parseDec(p.Token0Price),
		Token1Price: parseDec(p.Token1Price),
		FeeTier:     parseInt(p.FeeTier),
		Liquidity:   p.Liquidity,
	}
}

func normalizeToken(t apiToken, ethPriceUSD decimal.Decimal) Token {
	derived := parseDec(t.DerivedETH)
	return Token{
		Address:    t.ID,
		Symbol:     t.Symbol,
		Name:       t.Name,
		Decimals:   parseInt(t.Decimals),
		DerivedETH: derived,
		PriceUSD:   derived.Mul(ethPriceUSD),
	}
}

// parseDec parses a subgraph numeric string, treating empty or malformed
// input as zero.
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

func parseInt(s string) int {
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}
