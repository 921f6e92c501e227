// Package hedging contains the rebalancing decision and execution engine:
// target calculation, drift analysis, pre-trade safety validation, the
// circuit breaker, exchange account allocation, and the per-asset rebalance
// executor.
package hedging

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Config controls how pool holdings translate into exchange short targets.
type Config struct {
	// Ratio is the fraction of each pool amount to short, 0 < Ratio <= 1.
	Ratio decimal.Decimal
	// Threshold is the drift ratio at or above which the analyzer reports
	// that a position needs rebalancing.
	Threshold decimal.Decimal
	// Mappings translates pool token symbols to exchange symbols. An empty
	// value means the token is not hedged. Symbols absent from the map hedge
	// under their own name.
	Mappings map[string]string
	// Leverage is the cross leverage requested for every short.
	Leverage int
}

// DefaultMappings covers the common wrapped majors and leaves stablecoins
// unhedged.
func DefaultMappings() map[string]string {
	return map[string]string{
		"WETH": "ETH",
		"WBTC": "BTC",
		"USDC": "",
		"USDT": "",
		"DAI":  "",
		"FRAX": "",
	}
}

// MapSymbol returns the exchange symbol a pool token trades under, or ""
// when the token is not hedged.
func (c Config) MapSymbol(token string) string {
	if mapped, ok := c.Mappings[token]; ok {
		return mapped
	}
	return token
}

// ShouldHedge reports whether the pool token participates in hedging.
func (c Config) ShouldHedge(token string) bool {
	return token != "" && c.MapSymbol(token) != ""
}

// SymbolsFor returns every pool token symbol that trades under the given
// exchange asset, including the asset itself. Used when checking whether
// another hedge already claims an exchange account for an aliased token.
func (c Config) SymbolsFor(asset string) []string {
	symbols := []string{asset}
	for token, mapped := range c.Mappings {
		if mapped == asset && token != asset {
			symbols = append(symbols, token)
		}
	}
	sort.Strings(symbols)
	return symbols
}
