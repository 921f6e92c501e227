package hedging

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

// Calculator computes target short sizes and the adjustments needed to reach
// them from a position's current pool holdings.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator for the given hedge configuration.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Targets returns the target short per exchange asset, asset0's mapping
// first. Target sizes are negative (short) and scaled by the configured
// ratio. When both pool tokens map to the same exchange symbol their targets
// and source amounts are summed, because a single exchange position cannot
// be split between them.
func (c *Calculator) Targets(pos domain.Position) []domain.TargetShort {
	var targets []domain.TargetShort
	index := make(map[string]int)

	for slot := 0; slot < 2; slot++ {
		token, amount := pos.AssetAt(slot)
		if !c.cfg.ShouldHedge(token) {
			continue
		}
		asset := c.cfg.MapSymbol(token)
		size := amount.Mul(c.cfg.Ratio).Neg()

		if i, ok := index[asset]; ok {
			targets[i].TargetSize = targets[i].TargetSize.Add(size)
			targets[i].SourceTokens = append(targets[i].SourceTokens, token)
			targets[i].SourceAmount = targets[i].SourceAmount.Add(amount)
			continue
		}
		index[asset] = len(targets)
		targets = append(targets, domain.TargetShort{
			Asset:        asset,
			TargetSize:   size,
			SourceTokens: []string{token},
			SourceAmount: amount,
		})
	}
	return targets
}

// Adjustments diffs current per-asset hedge sizes against the targets.
// Regular target adjustments come first in target order; assets currently
// held but absent from the targets are appended last as close adjustments,
// so consumers always process closes after opens. Current sizes are signed
// (shorts negative).
func (c *Calculator) Adjustments(pos domain.Position, current map[string]decimal.Decimal) []domain.Adjustment {
	targets := c.Targets(pos)
	adjustments := make([]domain.Adjustment, 0, len(targets))
	targeted := make(map[string]bool, len(targets))

	for _, target := range targets {
		targeted[target.Asset] = true
		cur := current[target.Asset]
		adjustments = append(adjustments, domain.Adjustment{
			Asset:        target.Asset,
			CurrentSize:  cur,
			TargetSize:   target.TargetSize,
			Delta:        target.TargetSize.Sub(cur),
			SourceTokens: target.SourceTokens,
			SourceAmount: target.SourceAmount,
		})
	}

	orphans := make([]string, 0)
	for asset := range current {
		if !targeted[asset] {
			orphans = append(orphans, asset)
		}
	}
	sort.Strings(orphans)
	for _, asset := range orphans {
		cur := current[asset]
		adjustments = append(adjustments, domain.Adjustment{
			Asset:       asset,
			CurrentSize: cur,
			TargetSize:  decimal.Zero,
			Delta:       cur.Neg(),
			Close:       true,
		})
	}
	return adjustments
}

// NotionalValue returns the total USD notional of the position's targets at
// the given prices. Assets without a price contribute nothing.
func (c *Calculator) NotionalValue(pos domain.Position, prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, target := range c.Targets(pos) {
		total = total.Add(target.TargetSize.Abs().Mul(prices[target.Asset]))
	}
	return total
}
