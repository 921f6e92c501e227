package hedging

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

// Analysis is the outcome of a drift check for one position.
type Analysis struct {
	NeedsRebalance bool
	// Drift is the maximum per-asset drift ratio observed.
	Drift       decimal.Decimal
	Adjustments []domain.Adjustment
	Reason      string
}

// Analyzer wraps the calculator to produce a single needs-rebalance decision
// per position, used both by the scheduler and by dashboards.
type Analyzer struct {
	calc      *Calculator
	threshold decimal.Decimal
}

// NewAnalyzer creates an Analyzer using the calculator's configured drift
// threshold.
func NewAnalyzer(calc *Calculator) *Analyzer {
	return &Analyzer{calc: calc, threshold: calc.cfg.Threshold}
}

// Analyze computes the position's adjustments and compares the maximum
// per-asset drift against the threshold. The reason string always states
// both the observed drift and the threshold.
func (a *Analyzer) Analyze(pos domain.Position, current map[string]decimal.Decimal) Analysis {
	adjustments := a.calc.Adjustments(pos, current)
	if len(adjustments) == 0 {
		return Analysis{Reason: "no hedgeable assets"}
	}

	drift := maxDrift(adjustments)
	if drift.GreaterThanOrEqual(a.threshold) {
		return Analysis{
			NeedsRebalance: true,
			Drift:          drift,
			Adjustments:    adjustments,
			Reason:         fmt.Sprintf("drift %s exceeds threshold %s", formatPercent(drift), formatPercent(a.threshold)),
		}
	}
	return Analysis{
		Drift:       drift,
		Adjustments: adjustments,
		Reason:      fmt.Sprintf("drift %s within threshold %s", formatPercent(drift), formatPercent(a.threshold)),
	}
}

// AnyExceedsThreshold reports whether at least one position needs rebalancing.
func (a *Analyzer) AnyExceedsThreshold(positions []domain.Position, current map[string]map[string]decimal.Decimal) bool {
	for _, pos := range positions {
		if a.Analyze(pos, current[pos.ID]).NeedsRebalance {
			return true
		}
	}
	return false
}

// maxDrift returns the largest drift ratio across the adjustments. Drift for
// one asset is |delta| / |target|; it is defined as 1 when exactly one of
// current and target is zero (new position, or full close) and 0 when both
// are zero.
func maxDrift(adjustments []domain.Adjustment) decimal.Decimal {
	max := decimal.Zero
	for _, adj := range adjustments {
		d := driftFor(adj)
		if d.GreaterThan(max) {
			max = d
		}
	}
	return max
}

func driftFor(adj domain.Adjustment) decimal.Decimal {
	current := adj.CurrentSize.Abs()
	target := adj.TargetSize.Abs()

	switch {
	case current.IsZero() && target.IsZero():
		return decimal.Zero
	case current.IsZero() || target.IsZero():
		return decimal.New(1, 0)
	default:
		return adj.Delta.Abs().DivRound(target, 16)
	}
}

func formatPercent(v decimal.Decimal) string {
	return v.Mul(decimal.New(100, 0)).Round(2).String() + "%"
}
