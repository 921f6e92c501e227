package hedging

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

// ValidationCode is the machine-readable reason a validation failed.
type ValidationCode string

const (
	CodeMissingAsset   ValidationCode = "missing_asset"
	CodeTradeTooLarge  ValidationCode = "trade_too_large"
	CodeExcessiveDrift ValidationCode = "excessive_drift"
	CodeTotalTooLarge  ValidationCode = "total_too_large"
)

// ValidationError is a pre-trade guardrail rejection. Validation failures
// are never retried automatically.
type ValidationError struct {
	Code    ValidationCode
	Asset   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("hedging: validation %s: %s", e.Code, e.Message)
}

var (
	// maxTradeUSD is the ceiling for one adjustment's USD notional.
	maxTradeUSD = decimal.New(100_000, 0)
	// maxBatchUSD is the ceiling for a whole batch's summed notional.
	maxBatchUSD = maxTradeUSD.Mul(decimal.New(2, 0))
	// maxSaneDrift flags adjustments whose drift ratio looks like stale or
	// corrupt input data rather than genuine market movement.
	maxSaneDrift = decimal.New(5, 0)
	// minHedgeUSD is the floor below which a hedge is not worth executing.
	minHedgeUSD = decimal.New(10, 0)
	// largeTradeUSD triggers an operator warning without blocking.
	largeTradeUSD = maxTradeUSD.Mul(decimal.RequireFromString("0.5"))
)

// Validator is the stateless pre-trade guardrail layer, applied immediately
// before execution and independent of the calculator's own judgment.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAdjustments checks every adjustment and then the batch total,
// returning the first violation found as a *ValidationError.
func (v *Validator) ValidateAdjustments(adjustments []domain.Adjustment, prices map[string]decimal.Decimal) error {
	for _, adj := range adjustments {
		if err := v.ValidateAdjustment(adj, prices); err != nil {
			return err
		}
	}
	return v.validateTotal(adjustments, prices)
}

// ValidateAdjustment checks one adjustment for a missing asset symbol, an
// oversized trade, and implausible drift.
func (v *Validator) ValidateAdjustment(adj domain.Adjustment, prices map[string]decimal.Decimal) error {
	if adj.Asset == "" {
		return &ValidationError{
			Code:    CodeMissingAsset,
			Message: "asset symbol is required",
		}
	}

	if price := prices[adj.Asset]; price.IsPositive() {
		value := adj.Delta.Abs().Mul(price)
		if value.GreaterThan(maxTradeUSD) {
			return &ValidationError{
				Code:    CodeTradeTooLarge,
				Asset:   adj.Asset,
				Message: fmt.Sprintf("trade size $%s for %s exceeds maximum $%s", value.Round(2), adj.Asset, maxTradeUSD),
			}
		}
	}

	return v.validateDrift(adj)
}

// validateDrift rejects adjustments whose drift ratio against the larger of
// current and target sizes exceeds the sanity multiple. This denominator
// deliberately differs from the analyzer's drift (which divides by target
// only): the analyzer decides whether to act, this check decides whether the
// size of the action is sane at all.
func (v *Validator) validateDrift(adj domain.Adjustment) error {
	current := adj.CurrentSize.Abs()
	target := adj.TargetSize.Abs()
	if current.IsZero() || target.IsZero() {
		return nil
	}

	denom := current
	if target.GreaterThan(denom) {
		denom = target
	}
	drift := adj.Delta.Abs().DivRound(denom, 16)
	if drift.LessThanOrEqual(maxSaneDrift) {
		return nil
	}
	return &ValidationError{
		Code:    CodeExcessiveDrift,
		Asset:   adj.Asset,
		Message: fmt.Sprintf("drift of %s for %s is suspiciously large", formatPercent(drift), adj.Asset),
	}
}

func (v *Validator) validateTotal(adjustments []domain.Adjustment, prices map[string]decimal.Decimal) error {
	total := decimal.Zero
	for _, adj := range adjustments {
		total = total.Add(adj.Delta.Abs().Mul(prices[adj.Asset]))
	}
	if total.LessThanOrEqual(maxBatchUSD) {
		return nil
	}
	return &ValidationError{
		Code:    CodeTotalTooLarge,
		Message: fmt.Sprintf("total trade value $%s exceeds safety limits", total.Round(2)),
	}
}

// ShouldSkip reports whether a hedge notional is too small to bother
// executing. Unlike the validators this never blocks anything by error.
func (v *Validator) ShouldSkip(valueUSD decimal.Decimal) bool {
	return valueUSD.LessThan(minHedgeUSD)
}

// Warnings returns operator-visible notes for adjustments that are notable
// but valid: large trades and brand-new position openings.
func (v *Validator) Warnings(adjustments []domain.Adjustment, prices map[string]decimal.Decimal) []string {
	var warnings []string
	for _, adj := range adjustments {
		value := adj.Delta.Abs().Mul(prices[adj.Asset])
		if value.GreaterThan(largeTradeUSD) {
			warnings = append(warnings, fmt.Sprintf("large trade: %s ~$%s", adj.Asset, value.Round(0)))
		}
		if adj.CurrentSize.IsZero() && !adj.TargetSize.IsZero() {
			warnings = append(warnings, fmt.Sprintf("new position: %s", adj.Asset))
		}
	}
	return warnings
}
