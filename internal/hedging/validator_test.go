package hedging

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpquant/hedgebot/internal/domain"
)

func TestValidateTradeSizeBoundary(t *testing.T) {
	v := NewValidator()
	prices := map[string]decimal.Decimal{"ETH": dec("1")}

	atCeiling := domain.Adjustment{Asset: "ETH", Delta: dec("100000")}
	assert.NoError(t, v.ValidateAdjustment(atCeiling, prices))

	overCeiling := domain.Adjustment{Asset: "ETH", Delta: dec("100000.01")}
	err := v.ValidateAdjustment(overCeiling, prices)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeTradeTooLarge, verr.Code)
	assert.Equal(t, "ETH", verr.Asset)
}

func TestValidateMissingAsset(t *testing.T) {
	v := NewValidator()
	err := v.ValidateAdjustment(domain.Adjustment{Delta: dec("1")}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeMissingAsset, verr.Code)
}

func TestValidateExcessiveDrift(t *testing.T) {
	v := NewValidator()

	// Delta wildly inconsistent with the sizes signals corrupt input.
	corrupt := domain.Adjustment{
		Asset:       "ETH",
		CurrentSize: dec("-1"),
		TargetSize:  dec("-10"),
		Delta:       dec("-100"),
	}
	err := v.ValidateAdjustment(corrupt, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeExcessiveDrift, verr.Code)

	// Zero current or target is exempt: new positions and closes always have
	// drift 1 by the analyzer's definition and are legitimate.
	open := domain.Adjustment{Asset: "ETH", TargetSize: dec("-10"), Delta: dec("-10")}
	assert.NoError(t, v.ValidateAdjustment(open, nil))
}

func TestValidateBatchTotal(t *testing.T) {
	v := NewValidator()
	prices := map[string]decimal.Decimal{"ETH": dec("1"), "BTC": dec("1"), "SOL": dec("1")}

	within := []domain.Adjustment{
		{Asset: "ETH", Delta: dec("100000")},
		{Asset: "BTC", Delta: dec("100000")},
	}
	assert.NoError(t, v.ValidateAdjustments(within, prices))

	// Each trade clears the single-trade ceiling on its own; only the batch
	// total is over.
	over := []domain.Adjustment{
		{Asset: "ETH", Delta: dec("70000")},
		{Asset: "BTC", Delta: dec("70000")},
		{Asset: "SOL", Delta: dec("70000")},
	}
	err := v.ValidateAdjustments(over, prices)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeTotalTooLarge, verr.Code)
}

func TestShouldSkip(t *testing.T) {
	v := NewValidator()
	assert.True(t, v.ShouldSkip(dec("9.99")))
	assert.False(t, v.ShouldSkip(dec("10")))
}

func TestWarnings(t *testing.T) {
	v := NewValidator()
	prices := map[string]decimal.Decimal{"ETH": dec("2000"), "BTC": dec("60000")}

	adjustments := []domain.Adjustment{
		{Asset: "ETH", CurrentSize: dec("-10"), TargetSize: dec("-40"), Delta: dec("-30")}, // $60k
		{Asset: "BTC", CurrentSize: dec("0"), TargetSize: dec("-0.1"), Delta: dec("-0.1")},
	}

	warnings := v.Warnings(adjustments, prices)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "large trade: ETH")
	assert.Contains(t, warnings[1], "new position: BTC")
}
