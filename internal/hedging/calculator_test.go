package hedging

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpquant/hedgebot/internal/domain"
)

func testConfig() Config {
	return Config{
		Ratio:     decimal.RequireFromString("0.5"),
		Threshold: decimal.RequireFromString("0.05"),
		Mappings:  DefaultMappings(),
		Leverage:  3,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTargetsSkipsStablecoins(t *testing.T) {
	calc := NewCalculator(testConfig())
	pos := domain.Position{
		Asset0: "WETH", Asset1: "USDC",
		Asset0Amount: dec("10"), Asset1Amount: dec("20000"),
	}

	targets := calc.Targets(pos)
	require.Len(t, targets, 1)
	assert.Equal(t, "ETH", targets[0].Asset)
	assert.True(t, targets[0].TargetSize.Equal(dec("-5")), "got %s", targets[0].TargetSize)
	assert.Equal(t, []string{"WETH"}, targets[0].SourceTokens)
}

func TestTargetsCombinesSameExchangeSymbol(t *testing.T) {
	calc := NewCalculator(testConfig())
	pos := domain.Position{
		Asset0: "ETH", Asset1: "WETH",
		Asset0Amount: dec("4"), Asset1Amount: dec("6"),
	}

	targets := calc.Targets(pos)
	require.Len(t, targets, 1)
	assert.Equal(t, "ETH", targets[0].Asset)
	assert.True(t, targets[0].TargetSize.Equal(dec("-5")), "got %s", targets[0].TargetSize)
	assert.True(t, targets[0].SourceAmount.Equal(dec("10")))
	assert.Equal(t, []string{"ETH", "WETH"}, targets[0].SourceTokens)

	// Token ordering must not change the combined target.
	swapped := domain.Position{
		Asset0: "WETH", Asset1: "ETH",
		Asset0Amount: dec("6"), Asset1Amount: dec("4"),
	}
	targets2 := calc.Targets(swapped)
	require.Len(t, targets2, 1)
	assert.True(t, targets2[0].TargetSize.Equal(targets[0].TargetSize))
}

func TestAdjustmentsOrdering(t *testing.T) {
	calc := NewCalculator(testConfig())
	pos := domain.Position{
		Asset0: "WETH", Asset1: "WBTC",
		Asset0Amount: dec("10"), Asset1Amount: dec("1"),
	}
	current := map[string]decimal.Decimal{
		"ETH": dec("-4"),
		"SOL": dec("-2"), // no longer in targets, must be closed last
	}

	adjustments := calc.Adjustments(pos, current)
	require.Len(t, adjustments, 3)

	assert.Equal(t, "ETH", adjustments[0].Asset)
	assert.True(t, adjustments[0].Delta.Equal(dec("-1")), "got %s", adjustments[0].Delta)
	assert.False(t, adjustments[0].Close)

	assert.Equal(t, "BTC", adjustments[1].Asset)
	assert.True(t, adjustments[1].TargetSize.Equal(dec("-0.5")))

	assert.Equal(t, "SOL", adjustments[2].Asset)
	assert.True(t, adjustments[2].Close)
	assert.True(t, adjustments[2].TargetSize.IsZero())
	assert.True(t, adjustments[2].Delta.Equal(dec("2")), "close delta should unwind the position, got %s", adjustments[2].Delta)
}

func TestNotionalValue(t *testing.T) {
	calc := NewCalculator(testConfig())
	pos := domain.Position{
		Asset0: "WETH", Asset1: "USDC",
		Asset0Amount: dec("10"), Asset1Amount: dec("20000"),
	}
	prices := map[string]decimal.Decimal{"ETH": dec("2000")}

	// |-5| * 2000
	total := calc.NotionalValue(pos, prices)
	assert.True(t, total.Equal(dec("10000")), "got %s", total)
}

func TestNotionalValueMissingPrice(t *testing.T) {
	calc := NewCalculator(testConfig())
	pos := domain.Position{
		Asset0: "WETH", Asset1: "USDC",
		Asset0Amount: dec("10"), Asset1Amount: dec("0"),
	}

	total := calc.NotionalValue(pos, nil)
	assert.True(t, total.IsZero())
}
