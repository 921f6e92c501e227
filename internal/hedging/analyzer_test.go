package hedging

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lpquant/hedgebot/internal/domain"
)

func TestDriftForSpecialCases(t *testing.T) {
	tests := []struct {
		name    string
		current string
		target  string
		delta   string
		want    string
	}{
		{"both zero", "0", "0", "0", "0"},
		{"new position", "0", "-5", "-5", "1"},
		{"full close", "-5", "0", "5", "1"},
		{"relative drift", "-4", "-5", "-1", "0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adj := domain.Adjustment{
				Asset:       "ETH",
				CurrentSize: dec(tt.current),
				TargetSize:  dec(tt.target),
				Delta:       dec(tt.delta),
			}
			assert.True(t, driftFor(adj).Equal(dec(tt.want)), "got %s", driftFor(adj))
		})
	}
}

func TestAnalyzeFiresAtThreshold(t *testing.T) {
	analyzer := NewAnalyzer(NewCalculator(testConfig()))
	pos := domain.Position{
		Asset0: "WETH", Asset1: "USDC",
		Asset0Amount: dec("20"),
	}
	// Target -10; current -9.5 gives drift exactly 0.05, equal to threshold.
	result := analyzer.Analyze(pos, map[string]decimal.Decimal{"ETH": dec("-9.5")})

	assert.True(t, result.NeedsRebalance, "drift at the threshold must trigger")
	assert.True(t, result.Drift.Equal(dec("0.05")), "got %s", result.Drift)
	assert.Equal(t, "drift 5% exceeds threshold 5%", result.Reason)
}

func TestAnalyzeWithinThreshold(t *testing.T) {
	analyzer := NewAnalyzer(NewCalculator(testConfig()))
	pos := domain.Position{
		Asset0: "WETH", Asset1: "USDC",
		Asset0Amount: dec("20"),
	}
	result := analyzer.Analyze(pos, map[string]decimal.Decimal{"ETH": dec("-9.9")})

	assert.False(t, result.NeedsRebalance)
	assert.Contains(t, result.Reason, "within threshold")
	require.Len(t, result.Adjustments, 1)
}

func TestAnalyzeNoHedgeableAssets(t *testing.T) {
	analyzer := NewAnalyzer(NewCalculator(testConfig()))
	pos := domain.Position{Asset0: "USDC", Asset1: "DAI"}

	result := analyzer.Analyze(pos, nil)
	assert.False(t, result.NeedsRebalance)
	assert.Equal(t, "no hedgeable assets", result.Reason)
}

func TestAnalyzeUsesMaxDriftAcrossAssets(t *testing.T) {
	analyzer := NewAnalyzer(NewCalculator(testConfig()))
	pos := domain.Position{
		Asset0: "WETH", Asset1: "WBTC",
		Asset0Amount: dec("20"), Asset1Amount: dec("2"),
	}
	// ETH within tolerance, BTC has no position yet (drift 1).
	current := map[string]decimal.Decimal{"ETH": dec("-10")}

	result := analyzer.Analyze(pos, current)
	assert.True(t, result.NeedsRebalance)
	assert.True(t, result.Drift.Equal(dec("1")), "got %s", result.Drift)
}

func TestAnyExceedsThreshold(t *testing.T) {
	analyzer := NewAnalyzer(NewCalculator(testConfig()))

	balanced := domain.Position{ID: "p1", Asset0: "WETH", Asset1: "USDC", Asset0Amount: dec("20")}
	drifted := domain.Position{ID: "p2", Asset0: "WETH", Asset1: "USDC", Asset0Amount: dec("20")}

	current := map[string]map[string]decimal.Decimal{
		"p1": {"ETH": dec("-10")},
		"p2": {"ETH": dec("-5")},
	}
	assert.True(t, analyzer.AnyExceedsThreshold([]domain.Position{balanced, drifted}, current))
	assert.False(t, analyzer.AnyExceedsThreshold([]domain.Position{balanced}, current))
}
