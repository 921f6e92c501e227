package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNeedsRebalanceFiresAtExactTolerance(t *testing.T) {
	hedge := &Hedge{
		Target:    decimal.RequireFromString("0.5"),
		Tolerance: decimal.RequireFromString("0.05"),
	}
	pool := decimal.RequireFromString("10") // target short 5, band 0.25

	cases := []struct {
		name    string
		current string
		want    bool
	}{
		{"deviation exactly at the band", "4.75", true},
		{"deviation just inside the band", "4.76", false},
		{"on target", "5", false},
		{"deviation at the band from above", "5.25", true},
		{"over-shorted far past the band", "7", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := hedge.NeedsRebalance(pool, decimal.RequireFromString(tc.current))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNeedsRebalanceZeroTarget(t *testing.T) {
	hedge := &Hedge{
		Target:    decimal.RequireFromString("0.5"),
		Tolerance: decimal.RequireFromString("0.05"),
	}

	// Empty pool with no open short: nothing to do.
	assert.False(t, hedge.NeedsRebalance(decimal.Zero, decimal.Zero))

	// Empty pool with a leftover short: must close.
	assert.True(t, hedge.NeedsRebalance(decimal.Zero, decimal.RequireFromString("1")))
}
