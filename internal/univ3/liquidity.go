package univ3

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts holds the token balances backing a concentrated-liquidity
// position, expressed in human units (decimal adjusted).
type Amounts struct {
	Token0 decimal.Decimal
	Token1 decimal.Decimal
}

// token0Amount returns the raw token0 amount for liquidity L between the
// given sqrt prices. Prices are plain sqrt prices, not X96.
//
// Below range the position is entirely token0; above range it holds none.
func token0Amount(liquidity, sqrtCurrent, sqrtLower, sqrtUpper decimal.Decimal) decimal.Decimal {
	switch {
	case sqrtCurrent.LessThanOrEqual(sqrtLower):
		// amount0 = L * (1/sqrt(pa) - 1/sqrt(pb))
		return liquidity.Mul(invert(sqrtLower).Sub(invert(sqrtUpper)))
	case sqrtCurrent.GreaterThanOrEqual(sqrtUpper):
		return decimal.Zero
	default:
		// amount0 = L * (1/sqrt(p) - 1/sqrt(pb))
		return liquidity.Mul(invert(sqrtCurrent).Sub(invert(sqrtUpper)))
	}
}

// token1Amount returns the raw token1 amount for liquidity L between the
// given sqrt prices.
//
// Above range the position is entirely token1; below range it holds none.
func token1Amount(liquidity, sqrtCurrent, sqrtLower, sqrtUpper decimal.Decimal) decimal.Decimal {
	switch {
	case sqrtCurrent.LessThanOrEqual(sqrtLower):
		return decimal.Zero
	case sqrtCurrent.GreaterThanOrEqual(sqrtUpper):
		// amount1 = L * (sqrt(pb) - sqrt(pa))
		return liquidity.Mul(sqrtUpper.Sub(sqrtLower))
	default:
		// amount1 = L * (sqrt(p) - sqrt(pa))
		return liquidity.Mul(sqrtCurrent.Sub(sqrtLower))
	}
}

func invert(d decimal.Decimal) decimal.Decimal {
	return decimal.New(1, 0).DivRound(d, powPrecision)
}

// PositionAmounts computes the token balances of a position from its
// liquidity, tick range, and the pool's current tick. Liquidity is the raw
// uint256 string reported by the pool contract or subgraph. Results are
// adjusted to human units using each token's decimals.
func PositionAmounts(liquidity string, currentTick, tickLower, tickUpper, decimals0, decimals1 int) (Amounts, error) {
	l, err := decimal.NewFromString(liquidity)
	if err != nil {
		return Amounts{}, fmt.Errorf("univ3: parse liquidity %q: %w", liquidity, err)
	}
	if tickLower >= tickUpper {
		return Amounts{}, fmt.Errorf("univ3: tick range [%d, %d) is empty", tickLower, tickUpper)
	}

	sqrtLowerX96, err := SqrtRatioAtTick(tickLower)
	if err != nil {
		return Amounts{}, err
	}
	sqrtUpperX96, err := SqrtRatioAtTick(tickUpper)
	if err != nil {
		return Amounts{}, err
	}
	sqrtCurrentX96, err := SqrtRatioAtTick(currentTick)
	if err != nil {
		return Amounts{}, err
	}

	sqrtLower := sqrtLowerX96.DivRound(Q96, powPrecision)
	sqrtUpper := sqrtUpperX96.DivRound(Q96, powPrecision)
	sqrtCurrent := sqrtCurrentX96.DivRound(Q96, powPrecision)

	raw0 := token0Amount(l, sqrtCurrent, sqrtLower, sqrtUpper)
	raw1 := token1Amount(l, sqrtCurrent, sqrtLower, sqrtUpper)

	return Amounts{
		Token0: raw0.DivRound(decimal.New(1, int32(decimals0)), int32(decimals0)+2),
		Token1: raw1.DivRound(decimal.New(1, int32(decimals1)), int32(decimals1)+2),
	}, nil
}
