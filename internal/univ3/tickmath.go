// Package univ3 implements Uniswap v3 concentrated-liquidity math: tick,
// sqrt-price, and price conversions plus per-token position amounts.
//
// All arithmetic uses arbitrary-precision decimals. Downstream USD valuation
// and hedge sizing depend on these results, so native floating point is never
// used. Sqrt prices are in the on-chain Q64.96 fixed-point format:
//
//	p(i) = 1.0001^i
//	sqrtPriceX96 = sqrt(p) * 2^96
package univ3

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

const (
	// MinTick is the minimum tick supported by Uniswap v3 pools.
	MinTick = -887272
	// MaxTick is the maximum tick supported by Uniswap v3 pools.
	MaxTick = 887272

	// powPrecision is the decimal precision used for 1.0001^x and ln
	// evaluations. Round-trips stay within one tick at this precision.
	powPrecision = 50
)

var (
	// Q96 is 2^96, the Q64.96 scaling factor.
	Q96 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)

	base   = decimal.RequireFromString("1.0001")
	half   = decimal.RequireFromString("0.5")
	lnBase decimal.Decimal
)

func init() {
	var err error
	lnBase, err = base.Ln(powPrecision)
	if err != nil {
		panic(err)
	}
}

// pow1p0001 computes 1.0001^exp at powPrecision. exp may be fractional.
func pow1p0001(exp decimal.Decimal) decimal.Decimal {
	out, err := base.PowWithPrecision(exp, powPrecision)
	if err != nil {
		// base is a positive constant; Pow cannot fail for finite exponents.
		panic(err)
	}
	return out
}

// decimalAdjustment returns 10^(decimals0 - decimals1).
func decimalAdjustment(decimals0, decimals1 int) decimal.Decimal {
	return decimal.New(1, int32(decimals0-decimals1))
}

// checkTick validates that tick lies within the protocol's documented range.
func checkTick(tick int) error {
	if tick < MinTick || tick > MaxTick {
		return fmt.Errorf("univ3: tick %d: %w", tick, domain.ErrTickOutOfRange)
	}
	return nil
}

// SqrtRatioAtTick converts a tick index to its Q64.96 sqrt price, floored to
// an integer ratio like the on-chain implementation.
func SqrtRatioAtTick(tick int) (decimal.Decimal, error) {
	if err := checkTick(tick); err != nil {
		return decimal.Zero, err
	}
	// sqrt(1.0001^tick) = 1.0001^(tick/2)
	exp := decimal.NewFromInt(int64(tick)).Mul(half)
	return pow1p0001(exp).Mul(Q96).Floor(), nil
}

// TickAtSqrtRatio converts a Q64.96 sqrt price back to the nearest tick
// index, floored.
func TickAtSqrtRatio(sqrtRatioX96 decimal.Decimal) (int, error) {
	sqrtPrice := sqrtRatioX96.DivRound(Q96, powPrecision)
	lnPrice, err := sqrtPrice.Ln(powPrecision)
	if err != nil {
		return 0, fmt.Errorf("univ3: tick at sqrt ratio %s: %w", sqrtRatioX96, err)
	}
	// tick = 2 * ln(sqrtPrice) / ln(1.0001). The integer floor in the X96
	// representation perturbs the tick by up to ~5e-6 at the deep negative end
	// of the range where the ratio is smallest, so round at 5 decimal places
	// before flooring: a ratio produced exactly at a tick maps back to that
	// tick across the whole range.
	tick := lnPrice.Mul(decimal.NewFromInt(2)).DivRound(lnBase, powPrecision).Round(5).Floor()
	t := int(tick.IntPart())
	if t < MinTick {
		t = MinTick
	} else if t > MaxTick {
		t = MaxTick
	}
	return t, nil
}

// TickToPrice converts a tick to the human-readable price of token0
// denominated in token1, adjusted for the tokens' decimal difference.
func TickToPrice(tick, decimals0, decimals1 int) (decimal.Decimal, error) {
	if err := checkTick(tick); err != nil {
		return decimal.Zero, err
	}
	raw := pow1p0001(decimal.NewFromInt(int64(tick)))
	return raw.Mul(decimalAdjustment(decimals0, decimals1)), nil
}

// PriceToTick converts a human-readable token0/token1 price to the nearest
// tick index, floored.
func PriceToTick(price decimal.Decimal, decimals0, decimals1 int) (int, error) {
	adjusted := price.DivRound(decimalAdjustment(decimals0, decimals1), powPrecision)
	lnPrice, err := adjusted.Ln(powPrecision)
	if err != nil {
		return 0, fmt.Errorf("univ3: price to tick %s: %w", price, err)
	}
	return int(lnPrice.DivRound(lnBase, powPrecision).Round(12).Floor().IntPart()), nil
}

// PriceToSqrtRatio converts a human-readable token0/token1 price to a Q64.96
// sqrt price, floored.
func PriceToSqrtRatio(price decimal.Decimal, decimals0, decimals1 int) (decimal.Decimal, error) {
	adjusted := price.DivRound(decimalAdjustment(decimals0, decimals1), powPrecision)
	sqrtPrice, err := adjusted.PowWithPrecision(half, powPrecision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("univ3: price to sqrt ratio %s: %w", price, err)
	}
	return sqrtPrice.Mul(Q96).Floor(), nil
}

// SqrtRatioToPrice converts a Q64.96 sqrt price to a human-readable
// token0/token1 price adjusted for the tokens' decimal difference.
func SqrtRatioToPrice(sqrtRatioX96 decimal.Decimal, decimals0, decimals1 int) decimal.Decimal {
	sqrtPrice := sqrtRatioX96.DivRound(Q96, powPrecision)
	return sqrtPrice.Mul(sqrtPrice).Mul(decimalAdjustment(decimals0, decimals1))
}
