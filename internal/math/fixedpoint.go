package math

import (
	"math/big"
	"sync"
)

// Decimal scales used across the engine. All accounting happens in an
// 18-decimal "value unit"; oracle prices arrive scaled to 8 decimals.
const (
	ValueDecimals = 18
	PriceDecimals = 8
)

var (
	// ValueScale is 10^18, the common fixed-point unit for collateral
	// value and debt.
	ValueScale = Pow10(ValueDecimals)

	// PriceScale is 10^8, the oracle's native price scale.
	PriceScale = Pow10(PriceDecimals)

	// PriceBoost promotes an 8-decimal oracle price to 18 decimals.
	PriceBoost = Pow10(ValueDecimals - PriceDecimals)
)

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// intPool recycles big.Int intermediates on the hot conversion path.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes floor(a * b / denom) with an arbitrary-precision
// intermediate. The multiplication always happens before the division so
// the only truncation is the final floor. Truncation toward zero is the
// engine-wide rounding policy: conversions must undervalue collateral
// rather than overvalue it.
func MulDiv(a, b, denom *big.Int) *big.Int {
	product := getInt()
	product.Mul(a, b)

	result := new(big.Int).Quo(product, denom)

	putInt(product)
	return result
}

// ScaleUp promotes an asset-native amount to 18-decimal precision.
// nativeDecimals must be in [0, 18]; the registry enforces that bound.
func ScaleUp(amount *big.Int, nativeDecimals uint8) *big.Int {
	if nativeDecimals == ValueDecimals {
		return new(big.Int).Set(amount)
	}
	factor := Pow10(uint(ValueDecimals - nativeDecimals))
	return new(big.Int).Mul(amount, factor)
}

// ScaleDown truncates an 18-decimal quantity back to asset-native
// precision (floor).
func ScaleDown(value *big.Int, nativeDecimals uint8) *big.Int {
	if nativeDecimals == ValueDecimals {
		return new(big.Int).Set(value)
	}
	factor := Pow10(uint(ValueDecimals - nativeDecimals))
	return new(big.Int).Quo(value, factor)
}
