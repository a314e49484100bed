package pricing

import (
	"fmt"
	"math/big"

	fpmath "SynthVault/internal/math"
	"SynthVault/internal/registry"
)

// Normalizer converts between asset-native quantities and the common
// 18-decimal value unit using the registry's oracle bindings. It holds no
// state of its own: every conversion is a pure function of the current
// oracle price and the asset's registered precision.
//
// All arithmetic is integer, multiplications happen before divisions, and
// truncation rounds toward zero. The floor deliberately biases both
// directions in the protocol's favor: collateral is undervalued on the way
// into value units, and seizures are undersized on the way back out.
type Normalizer struct {
	reg *registry.Registry
}

func NewNormalizer(reg *registry.Registry) *Normalizer {
	return &Normalizer{reg: reg}
}

// price18 reads the asset's oracle and promotes the 8-decimal price to 18
// decimals. An unreadable oracle propagates: substituting a stale or zero
// price here would silently corrupt every solvency decision downstream.
func (n *Normalizer) price18(asset *registry.Asset) (*big.Int, error) {
	price, err := asset.Oracle.LatestPrice()
	if err != nil {
		return nil, fmt.Errorf("read price for %s: %w", asset.ID, err)
	}
	return new(big.Int).Mul(price, fpmath.PriceBoost), nil
}

// ToValueUnits converts an asset-native amount into 18-decimal value
// units: floor(price18 * normalizedAmount / 1e18).
func (n *Normalizer) ToValueUnits(assetID string, nativeAmount *big.Int) (*big.Int, error) {
	asset, err := n.reg.Get(assetID)
	if err != nil {
		return nil, err
	}

	price, err := n.price18(asset)
	if err != nil {
		return nil, err
	}

	normalized := fpmath.ScaleUp(nativeAmount, asset.Decimals)
	return fpmath.MulDiv(price, normalized, fpmath.ValueScale), nil
}

// ToNativeAmount is the algebraic inverse of ToValueUnits:
// floor(value18 * 1e18 / (price18 * 10^(18-nativeDecimals))).
// The single combined division keeps truncation to one floor.
func (n *Normalizer) ToNativeAmount(assetID string, value18 *big.Int) (*big.Int, error) {
	asset, err := n.reg.Get(assetID)
	if err != nil {
		return nil, err
	}

	price, err := n.price18(asset)
	if err != nil {
		return nil, err
	}

	denom := new(big.Int).Mul(price, fpmath.Pow10(uint(fpmath.ValueDecimals-asset.Decimals)))
	return fpmath.MulDiv(value18, fpmath.ValueScale, denom), nil
}
