package pricing_test

import (
	"errors"
	"math/big"
	"testing"

	fpmath "SynthVault/internal/math"
	"SynthVault/internal/oracle"
	"SynthVault/internal/pricing"
	"SynthVault/internal/registry"
	"SynthVault/internal/token"
)

func newFixture(t *testing.T) (*pricing.Normalizer, *oracle.StaticOracle, *oracle.StaticOracle) {
	t.Helper()

	ethOracle := oracle.NewStaticOracleWithPrice(2000_00000000)  // $2000, 8 decimals
	btcOracle := oracle.NewStaticOracleWithPrice(30000_00000000) // $30000, 8 decimals

	reg, err := registry.New(
		[]string{"WETH", "WBTC"},
		[]oracle.PriceOracle{ethOracle, btcOracle},
		[]token.CollateralToken{token.NewMemory(), token.NewMemory()},
		[]uint8{18, 8},
		token.NewMemory(),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	return pricing.NewNormalizer(reg), ethOracle, btcOracle
}

func value(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), fpmath.ValueScale)
}

func TestToValueUnits_EighteenDecimalAsset(t *testing.T) {
	n, _, _ := newFixture(t)

	// 1 WETH at $2000 → 2000 value units.
	got, err := n.ToValueUnits("WETH", fpmath.ValueScale)
	if err != nil {
		t.Fatalf("ToValueUnits: %v", err)
	}
	if got.Cmp(value(2000)) != 0 {
		t.Errorf("got %s, want %s", got, value(2000))
	}
}

func TestToValueUnits_EightDecimalAsset(t *testing.T) {
	n, _, _ := newFixture(t)

	// 1 WBTC (1e8 native) at $30000 → 30000 value units; the 8-decimal
	// native precision must not distort the result.
	got, err := n.ToValueUnits("WBTC", big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("ToValueUnits: %v", err)
	}
	if got.Cmp(value(30000)) != 0 {
		t.Errorf("got %s, want %s", got, value(30000))
	}
}

func TestToNativeAmount_Inverse(t *testing.T) {
	n, _, _ := newFixture(t)

	// $2000 of value → exactly 1 WETH.
	got, err := n.ToNativeAmount("WETH", value(2000))
	if err != nil {
		t.Fatalf("ToNativeAmount: %v", err)
	}
	if got.Cmp(fpmath.ValueScale) != 0 {
		t.Errorf("got %s, want %s", got, fpmath.ValueScale)
	}

	// $30000 of value → exactly 1 WBTC in native 8-decimal units.
	got, err = n.ToNativeAmount("WBTC", value(30000))
	if err != nil {
		t.Fatalf("ToNativeAmount: %v", err)
	}
	if got.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("got %s, want 1e8", got)
	}
}

func TestRoundTrip_WithinTruncationTolerance(t *testing.T) {
	n, ethOracle, _ := newFixture(t)

	// An awkward price forces truncation; the round trip may lose at most
	// the precision floor and must never come back larger or negative.
	ethOracle.SetPrice(big.NewInt(1999_99999999))

	amounts := []*big.Int{
		big.NewInt(1),
		big.NewInt(999_999_999_999),
		fpmath.ValueScale,
		new(big.Int).Mul(big.NewInt(7), fpmath.ValueScale),
	}

	for _, x := range amounts {
		v, err := n.ToValueUnits("WETH", x)
		if err != nil {
			t.Fatalf("ToValueUnits(%s): %v", x, err)
		}
		back, err := n.ToNativeAmount("WETH", v)
		if err != nil {
			t.Fatalf("ToNativeAmount: %v", err)
		}

		if back.Cmp(x) > 0 {
			t.Errorf("round trip of %s grew to %s", x, back)
		}
		if back.Sign() < 0 {
			t.Errorf("round trip of %s went negative: %s", x, back)
		}
		diff := new(big.Int).Sub(x, back)
		// One unit of the last place per division, two divisions total.
		if diff.Cmp(big.NewInt(2)) > 0 {
			t.Errorf("round trip of %s lost %s, more than the precision floor", x, diff)
		}
	}
}

func TestConversion_TruncatesTowardZero(t *testing.T) {
	n, ethOracle, _ := newFixture(t)

	// Price $0.00000003: 1 wei of value in, the product floors to zero
	// rather than rounding up.
	ethOracle.SetPrice(big.NewInt(3))

	got, err := n.ToValueUnits("WETH", big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if got.Sign() != 0 {
		t.Errorf("sub-floor conversion must truncate to zero, got %s", got)
	}
}

func TestOracleUnavailable_Propagates(t *testing.T) {
	n, _, _ := newFixture(t)

	reg, err := registry.New(
		[]string{"COLD"},
		[]oracle.PriceOracle{oracle.NewStaticOracle()}, // no price set
		[]token.CollateralToken{token.NewMemory()},
		[]uint8{18},
		token.NewMemory(),
	)
	if err != nil {
		t.Fatal(err)
	}
	cold := pricing.NewNormalizer(reg)

	_, err = cold.ToValueUnits("COLD", fpmath.ValueScale)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}

	_, err = cold.ToNativeAmount("COLD", fpmath.ValueScale)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}

	// Unknown asset on the warm normalizer.
	_, err = n.ToValueUnits("DOGE", fpmath.ValueScale)
	if !errors.Is(err, registry.ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}
}
