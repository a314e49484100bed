// Package solvency derives account health from ledger records and oracle
// prices. The checker is stateless: every read recomputes from the live
// ledger, so health always reflects the latest prices.
package solvency

import (
	"fmt"
	"math/big"

	"SynthVault/internal/ledger"
	fpmath "SynthVault/internal/math"
	"SynthVault/internal/pricing"
	"SynthVault/internal/registry"

	"github.com/google/uuid"
)

const (
	// LiquidationThresholdPct discounts collateral before it counts toward
	// health. At 50, positions must stay at least 200% collateralized.
	LiquidationThresholdPct = 50

	// LiquidationBonusPct is the extra collateral a liquidator seizes on
	// top of the debt they cover.
	LiquidationBonusPct = 10

	percentDivisor = 100
)

var (
	// MinHealthFactor is 1.0 in 18-decimal fixed point. Any operation that
	// would leave an account below this is rejected outright.
	MinHealthFactor = new(big.Int).Set(fpmath.ValueScale)

	// MaxHealthFactor stands in for the health of a debt-free account.
	// 2^256-1 mirrors the unsigned word the on-chain convention saturates to.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// BreaksHealthFactorError rejects an operation that would leave the account
// below MinHealthFactor. It is terminal: retrying without changing the
// position or waiting for prices to move cannot succeed.
type BreaksHealthFactorError struct {
	HealthFactor *big.Int
}

func (e *BreaksHealthFactorError) Error() string {
	return fmt.Sprintf("solvency: operation breaks health factor: %s < %s", e.HealthFactor, MinHealthFactor)
}

// Checker computes account value and health factor from the ledger.
type Checker struct {
	reg    *registry.Registry
	led    *ledger.Ledger
	prices *pricing.Normalizer
}

func NewChecker(reg *registry.Registry, led *ledger.Ledger, prices *pricing.Normalizer) *Checker {
	return &Checker{reg: reg, led: led, prices: prices}
}

// AccountValue sums the user's deposited collateral across all approved
// assets, in 18-decimal value units at current oracle prices.
func (c *Checker) AccountValue(user uuid.UUID) (*big.Int, error) {
	total := new(big.Int)
	for _, assetID := range c.reg.ApprovedAssets() {
		bal := c.led.BalanceOf(user, assetID)
		if bal.Sign() == 0 {
			continue
		}
		v, err := c.prices.ToValueUnits(assetID, bal)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// HealthFactor is the ratio of threshold-adjusted collateral value to debt,
// in 18-decimal fixed point:
//
//	(collateralValue * LiquidationThresholdPct / 100) * 1e18 / debt
//
// A debt-free account reports MaxHealthFactor.
func (c *Checker) HealthFactor(user uuid.UUID) (*big.Int, error) {
	debt := c.led.DebtOf(user)
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor), nil
	}

	value, err := c.AccountValue(user)
	if err != nil {
		return nil, err
	}

	adjusted := fpmath.MulDiv(value, big.NewInt(LiquidationThresholdPct), big.NewInt(percentDivisor))
	return fpmath.MulDiv(adjusted, fpmath.ValueScale, debt), nil
}

// AssertHealthy fails with BreaksHealthFactorError when the user's health
// factor sits below MinHealthFactor.
func (c *Checker) AssertHealthy(user uuid.UUID) error {
	hf, err := c.HealthFactor(user)
	if err != nil {
		return err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		return &BreaksHealthFactorError{HealthFactor: hf}
	}
	return nil
}
