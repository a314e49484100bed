package engine

import (
	"math/big"
	"time"

	"SynthVault/internal/event"
	fpmath "SynthVault/internal/math"
	"SynthVault/internal/solvency"

	"github.com/google/uuid"
)

// Liquidate lets a third party repay part of an unhealthy user's debt in
// exchange for the equivalent collateral plus a bonus.
//
// The caller covers debtToCover (18-decimal value units) out of their own
// synthetic balance and receives the matching collateral in assetID plus
// LiquidationBonusPct percent on top. The operation commits only if it
// strictly improves the target's health factor and does not leave the
// caller's own position unhealthy; a liquidation that closes the debt
// entirely always satisfies the improvement check.
func (e *Engine) Liquidate(caller, user uuid.UUID, assetID string, debtToCover *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.observe("Liquidation", time.Now())

	rec, err := e.liquidate(caller, user, assetID, debtToCover)
	if err != nil {
		return err
	}
	e.commit(rec)
	return nil
}

func (e *Engine) liquidate(caller, user uuid.UUID, assetID string, debtToCover *big.Int) (*event.Record, error) {
	if !validAmount(debtToCover) {
		return nil, e.rejectLiquidation("zero_amount", ErrAmountZero)
	}
	asset, err := e.reg.Get(assetID)
	if err != nil {
		return nil, e.rejectLiquidation("asset_not_allowed", &CollateralNotAllowedError{AssetID: assetID})
	}

	startHF, err := e.checker.HealthFactor(user)
	if err != nil {
		return nil, e.rejectLiquidation("oracle_unavailable", err)
	}
	if startHF.Cmp(solvency.MinHealthFactor) >= 0 {
		return nil, e.rejectLiquidation("target_healthy", &HealthFactorNotUnderThresholdError{HealthFactor: startHF})
	}

	// Seizure: collateral equivalent of the covered debt, plus the bonus.
	// Both conversions floor, so the seizure never overpays.
	seized, err := e.prices.ToNativeAmount(assetID, debtToCover)
	if err != nil {
		return nil, e.rejectLiquidation("oracle_unavailable", err)
	}
	bonus := fpmath.MulDiv(seized, big.NewInt(solvency.LiquidationBonusPct), big.NewInt(100))
	totalSeized := new(big.Int).Add(seized, bonus)

	// Ledger legs. A seizure exceeding the user's deposited balance fails
	// in Withdraw and unwinds the debt leg.
	if err := e.led.BurnDebt(user, debtToCover); err != nil {
		return nil, e.rejectLiquidation("debt_exceeded", err)
	}
	if err := e.led.Withdraw(user, assetID, totalSeized); err != nil {
		e.led.MintDebt(user, debtToCover)
		return nil, e.rejectLiquidation("insufficient_collateral", err)
	}

	rollback := func() {
		e.led.Deposit(user, assetID, totalSeized)
		e.led.MintDebt(user, debtToCover)
	}

	// Post-checks: the target must end strictly healthier than it started,
	// and the caller must not have wrecked their own position.
	endHF, err := e.checker.HealthFactor(user)
	if err != nil {
		rollback()
		return nil, e.rejectLiquidation("oracle_unavailable", err)
	}
	if endHF.Cmp(startHF) <= 0 {
		rollback()
		return nil, e.rejectLiquidation("not_improved", ErrHealthFactorNotImproved)
	}
	if err := e.checker.AssertHealthy(caller); err != nil {
		rollback()
		return nil, e.rejectLiquidation("caller_unhealthy", err)
	}

	// External legs: pull the repayment from the caller before paying out
	// the seized collateral.
	if err := e.reg.Synthetic().Burn(caller, debtToCover); err != nil {
		rollback()
		return nil, e.rejectLiquidation("burn_failed", &BurnFailedError{Err: err})
	}
	if err := asset.Token.Transfer(e.vaultID, caller, totalSeized); err != nil {
		rollback()
		if rbErr := e.reg.Synthetic().Mint(caller, debtToCover); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("liquidation repayment unwind failed")
		}
		return nil, e.rejectLiquidation("transfer_failed", &TransferFailedError{AssetID: assetID, Err: err})
	}

	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.Inc()
		e.metrics.CollateralSeized.WithLabelValues(assetID).Inc()
	}
	e.log.Info().
		Str("user", user.String()).
		Str("liquidator", caller.String()).
		Str("asset", assetID).
		Str("debt_covered", debtToCover.String()).
		Str("total_seized", totalSeized.String()).
		Msg("liquidation executed")

	return &event.Record{
		RecordID:    uuid.New(),
		Type:        event.RecordTypeLiquidation,
		User:        user,
		Caller:      caller,
		AssetID:     assetID,
		Amount:      seized,
		DebtCovered: new(big.Int).Set(debtToCover),
		TotalSeized: totalSeized,
	}, nil
}

func (e *Engine) rejectLiquidation(reason string, err error) error {
	if e.metrics != nil {
		e.metrics.LiquidationsRejected.WithLabelValues(reason).Inc()
	}
	return e.reject("Liquidation", reason, err)
}
