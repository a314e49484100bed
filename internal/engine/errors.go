package engine

import (
	"errors"
	"fmt"
	"math/big"
)

// All engine errors are terminal for the operation that raised them: the
// ledger is left exactly as it was before the call, and retrying with the
// same arguments against the same state fails the same way.
var (
	// ErrReentrantCall rejects a state-changing call made while another
	// one is still in flight, including callbacks from token collaborators.
	ErrReentrantCall = errors.New("engine: reentrant call")

	// ErrAmountZero rejects zero or negative amounts on any operation.
	ErrAmountZero = errors.New("engine: amount must be positive")

	// ErrHealthFactorNotImproved rejects a liquidation that did not
	// strictly raise the target's health factor.
	ErrHealthFactorNotImproved = errors.New("engine: liquidation did not improve health factor")
)

// CollateralNotAllowedError rejects an operation on an asset outside the
// approved registry.
type CollateralNotAllowedError struct {
	AssetID string
}

func (e *CollateralNotAllowedError) Error() string {
	return fmt.Sprintf("engine: collateral asset %q not allowed", e.AssetID)
}

// HealthFactorNotUnderThresholdError rejects a liquidation attempt against
// a healthy account.
type HealthFactorNotUnderThresholdError struct {
	HealthFactor *big.Int
}

func (e *HealthFactorNotUnderThresholdError) Error() string {
	return fmt.Sprintf("engine: health factor %s not under liquidation threshold", e.HealthFactor)
}

// TransferFailedError wraps a collateral token transfer failure.
type TransferFailedError struct {
	AssetID string
	Err     error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("engine: collateral transfer for %s failed: %v", e.AssetID, e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }

// MintFailedError wraps a synthetic token mint failure.
type MintFailedError struct {
	Err error
}

func (e *MintFailedError) Error() string {
	return fmt.Sprintf("engine: synthetic mint failed: %v", e.Err)
}

func (e *MintFailedError) Unwrap() error { return e.Err }

// BurnFailedError wraps a synthetic token burn failure.
type BurnFailedError struct {
	Err error
}

func (e *BurnFailedError) Error() string {
	return fmt.Sprintf("engine: synthetic burn failed: %v", e.Err)
}

func (e *BurnFailedError) Unwrap() error { return e.Err }
