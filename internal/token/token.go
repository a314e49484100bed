package token

import (
	"errors"
	"math/big"

	"github.com/google/uuid"
)

// The engine treats every token as an external collaborator behind these
// interfaces. Failures are explicit results, not panics, so every
// operation's error contract stays visible at the call site.

var (
	ErrZeroAmount        = errors.New("token: amount must be greater than zero")
	ErrZeroRecipient     = errors.New("token: recipient must not be the zero account")
	ErrInsufficientFunds = errors.New("token: insufficient funds")
)

// CollateralToken is the fungible balance ledger for one collateral asset.
type CollateralToken interface {
	// Transfer moves amount from one holder to another, failing without
	// effect if the sender's balance is insufficient.
	Transfer(from, to uuid.UUID, amount *big.Int) error
}

// SyntheticToken is the peg-target asset the engine mints against
// collateral and destroys on burn.
type SyntheticToken interface {
	Transfer(from, to uuid.UUID, amount *big.Int) error
	Mint(to uuid.UUID, amount *big.Int) error
	Burn(from uuid.UUID, amount *big.Int) error
}
