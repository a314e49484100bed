package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InsufficientBalanceError reports a withdrawal or debt burn exceeding the
// current record. Guarding the decrement here is the ledger's only internal
// invariant; every other check belongs to the orchestrator.
type InsufficientBalanceError struct {
	Have *big.Int
	Need *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger: insufficient balance: have=%s, need=%s", e.Have, e.Need)
}

type collateralKey struct {
	User    uuid.UUID
	AssetID string
}

// Ledger is the exclusive owner of all collateral and debt records:
// per (user, asset) deposited quantity in asset-native units, and per-user
// outstanding synthetic debt in 18-decimal value units. Amounts are never
// negative; decrements beyond the current record fail instead of
// underflowing.
//
// The RWMutex serializes mutations against the latch-free read path used
// by the query service.
type Ledger struct {
	mu         sync.RWMutex
	collateral map[collateralKey]*big.Int
	debt       map[uuid.UUID]*big.Int
}

func New() *Ledger {
	return &Ledger{
		collateral: make(map[collateralKey]*big.Int),
		debt:       make(map[uuid.UUID]*big.Int),
	}
}

// Deposit increments a user's collateral record. Pure increment: amount
// validation and solvency checks are the orchestrator's responsibility.
func (l *Ledger) Deposit(user uuid.UUID, assetID string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := collateralKey{User: user, AssetID: assetID}
	if bal, ok := l.collateral[key]; ok {
		bal.Add(bal, amount)
		return
	}
	l.collateral[key] = new(big.Int).Set(amount)
}

// Withdraw decrements a user's collateral record, failing with
// InsufficientBalanceError if the record cannot cover the amount.
func (l *Ledger) Withdraw(user uuid.UUID, assetID string, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := collateralKey{User: user, AssetID: assetID}
	bal, ok := l.collateral[key]
	if !ok || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have.Set(bal)
		}
		return &InsufficientBalanceError{Have: have, Need: new(big.Int).Set(amount)}
	}
	bal.Sub(bal, amount)
	return nil
}

// MintDebt increments a user's debt record.
func (l *Ledger) MintDebt(user uuid.UUID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if d, ok := l.debt[user]; ok {
		d.Add(d, amount)
		return
	}
	l.debt[user] = new(big.Int).Set(amount)
}

// BurnDebt decrements a user's debt record, failing with
// InsufficientBalanceError if the record cannot cover the amount.
func (l *Ledger) BurnDebt(user uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.debt[user]
	if !ok || d.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have.Set(d)
		}
		return &InsufficientBalanceError{Have: have, Need: new(big.Int).Set(amount)}
	}
	d.Sub(d, amount)
	return nil
}

// BalanceOf returns a copy of the user's collateral record for an asset
// (zero if absent).
func (l *Ledger) BalanceOf(user uuid.UUID, assetID string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if bal, ok := l.collateral[collateralKey{User: user, AssetID: assetID}]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// DebtOf returns a copy of the user's outstanding debt (zero if absent).
func (l *Ledger) DebtOf(user uuid.UUID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if d, ok := l.debt[user]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// CollateralEntry is one (user, asset) collateral record.
type CollateralEntry struct {
	User    uuid.UUID
	AssetID string
	Amount  *big.Int
}

// DebtEntry is one user's debt record.
type DebtEntry struct {
	User   uuid.UUID
	Amount *big.Int
}

// CollateralEntries returns copies of all nonzero collateral records,
// sorted by (user, asset) for deterministic digests and snapshots.
func (l *Ledger) CollateralEntries() []CollateralEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]CollateralEntry, 0, len(l.collateral))
	for key, bal := range l.collateral {
		if bal.Sign() == 0 {
			continue
		}
		entries = append(entries, CollateralEntry{
			User:    key.User,
			AssetID: key.AssetID,
			Amount:  new(big.Int).Set(bal),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		ci := entries[i].User.String() + ":" + entries[i].AssetID
		cj := entries[j].User.String() + ":" + entries[j].AssetID
		return ci < cj
	})
	return entries
}

// DebtEntries returns copies of all nonzero debt records sorted by user.
func (l *Ledger) DebtEntries() []DebtEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]DebtEntry, 0, len(l.debt))
	for user, d := range l.debt {
		if d.Sign() == 0 {
			continue
		}
		entries = append(entries, DebtEntry{User: user, Amount: new(big.Int).Set(d)})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].User.String() < entries[j].User.String()
	})
	return entries
}

// SetCollateral overwrites one collateral record. Used only by snapshot
// restore before the engine starts serving.
func (l *Ledger) SetCollateral(user uuid.UUID, assetID string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.collateral[collateralKey{User: user, AssetID: assetID}] = new(big.Int).Set(amount)
}

// SetDebt overwrites one debt record. Used only by snapshot restore.
func (l *Ledger) SetDebt(user uuid.UUID, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debt[user] = new(big.Int).Set(amount)
}
