package token

import (
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process token ledger implementing both CollateralToken
// and SyntheticToken. The default wiring and the test suite use it; real
// deployments swap in external collaborators behind the same interfaces.
type Memory struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*big.Int
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[uuid.UUID]*big.Int)}
}

func (m *Memory) Transfer(from, to uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if to == uuid.Nil {
		return ErrZeroRecipient
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	bal.Sub(bal, amount)
	m.credit(to, amount)
	return nil
}

func (m *Memory) Mint(to uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if to == uuid.Nil {
		return ErrZeroRecipient
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(to, amount)
	return nil
}

func (m *Memory) Burn(from uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	bal.Sub(bal, amount)
	return nil
}

// BalanceOf returns the holder's current balance (zero if unknown).
func (m *Memory) BalanceOf(holder uuid.UUID) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// credit assumes the lock is held.
func (m *Memory) credit(to uuid.UUID, amount *big.Int) {
	if bal, ok := m.balances[to]; ok {
		bal.Add(bal, amount)
		return
	}
	m.balances[to] = new(big.Int).Set(amount)
}
