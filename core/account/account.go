// Package account is the paying token ledger the distributor settles
// against: balances in base QDB units, a treasury pool, mint and transfer.
// It deliberately knows nothing about rewards; the distributor drives it.
package account

import (
	"fmt"
	"sync"

	"github.com/quikdb/go-quikdb-nodes/crypto/address"
)

// Account holds one identity's token position
type Account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

// Manager handles token accounts and the treasury pool rewards are paid from
type Manager struct {
	accounts map[string]*Account
	treasury int64
	minting  bool // mint-based asset: payments skip the treasury precondition
	mu       sync.RWMutex
}

// NewManager creates a token ledger. With minting true the asset is minted
// on settlement and no treasury balance is required.
func NewManager(minting bool) *Manager {
	return &Manager{
		accounts: make(map[string]*Account),
		minting:  minting,
	}
}

// Minting reports whether settlements mint rather than draw from treasury
func (m *Manager) Minting() bool {
	return m.minting
}

// FundTreasury adds to the pool settlements are paid from
func (m *Manager) FundTreasury(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("treasury funding must be positive, got %d", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.treasury += amount
	return nil
}

// TreasuryBalance returns the available settlement pool
func (m *Manager) TreasuryBalance() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.treasury
}

func (m *Manager) account(addr string) *Account {
	acc, ok := m.accounts[addr]
	if !ok {
		acc = &Account{Address: addr}
		m.accounts[addr] = acc
	}
	return acc
}

// Balance returns an identity's current balance
func (m *Manager) Balance(addr string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[addr]
	if !ok {
		return 0
	}
	return acc.Balance
}

// CanPay reports whether a settlement of amount can be funded right now
func (m *Manager) CanPay(amount int64) bool {
	if m.minting {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.treasury >= amount
}

// Pay moves amount to the recipient: a mint for a mint-based asset, a
// treasury draw otherwise. The caller holds settlement state; this either
// fully succeeds or changes nothing.
func (m *Manager) Pay(recipient string, amount int64) error {
	if err := address.Validate(recipient); err != nil {
		return fmt.Errorf("invalid recipient: %v", err)
	}
	if amount <= 0 {
		return fmt.Errorf("payment amount must be positive, got %d", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.minting {
		if m.treasury < amount {
			return fmt.Errorf("insufficient treasury balance: have %d, need %d", m.treasury, amount)
		}
		m.treasury -= amount
	}

	m.account(recipient).Balance += amount
	return nil
}

// Transfer moves amount between two identities
func (m *Manager) Transfer(from, to string, amount int64) error {
	if err := address.Validate(from); err != nil {
		return fmt.Errorf("invalid sender: %v", err)
	}
	if err := address.Validate(to); err != nil {
		return fmt.Errorf("invalid recipient: %v", err)
	}
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return fmt.Errorf("cannot transfer to self")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sender := m.account(from)
	if sender.Balance < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", sender.Balance, amount)
	}

	sender.Balance -= amount
	m.account(to).Balance += amount
	return nil
}
