// Package token keeps the collateral-token ledger. Market vaults and trader
// wallets are token accounts keyed by address; margin deposits move through
// TransferChecked, which enforces mint identity and never lets a balance go
// negative or wrap.
package token

import (
	"fmt"
	"sync"

	"perpcore/internal/keys"
	"perpcore/internal/math"
	"perpcore/internal/perperr"
)

// Account is one token balance.
type Account struct {
	Address keys.Address
	Mint    keys.Address
	Owner   keys.Address
	Balance uint64
}

// Ledger is an in-memory token ledger, safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[keys.Address]*Account
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[keys.Address]*Account)}
}

// CreateAccount registers a token account with an opening balance.
func (l *Ledger) CreateAccount(address, mint, owner keys.Address, balance uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[address]; ok {
		return fmt.Errorf("token account %s: %w", address, perperr.ErrAlreadyInitialized)
	}
	l.accounts[address] = &Account{Address: address, Mint: mint, Owner: owner, Balance: balance}
	return nil
}

// Account returns a copy of the account at address.
func (l *Ledger) Account(address keys.Address) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acc, ok := l.accounts[address]
	if !ok {
		return Account{}, fmt.Errorf("token account %s: %w", address, perperr.ErrNotInitialized)
	}
	return *acc, nil
}

// TransferChecked moves amount from one account to another. Both accounts
// must hold the expected mint, authority must own the source, and the source
// balance must cover amount. The destination add is overflow-checked before
// any balance changes.
func (l *Ledger) TransferChecked(from, to, authority, mint keys.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("source %s: %w", from, perperr.ErrNotInitialized)
	}
	dst, ok := l.accounts[to]
	if !ok {
		return fmt.Errorf("destination %s: %w", to, perperr.ErrNotInitialized)
	}

	if src.Mint != mint || dst.Mint != mint {
		return perperr.ErrMintMismatch
	}
	if src.Owner != authority {
		return perperr.ErrMissingSignature
	}
	if src.Balance < amount {
		return fmt.Errorf("transfer %d from %s: %w", amount, from, perperr.ErrInsufficientBalance)
	}

	newDst, err := math.CheckedAddU64(dst.Balance, amount)
	if err != nil {
		return err
	}

	src.Balance -= amount
	dst.Balance = newDst
	return nil
}
