// Package token implements the fungible-balance ledger: per-account
// balances, total supply, and spender allowances for a single asset.
// The settlement router moves repayment and collateral through two of
// these ledgers.
package token

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrSupplyOverflow        = errors.New("token: total supply overflow")
)

// MaxAllowance marks an unlimited approval; transfers do not draw it down.
const MaxAllowance int64 = math.MaxInt64

// Ledger tracks balances and allowances for one asset. All methods are
// safe for concurrent use; settlements for different vaults run in
// parallel against the same ledgers.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[string]int64
	allowances map[string]map[string]int64
	supply     int64
}

func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

// Mint credits an account and grows the total supply.
func (l *Ledger) Mint(account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.supply > math.MaxInt64-amount {
		return ErrSupplyOverflow
	}
	l.supply += amount
	l.balances[account] += amount
	return nil
}

// Burn debits an account and shrinks the total supply.
func (l *Ledger) Burn(account string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[account] < amount {
		return ErrInsufficientBalance
	}
	l.balances[account] -= amount
	l.supply -= amount
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// Approve sets the allowance a spender may draw from an owner's balance.
// MaxAllowance never decrements. A zero amount revokes.
func (l *Ledger) Approve(owner, spender string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == 0 {
		delete(l.allowances[owner], spender)
		return nil
	}
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]int64)
	}
	l.allowances[owner][spender] = amount
	return nil
}

// TransferFrom moves amount from the owner's balance on behalf of the
// spender, drawing down the spender's allowance unless it is unlimited.
func (l *Ledger) TransferFrom(spender, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowances[from][spender]
	if allowed < amount {
		return ErrInsufficientAllowance
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	if allowed != MaxAllowance {
		l.allowances[from][spender] = allowed - amount
	}
	return nil
}

func (l *Ledger) BalanceOf(account string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

func (l *Ledger) Allowance(owner, spender string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[owner][spender]
}

func (l *Ledger) TotalSupply() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply
}

// move assumes l.mu is held.
func (l *Ledger) move(from, to string, amount int64) error {
	if l.balances[from] < amount {
		return ErrInsufficientBalance
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}
