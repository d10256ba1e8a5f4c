// Package position holds the debt vaults the liquidation engine operates
// on: per-vault collateral (ink) and normalized debt (art), grouped into
// series that carry the debt accrual factor used to convert between
// normalized debt and base currency.
package position

import (
	"errors"
	"sync"

	fpmath "AuctionLedger/internal/math"
)

var (
	ErrVaultNotFound   = errors.New("position: vault not found")
	ErrVaultExists     = errors.New("position: vault already exists")
	ErrSeriesNotFound  = errors.New("position: series not found")
	ErrExceedsBalances = errors.New("position: removal exceeds vault balances")
	ErrInvalidAmount   = errors.New("position: invalid amount")
	ErrInvalidRate     = errors.New("position: accrual rate must be positive")
)

// Series groups vaults denominated in the same debt instrument.
// Rate is the WAD-scaled accrual factor: base owed = art * Rate / WAD.
type Series struct {
	ID   string
	Rate int64
}

// Vault is the identity view of a vault; balances are read separately.
type Vault struct {
	ID       string
	Owner    string
	SeriesID string
}

// Balances is a point-in-time snapshot of a vault's collateral and debt.
type Balances struct {
	Ink int64 // collateral, base units
	Art int64 // normalized debt, base units
}

type record struct {
	owner    string
	seriesID string
	ink      int64
	art      int64
}

// Ledger is the in-process vault store. The liquidation controller
// consumes it through its own interface; the same methods serve the
// service binary and tests.
type Ledger struct {
	mu     sync.RWMutex
	series map[string]Series
	vaults map[string]*record
}

func NewLedger() *Ledger {
	return &Ledger{
		series: make(map[string]Series),
		vaults: make(map[string]*record),
	}
}

// AddSeries registers a debt series.
func (l *Ledger) AddSeries(s Series) error {
	if s.Rate <= 0 {
		return ErrInvalidRate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.series[s.ID] = s
	return nil
}

// CreateVault registers an empty vault for an owner in a series.
func (l *Ledger) CreateVault(id, owner, seriesID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.vaults[id]; ok {
		return ErrVaultExists
	}
	if _, ok := l.series[seriesID]; !ok {
		return ErrSeriesNotFound
	}
	l.vaults[id] = &record{owner: owner, seriesID: seriesID}
	return nil
}

// AdjustBalances adds collateral and debt to a vault. Negative deltas
// withdraw; balances never go below zero.
func (l *Ledger) AdjustBalances(id string, dInk, dArt int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.vaults[id]
	if !ok {
		return ErrVaultNotFound
	}
	if v.ink+dInk < 0 || v.art+dArt < 0 {
		return ErrInvalidAmount
	}
	v.ink += dInk
	v.art += dArt
	return nil
}

// ReadVault returns the vault's identity view.
func (l *Ledger) ReadVault(id string) (Vault, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v, ok := l.vaults[id]
	if !ok {
		return Vault{}, ErrVaultNotFound
	}
	return Vault{ID: id, Owner: v.owner, SeriesID: v.seriesID}, nil
}

// ReadBalances returns a snapshot of the vault's collateral and debt.
func (l *Ledger) ReadBalances(id string) (Balances, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v, ok := l.vaults[id]
	if !ok {
		return Balances{}, ErrVaultNotFound
	}
	return Balances{Ink: v.ink, Art: v.art}, nil
}

// Seize transfers the vault into the custodian's ownership for the
// duration of a liquidation.
func (l *Ledger) Seize(id, custodian string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.vaults[id]
	if !ok {
		return ErrVaultNotFound
	}
	v.owner = custodian
	return nil
}

// ReturnVault hands the vault back to the given owner.
func (l *Ledger) ReturnVault(id, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.vaults[id]
	if !ok {
		return ErrVaultNotFound
	}
	v.owner = owner
	return nil
}

// RemoveDebtAndCollateral deducts both amounts atomically. Fails without
// any change if either amount exceeds the vault's balance.
func (l *Ledger) RemoveDebtAndCollateral(id string, ink, art int64) error {
	if ink < 0 || art < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.vaults[id]
	if !ok {
		return ErrVaultNotFound
	}
	if ink > v.ink || art > v.art {
		return ErrExceedsBalances
	}
	v.ink -= ink
	v.art -= art
	return nil
}

// ConvertBaseToDebt converts a base-currency amount into normalized debt
// units, rounding down so the payer is never credited for more debt than
// the base covers.
func (l *Ledger) ConvertBaseToDebt(seriesID string, base int64) (int64, error) {
	l.mu.RLock()
	s, ok := l.series[seriesID]
	l.mu.RUnlock()
	if !ok {
		return 0, ErrSeriesNotFound
	}
	return fpmath.MulDiv(base, fpmath.WAD, s.Rate, fpmath.RoundDown)
}

// ConvertDebtToBase quotes the base currency owed for normalized debt,
// rounding up so the protocol never under-collects.
func (l *Ledger) ConvertDebtToBase(seriesID string, art int64) (int64, error) {
	l.mu.RLock()
	s, ok := l.series[seriesID]
	l.mu.RUnlock()
	if !ok {
		return 0, ErrSeriesNotFound
	}
	return fpmath.MulDiv(art, s.Rate, fpmath.WAD, fpmath.RoundUp)
}
