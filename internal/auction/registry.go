// Package auction tracks which vaults are under liquidation. The registry
// is a pure bookkeeping store: one record per vault, created when an
// auction starts and removed when the debt reaches zero. Pricing and
// settlement live elsewhere.
package auction

import (
	"errors"
	"sync"
)

var (
	ErrAlreadyUnderAuction = errors.New("auction: vault already under auction")
	ErrNotFound            = errors.New("auction: no auction for vault")
)

// Auction is the record kept for a vault under liquidation.
// Start is wall-clock seconds truncated to 32 bits; elapsed time is
// computed with wrapping uint32 subtraction.
type Auction struct {
	VaultID string
	Owner   string
	Start   uint32
}

// Registry holds the active auctions keyed by vault id. Reads and writes
// are individually safe; operation-level atomicity (check then start) is
// the controller's job via its per-vault locks.
type Registry struct {
	mu       sync.RWMutex
	auctions map[string]Auction
}

func NewRegistry() *Registry {
	return &Registry{
		auctions: make(map[string]Auction),
	}
}

// Start records a new auction. Fails if the vault already has one.
func (r *Registry) Start(vaultID, owner string, start uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[vaultID]; exists {
		return ErrAlreadyUnderAuction
	}
	r.auctions[vaultID] = Auction{VaultID: vaultID, Owner: owner, Start: start}
	return nil
}

// Get returns the auction record for a vault, if any.
func (r *Registry) Get(vaultID string) (Auction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[vaultID]
	return a, ok
}

// Close removes the auction record. Closing a vault with no record is an
// explicit ErrNotFound rather than a silent no-op, so double closes
// surface as bugs.
func (r *Registry) Close(vaultID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.auctions[vaultID]; !exists {
		return ErrNotFound
	}
	delete(r.auctions, vaultID)
	return nil
}

// Restore reinstates a record during startup recovery, replacing any
// existing one. Used when rebuilding registry state from the auction
// projection.
func (r *Registry) Restore(a Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[a.VaultID] = a
}

// Count returns the number of active auctions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.auctions)
}

// Active returns a snapshot of all active auctions.
func (r *Registry) Active() []Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, a)
	}
	return out
}
