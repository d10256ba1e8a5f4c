package event

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "AuctionLedger:genesis:v1"

// ChainHasher links each log entry to its predecessor:
// hash[N] = SHA-256(prev_hash || sequence || payload).
type ChainHasher struct {
	prevHash [32]byte
}

// NewChainHasher initializes with the genesis hash.
func NewChainHasher() *ChainHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &ChainHasher{prevHash: genesis}
}

// Resume sets the chain tip, used when recovering from a persisted log.
func (h *ChainHasher) Resume(prev [32]byte) {
	h.prevHash = prev
}

// ComputeHash advances the chain over the next event.
func (h *ChainHasher) ComputeHash(sequence int64, payload []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(payload)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// PrevHash returns the current chain tip.
func (h *ChainHasher) PrevHash() [32]byte {
	return h.prevHash
}
