package query

import "encoding/json"

// AuctionHistoryResponse is one row of the auction projection.
type AuctionHistoryResponse struct {
	Vault        string `json:"vault"`
	Owner        string `json:"owner"`
	Start        int64  `json:"start"`
	InkStart     int64  `json:"ink_start"`
	ArtStart     int64  `json:"art_start"`
	InkRemaining int64  `json:"ink_remaining"`
	ArtRemaining int64  `json:"art_remaining"`
	Status       string `json:"status"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// EventResponse is one row of the event log. Payload is the stored JSON
// document, passed through untouched.
type EventResponse struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Vault          string          `json:"vault,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      int64           `json:"timestamp"`
}

// IntegrityReport is the result of a verification pass over the event
// log: hash chain recomputation plus sequence continuity.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	EventsChecked   int64   `json:"events_checked"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}
