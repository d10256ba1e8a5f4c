package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAuctionStarted
	EventTypeCollateralBought
	EventTypeAuctionEnded
	EventTypeDurationUpdated
	EventTypeInitialOfferUpdated
	EventTypeDustUpdated
)

// Envelope wraps every event in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the controller
	Sequence int64

	// Stable idempotency key for dedup
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Vault context (empty for parameter events)
	Vault string

	// Controller-assigned event time
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 over the payload chained to the previous event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// VaultID returns the vault context (empty for parameter events)
	VaultID() string
}

func (et EventType) String() string {
	switch et {
	case EventTypeAuctionStarted:
		return "AuctionStarted"
	case EventTypeCollateralBought:
		return "CollateralBought"
	case EventTypeAuctionEnded:
		return "AuctionEnded"
	case EventTypeDurationUpdated:
		return "DurationUpdated"
	case EventTypeInitialOfferUpdated:
		return "InitialOfferUpdated"
	case EventTypeDustUpdated:
		return "DustUpdated"
	default:
		return "Unknown"
	}
}
