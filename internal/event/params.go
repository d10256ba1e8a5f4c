package event

import (
	"github.com/google/uuid"
)

// DurationUpdated records an admin change of the auction duration.
type DurationUpdated struct {
	UpdateID  uuid.UUID `json:"update_id"`
	Duration  uint32    `json:"duration"`
	Timestamp int64     `json:"timestamp"`
}

func (e *DurationUpdated) IdempotencyKey() string {
	return e.UpdateID.String()
}

func (e *DurationUpdated) EventType() EventType {
	return EventTypeDurationUpdated
}

func (e *DurationUpdated) VaultID() string {
	return ""
}

// InitialOfferUpdated records an admin change of the starting proportion.
type InitialOfferUpdated struct {
	UpdateID     uuid.UUID `json:"update_id"`
	InitialOffer int64     `json:"initial_offer"` // WAD
	Timestamp    int64     `json:"timestamp"`
}

func (e *InitialOfferUpdated) IdempotencyKey() string {
	return e.UpdateID.String()
}

func (e *InitialOfferUpdated) EventType() EventType {
	return EventTypeInitialOfferUpdated
}

func (e *InitialOfferUpdated) VaultID() string {
	return ""
}

// DustUpdated records an admin change of the minimum remaining collateral.
type DustUpdated struct {
	UpdateID  uuid.UUID `json:"update_id"`
	Dust      int64     `json:"dust"`
	Timestamp int64     `json:"timestamp"`
}

func (e *DustUpdated) IdempotencyKey() string {
	return e.UpdateID.String()
}

func (e *DustUpdated) EventType() EventType {
	return EventTypeDustUpdated
}

func (e *DustUpdated) VaultID() string {
	return ""
}
