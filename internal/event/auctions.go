package event

import (
	"fmt"

	"github.com/google/uuid"
)

// AuctionStarted is emitted when a vault is seized and put up for
// liquidation.
type AuctionStarted struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Vault     string    `json:"vault"`
	Owner     string    `json:"owner"`
	Start     uint32    `json:"start"`
	Ink       int64     `json:"ink"`
	Art       int64     `json:"art"`
	Timestamp int64     `json:"timestamp"`
}

func (e *AuctionStarted) IdempotencyKey() string {
	return e.AuctionID.String()
}

func (e *AuctionStarted) EventType() EventType {
	return EventTypeAuctionStarted
}

func (e *AuctionStarted) VaultID() string {
	return e.Vault
}

// CollateralBought records a buy or payAll fill against an auction.
type CollateralBought struct {
	FillID    uuid.UUID `json:"fill_id"`
	Vault     string    `json:"vault"`
	Buyer     string    `json:"buyer"`
	Ink       int64     `json:"ink"`  // collateral released
	Art       int64     `json:"art"`  // normalized debt removed
	Base      int64     `json:"base"` // base currency paid
	Timestamp int64     `json:"timestamp"`
}

func (e *CollateralBought) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s", e.Vault, e.FillID)
}

func (e *CollateralBought) EventType() EventType {
	return EventTypeCollateralBought
}

func (e *CollateralBought) VaultID() string {
	return e.Vault
}

// AuctionEnded marks full repayment: the registry record is gone and the
// vault is back with its owner.
type AuctionEnded struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Vault     string    `json:"vault"`
	Owner     string    `json:"owner"`
	Timestamp int64     `json:"timestamp"`
}

func (e *AuctionEnded) IdempotencyKey() string {
	return fmt.Sprintf("%s:ended", e.AuctionID)
}

func (e *AuctionEnded) EventType() EventType {
	return EventTypeAuctionEnded
}

func (e *AuctionEnded) VaultID() string {
	return e.Vault
}
