package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command type discriminators carried in SubjectConfig.
const (
	CommandStartAuction = "StartAuction"
)

// StartAuctionCommand asks the controller to open an auction on a vault.
// CommandID is the idempotency key: a redelivered command with the same
// id is dropped, not re-applied.
type StartAuctionCommand struct {
	CommandID uuid.UUID
	Vault     string
	Requester string
	Timestamp time.Time
}

// IdempotencyKey returns the stable dedup key.
func (c StartAuctionCommand) IdempotencyKey() string {
	return c.CommandID.String()
}

// --- JSON wire format ---
// Field names use snake_case to match upstream producers.

type startAuctionJSON struct {
	CommandID   string `json:"command_id"`
	Vault       string `json:"vault"`
	Requester   string `json:"requester"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParseStartAuction converts raw JSON bytes into a validated command.
func ParseStartAuction(data []byte) (StartAuctionCommand, error) {
	var j startAuctionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return StartAuctionCommand{}, fmt.Errorf("parse StartAuction: %w", err)
	}

	commandID, err := uuid.Parse(j.CommandID)
	if err != nil {
		return StartAuctionCommand{}, fmt.Errorf("parse command_id: %w", err)
	}
	if j.Vault == "" {
		return StartAuctionCommand{}, fmt.Errorf("parse StartAuction: missing vault")
	}

	return StartAuctionCommand{
		CommandID: commandID,
		Vault:     j.Vault,
		Requester: j.Requester,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
