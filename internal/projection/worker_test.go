package projection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"AuctionLedger/internal/event"
	"AuctionLedger/internal/persistence"
	"AuctionLedger/internal/testutil"
)

func TestParseEventType(t *testing.T) {
	if got := parseEventType("AuctionStarted"); got != event.EventTypeAuctionStarted {
		t.Errorf("parseEventType(AuctionStarted) = %v", got)
	}
	if got := parseEventType("bogus"); got != event.EventTypeUnknown {
		t.Errorf("parseEventType(bogus) = %v, want unknown", got)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestProjectionLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pw := &Worker{db: db}

	started := event.AuctionStarted{
		AuctionID: uuid.New(),
		Vault:     "vault-1",
		Owner:     "alice",
		Start:     1_700_000_000,
		Ink:       100,
		Art:       100,
		Timestamp: 1_700_000_000_000,
	}
	if err := pw.apply(ctx, Update{
		Sequence:  1,
		EventType: event.EventTypeAuctionStarted,
		Vault:     "vault-1",
		Payload:   mustJSON(t, started),
	}); err != nil {
		t.Fatalf("apply started: %v", err)
	}

	open, err := persistence.LoadOpenAuctions(ctx, db)
	if err != nil {
		t.Fatalf("LoadOpenAuctions: %v", err)
	}
	if len(open) != 1 || open[0].VaultID != "vault-1" || open[0].Owner != "alice" {
		t.Fatalf("open auctions = %+v", open)
	}
	if open[0].Start != 1_700_000_000 {
		t.Errorf("start = %d", open[0].Start)
	}

	bought := event.CollateralBought{
		FillID:    uuid.New(),
		Vault:     "vault-1",
		Buyer:     "buyer",
		Ink:       40,
		Art:       40,
		Base:      40,
		Timestamp: 1_700_000_100_000,
	}
	if err := pw.apply(ctx, Update{
		Sequence:  2,
		EventType: event.EventTypeCollateralBought,
		Vault:     "vault-1",
		Payload:   mustJSON(t, bought),
	}); err != nil {
		t.Fatalf("apply bought: %v", err)
	}

	var inkRem, artRem int64
	if err := db.QueryRowContext(ctx, `
		SELECT ink_remaining, art_remaining FROM projections.auctions WHERE vault = 'vault-1'
	`).Scan(&inkRem, &artRem); err != nil {
		t.Fatalf("read remaining: %v", err)
	}
	if inkRem != 60 || artRem != 60 {
		t.Errorf("remaining = %d/%d, want 60/60", inkRem, artRem)
	}

	ended := event.AuctionEnded{
		AuctionID: uuid.New(),
		Vault:     "vault-1",
		Owner:     "alice",
		Timestamp: 1_700_000_200_000,
	}
	if err := pw.apply(ctx, Update{
		Sequence:  3,
		EventType: event.EventTypeAuctionEnded,
		Vault:     "vault-1",
		Payload:   mustJSON(t, ended),
	}); err != nil {
		t.Fatalf("apply ended: %v", err)
	}

	open, err = persistence.LoadOpenAuctions(ctx, db)
	if err != nil {
		t.Fatalf("LoadOpenAuctions after close: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("open auctions after close = %+v", open)
	}

	var lastSeq int64
	if err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'auctions'
	`).Scan(&lastSeq); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if lastSeq != 3 {
		t.Errorf("watermark = %d, want 3", lastSeq)
	}
}
