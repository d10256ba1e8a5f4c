package persistence

import (
	"context"
	"testing"
	"time"

	"AuctionLedger/internal/event"
	"AuctionLedger/internal/testutil"
)

func TestExtractVersion(t *testing.T) {
	cases := map[string]string{
		"000001_event_log.up.sql":          "000001",
		"000002_projections.down.sql":      "000002",
		"000003_processed_commands.up.sql": "000003",
		"noversion.sql":                    "noversion.sql",
	}
	for in, want := range cases {
		if got := extractVersion(in); got != want {
			t.Errorf("extractVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func chainedRows(n int) []EventRow {
	hasher := event.NewChainHasher()
	rows := make([]EventRow, 0, n)
	vault := "vault-1"
	for i := 1; i <= n; i++ {
		payload := []byte(`{"vault":"vault-1"}`)
		prev := hasher.PrevHash()
		hash := hasher.ComputeHash(int64(i), payload)
		rows = append(rows, EventRow{
			Sequence:       int64(i),
			EventType:      event.EventTypeCollateralBought.String(),
			IdempotencyKey: "fill-" + string(rune('a'+i)),
			Vault:          &vault,
			Payload:        payload,
			StateHash:      hash[:],
			PrevHash:       prev[:],
			Timestamp:      time.Unix(1_700_000_000+int64(i), 0).UTC(),
		})
	}
	return rows
}

func TestWorkerPersistsAndRecoversHead(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	input := make(chan EventRow, 8)
	worker := NewWorker(db, input, 2, 20*time.Millisecond, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		worker.Run(runCtx)
		close(done)
	}()

	rows := chainedRows(3)
	for _, r := range rows {
		input <- r
	}
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	head, err := LoadHead(ctx, db)
	if err != nil {
		t.Fatalf("LoadHead: %v", err)
	}
	if head.Sequence != 3 {
		t.Errorf("head sequence = %d, want 3", head.Sequence)
	}
	if string(head.StateHash[:]) != string(rows[2].StateHash) {
		t.Errorf("head hash does not match last written row")
	}
}

func TestWriteEventBatchIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	writer := NewEventLogWriter(db)
	rows := chainedRows(2)

	for i := 0; i < 2; i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := writer.WriteEventBatch(ctx, tx, rows); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("row count after re-flush = %d, want 2", count)
	}
}

func TestLoadHeadEmptyLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	head, err := LoadHead(ctx, db)
	if err != nil {
		t.Fatalf("LoadHead: %v", err)
	}
	if head.Sequence != 0 {
		t.Errorf("fresh head sequence = %d, want 0", head.Sequence)
	}
}
