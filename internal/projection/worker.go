package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"AuctionLedger/internal/event"
)

// Update mirrors the controller output for projection consumption.
// The orchestrator (cmd/auctionledger) bridges between the two.
type Update struct {
	Sequence  int64
	EventType event.EventType
	Vault     string
	Payload   []byte
}

// Worker maintains the projections.auctions table from processed events.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Update
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Update) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case update, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.apply(ctx, update); err != nil {
				// Continue: projections are eventually consistent and can
				// be rebuilt from the event log.
				log.Printf("WARN: projection update failed at seq=%d: %v", update.Sequence, err)
			}
			pw.lastSeq = update.Sequence
		}
	}
}

func (pw *Worker) apply(ctx context.Context, update Update) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch update.EventType {
	case event.EventTypeAuctionStarted:
		var e event.AuctionStarted
		if err := json.Unmarshal(update.Payload, &e); err != nil {
			return fmt.Errorf("decode AuctionStarted: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.auctions
				(vault, owner, start_ts, ink_start, art_start, ink_remaining, art_remaining, status, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $4, $5, 'open', $6)
			ON CONFLICT (vault) DO UPDATE SET
				owner = $2, start_ts = $3,
				ink_start = $4, art_start = $5,
				ink_remaining = $4, art_remaining = $5,
				status = 'open', closed_ts = NULL, last_sequence = $6
		`, e.Vault, e.Owner, int64(e.Start), e.Ink, e.Art, update.Sequence); err != nil {
			return fmt.Errorf("auction row insert: %w", err)
		}

	case event.EventTypeCollateralBought:
		var e event.CollateralBought
		if err := json.Unmarshal(update.Payload, &e); err != nil {
			return fmt.Errorf("decode CollateralBought: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.auctions SET
				ink_remaining = ink_remaining - $2,
				art_remaining = art_remaining - $3,
				last_sequence = $4
			WHERE vault = $1
		`, e.Vault, e.Ink, e.Art, update.Sequence); err != nil {
			return fmt.Errorf("auction row update: %w", err)
		}

	case event.EventTypeAuctionEnded:
		var e event.AuctionEnded
		if err := json.Unmarshal(update.Payload, &e); err != nil {
			return fmt.Errorf("decode AuctionEnded: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.auctions SET
				status = 'closed',
				closed_ts = to_timestamp($2::double precision / 1000),
				last_sequence = $3
			WHERE vault = $1
		`, e.Vault, e.Timestamp, update.Sequence); err != nil {
			return fmt.Errorf("auction row close: %w", err)
		}

	default:
		// Parameter updates carry no projection state.
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('auctions', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, update.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Rebuild truncates the auction projection and replays the event log.
func Rebuild(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `TRUNCATE projections.auctions`); err != nil {
		return fmt.Errorf("truncate projections: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, COALESCE(vault, ''), payload
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	defer rows.Close()

	pw := &Worker{db: db}
	for rows.Next() {
		var update Update
		var eventType string
		if err := rows.Scan(&update.Sequence, &eventType, &update.Vault, &update.Payload); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		update.EventType = parseEventType(eventType)
		if err := pw.apply(ctx, update); err != nil {
			return fmt.Errorf("replay seq=%d: %w", update.Sequence, err)
		}
	}
	return rows.Err()
}

func parseEventType(s string) event.EventType {
	for _, et := range []event.EventType{
		event.EventTypeAuctionStarted,
		event.EventTypeCollateralBought,
		event.EventTypeAuctionEnded,
		event.EventTypeDurationUpdated,
		event.EventTypeInitialOfferUpdated,
		event.EventTypeDustUpdated,
	} {
		if et.String() == s {
			return et
		}
	}
	return event.EventTypeUnknown
}
