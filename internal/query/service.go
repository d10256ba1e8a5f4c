package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"AuctionLedger/internal/event"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("query: not found")

// Service provides read-only access to the auction projection and the
// event log. Live registry state (current price, open record) is served
// by the controller; this service answers history questions. All
// responses include as_of_sequence for freshness semantics.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetAuction returns the projected auction row for a vault, whether the
// auction is open or already closed.
func (s *Service) GetAuction(ctx context.Context, vault string) (*AuctionHistoryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var r AuctionHistoryResponse
	err = s.db.QueryRowContext(ctx, `
		SELECT vault, owner, start_ts, ink_start, art_start,
		       ink_remaining, art_remaining, status
		FROM projections.auctions
		WHERE vault = $1
	`, vault).Scan(
		&r.Vault, &r.Owner, &r.Start, &r.InkStart, &r.ArtStart,
		&r.InkRemaining, &r.ArtRemaining, &r.Status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.AsOfSequence = asOfSeq
	return &r, nil
}

// ListAuctions returns projected auctions, optionally filtered by status
// ("open" or "closed"), newest first.
func (s *Service) ListAuctions(ctx context.Context, status string, limit int) ([]AuctionHistoryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT vault, owner, start_ts, ink_start, art_start,
		       ink_remaining, art_remaining, status
		FROM projections.auctions
		WHERE ($1 = '' OR status = $1)
		ORDER BY start_ts DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuctionHistoryResponse
	for rows.Next() {
		var r AuctionHistoryResponse
		if err := rows.Scan(
			&r.Vault, &r.Owner, &r.Start, &r.InkStart, &r.ArtStart,
			&r.InkRemaining, &r.ArtRemaining, &r.Status,
		); err != nil {
			return nil, err
		}
		r.AsOfSequence = asOfSeq
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetEvents returns event log rows for a vault, newest first.
func (s *Service) GetEvents(ctx context.Context, vault string, limit int) ([]EventResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, COALESCE(vault, ''), payload,
		       (EXTRACT(EPOCH FROM timestamp) * 1000)::BIGINT
		FROM event_log.events
		WHERE ($1 = '' OR vault = $1)
		ORDER BY sequence DESC
		LIMIT $2
	`, vault, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventResponse
	for rows.Next() {
		var r EventResponse
		if err := rows.Scan(
			&r.Sequence, &r.EventType, &r.IdempotencyKey, &r.Vault,
			&r.Payload, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VerifyIntegrity recomputes the hash chain over the whole event log,
// reporting every sequence whose stored hash does not match along with
// any gaps in the sequence numbering.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, payload, state_hash
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &IntegrityReport{IsHealthy: true}
	hasher := event.NewChainHasher()
	expected := int64(1)

	for rows.Next() {
		var seq int64
		var payload, stored []byte
		if err := rows.Scan(&seq, &payload, &stored); err != nil {
			return nil, err
		}
		report.EventsChecked++

		if seq != expected {
			report.IsHealthy = false
			report.SequenceGaps = append(report.SequenceGaps, seq)
		}
		expected = seq + 1

		computed := hasher.ComputeHash(seq, payload)
		if len(stored) != 32 || computed != [32]byte(stored) {
			report.IsHealthy = false
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
			// Re-anchor on the stored hash so one break does not flag
			// every later event.
			if len(stored) == 32 {
				hasher.Resume([32]byte(stored))
			}
		}
	}
	return report, rows.Err()
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'auctions'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
