package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"AuctionLedger/internal/auction"
)

// Head is the tip of the persisted event chain.
type Head struct {
	Sequence  int64
	StateHash [32]byte
}

// LoadHead reads the last persisted sequence and state hash so the
// controller can continue the chain after a restart. A fresh database
// returns a zero Head: sequence 0 and the genesis chain tip.
func LoadHead(ctx context.Context, db *sql.DB) (Head, error) {
	var head Head
	var hash []byte

	err := db.QueryRowContext(ctx, `
		SELECT sequence, state_hash
		FROM event_log.events
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&head.Sequence, &hash)
	if err == sql.ErrNoRows {
		return Head{}, nil
	}
	if err != nil {
		return Head{}, fmt.Errorf("load event log head: %w", err)
	}
	if len(hash) != 32 {
		return Head{}, fmt.Errorf("load event log head: state hash is %d bytes", len(hash))
	}
	copy(head.StateHash[:], hash)
	return head, nil
}

// LoadOpenAuctions rebuilds the in-memory registry state from the
// auction projection on startup.
func LoadOpenAuctions(ctx context.Context, db *sql.DB) ([]auction.Auction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT vault, owner, start_ts
		FROM projections.auctions
		WHERE status = 'open'
	`)
	if err != nil {
		return nil, fmt.Errorf("load open auctions: %w", err)
	}
	defer rows.Close()

	var out []auction.Auction
	for rows.Next() {
		var a auction.Auction
		var start int64
		if err := rows.Scan(&a.VaultID, &a.Owner, &start); err != nil {
			return nil, fmt.Errorf("scan open auction: %w", err)
		}
		a.Start = uint32(start)
		out = append(out, a)
	}
	return out, rows.Err()
}
