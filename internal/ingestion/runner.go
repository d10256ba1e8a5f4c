package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/liquidation"
	"AuctionLedger/internal/observability"
)

// AuctionStarter is the slice of the controller the command runner needs.
type AuctionStarter interface {
	StartAuction(ctx context.Context, vaultID string) (auction.Auction, error)
}

// Runner drains the command channel: parse, dedupe, apply, ack. Commands
// are acked whatever the outcome; a failed start is an answer, not a
// reason for JetStream to redeliver. Only a cancelled context naks.
type Runner struct {
	commands <-chan RawCommand
	starter  AuctionStarter
	dedup    *IdempotencyChecker
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func NewRunner(
	commands <-chan RawCommand,
	starter AuctionStarter,
	dedup *IdempotencyChecker,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Runner {
	return &Runner{
		commands: commands,
		starter:  starter,
		dedup:    dedup,
		log:      log,
		metrics:  metrics,
	}
}

// Run processes commands until ctx is cancelled or the channel closes.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-r.commands:
			if !ok {
				return nil
			}
			r.handle(ctx, raw)
		}
	}
}

func (r *Runner) handle(ctx context.Context, raw RawCommand) {
	if r.metrics != nil {
		r.metrics.CommandsReceived.WithLabelValues(CommandStartAuction).Inc()
	}

	cmd, err := ParseStartAuction(raw.Data)
	if err != nil {
		// Malformed payloads never parse on redelivery either.
		r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("command parse failed")
		r.rejected("parse")
		raw.AckFunc()
		return
	}

	if r.dedup != nil && r.dedup.IsDuplicate(CommandStartAuction, cmd.IdempotencyKey()) {
		r.rejected("duplicate")
		raw.AckFunc()
		return
	}

	if _, err := r.starter.StartAuction(ctx, cmd.Vault); err != nil {
		if ctx.Err() != nil {
			raw.NakFunc()
			return
		}
		if errors.Is(err, liquidation.ErrAlreadyUnderAuction) {
			r.rejected("already_under_auction")
		} else {
			r.rejected("apply")
			r.log.Warn().Err(err).Str("vault", cmd.Vault).Msg("start auction command failed")
		}
		raw.AckFunc()
		return
	}

	if r.dedup != nil {
		r.dedup.MarkProcessed(CommandStartAuction, cmd.IdempotencyKey())
	}
	raw.AckFunc()
}

func (r *Runner) rejected(reason string) {
	if r.metrics != nil {
		r.metrics.CommandsRejected.WithLabelValues(CommandStartAuction, reason).Inc()
	}
}
