// Package liquidation orchestrates decaying-price Dutch auctions over
// under-collateralized debt vaults: starting an auction seizes the vault,
// buys exchange base currency for collateral at the current price, and
// full repayment returns the vault to its owner.
package liquidation

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/event"
	fpmath "AuctionLedger/internal/math"
	"AuctionLedger/internal/observability"
	"AuctionLedger/internal/position"
	"AuctionLedger/internal/pricing"
)

var (
	// ErrAlreadyUnderAuction aliases the registry error for callers that
	// only import this package.
	ErrAlreadyUnderAuction = auction.ErrAlreadyUnderAuction

	ErrNothingToBuy     = errors.New("liquidation: nothing to buy")
	ErrSlippageExceeded = errors.New("liquidation: collateral below requested minimum")
	ErrDustLeft         = errors.New("liquidation: purchase would leave dust collateral")
	ErrInvalidParameter = errors.New("liquidation: invalid parameter")
	ErrExceedsDebt      = errors.New("liquidation: repayment exceeds vault debt")
)

// PositionLedger is the vault system the controller operates on.
type PositionLedger interface {
	ReadVault(id string) (position.Vault, error)
	ReadBalances(id string) (position.Balances, error)
	Seize(id, custodian string) error
	ReturnVault(id, owner string) error
	RemoveDebtAndCollateral(id string, ink, art int64) error
	ConvertBaseToDebt(seriesID string, base int64) (int64, error)
	ConvertDebtToBase(seriesID string, art int64) (int64, error)
}

// SettlementRouter moves the assets of a fill: repayment from the buyer,
// collateral to the recipient.
type SettlementRouter interface {
	Settle(vaultID, buyer, recipient string, collateral, repayment int64) error
}

// Params are the auction parameters. Each operation works against a
// snapshot taken at its start, so a concurrent update never yields a
// price mixing old and new values.
type Params struct {
	Duration     uint32 // seconds from initial offer to full proportion
	InitialOffer int64  // WAD proportion offered at start, <= WAD
	Dust         int64  // minimum collateral a partial buy may leave
}

func (p Params) validate() error {
	if p.InitialOffer < 0 || p.InitialOffer > fpmath.WAD {
		return ErrInvalidParameter
	}
	if p.Dust < 0 {
		return ErrInvalidParameter
	}
	return nil
}

// Output pairs an envelope with its event for the downstream workers.
type Output struct {
	Envelope event.Envelope
	Event    event.Event
}

// Config wires a Controller.
type Config struct {
	Registry  *auction.Registry
	Vaults    PositionLedger
	Router    SettlementRouter
	Custodian string // account that owns seized vaults
	Params    Params

	// PersistChan gets a blocking send per event: if the persistence
	// worker falls behind, operations stall rather than lose events.
	PersistChan chan<- Output
	// PublishChan and ProjectionChan get non-blocking sends with drop;
	// both are rebuildable from the event log.
	PublishChan    chan<- Output
	ProjectionChan chan<- Output

	Logger  zerolog.Logger
	Metrics *observability.Metrics

	// Now defaults to time.Now. Tests inject a clock.
	Now func() time.Time

	// StartSequence and ResumeHash continue a persisted event chain.
	StartSequence int64
	ResumeHash    *[32]byte
}

// Controller implements the liquidation state machine. Same-vault
// operations are serialized by a keyed lock; distinct vaults proceed in
// parallel.
type Controller struct {
	registry  *auction.Registry
	vaults    PositionLedger
	router    SettlementRouter
	custodian string

	paramsMu sync.Mutex
	params   Params

	locks *keyedLocks

	seqMu  sync.Mutex
	seq    int64
	hasher *event.ChainHasher

	persistCh    chan<- Output
	publishCh    chan<- Output
	projectionCh chan<- Output

	now     func() time.Time
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(cfg Config) (*Controller, error) {
	if cfg.Registry == nil || cfg.Vaults == nil || cfg.Router == nil {
		return nil, errors.New("liquidation: registry, vaults and router are required")
	}
	if err := cfg.Params.validate(); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	hasher := event.NewChainHasher()
	if cfg.ResumeHash != nil {
		hasher.Resume(*cfg.ResumeHash)
	}
	return &Controller{
		registry:     cfg.Registry,
		vaults:       cfg.Vaults,
		router:       cfg.Router,
		custodian:    cfg.Custodian,
		params:       cfg.Params,
		locks:        newKeyedLocks(),
		seq:          cfg.StartSequence,
		hasher:       hasher,
		persistCh:    cfg.PersistChan,
		publishCh:    cfg.PublishChan,
		projectionCh: cfg.ProjectionChan,
		now:          now,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}, nil
}

// Params returns a snapshot of the current auction parameters.
func (c *Controller) Params() Params {
	c.paramsMu.Lock()
	defer c.paramsMu.Unlock()
	return c.params
}

// SetDuration updates the auction duration. Zero is allowed: auctions
// offer the full proportion immediately.
func (c *Controller) SetDuration(ctx context.Context, d uint32) error {
	c.paramsMu.Lock()
	c.params.Duration = d
	c.paramsMu.Unlock()

	c.emit(&event.DurationUpdated{
		UpdateID:  uuid.New(),
		Duration:  d,
		Timestamp: c.now().UnixMilli(),
	})
	c.log.Info().Uint32("duration", d).Msg("auction duration updated")
	return nil
}

// SetInitialOffer updates the starting proportion; must not exceed WAD.
func (c *Controller) SetInitialOffer(ctx context.Context, offer int64) error {
	if offer < 0 || offer > fpmath.WAD {
		return ErrInvalidParameter
	}
	c.paramsMu.Lock()
	c.params.InitialOffer = offer
	c.paramsMu.Unlock()

	c.emit(&event.InitialOfferUpdated{
		UpdateID:     uuid.New(),
		InitialOffer: offer,
		Timestamp:    c.now().UnixMilli(),
	})
	c.log.Info().Int64("initial_offer", offer).Msg("initial offer updated")
	return nil
}

// SetDust updates the minimum collateral a partial buy may leave behind.
func (c *Controller) SetDust(ctx context.Context, dust int64) error {
	if dust < 0 {
		return ErrInvalidParameter
	}
	c.paramsMu.Lock()
	c.params.Dust = dust
	c.paramsMu.Unlock()

	c.emit(&event.DustUpdated{
		UpdateID:  uuid.New(),
		Dust:      dust,
		Timestamp: c.now().UnixMilli(),
	})
	c.log.Info().Int64("dust", dust).Msg("dust threshold updated")
	return nil
}

// StartAuction seizes the vault and opens its auction. The registry write
// is rolled back if the seize fails, so a failed start leaves no record.
func (c *Controller) StartAuction(ctx context.Context, vaultID string) (auction.Auction, error) {
	defer c.observe("start_auction", time.Now())
	unlock := c.locks.lock(vaultID)
	defer unlock()

	if _, open := c.registry.Get(vaultID); open {
		c.reject("start_auction", "already_under_auction")
		return auction.Auction{}, ErrAlreadyUnderAuction
	}

	v, err := c.vaults.ReadVault(vaultID)
	if err != nil {
		c.reject("start_auction", "vault_read")
		return auction.Auction{}, err
	}
	bal, err := c.vaults.ReadBalances(vaultID)
	if err != nil {
		c.reject("start_auction", "vault_read")
		return auction.Auction{}, err
	}

	start := uint32(c.now().Unix())
	if err := c.registry.Start(vaultID, v.Owner, start); err != nil {
		return auction.Auction{}, err
	}
	if err := c.vaults.Seize(vaultID, c.custodian); err != nil {
		// Undo the registry write so the failed start leaves no trace.
		c.registry.Close(vaultID)
		c.reject("start_auction", "seize")
		return auction.Auction{}, err
	}

	if c.metrics != nil {
		c.metrics.AuctionsStarted.Inc()
		c.metrics.AuctionsActive.Set(float64(c.registry.Count()))
	}
	c.emit(&event.AuctionStarted{
		AuctionID: uuid.New(),
		Vault:     vaultID,
		Owner:     v.Owner,
		Start:     start,
		Ink:       bal.Ink,
		Art:       bal.Art,
		Timestamp: c.now().UnixMilli(),
	})
	c.log.Info().
		Str("vault", vaultID).
		Str("owner", v.Owner).
		Int64("ink", bal.Ink).
		Int64("art", bal.Art).
		Msg("auction started")

	return auction.Auction{VaultID: vaultID, Owner: v.Owner, Start: start}, nil
}

// Buy pays base currency into the auction and receives collateral at the
// current price. min is the buyer's slippage bound on collateral out.
func (c *Controller) Buy(ctx context.Context, vaultID, buyer string, base, min int64) (int64, error) {
	defer c.observe("buy", time.Now())
	if base <= 0 || min < 0 {
		c.reject("buy", "invalid_parameter")
		return 0, ErrInvalidParameter
	}
	unlock := c.locks.lock(vaultID)
	defer unlock()
	return c.fill(vaultID, buyer, base, min, false)
}

// PayAll repays the vault's entire remaining debt in one fill, however
// much base that costs, and closes the auction.
func (c *Controller) PayAll(ctx context.Context, vaultID, buyer string, min int64) (int64, error) {
	defer c.observe("payall", time.Now())
	if min < 0 {
		c.reject("payall", "invalid_parameter")
		return 0, ErrInvalidParameter
	}
	unlock := c.locks.lock(vaultID)
	defer unlock()
	return c.fill(vaultID, buyer, 0, min, true)
}

// fill is the shared buy/payAll routine. The caller holds the vault lock.
// All checks run against one balances snapshot; the settlement transfer
// is the only step that can fail once checks pass, and it runs before any
// vault mutation, so a failed fill changes nothing.
func (c *Controller) fill(vaultID, buyer string, base, min int64, payAll bool) (int64, error) {
	op := "buy"
	if payAll {
		op = "payall"
	}
	params := c.Params()

	auc, open := c.registry.Get(vaultID)
	if !open {
		c.reject(op, "no_auction")
		return 0, ErrNothingToBuy
	}

	bal, err := c.vaults.ReadBalances(vaultID)
	if err != nil {
		return 0, err
	}
	if bal.Art == 0 {
		c.reject(op, "no_debt")
		return 0, ErrNothingToBuy
	}
	v, err := c.vaults.ReadVault(vaultID)
	if err != nil {
		return 0, err
	}

	var artIn int64
	if payAll {
		artIn = bal.Art
		base, err = c.vaults.ConvertDebtToBase(v.SeriesID, artIn)
		if err != nil {
			return 0, err
		}
	} else {
		artIn, err = c.vaults.ConvertBaseToDebt(v.SeriesID, base)
		if err != nil {
			return 0, err
		}
		if artIn == 0 {
			c.reject(op, "no_debt")
			return 0, ErrNothingToBuy
		}
		if artIn > bal.Art {
			c.reject(op, "exceeds_debt")
			return 0, ErrExceedsDebt
		}
	}

	// Elapsed is 32-bit wall-clock arithmetic; wrapping subtraction keeps
	// auctions priceable across the 2106 rollover.
	elapsed := uint32(c.now().Unix()) - auc.Start
	price, err := pricing.Price(bal.Ink, bal.Art, params.InitialOffer, params.Duration, elapsed)
	if err != nil {
		return 0, err
	}

	// inkOut = artIn * price / WAD, rounded down. price <= ink*WAD/art
	// and artIn <= art guarantee inkOut <= ink.
	inkOutBig, err := fpmath.MulDivBig(big.NewInt(artIn), price, fpmath.WadBig(), fpmath.RoundDown)
	if err != nil {
		return 0, err
	}
	inkOut, err := fpmath.ToInt64(inkOutBig)
	if err != nil {
		return 0, err
	}

	if inkOut < min {
		c.reject(op, "slippage")
		return 0, ErrSlippageExceeded
	}
	if inkOut != bal.Ink && bal.Ink-inkOut < params.Dust {
		c.reject(op, "dust")
		return 0, ErrDustLeft
	}

	if err := c.router.Settle(vaultID, buyer, buyer, inkOut, base); err != nil {
		c.reject(op, "settlement")
		return 0, err
	}
	if err := c.vaults.RemoveDebtAndCollateral(vaultID, inkOut, artIn); err != nil {
		// Checks above make this unreachable while the vault lock is
		// held; a failure here means the settlement leg already moved.
		c.log.Error().Err(err).Str("vault", vaultID).Msg("vault update failed after settlement")
		return 0, err
	}

	now := c.now().UnixMilli()
	c.emit(&event.CollateralBought{
		FillID:    uuid.New(),
		Vault:     vaultID,
		Buyer:     buyer,
		Ink:       inkOut,
		Art:       artIn,
		Base:      base,
		Timestamp: now,
	})

	if c.metrics != nil {
		c.metrics.BuysTotal.WithLabelValues(op, "ok").Inc()
		c.metrics.CollateralBought.Add(float64(inkOut))
		c.metrics.DebtRepaid.Add(float64(artIn))
	}
	c.log.Info().
		Str("vault", vaultID).
		Str("buyer", buyer).
		Int64("base", base).
		Int64("art", artIn).
		Int64("ink", inkOut).
		Msg("collateral bought")

	if bal.Art-artIn == 0 {
		c.closeAuction(vaultID, auc, op)
	}
	return inkOut, nil
}

// closeAuction returns the vault to its recorded owner and removes the
// registry entry. The caller holds the vault lock.
func (c *Controller) closeAuction(vaultID string, auc auction.Auction, trigger string) {
	if err := c.vaults.ReturnVault(vaultID, auc.Owner); err != nil {
		c.log.Error().Err(err).Str("vault", vaultID).Msg("vault return failed")
	}
	if err := c.registry.Close(vaultID); err != nil {
		c.log.Error().Err(err).Str("vault", vaultID).Msg("registry close failed")
	}

	if c.metrics != nil {
		c.metrics.AuctionsClosed.WithLabelValues(trigger).Inc()
		c.metrics.AuctionsActive.Set(float64(c.registry.Count()))
	}
	c.emit(&event.AuctionEnded{
		AuctionID: uuid.New(),
		Vault:     vaultID,
		Owner:     auc.Owner,
		Timestamp: c.now().UnixMilli(),
	})
	c.log.Info().Str("vault", vaultID).Str("owner", auc.Owner).Msg("auction ended")
}

// Auction returns the open auction record for a vault, if any.
func (c *Controller) Auction(vaultID string) (auction.Auction, bool) {
	return c.registry.Get(vaultID)
}

// CurrentPrice quotes the WAD-scaled collateral-per-debt price right now.
// Advisory: the price a buy settles at is computed under the vault lock.
func (c *Controller) CurrentPrice(vaultID string) (*big.Int, error) {
	auc, open := c.registry.Get(vaultID)
	if !open {
		return nil, ErrNothingToBuy
	}
	bal, err := c.vaults.ReadBalances(vaultID)
	if err != nil {
		return nil, err
	}
	if bal.Art == 0 {
		return nil, ErrNothingToBuy
	}
	params := c.Params()
	elapsed := uint32(c.now().Unix()) - auc.Start
	return pricing.Price(bal.Ink, bal.Art, params.InitialOffer, params.Duration, elapsed)
}

// Sequence returns the last assigned event sequence.
func (c *Controller) Sequence() int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.seq
}

// emit assigns the next sequence, extends the hash chain, and fans the
// event out. The persist send blocks under seqMu so the log order matches
// the sequence order; publish and projection sends drop when full.
func (c *Controller) emit(ev event.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error().Err(err).Str("type", ev.EventType().String()).Msg("event marshal failed")
		payload = []byte("{}")
	}

	c.seqMu.Lock()
	c.seq++
	env := event.Envelope{
		Sequence:       c.seq,
		IdempotencyKey: ev.IdempotencyKey(),
		EventType:      ev.EventType(),
		Vault:          ev.VaultID(),
		Timestamp:      c.now(),
		Payload:        payload,
		PrevHash:       c.hasher.PrevHash(),
	}
	env.StateHash = c.hasher.ComputeHash(env.Sequence, payload)
	out := Output{Envelope: env, Event: ev}

	if c.persistCh != nil {
		select {
		case c.persistCh <- out:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistCh <- out
		}
	}
	if c.metrics != nil {
		c.metrics.ControllerSequence.Set(float64(c.seq))
	}
	c.seqMu.Unlock()

	if c.publishCh != nil {
		select {
		case c.publishCh <- out:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}
	if c.projectionCh != nil {
		select {
		case c.projectionCh <- out:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

func (c *Controller) observe(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (c *Controller) reject(op, reason string) {
	if c.metrics != nil {
		c.metrics.OpRejected.WithLabelValues(op, reason).Inc()
		if op == "buy" || op == "payall" {
			c.metrics.BuysTotal.WithLabelValues(op, "error").Inc()
		}
	}
}
