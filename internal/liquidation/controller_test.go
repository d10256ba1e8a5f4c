package liquidation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/event"
	fpmath "AuctionLedger/internal/math"
	"AuctionLedger/internal/position"
	"AuctionLedger/internal/settlement"
	"AuctionLedger/internal/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctrl    *Controller
	reg     *auction.Registry
	vaults  *position.Ledger
	base    *token.Ledger
	coll    *token.Ledger
	clock   *fakeClock
	outputs chan Output
}

// newFixture wires a controller against real collaborators: one vault
// ("vault-1", owner alice) with the given balances, a funded buyer, and
// a join account holding the pooled collateral.
func newFixture(t *testing.T, ink, art int64, rate int64, params Params) *fixture {
	t.Helper()

	vaults := position.NewLedger()
	if err := vaults.AddSeries(position.Series{ID: "DAI-2609", Rate: rate}); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	if err := vaults.CreateVault("vault-1", "alice", "DAI-2609"); err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if err := vaults.AdjustBalances("vault-1", ink, art); err != nil {
		t.Fatalf("AdjustBalances: %v", err)
	}

	base := token.NewLedger("DAI")
	coll := token.NewLedger("WETH")
	base.Mint("buyer", 1_000_000)
	coll.Mint("join", 1_000_000)
	if err := base.Approve("buyer", "router", token.MaxAllowance); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	clock := newFakeClock()
	outputs := make(chan Output, 64)
	reg := auction.NewRegistry()
	ctrl, err := New(Config{
		Registry:    reg,
		Vaults:      vaults,
		Router:      settlement.NewRouter(base, coll, "join", "router"),
		Custodian:   "liq-engine",
		Params:      params,
		PersistChan: outputs,
		Now:         clock.now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{ctrl: ctrl, reg: reg, vaults: vaults, base: base, coll: coll, clock: clock, outputs: outputs}
}

func (f *fixture) drainEvents(t *testing.T) []Output {
	t.Helper()
	var out []Output
	for {
		select {
		case o := <-f.outputs:
			out = append(out, o)
		default:
			return out
		}
	}
}

func defaultParams() Params {
	return Params{Duration: 3600, InitialOffer: fpmath.WAD / 2, Dust: 0}
}

func TestStartAuctionSeizesVault(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()

	auc, err := f.ctrl.StartAuction(ctx, "vault-1")
	if err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if auc.Owner != "alice" {
		t.Errorf("recorded owner = %s, want alice", auc.Owner)
	}

	v, _ := f.vaults.ReadVault("vault-1")
	if v.Owner != "liq-engine" {
		t.Errorf("vault owner after seize = %s, want liq-engine", v.Owner)
	}

	if _, err := f.ctrl.StartAuction(ctx, "vault-1"); err != ErrAlreadyUnderAuction {
		t.Errorf("second start err = %v, want ErrAlreadyUnderAuction", err)
	}

	events := f.drainEvents(t)
	if len(events) != 1 || events[0].Event.EventType() != event.EventTypeAuctionStarted {
		t.Fatalf("events = %+v, want one AuctionStarted", events)
	}
	if events[0].Envelope.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", events[0].Envelope.Sequence)
	}
}

type seizeFailLedger struct {
	*position.Ledger
}

func (s seizeFailLedger) Seize(id, custodian string) error {
	return errors.New("seize refused")
}

func TestStartAuctionRollsBackOnSeizeFailure(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())

	ctrl, err := New(Config{
		Registry:  f.reg,
		Vaults:    seizeFailLedger{f.vaults},
		Router:    settlement.NewRouter(f.base, f.coll, "join", "router"),
		Custodian: "liq-engine",
		Params:    defaultParams(),
		Now:       f.clock.now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := ctrl.StartAuction(context.Background(), "vault-1"); err == nil {
		t.Fatal("StartAuction succeeded despite seize failure")
	}
	if _, open := f.reg.Get("vault-1"); open {
		t.Error("registry record left behind after failed start")
	}
	v, _ := f.vaults.ReadVault("vault-1")
	if v.Owner != "alice" {
		t.Errorf("vault owner = %s, want alice untouched", v.Owner)
	}
}

func TestBuyAtInitialOffer(t *testing.T) {
	// ink=100, art=100, offer=0.5: at start 10 debt buys 5 collateral.
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()

	if _, err := f.ctrl.StartAuction(ctx, "vault-1"); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}

	ink, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 10, 0)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if ink != 5 {
		t.Errorf("ink out = %d, want 5", ink)
	}

	bal, _ := f.vaults.ReadBalances("vault-1")
	if bal.Ink != 95 || bal.Art != 90 {
		t.Errorf("vault balances = %+v, want 95/90", bal)
	}
	if got := f.coll.BalanceOf("buyer"); got != 5 {
		t.Errorf("buyer collateral = %d, want 5", got)
	}
	if got := f.base.BalanceOf("join"); got != 10 {
		t.Errorf("join base = %d, want 10", got)
	}
}

func TestBuyPriceRisesOverTime(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")

	// Halfway: term2 = 0.75.
	f.clock.advance(30 * time.Minute)
	ink, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 20, 0)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if ink != 15 {
		t.Errorf("ink out halfway = %d, want 15", ink)
	}

	// Past the duration the remaining vault trades at full proportion.
	f.clock.advance(2 * time.Hour)
	ink, err = f.ctrl.Buy(ctx, "vault-1", "buyer", 40, 0)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	// ink/art = 85/80 after the first fill; 40 debt buys 40*85/80 = 42.
	if ink != 42 {
		t.Errorf("ink out at end = %d, want 42", ink)
	}
}

func TestBuySlippageGuard(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")

	if _, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 10, 6); err != ErrSlippageExceeded {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}

	// Nothing moved.
	bal, _ := f.vaults.ReadBalances("vault-1")
	if bal.Ink != 100 || bal.Art != 100 {
		t.Errorf("failed buy mutated vault: %+v", bal)
	}
	if f.base.BalanceOf("join") != 0 || f.coll.BalanceOf("buyer") != 0 {
		t.Error("failed buy moved tokens")
	}
}

func TestBuyDustGuard(t *testing.T) {
	params := Params{Duration: 3600, InitialOffer: fpmath.WAD, Dust: 5}
	f := newFixture(t, 10, 10, fpmath.WAD, params)
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")

	// Buying 8 of 10 would leave 2 < dust.
	if _, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 8, 0); err != ErrDustLeft {
		t.Fatalf("err = %v, want ErrDustLeft", err)
	}

	// Taking all collateral is exempt from the dust rule.
	ink, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 10, 0)
	if err != nil {
		t.Fatalf("full buy: %v", err)
	}
	if ink != 10 {
		t.Errorf("ink out = %d, want 10", ink)
	}
}

func TestFullRepaymentClosesAuction(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")

	if _, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 100, 0); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	if _, open := f.reg.Get("vault-1"); open {
		t.Error("registry record remains after full repayment")
	}
	v, _ := f.vaults.ReadVault("vault-1")
	if v.Owner != "alice" {
		t.Errorf("vault owner = %s, want alice", v.Owner)
	}

	// Repaid vault has nothing left to buy.
	if _, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 10, 0); err != ErrNothingToBuy {
		t.Errorf("buy after close err = %v, want ErrNothingToBuy", err)
	}

	types := []event.EventType{}
	for _, o := range f.drainEvents(t) {
		types = append(types, o.Event.EventType())
	}
	want := []event.EventType{
		event.EventTypeAuctionStarted,
		event.EventTypeCollateralBought,
		event.EventTypeAuctionEnded,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}

func TestBuyExceedingDebtFails(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")

	if _, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 101, 0); err != ErrExceedsDebt {
		t.Errorf("err = %v, want ErrExceedsDebt", err)
	}
}

func TestBuyUnknownVault(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())

	if _, err := f.ctrl.Buy(context.Background(), "no-such-vault", "buyer", 10, 0); err != ErrNothingToBuy {
		t.Errorf("err = %v, want ErrNothingToBuy", err)
	}
}

func TestPayAllWithAccruedRate(t *testing.T) {
	// Rate 1.1: repaying 100 debt costs ceil(100*1.1) = 110 base.
	rate := fpmath.WAD + fpmath.WAD/10
	f := newFixture(t, 100, 100, rate, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")
	f.clock.advance(2 * time.Hour)

	ink, err := f.ctrl.PayAll(ctx, "vault-1", "buyer", 0)
	if err != nil {
		t.Fatalf("PayAll: %v", err)
	}
	if ink != 100 {
		t.Errorf("ink out = %d, want full 100", ink)
	}
	if got := f.base.BalanceOf("join"); got != 110 {
		t.Errorf("join base = %d, want 110", got)
	}

	if _, open := f.reg.Get("vault-1"); open {
		t.Error("auction still open after PayAll")
	}
	if _, err := f.ctrl.PayAll(ctx, "vault-1", "buyer", 0); err != ErrNothingToBuy {
		t.Errorf("second PayAll err = %v, want ErrNothingToBuy", err)
	}
}

func TestBuyWithoutFundsLeavesNoTrace(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")

	// Broke buyer with no approval.
	if _, err := f.ctrl.Buy(ctx, "vault-1", "pauper", 10, 0); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want allowance failure", err)
	}
	bal, _ := f.vaults.ReadBalances("vault-1")
	if bal.Ink != 100 || bal.Art != 100 {
		t.Errorf("failed settle mutated vault: %+v", bal)
	}
}

func TestTokenConservationAcrossFills(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")

	baseSupply := f.base.TotalSupply()
	collSupply := f.coll.TotalSupply()

	f.ctrl.Buy(ctx, "vault-1", "buyer", 30, 0)
	f.clock.advance(time.Hour)
	f.ctrl.PayAll(ctx, "vault-1", "buyer", 0)

	if got := f.base.TotalSupply(); got != baseSupply {
		t.Errorf("base supply changed: %d -> %d", baseSupply, got)
	}
	if got := f.coll.TotalSupply(); got != collSupply {
		t.Errorf("collateral supply changed: %d -> %d", collSupply, got)
	}
}

func TestParamSettersValidateAndEmit(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()

	if err := f.ctrl.SetInitialOffer(ctx, fpmath.WAD+1); err != ErrInvalidParameter {
		t.Errorf("offer > WAD err = %v, want ErrInvalidParameter", err)
	}
	if err := f.ctrl.SetDust(ctx, -1); err != ErrInvalidParameter {
		t.Errorf("negative dust err = %v, want ErrInvalidParameter", err)
	}

	if err := f.ctrl.SetDuration(ctx, 0); err != nil {
		t.Errorf("zero duration rejected: %v", err)
	}
	if err := f.ctrl.SetInitialOffer(ctx, fpmath.WAD/4); err != nil {
		t.Errorf("SetInitialOffer: %v", err)
	}
	if err := f.ctrl.SetDust(ctx, 7); err != nil {
		t.Errorf("SetDust: %v", err)
	}

	p := f.ctrl.Params()
	if p.Duration != 0 || p.InitialOffer != fpmath.WAD/4 || p.Dust != 7 {
		t.Errorf("params = %+v", p)
	}

	if n := len(f.drainEvents(t)); n != 3 {
		t.Errorf("emitted %d events, want 3", n)
	}

	// Zero duration prices at full proportion immediately.
	f.ctrl.SetDust(ctx, 0)
	f.drainEvents(t)
	f.ctrl.StartAuction(ctx, "vault-1")
	ink, err := f.ctrl.Buy(ctx, "vault-1", "buyer", 10, 0)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if ink != 10 {
		t.Errorf("ink out = %d, want 10 at full proportion", ink)
	}
}

func TestEnvelopeChainIsOrdered(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()
	f.ctrl.StartAuction(ctx, "vault-1")
	f.ctrl.Buy(ctx, "vault-1", "buyer", 100, 0)

	events := f.drainEvents(t)
	if len(events) < 3 {
		t.Fatalf("got %d events", len(events))
	}
	for i, o := range events {
		if o.Envelope.Sequence != int64(i+1) {
			t.Errorf("event %d sequence = %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != events[i-1].Envelope.StateHash {
			t.Errorf("event %d prev hash does not chain", i)
		}
	}
}

func TestCrossVaultBuysRunConcurrently(t *testing.T) {
	f := newFixture(t, 100, 100, fpmath.WAD, defaultParams())
	ctx := context.Background()

	for _, id := range []string{"vault-2", "vault-3", "vault-4"} {
		if err := f.vaults.CreateVault(id, "alice", "DAI-2609"); err != nil {
			t.Fatalf("CreateVault: %v", err)
		}
		f.vaults.AdjustBalances(id, 100, 100)
		if _, err := f.ctrl.StartAuction(ctx, id); err != nil {
			t.Fatalf("StartAuction(%s): %v", id, err)
		}
	}

	var wg sync.WaitGroup
	for _, id := range []string{"vault-2", "vault-3", "vault-4"} {
		wg.Add(1)
		go func(vault string) {
			defer wg.Done()
			if _, err := f.ctrl.Buy(ctx, vault, "buyer", 10, 0); err != nil {
				t.Errorf("Buy(%s): %v", vault, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"vault-2", "vault-3", "vault-4"} {
		bal, _ := f.vaults.ReadBalances(id)
		if bal.Art != 90 {
			t.Errorf("%s art = %d, want 90", id, bal.Art)
		}
	}
}
