package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"AuctionLedger/internal/auction"
	"AuctionLedger/internal/liquidation"
	fpmath "AuctionLedger/internal/math"
	"AuctionLedger/internal/position"
	"AuctionLedger/internal/settlement"
	"AuctionLedger/internal/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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
	srv   *httptest.Server
	clock *fakeClock
}

// newFixture spins an API server over a real controller with one vault
// ("vault-1", owner alice, 100 ink / 100 art) and a funded buyer.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	vaults := position.NewLedger()
	if err := vaults.AddSeries(position.Series{ID: "DAI-2609", Rate: fpmath.WAD}); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	if err := vaults.CreateVault("vault-1", "alice", "DAI-2609"); err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	if err := vaults.AdjustBalances("vault-1", 100, 100); err != nil {
		t.Fatalf("AdjustBalances: %v", err)
	}

	base := token.NewLedger("DAI")
	coll := token.NewLedger("WETH")
	base.Mint("buyer", 1_000_000)
	coll.Mint("join", 1_000_000)
	if err := base.Approve("buyer", "router", token.MaxAllowance); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	outputs := make(chan liquidation.Output, 64)
	ctrl, err := liquidation.New(liquidation.Config{
		Registry:    auction.NewRegistry(),
		Vaults:      vaults,
		Router:      settlement.NewRouter(base, coll, "join", "router"),
		Custodian:   "liq-engine",
		Params:      liquidation.Params{Duration: 3600, InitialOffer: fpmath.WAD / 2, Dust: 0},
		PersistChan: outputs,
		Now:         clock.now,
	})
	if err != nil {
		t.Fatalf("liquidation.New: %v", err)
	}

	api := New(ctrl, nil, "secret", zerolog.Nop(), nil)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	fields := map[string]json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, fields
}

func intField(t *testing.T, fields map[string]json.RawMessage, key string) int64 {
	t.Helper()
	var v int64
	if err := json.Unmarshal(fields[key], &v); err != nil {
		t.Fatalf("field %q = %s: %v", key, fields[key], err)
	}
	return v
}

func TestStartAuctionEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, fields := f.do(t, "POST", "/v1/vaults/vault-1/auction", nil, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var owner string
	json.Unmarshal(fields["owner"], &owner)
	if owner != "alice" {
		t.Errorf("owner = %q, want alice", owner)
	}

	resp, _ = f.do(t, "POST", "/v1/vaults/vault-1/auction", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}
}

func TestStartAuctionUnknownVault(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "POST", "/v1/vaults/ghost/auction", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBuyEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/v1/vaults/vault-1/auction", nil, nil)

	resp, fields := f.do(t, "POST", "/v1/vaults/vault-1/buy",
		buyRequest{Buyer: "buyer", Base: 10, Min: 0}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	// Initial offer is half the proportional collateral.
	if got := intField(t, fields, "ink_out"); got != 5 {
		t.Errorf("ink_out = %d, want 5", got)
	}
}

func TestBuySlippageAndDustStatuses(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/v1/vaults/vault-1/auction", nil, nil)

	resp, _ := f.do(t, "POST", "/v1/vaults/vault-1/buy",
		buyRequest{Buyer: "buyer", Base: 10, Min: 6}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("slippage status = %d, want 409", resp.StatusCode)
	}

	resp, _ = f.do(t, "POST", "/v1/vaults/vault-1/buy",
		buyRequest{Buyer: "buyer", Base: 0, Min: 0}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero base status = %d, want 400", resp.StatusCode)
	}
}

func TestBuyWithoutAuction(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "POST", "/v1/vaults/vault-1/buy",
		buyRequest{Buyer: "buyer", Base: 10, Min: 0}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPayAllEndpointClosesAuction(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/v1/vaults/vault-1/auction", nil, nil)
	f.clock.advance(2 * time.Hour)

	resp, fields := f.do(t, "POST", "/v1/vaults/vault-1/payall",
		payAllRequest{Buyer: "buyer", Min: 0}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := intField(t, fields, "ink_out"); got != 100 {
		t.Errorf("ink_out = %d, want 100", got)
	}

	resp, _ = f.do(t, "GET", "/v1/vaults/vault-1/auction", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("auction after payall status = %d, want 404", resp.StatusCode)
	}
}

func TestGetAuctionAndPrice(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/v1/vaults/vault-1/auction", nil, nil)
	f.clock.advance(30 * time.Minute)

	resp, fields := f.do(t, "GET", "/v1/vaults/vault-1/auction", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get auction status = %d", resp.StatusCode)
	}
	if got := intField(t, fields, "start"); got != 1_700_000_000 {
		t.Errorf("start = %d, want 1700000000", got)
	}

	resp, fields = f.do(t, "GET", "/v1/vaults/vault-1/price", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get price status = %d", resp.StatusCode)
	}
	// Halfway through: proportion 0.75 of the 1:1 collateral ratio.
	var price string
	json.Unmarshal(fields["price"], &price)
	if want := fmt.Sprintf("%d", 3*fpmath.WAD/4); price != want {
		t.Errorf("price = %s, want %s", price, want)
	}
}

func TestParamsEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, fields := f.do(t, "GET", "/v1/params", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get params status = %d", resp.StatusCode)
	}
	if got := intField(t, fields, "duration"); got != 3600 {
		t.Errorf("duration = %d, want 3600", got)
	}

	admin := map[string]string{"Authorization": "Bearer secret"}

	d := uint32(7200)
	resp, fields = f.do(t, "PUT", "/v1/params/duration", paramRequest{Duration: &d}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set duration status = %d", resp.StatusCode)
	}
	if got := intField(t, fields, "duration"); got != 7200 {
		t.Errorf("duration after update = %d, want 7200", got)
	}

	offer := fpmath.WAD + 1
	resp, _ = f.do(t, "PUT", "/v1/params/initial-offer", paramRequest{InitialOffer: &offer}, admin)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("offer above full proportion status = %d, want 400", resp.StatusCode)
	}

	dust := int64(5)
	resp, fields = f.do(t, "PUT", "/v1/params/dust", paramRequest{Dust: &dust}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set dust status = %d", resp.StatusCode)
	}
	if got := intField(t, fields, "dust"); got != 5 {
		t.Errorf("dust after update = %d, want 5", got)
	}
}

func TestParamsRequireAdminToken(t *testing.T) {
	f := newFixture(t)

	d := uint32(7200)
	resp, _ := f.do(t, "PUT", "/v1/params/duration", paramRequest{Duration: &d}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	resp, _ = f.do(t, "PUT", "/v1/params/duration", paramRequest{Duration: &d},
		map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", resp.StatusCode)
	}
}

func TestQueryEndpointsWithoutDatabase(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, "GET", "/v1/auctions", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("list status = %d, want 503", resp.StatusCode)
	}
	resp, _ = f.do(t, "GET", "/v1/integrity", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("integrity status = %d, want 503", resp.StatusCode)
	}
}
