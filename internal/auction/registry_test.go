package auction

import (
	"sync"
	"testing"
)

func TestStartAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Start("vault-1", "alice", 1000); err != nil {
		t.Fatalf("Start: %v", err)
	}

	a, ok := r.Get("vault-1")
	if !ok {
		t.Fatal("Get: auction not found after Start")
	}
	if a.Owner != "alice" || a.Start != 1000 || a.VaultID != "vault-1" {
		t.Errorf("unexpected record: %+v", a)
	}

	if _, ok := r.Get("vault-2"); ok {
		t.Error("Get returned a record for an unknown vault")
	}
}

func TestStartTwiceFails(t *testing.T) {
	r := NewRegistry()

	if err := r.Start("vault-1", "alice", 1000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start("vault-1", "bob", 2000); err != ErrAlreadyUnderAuction {
		t.Fatalf("second Start err = %v, want ErrAlreadyUnderAuction", err)
	}

	// Original record untouched.
	a, _ := r.Get("vault-1")
	if a.Owner != "alice" || a.Start != 1000 {
		t.Errorf("record mutated by failed Start: %+v", a)
	}
}

func TestCloseLifecycle(t *testing.T) {
	r := NewRegistry()

	if err := r.Close("vault-1"); err != ErrNotFound {
		t.Fatalf("Close on empty registry err = %v, want ErrNotFound", err)
	}

	if err := r.Start("vault-1", "alice", 1000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Close("vault-1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := r.Get("vault-1"); ok {
		t.Error("record still present after Close")
	}
	if err := r.Close("vault-1"); err != ErrNotFound {
		t.Errorf("double Close err = %v, want ErrNotFound", err)
	}

	// A closed vault can be auctioned again.
	if err := r.Start("vault-1", "alice", 2000); err != nil {
		t.Errorf("restart after Close: %v", err)
	}
}

func TestRestoreAndActive(t *testing.T) {
	r := NewRegistry()
	r.Restore(Auction{VaultID: "vault-1", Owner: "alice", Start: 10})
	r.Restore(Auction{VaultID: "vault-2", Owner: "bob", Start: 20})

	if got := r.Count(); got != 2 {
		t.Fatalf("Count = %d, want 2", got)
	}
	seen := make(map[string]bool)
	for _, a := range r.Active() {
		seen[a.VaultID] = true
	}
	if !seen["vault-1"] || !seen["vault-2"] {
		t.Errorf("Active missing records: %v", seen)
	}
}

func TestConcurrentDistinctVaults(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a'+n%26)) + string(rune('0'+n/26))
			r.Start(id, "owner", uint32(n))
			r.Get(id)
		}(i)
	}
	wg.Wait()
}
