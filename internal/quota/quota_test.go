package quota

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAdmitCountsUpToMax(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 3, 0)
	now := time.Now()

	for i := 1; i <= 3; i++ {
		d := store.Admit("1.2.3.4", now.Add(time.Duration(i)*time.Minute))
		if !d.Allowed {
			t.Fatalf("request %d should be admitted, got reason %v", i, d.Reason)
		}
	}

	d := store.Admit("1.2.3.4", now.Add(4*time.Minute))
	if d.Allowed {
		t.Fatal("request 4 should be rejected")
	}
	if d.Reason != ReasonLimited {
		t.Errorf("expected ReasonLimited, got %v", d.Reason)
	}
	if d.Remaining <= 0 {
		t.Errorf("expected strictly positive remaining wait, got %v", d.Remaining)
	}
}

func TestAdmitIsolatesClients(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 1, 0)
	now := time.Now()

	if d := store.Admit("a", now); !d.Allowed {
		t.Fatal("first client should be admitted")
	}
	if d := store.Admit("b", now); !d.Allowed {
		t.Fatal("second client should not share the first client's window")
	}
	if d := store.Admit("a", now.Add(time.Minute)); d.Allowed {
		t.Fatal("first client should be limited")
	}
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 3, 0)
	now := time.Now()

	for i := 0; i < 3; i++ {
		store.Admit("ip", now)
	}
	if d := store.Admit("ip", now.Add(time.Hour)); d.Allowed {
		t.Fatal("should be limited inside the window")
	}

	d := store.Admit("ip", now.Add(25*time.Hour))
	if !d.Allowed {
		t.Fatal("expired window should reset the counter")
	}
	// The current request counts against the fresh window.
	for i := 0; i < 2; i++ {
		if d := store.Admit("ip", now.Add(25*time.Hour)); !d.Allowed {
			t.Fatalf("request %d of fresh window should be admitted", i+2)
		}
	}
	if d := store.Admit("ip", now.Add(25*time.Hour)); d.Allowed {
		t.Fatal("fresh window should still cap at max")
	}
}

func TestDebounceRejectsWithoutTouchingCounter(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 3, 10*time.Second)
	now := time.Now()

	if d := store.Admit("ip", now); !d.Allowed {
		t.Fatal("first request should be admitted")
	}

	d := store.Admit("ip", now.Add(3*time.Second))
	if d.Allowed {
		t.Fatal("second request inside the debounce window should be rejected")
	}
	if d.Reason != ReasonDebounced {
		t.Errorf("expected ReasonDebounced, got %v", d.Reason)
	}
	if d.Remaining <= 0 || d.Remaining > 10*time.Second {
		t.Errorf("unexpected remaining wait: %v", d.Remaining)
	}

	// Debounce rejections must not consume quota slots.
	for i := 0; i < 2; i++ {
		if d := store.Admit("ip", now.Add(time.Duration(i+2)*time.Minute)); !d.Allowed {
			t.Fatalf("spaced request %d should be admitted", i+2)
		}
	}
}

func TestConcurrentAdmitNeverExceedsMax(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 3, 0)
	now := time.Now()

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := store.Admit("ip", now); d.Allowed {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 3 {
		t.Errorf("expected exactly 3 admissions, got %d", count)
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 3, 10*time.Second)
	now := time.Now()

	for i := 0; i < 10; i++ {
		store.Admit(fmt.Sprintf("ip-%d", i), now)
	}
	if store.Len() != 10 {
		t.Fatalf("expected 10 active windows, got %d", store.Len())
	}

	if removed := store.Sweep(now.Add(time.Hour)); removed != 0 {
		t.Errorf("nothing should be swept inside the window, got %d", removed)
	}

	removed := store.Sweep(now.Add(25 * time.Hour))
	if removed != 10 {
		t.Errorf("expected 10 swept entries, got %d", removed)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store after sweep, got %d", store.Len())
	}
}
