package routing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

// fakeClock is a manually advanced clock for deadline tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testRegistry(t *testing.T, counts map[registry.Service]int) *registry.Registry {
	t.Helper()
	lists := make(map[registry.Service][]registry.Provider)
	for svc, n := range counts {
		for i := 0; i < n; i++ {
			lists[svc] = append(lists[svc], registry.Provider{
				APIURL: "https://upstream.example/" + string(svc),
				APIKey: "sk-test",
			})
		}
	}
	reg, err := registry.New(lists)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	return reg
}

func newTestRouter(t *testing.T, providers int) (*Router, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	reg := testRegistry(t, map[registry.Service]int{
		registry.ServiceClaude: providers,
		registry.ServiceCodex:  providers,
	})
	return NewRouter(reg, WithClock(clock.Now)), clock
}

func TestCurrent_StartsAtPrimary(t *testing.T) {
	r, _ := newTestRouter(t, 3)

	idx, err := r.Current(registry.ServiceClaude)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if idx != 0 {
		t.Errorf("Current() = %d, want 0", idx)
	}
}

func TestCurrent_NoProviders(t *testing.T) {
	clock := newFakeClock()
	reg := testRegistry(t, map[registry.Service]int{registry.ServiceClaude: 2})
	r := NewRouter(reg, WithClock(clock.Now))

	_, err := r.Current(registry.ServiceCodex)
	if err == nil {
		t.Fatal("Current() on empty service returned nil error")
	}
	if !errors.Is(err, ErrNoProviders) {
		t.Errorf("Current() error = %v, want ErrNoProviders", err)
	}
}

func TestCurrent_SticksWithinWindow(t *testing.T) {
	r, clock := newTestRouter(t, 3)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}
	next, _ := r.Advance(registry.ServiceClaude, 0)
	if next != 1 {
		t.Fatalf("Advance(0) = %d, want 1", next)
	}

	clock.Advance(time.Minute)
	idx, err := r.Current(registry.ServiceClaude)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("Current() inside window = %d, want 1", idx)
	}
}

func TestCurrent_IdleExpiryResetsToPrimary(t *testing.T) {
	r, clock := newTestRouter(t, 3)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}
	r.Advance(registry.ServiceClaude, 0)
	r.Advance(registry.ServiceClaude, 1)

	// Idle past the window: the pin must revert to index 0 regardless of
	// where it was left.
	clock.Advance(DefaultStickyWindow + time.Second)
	idx, err := r.Current(registry.ServiceClaude)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("Current() after idle expiry = %d, want 0", idx)
	}
}

func TestConfirm_SlidesWindow(t *testing.T) {
	r, clock := newTestRouter(t, 2)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}

	// Keep confirming just inside the window; the pin must survive well
	// beyond a single fixed window from first pin.
	for i := 0; i < 5; i++ {
		clock.Advance(DefaultStickyWindow - time.Second)
		idx, err := r.Current(registry.ServiceClaude)
		if err != nil {
			t.Fatal(err)
		}
		if idx != 0 {
			t.Fatalf("iteration %d: Current() = %d, want 0", i, idx)
		}
		r.Confirm(registry.ServiceClaude, 0)
	}

	snap := r.Snapshot(registry.ServiceClaude)
	if snap.Pinned != 0 {
		t.Errorf("Snapshot().Pinned = %d, want 0", snap.Pinned)
	}
	if snap.Remaining <= 0 {
		t.Errorf("Snapshot().Remaining = %v, want > 0", snap.Remaining)
	}
}

func TestConfirm_StaleSuccessDoesNotResurrect(t *testing.T) {
	r, _ := newTestRouter(t, 3)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}
	next, ok := r.Advance(registry.ServiceClaude, 0)
	if !ok || next != 1 {
		t.Fatalf("Advance(0) = (%d, %v), want (1, true)", next, ok)
	}

	// A slow attempt against the abandoned provider 0 reports success late.
	r.Confirm(registry.ServiceClaude, 0)

	idx, err := r.Current(registry.ServiceClaude)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("Current() after stale confirm = %d, want 1", idx)
	}
}

func TestAdvance_Exhausted(t *testing.T) {
	r, _ := newTestRouter(t, 2)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}
	next, ok := r.Advance(registry.ServiceClaude, 0)
	if !ok || next != 1 {
		t.Fatalf("Advance(0) = (%d, %v), want (1, true)", next, ok)
	}

	next, ok = r.Advance(registry.ServiceClaude, 1)
	if ok {
		t.Errorf("Advance(last) = (%d, true), want exhausted", next)
	}

	// Exhaustion leaves the pin on the last index, not "none".
	snap := r.Snapshot(registry.ServiceClaude)
	if snap.Pinned != 1 {
		t.Errorf("Snapshot().Pinned after exhaustion = %d, want 1", snap.Pinned)
	}
}

func TestAdvance_ConcurrentFailuresMoveOnce(t *testing.T) {
	r, _ := newTestRouter(t, 5)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}

	// A burst of requests all fail against the pinned provider 0 at once.
	// The pin must land on 1, never 2+.
	const burst = 32
	results := make(chan int, burst)
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, ok := r.Advance(registry.ServiceClaude, 0)
			if ok {
				results <- next
			}
		}()
	}
	wg.Wait()
	close(results)

	for next := range results {
		if next != 1 {
			t.Fatalf("concurrent Advance(0) returned %d, want 1", next)
		}
	}
	if snap := r.Snapshot(registry.ServiceClaude); snap.Pinned != 1 {
		t.Errorf("pin after concurrent burst = %d, want 1", snap.Pinned)
	}
}

func TestAdvance_LostRaceReturnsCurrentPin(t *testing.T) {
	r, _ := newTestRouter(t, 4)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}
	r.Advance(registry.ServiceClaude, 0) // pin -> 1
	r.Advance(registry.ServiceClaude, 1) // pin -> 2

	// A straggler still failing against 0 must not rewind or double-skip.
	next, ok := r.Advance(registry.ServiceClaude, 0)
	if !ok || next != 2 {
		t.Errorf("stale Advance(0) = (%d, %v), want (2, true)", next, ok)
	}
}

func TestServicesAreIndependent(t *testing.T) {
	r, _ := newTestRouter(t, 3)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Current(registry.ServiceCodex); err != nil {
		t.Fatal(err)
	}
	r.Advance(registry.ServiceClaude, 0)

	idx, err := r.Current(registry.ServiceCodex)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("codex pin moved with claude failover: Current() = %d, want 0", idx)
	}
}

func TestSnapshot_DoesNotMutate(t *testing.T) {
	r, clock := newTestRouter(t, 2)

	if _, err := r.Current(registry.ServiceClaude); err != nil {
		t.Fatal(err)
	}
	clock.Advance(DefaultStickyWindow + time.Second)

	// Snapshot of an expired pin reports "none" but must not reset it;
	// only Current performs the lazy reset.
	snap := r.Snapshot(registry.ServiceClaude)
	if snap.Pinned != -1 {
		t.Errorf("Snapshot().Pinned on expired pin = %d, want -1", snap.Pinned)
	}
	if snap.Remaining != 0 {
		t.Errorf("Snapshot().Remaining on expired pin = %v, want 0", snap.Remaining)
	}
}
