// Package routing implements sticky provider selection with failover.
//
// Each service owns exactly one ServiceRoute for the process lifetime: the
// index of the currently pinned provider plus the deadline after which the
// pin goes stale. Pinning the same provider across consecutive requests keeps
// the upstream prompt cache warm; letting the pin lapse returns traffic to
// the highest-priority provider.
//
// All mutations happen under a per-service mutex and touch only in-memory
// index/deadline arithmetic; no I/O is ever performed while the lock is
// held, so the critical section stays bounded no matter how many requests
// are in flight.
package routing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

// DefaultStickyWindow is how long a pin stays valid without activity.
// Successful requests slide the window forward; an idle service reverts to
// its top-priority provider once the window lapses.
const DefaultStickyWindow = 5 * time.Minute

const noPin = -1

// serviceRoute is the single source of routing truth for one service.
type serviceRoute struct {
	mu sync.Mutex

	// pinned is the index of the active provider, or noPin.
	pinned int

	// deadline is when the pin goes stale. Meaningless while pinned == noPin.
	deadline time.Time
}

// Router arbitrates which provider is active for each service. It is safe
// for unbounded concurrent use; services never block each other.
type Router struct {
	reg    *registry.Registry
	window time.Duration
	routes map[registry.Service]*serviceRoute

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithStickyWindow overrides the sticky window duration.
func WithStickyWindow(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock overrides the router's clock. Used by tests to exercise expiry
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRouter creates a router over the given registry with no pins set.
func NewRouter(reg *registry.Registry, opts ...Option) *Router {
	r := &Router{
		reg:    reg,
		window: DefaultStickyWindow,
		routes: make(map[registry.Service]*serviceRoute),
		now:    time.Now,
	}
	for _, svc := range registry.Services() {
		r.routes[svc] = &serviceRoute{pinned: noPin}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the index of the provider a new request should start with.
//
// A valid pin (set and inside the sticky window) is returned as-is. An unset
// or expired pin atomically resets to index 0, the highest-priority
// provider, with a fresh deadline, so idle services always drift back to
// their primary.
func (r *Router) Current(svc registry.Service) (int, error) {
	if r.reg.Len(svc) == 0 {
		return 0, &NoProvidersError{Service: svc}
	}

	route := r.routes[svc]
	route.mu.Lock()
	defer route.mu.Unlock()

	now := r.now()
	if route.pinned != noPin && now.Before(route.deadline) {
		return route.pinned, nil
	}

	if route.pinned > 0 {
		slog.Debug("sticky pin expired, resetting to primary",
			"service", svc,
			"previous_index", route.pinned,
		)
	}
	route.pinned = 0
	route.deadline = now.Add(r.window)
	return 0, nil
}

// Advance moves the pin past a provider that just failed.
//
// The move is compare-and-set on the failing index: only the first of a
// burst of concurrent failures against index `from` actually advances the
// pin, so the pin steps one provider per distinct failure event and never
// skips. Callers that lose the race get the index some other caller already
// advanced to.
//
// Returns ok=false when `from` was the last provider: the list is
// exhausted. The pin is left on the last index in that case; it is not
// cleared, so the next request inside the window retries from the bottom of
// the list rather than hammering an already-failed primary.
func (r *Router) Advance(svc registry.Service, from int) (next int, ok bool) {
	route := r.routes[svc]
	route.mu.Lock()
	defer route.mu.Unlock()

	if route.pinned != from {
		// Someone else already moved the pin (concurrent failure or an
		// expiry reset). Hand back wherever it is now.
		if route.pinned == noPin {
			return 0, false
		}
		return route.pinned, true
	}

	if from+1 >= r.reg.Len(svc) {
		return from, false
	}

	route.pinned = from + 1
	route.deadline = r.now().Add(r.window)
	slog.Info("advancing provider pin",
		"service", svc,
		"from_index", from,
		"to_index", route.pinned,
	)
	return route.pinned, true
}

// Confirm records a successful attempt against the given index, sliding the
// sticky window forward so an active streak keeps its cache-warm provider.
//
// If the pin has moved past `index` in the meantime, the confirmation is
// from a stale attempt and is dropped: a late success must never resurrect
// a provider the router already abandoned.
func (r *Router) Confirm(svc registry.Service, index int) {
	route := r.routes[svc]
	route.mu.Lock()
	defer route.mu.Unlock()

	if route.pinned != index {
		slog.Debug("ignoring stale confirmation",
			"service", svc,
			"confirmed_index", index,
			"pinned_index", route.pinned,
		)
		return
	}
	route.deadline = r.now().Add(r.window)
}

// Snapshot is a read-only view of one service's routing state.
type Snapshot struct {
	Service registry.Service

	// Providers is the number of configured providers.
	Providers int

	// Pinned is the active provider index, or -1 when no pin is set.
	Pinned int

	// PinnedLabel is the display name of the pinned provider, if any.
	PinnedLabel string

	// Remaining is how long the pin stays valid; zero when unset or expired.
	Remaining time.Duration
}

// Snapshot returns the current routing state for one service without
// mutating it. An expired pin is reported as unset even though Current would
// lazily reset it; observers see the state a new request would effectively
// find.
func (r *Router) Snapshot(svc registry.Service) Snapshot {
	route := r.routes[svc]
	route.mu.Lock()
	pinned, deadline := route.pinned, route.deadline
	route.mu.Unlock()

	snap := Snapshot{
		Service:   svc,
		Providers: r.reg.Len(svc),
		Pinned:    noPin,
	}
	now := r.now()
	if pinned != noPin && now.Before(deadline) {
		snap.Pinned = pinned
		snap.Remaining = deadline.Sub(now)
		if p, err := r.reg.Provider(svc, pinned); err == nil {
			snap.PinnedLabel = p.Label()
		}
	}
	return snap
}

// Snapshots returns the routing state of every service, in registry order.
func (r *Router) Snapshots() []Snapshot {
	services := registry.Services()
	snaps := make([]Snapshot, 0, len(services))
	for _, svc := range services {
		snaps = append(snaps, r.Snapshot(svc))
	}
	return snaps
}
