package proxy

import (
	"log/slog"
	"math/rand/v2"
	"sync"
)

// Selection modes understood by Registry.Select.
// Any other mode string is treated as a proxy ID.
const (
	// ModeNone disables proxying; the session connects directly.
	ModeNone = "none"

	// ModeSequential hands out proxies round-robin across all callers.
	ModeSequential = "sequential"

	// ModeRandom picks a proxy uniformly at random; repeats are possible.
	ModeRandom = "random"
)

// Registry holds the active proxy pool and the shared rotation cursor.
// A single Registry is safe for concurrent use by many sessions.
type Registry struct {
	// mu guards cursor. proxies is replaced only before the Registry is shared.
	mu sync.Mutex

	// proxies is the ordered active pool.
	proxies []Descriptor

	// cursor is the index handed out by the next sequential selection.
	cursor int

	// intn returns a uniform integer in [0, n). Replaceable for tests.
	intn func(n int) int

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithRand replaces the random source used by ModeRandom.
// intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(r *Registry) {
		r.intn = intn
	}
}

// NewRegistry creates a Registry from descriptors.
// Inactive descriptors and descriptors that fail validation are left out.
func NewRegistry(descs []Descriptor, opts ...Option) *Registry {
	r := &Registry{
		intn: rand.IntN,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	r.reset(descs)
	return r
}

// reset replaces the pool. It must not be called once the Registry is shared.
func (r *Registry) reset(descs []Descriptor) {
	active := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if !d.IsActive() {
			continue
		}
		if err := d.Validate(); err != nil {
			r.logger.Warn("skipping proxy with invalid descriptor",
				"id", d.ID,
				"name", d.Name,
				"error", err,
			)
			continue
		}
		active = append(active, d)
	}

	r.mu.Lock()
	r.proxies = active
	r.cursor = 0
	r.mu.Unlock()
}

// Len returns the number of active proxies.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies)
}

// Select returns a proxy for the given mode.
// The boolean is false when no proxy applies: mode "none", an empty pool, or
// an unknown proxy ID. Select never blocks on I/O and never fails.
func (r *Registry) Select(mode string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.proxies)
	if mode == ModeNone || mode == "" || n == 0 {
		return Descriptor{}, false
	}

	switch mode {
	case ModeSequential:
		d := r.proxies[r.cursor]
		r.cursor = (r.cursor + 1) % n
		return d, true
	case ModeRandom:
		return r.proxies[r.intn(n)], true
	}

	for _, d := range r.proxies {
		if d.ID == mode {
			return d, true
		}
	}

	r.logger.Warn("proxy selection unresolved, connecting directly", "mode", mode)
	return Descriptor{}, false
}

// ListAvailable returns the diagnostic projection of every active proxy,
// in pool order.
func (r *Registry) ListAvailable() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, len(r.proxies))
	for i, d := range r.proxies {
		out[i] = d.Summary()
	}
	return out
}

// Descriptors returns a copy of the active pool.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Descriptor, len(r.proxies))
	copy(out, r.proxies)
	return out
}
