// Package ratelimit is an in-memory, per-(client, category) limiter combining
// a long window with a one-second burst window.
//
// Each entry carries its own mutex. The table lock is held only to find,
// create or delete entries and never while an entry is evaluated, so
// decisions for different clients do not contend. Windows roll over lazily
// on evaluation; a periodic sweep removes entries idle for longer than the
// grace period.
package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faucetdb/keysmith/internal/telemetry"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed   bool
	Category  string
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

type entryKey struct {
	client   string
	category string
}

type entry struct {
	mu          sync.Mutex
	windowStart time.Time
	windowCount int
	burstStart  time.Time
	burstCount  int
	lastSeen    time.Time
	removed     bool
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[entryKey]*entry

	categories    map[string]Config
	fallback      Config
	grace         time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithCategories merges the given category quotas over the defaults.
func WithCategories(cats map[string]Config) Option {
	return func(l *Limiter) {
		for name, cfg := range cats {
			l.categories[name] = cfg
		}
	}
}

// WithGracePeriod sets how long an entry may stay idle before the sweep
// removes it.
func WithGracePeriod(d time.Duration) Option {
	return func(l *Limiter) { l.grace = d }
}

// WithSweepInterval sets how often the background sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweepInterval = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used by the sweep loop.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New returns a Limiter with the built-in category table. Zero grace period
// and sweep interval are derived from the longest configured window.
func New(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		entries:    make(map[entryKey]*entry),
		categories: DefaultCategories(),
		now:        time.Now,
		logger:     slog.Default(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	var longest time.Duration
	for name, cfg := range l.categories {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("rate limit category %q: %w", name, err)
		}
		if cfg.WindowSize > longest {
			longest = cfg.WindowSize
		}
	}
	l.fallback = l.categories[CategoryDefault]

	if l.grace <= 0 {
		l.grace = 2 * longest
	}
	if l.sweepInterval <= 0 {
		l.sweepInterval = longest
	}
	return l, nil
}

// Config returns the quota applied to category and the category name
// decisions are reported under.
func (l *Limiter) Config(category string) (string, Config) {
	if cfg, ok := l.categories[category]; ok {
		return category, cfg
	}
	return CategoryDefault, l.fallback
}

// Allow evaluates and, if admitted, consumes one request for the client in
// the given category. Unknown categories share the default quota.
func (l *Limiter) Allow(client, category string) Decision {
	category, cfg := l.Config(category)
	key := entryKey{client: client, category: category}

	for {
		e := l.lookup(key, true)
		e.mu.Lock()
		if e.removed {
			// Lost a race with the sweep; resolve a fresh entry.
			e.mu.Unlock()
			continue
		}
		d, outcome := e.evaluate(cfg, l.now())
		e.mu.Unlock()

		d.Category = category
		telemetry.RateLimitDecisions.WithLabelValues(category, outcome).Inc()
		return d
	}
}

// Peek reports what the client's quota currently looks like without
// consuming anything or creating an entry.
func (l *Limiter) Peek(client, category string) Decision {
	category, cfg := l.Config(category)
	e := l.lookup(entryKey{client: client, category: category}, false)
	if e == nil {
		return Decision{
			Allowed:   true,
			Category:  category,
			Limit:     cfg.RequestsPerMinute,
			Remaining: cfg.RequestsPerMinute,
			ResetIn:   cfg.WindowSize,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := l.now()

	windowCount, elapsed := e.windowCount, since(now, e.windowStart)
	if e.windowStart.IsZero() || elapsed >= cfg.WindowSize {
		windowCount, elapsed = 0, 0
	}
	burstCount, burstElapsed := e.burstCount, since(now, e.burstStart)
	if e.burstStart.IsZero() || burstElapsed >= BurstWindow {
		burstCount = 0
	}

	d := Decision{
		Allowed:   windowCount < cfg.RequestsPerMinute && burstCount < cfg.BurstLimit,
		Category:  category,
		Limit:     cfg.RequestsPerMinute,
		Remaining: cfg.RequestsPerMinute - windowCount,
		ResetIn:   cfg.WindowSize - elapsed,
	}
	if windowCount < cfg.RequestsPerMinute && burstCount >= cfg.BurstLimit {
		d.ResetIn = BurstWindow - burstElapsed
	}
	return d
}

func (l *Limiter) lookup(key entryKey, create bool) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok && create {
		e = &entry{lastSeen: l.now()}
		l.entries[key] = e
		telemetry.RateLimitEntries.Set(float64(len(l.entries)))
	}
	return e
}

// evaluate applies the dual-window algorithm. Caller holds e.mu.
func (e *entry) evaluate(cfg Config, now time.Time) (Decision, string) {
	if now.After(e.lastSeen) {
		e.lastSeen = now
	}

	elapsed := since(now, e.windowStart)
	if e.windowStart.IsZero() || elapsed >= cfg.WindowSize {
		e.windowStart = now
		e.windowCount = 0
		elapsed = 0
	}

	if e.windowCount >= cfg.RequestsPerMinute {
		return Decision{
			Limit:   cfg.RequestsPerMinute,
			ResetIn: cfg.WindowSize - elapsed,
		}, "window_exceeded"
	}

	burstElapsed := since(now, e.burstStart)
	if e.burstStart.IsZero() || burstElapsed >= BurstWindow {
		e.burstStart = now
		e.burstCount = 0
		burstElapsed = 0
	}

	if e.burstCount >= cfg.BurstLimit {
		return Decision{
			Limit:   cfg.RequestsPerMinute,
			ResetIn: BurstWindow - burstElapsed,
		}, "burst_exceeded"
	}

	e.windowCount++
	e.burstCount++
	return Decision{
		Allowed:   true,
		Limit:     cfg.RequestsPerMinute,
		Remaining: cfg.RequestsPerMinute - e.windowCount,
		ResetIn:   cfg.WindowSize - elapsed,
	}, "allowed"
}

// since clamps clock regressions to zero.
func since(now, start time.Time) time.Duration {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// Sweep removes entries idle for longer than the grace period and returns
// how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		e.mu.Lock()
		if since(now, e.lastSeen) > l.grace {
			e.removed = true
			delete(l.entries, key)
			removed++
		}
		e.mu.Unlock()
	}

	telemetry.RateLimitEntries.Set(float64(len(l.entries)))
	telemetry.RateLimitSwept.Add(float64(removed))
	return removed
}

// Len returns the number of tracked entries.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Start runs Sweep every sweep interval until Stop is called. Non-blocking.
func (l *Limiter) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()

			ticker := time.NewTicker(l.sweepInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if n := l.Sweep(); n > 0 {
						l.logger.Debug("rate limit sweep", "removed", n, "remaining", l.Len())
					}
				case <-l.stopCh:
					return
				}
			}
		}()
	})
}

// Stop ends the sweep loop started by Start and waits for it to exit.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}
