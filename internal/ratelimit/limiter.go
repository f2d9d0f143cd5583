package ratelimit

import (
	"sync"
	"time"
)

// Default policy applied when a caller supplies none
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxAttempts = 20
)

// Policy bounds attempts per key: at most MaxAttempts within one Window
type Policy struct {
	Window      time.Duration `json:"window" yaml:"window"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultPolicy returns 20 attempts per 60 seconds
func DefaultPolicy() Policy {
	return Policy{Window: DefaultWindow, MaxAttempts: DefaultMaxAttempts}
}

// normalize fills unset fields from the default policy
func (p Policy) normalize() Policy {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Result is the outcome of one attempt. A rejection is a normal value, not an error.
type Result struct {
	Admitted  bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// RetryAfter is how long until the current window rolls over, never negative
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// entry tracks the current window for a single key
type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by caller-chosen strings
// ARCHITECTURAL DISCOVERY: Per-key state tracking with a periodic sweep bounds
// memory independently of whether a key is ever queried again
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, used by tests to step through windows
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates an empty limiter
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attempt records one attempt for key under policy.
//
// A missing or expired entry is replaced with a fresh window holding count 1.
// Inside an active window the attempt is rejected once count reaches
// MaxAttempts; a rejected attempt does not touch the entry, so hammering a
// saturated key neither extends its window nor consumes future slots.
func (l *Limiter) Attempt(key string, policy Policy) Result {
	policy = policy.normalize()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, exists := l.entries[key]
	if !exists || now.After(e.resetAt) {
		// FUNCTIONAL DISCOVERY: Expired windows are replaced, never merged
		e = &entry{count: 1, resetAt: now.Add(policy.Window)}
		l.entries[key] = e
		return Result{
			Admitted:  true,
			Remaining: policy.MaxAttempts - 1,
			Limit:     policy.MaxAttempts,
			ResetAt:   e.resetAt,
		}
	}

	if e.count >= policy.MaxAttempts {
		return Result{
			Admitted:  false,
			Remaining: 0,
			Limit:     policy.MaxAttempts,
			ResetAt:   e.resetAt,
		}
	}

	e.count++
	return Result{
		Admitted:  true,
		Remaining: policy.MaxAttempts - e.count,
		Limit:     policy.MaxAttempts,
		ResetAt:   e.resetAt,
	}
}

// Sweep deletes every entry whose window has expired and returns how many were removed.
// Racing with Attempt is harmless: both orders leave the same observable state.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
