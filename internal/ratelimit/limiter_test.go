package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestLimiter_FixedWindowAdmission(t *testing.T) {
	clock := newFakeClock()
	limiter := New(WithClock(clock.Now))
	policy := Policy{Window: time.Second, MaxAttempts: 3}

	for _, want := range []int{2, 1, 0} {
		res := limiter.Attempt("10.0.0.1:login", policy)
		require.True(t, res.Admitted)
		require.Equal(t, want, res.Remaining)
		require.Equal(t, 3, res.Limit)
	}

	res := limiter.Attempt("10.0.0.1:login", policy)
	require.False(t, res.Admitted)
	require.Zero(t, res.Remaining)

	clock.Advance(1001 * time.Millisecond)

	res = limiter.Attempt("10.0.0.1:login", policy)
	require.True(t, res.Admitted)
	require.Equal(t, 2, res.Remaining)
}

func TestLimiter_WindowBoundaryIsInclusive(t *testing.T) {
	clock := newFakeClock()
	limiter := New(WithClock(clock.Now))
	policy := Policy{Window: time.Second, MaxAttempts: 1}

	require.True(t, limiter.Attempt("k", policy).Admitted)

	// Exactly at reset_at the window is still active.
	clock.Advance(time.Second)
	require.False(t, limiter.Attempt("k", policy).Admitted)

	clock.Advance(time.Nanosecond)
	require.True(t, limiter.Attempt("k", policy).Admitted)
}

func TestLimiter_RejectionDoesNotMutate(t *testing.T) {
	clock := newFakeClock()
	limiter := New(WithClock(clock.Now))
	policy := Policy{Window: time.Second, MaxAttempts: 2}

	first := limiter.Attempt("k", policy)
	limiter.Attempt("k", policy)

	clock.Advance(500 * time.Millisecond)
	for i := 0; i < 10; i++ {
		res := limiter.Attempt("k", policy)
		require.False(t, res.Admitted)
		require.Equal(t, first.ResetAt, res.ResetAt, "rejections must not extend the window")
	}

	limiter.mu.Lock()
	require.Equal(t, 2, limiter.entries["k"].count)
	limiter.mu.Unlock()
}

func TestLimiter_WindowIsolation(t *testing.T) {
	clock := newFakeClock()
	limiter := New(WithClock(clock.Now))
	policy := Policy{Window: time.Minute, MaxAttempts: 2}

	limiter.Attempt("a", policy)
	limiter.Attempt("a", policy)
	require.False(t, limiter.Attempt("a", policy).Admitted)

	res := limiter.Attempt("b", policy)
	require.True(t, res.Admitted)
	require.Equal(t, 1, res.Remaining)

	require.False(t, limiter.Attempt("a", policy).Admitted)
	require.Equal(t, 2, limiter.Len())
}

func TestLimiter_DefaultPolicy(t *testing.T) {
	clock := newFakeClock()
	limiter := New(WithClock(clock.Now))

	res := limiter.Attempt("k", Policy{})
	require.True(t, res.Admitted)
	require.Equal(t, DefaultMaxAttempts-1, res.Remaining)
	require.Equal(t, clock.Now().Add(DefaultWindow), res.ResetAt)

	for i := 1; i < DefaultMaxAttempts; i++ {
		require.True(t, limiter.Attempt("k", Policy{}).Admitted)
	}
	require.False(t, limiter.Attempt("k", Policy{}).Admitted)

	require.Equal(t, Policy{Window: 60 * time.Second, MaxAttempts: 20}, DefaultPolicy())
}

func TestLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	limiter := New(WithClock(clock.Now))

	limiter.Attempt("short", Policy{Window: time.Second, MaxAttempts: 5})
	limiter.Attempt("long", Policy{Window: time.Hour, MaxAttempts: 5})
	require.Equal(t, 2, limiter.Len())

	require.Zero(t, limiter.Sweep())

	clock.Advance(2 * time.Second)
	require.Equal(t, 1, limiter.Sweep())
	require.Equal(t, 1, limiter.Len())

	limiter.mu.Lock()
	_, shortExists := limiter.entries["short"]
	_, longExists := limiter.entries["long"]
	limiter.mu.Unlock()
	require.False(t, shortExists)
	require.True(t, longExists)
}

func TestLimiter_SweepThenAttemptConverges(t *testing.T) {
	clock := newFakeClock()
	policy := Policy{Window: time.Second, MaxAttempts: 3}

	swept := New(WithClock(clock.Now))
	unswept := New(WithClock(clock.Now))
	for _, l := range []*Limiter{swept, unswept} {
		l.Attempt("k", policy)
		l.Attempt("k", policy)
	}

	clock.Advance(2 * time.Second)
	swept.Sweep()

	require.Equal(t, swept.Attempt("k", policy), unswept.Attempt("k", policy))
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Now()
	res := Result{ResetAt: now.Add(1500 * time.Millisecond)}
	require.Equal(t, 1500*time.Millisecond, res.RetryAfter(now))
	require.Zero(t, res.RetryAfter(now.Add(time.Hour)))
}

func TestLimiter_ConcurrentAttempts(t *testing.T) {
	limiter := New()
	policy := Policy{Window: time.Hour, MaxAttempts: 50}

	const workers = 20
	const perWorker = 10

	var mu sync.Mutex
	admitted := map[string]int{}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("k%d", i%2)
				if limiter.Attempt(key, policy).Admitted {
					mu.Lock()
					admitted[key]++
					mu.Unlock()
				}
				limiter.Sweep()
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, 50, admitted["k0"])
	require.Equal(t, 50, admitted["k1"])
}
