package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	l, err := New(opts...)
	require.NoError(t, err)
	return l
}

func TestAuthenticationBurst(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	// authentication: 5/min, burst 3.
	for i := 0; i < 3; i++ {
		d := l.Allow("client", CategoryAuthentication)
		require.Truef(t, d.Allowed, "request %d denied", i+1)
		assert.Equal(t, 5-(i+1), d.Remaining)
		assert.Equal(t, 5, d.Limit)
	}

	d := l.Allow("client", CategoryAuthentication)
	assert.False(t, d.Allowed, "4th request in same second must be denied")
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Second, d.ResetIn)
	assert.Equal(t, CategoryAuthentication, d.Category)
}

func TestWindowLimitAcrossSeconds(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	admitted := 0
	for i := 0; i < 10; i++ {
		if l.Allow("client", CategoryAuthentication).Allowed {
			admitted++
		}
		clock.Advance(1100 * time.Millisecond)
	}
	assert.Equal(t, 5, admitted, "window cap of 5 per 60s")

	d := l.Allow("client", CategoryAuthentication)
	require.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	// 11 requests * 1.1s elapsed since window start = 11s; 49s left.
	assert.Equal(t, 49*time.Second, d.ResetIn)
}

func TestWindowRollover(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("client", CategoryKeyGeneration).Allowed)
		clock.Advance(2 * time.Second)
	}
	require.False(t, l.Allow("client", CategoryKeyGeneration).Allowed)

	clock.Advance(60 * time.Second)
	d := l.Allow("client", CategoryKeyGeneration)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, 60*time.Second, d.ResetIn)
}

func TestRolloverAtExactWindowBoundary(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock, WithCategories(map[string]Config{
		"tiny": {RequestsPerMinute: 1, BurstLimit: 1, WindowSize: 10 * time.Second},
	}))

	require.True(t, l.Allow("c", "tiny").Allowed)
	clock.Advance(10*time.Second - time.Nanosecond)
	require.False(t, l.Allow("c", "tiny").Allowed)
	clock.Advance(time.Nanosecond)
	assert.True(t, l.Allow("c", "tiny").Allowed, "elapsed == window must roll over")
}

func TestClientsAndCategoriesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.True(t, l.Allow("a", CategoryKeyGeneration).Allowed)
	require.False(t, l.Allow("a", CategoryKeyGeneration).Allowed)

	assert.True(t, l.Allow("b", CategoryKeyGeneration).Allowed, "other client")
	assert.True(t, l.Allow("a", CategoryDataRead).Allowed, "other category")
}

func TestUnknownCategoryUsesDefault(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	d := l.Allow("client", "made-up")
	assert.True(t, d.Allowed)
	assert.Equal(t, CategoryDefault, d.Category)
	assert.Equal(t, 100, d.Limit)
	assert.Equal(t, 99, d.Remaining)

	// Shares the default entry.
	d = l.Allow("client", CategoryDefault)
	assert.Equal(t, 98, d.Remaining)
}

func TestClockRegressionIsClamped(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	require.True(t, l.Allow("c", CategoryKeyGeneration).Allowed)
	clock.Advance(-30 * time.Second)

	d := l.Allow("c", CategoryKeyGeneration)
	assert.False(t, d.Allowed, "burst still exhausted under regression")
	assert.Equal(t, time.Second, d.ResetIn)
	assert.Equal(t, 0, d.Remaining)
}

func TestDenialDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 3; i++ {
		l.Allow("c", CategoryAuthentication)
	}
	for i := 0; i < 10; i++ {
		require.False(t, l.Allow("c", CategoryAuthentication).Allowed)
	}
	clock.Advance(time.Second)
	d := l.Allow("c", CategoryAuthentication)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestConcurrentAdmissionIsExact(t *testing.T) {
	clock := newFakeClock()
	const quota = 25
	l := newTestLimiter(t, clock, WithCategories(map[string]Config{
		"hot": {RequestsPerMinute: quota, BurstLimit: 1000, WindowSize: time.Minute},
	}))

	const goroutines = 200
	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.Allow("shared", "hot").Allowed {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(quota), admitted.Load())
}

func TestConcurrentManyClients(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	var wg sync.WaitGroup
	counts := make([]atomic.Int64, 20)
	for c := 0; c < 20; c++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(c int) {
				defer wg.Done()
				if l.Allow(fmt.Sprintf("client-%d", c), CategoryAuthentication).Allowed {
					counts[c].Add(1)
				}
			}(c)
		}
	}
	wg.Wait()

	for c := range counts {
		assert.Equalf(t, int64(3), counts[c].Load(), "client-%d admitted", c)
	}
	assert.Equal(t, 20, l.Len())
}

func TestSweepRemovesIdleEntries(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	l.Allow("idle", CategoryDataRead)
	clock.Advance(30 * time.Second)
	l.Allow("active", CategoryDataRead)

	// Default grace is 2 x 60s.
	clock.Advance(100 * time.Second)
	assert.Equal(t, 1, l.Sweep(), "idle entry is 130s old")
	assert.Equal(t, 1, l.Len())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 0, l.Len())
}

func TestSweptClientStartsFresh(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock, WithGracePeriod(time.Second))

	require.True(t, l.Allow("c", CategoryKeyGeneration).Allowed)
	clock.Advance(2 * time.Second)
	require.Equal(t, 1, l.Sweep())

	d := l.Allow("c", CategoryKeyGeneration)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestSweepConcurrentWithAllow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock, WithGracePeriod(time.Nanosecond), WithCategories(map[string]Config{
		"hot": {RequestsPerMinute: 1 << 20, BurstLimit: 1 << 20, WindowSize: time.Minute},
	}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				clock.Advance(time.Millisecond)
				l.Sweep()
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				assert.True(t, l.Allow(fmt.Sprintf("c%d", i%2), "hot").Allowed)
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestPeekDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	d := l.Peek("c", CategoryAuthentication)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
	assert.Equal(t, 0, l.Len(), "peek must not create entries")

	l.Allow("c", CategoryAuthentication)
	l.Allow("c", CategoryAuthentication)
	for i := 0; i < 3; i++ {
		d = l.Peek("c", CategoryAuthentication)
		assert.Equal(t, 3, d.Remaining)
		assert.True(t, d.Allowed)
	}

	l.Allow("c", CategoryAuthentication)
	d = l.Peek("c", CategoryAuthentication)
	assert.False(t, d.Allowed, "burst exhausted")
	assert.Equal(t, time.Second, d.ResetIn)
}

func TestStartStop(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock, WithSweepInterval(5*time.Millisecond), WithGracePeriod(time.Second))

	l.Allow("c", CategoryDataRead)
	clock.Advance(time.Hour)

	l.Start()
	l.Start()
	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	l.Stop()
	l.Stop()
}

func TestNewRejectsInvalidCategory(t *testing.T) {
	_, err := New(WithCategories(map[string]Config{
		"broken": {RequestsPerMinute: 0, BurstLimit: 1, WindowSize: time.Minute},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestDefaultCategories(t *testing.T) {
	cats := DefaultCategories()
	tests := []struct {
		name       string
		rpm, burst int
	}{
		{CategoryAuthentication, 5, 3},
		{CategoryDataRead, 200, 50},
		{CategoryDataWrite, 50, 10},
		{CategoryKeyGeneration, 3, 1},
		{CategoryBatch, 2, 1},
		{CategoryDefault, 100, 20},
	}
	for _, tt := range tests {
		cfg, ok := cats[tt.name]
		require.Truef(t, ok, "missing %s", tt.name)
		assert.Equal(t, tt.rpm, cfg.RequestsPerMinute, tt.name)
		assert.Equal(t, tt.burst, cfg.BurstLimit, tt.name)
		assert.Equal(t, 60*time.Second, cfg.WindowSize, tt.name)
	}
}
