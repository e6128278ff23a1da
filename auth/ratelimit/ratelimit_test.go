package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestAllow_SlidingWindow(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{MaxAttempts: 3, Window: time.Minute, Now: clk.Now})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("h"), "request %d", i+1)
		clk.Advance(time.Second)
	}
	assert.False(t, l.Allow("h"), "max+1 is rejected")
	assert.Equal(t, 0, l.Remaining("h"))
	assert.Equal(t, 57*time.Second, l.RetryAfter("h"))

	// Other hashes are independent.
	assert.True(t, l.Allow("other"))

	// Once the oldest request leaves the window one more is allowed.
	clk.Advance(57 * time.Second)
	assert.True(t, l.Allow("h"))
	assert.False(t, l.Allow("h"))

	clk.Advance(time.Minute)
	assert.Equal(t, 3, l.Remaining("h"))
	assert.True(t, l.Allow("h"))
}

func TestAllow_RejectionsAreNotRecorded(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{MaxAttempts: 2, Window: 10 * time.Second, Now: clk.Now})

	assert.True(t, l.Allow("h"))
	assert.True(t, l.Allow("h"))
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		assert.False(t, l.Allow("h"))
	}
	// Only the two allowed requests count; both age out together.
	clk.Advance(5 * time.Second)
	assert.True(t, l.Allow("h"))
}

func TestReset(t *testing.T) {
	l := New(Config{MaxAttempts: 1, Window: time.Minute})
	assert.True(t, l.Allow("h"))
	assert.False(t, l.Allow("h"))
	l.Reset("h")
	assert.True(t, l.Allow("h"))
}

func TestTrackedIsBounded(t *testing.T) {
	l := New(Config{MaxAttempts: 5, Window: time.Minute, MaxTracked: 10})
	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("h%d", i))
	}
	assert.Equal(t, 10, l.Tracked())
}

func TestTracked_SaturatedHashSurvivesChurn(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{MaxAttempts: 2, Window: time.Minute, MaxTracked: 4, Now: clk.Now})

	assert.True(t, l.Allow("attacker"))
	assert.True(t, l.Allow("attacker"))
	assert.False(t, l.Allow("attacker"))

	for i := 0; i < 20; i++ {
		clk.Advance(time.Second)
		assert.True(t, l.Allow(fmt.Sprintf("other%d", i)))
	}

	assert.Equal(t, 4, l.Tracked())
	assert.False(t, l.Allow("attacker"))
	assert.Equal(t, 0, l.Remaining("attacker"))
}

func TestTracked_IdleHashesGoFirst(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{MaxAttempts: 5, Window: time.Minute, MaxTracked: 2, Now: clk.Now})

	assert.True(t, l.Allow("old"))
	clk.Advance(2 * time.Minute)
	assert.True(t, l.Allow("busy"))
	assert.True(t, l.Allow("busy"))
	assert.True(t, l.Allow("new"))

	assert.Equal(t, 2, l.Tracked())
	assert.Equal(t, 3, l.Remaining("busy"))
}

func TestDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, DefaultMaxAttempts, l.Max())
	assert.Equal(t, DefaultWindow, l.Window())
}

func TestAllow_Concurrent(t *testing.T) {
	l := New(Config{MaxAttempts: 100, Window: time.Hour})
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("h") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, allowed)
}
