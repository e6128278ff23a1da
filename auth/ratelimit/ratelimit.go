// Package ratelimit is a sliding-window limiter keyed by token hash.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultMaxAttempts = 120
	DefaultWindow      = time.Minute
	DefaultMaxTracked  = 1024
)

type Config struct {
	MaxAttempts int
	Window      time.Duration
	// MaxTracked bounds how many hashes are remembered. When full, idle
	// hashes are forgotten first, then hashes with room left in their window.
	// A saturated hash is only dropped when every tracked hash is saturated.
	MaxTracked int
	Now        func() time.Time
}

// Limiter keeps the timestamps of recent requests per hash. Raw tokens are
// never stored.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	tracked int
	windows *lru.Cache[string, []time.Time]
}

func New(conf Config) *Limiter {
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = DefaultMaxAttempts
	}
	if conf.Window <= 0 {
		conf.Window = DefaultWindow
	}
	if conf.MaxTracked <= 0 {
		conf.MaxTracked = DefaultMaxTracked
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	// Size is positive, so New cannot fail.
	windows, _ := lru.New[string, []time.Time](conf.MaxTracked)
	return &Limiter{
		max:     conf.MaxAttempts,
		window:  conf.Window,
		now:     conf.Now,
		tracked: conf.MaxTracked,
		windows: windows,
	}
}

// Allow records a request for hash unless the window is full.
func (l *Limiter) Allow(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := l.prune(hash, now)
	if len(stamps) >= l.max {
		l.windows.Add(hash, stamps)
		return false
	}
	if !l.windows.Contains(hash) && l.windows.Len() >= l.tracked {
		l.evict(now)
	}
	l.windows.Add(hash, append(stamps, now))
	return true
}

// evict frees one slot, oldest first, preferring hashes whose window is
// empty, then hashes that are not saturated. If every hash is saturated the
// cache drops its least recently used entry on the next Add.
func (l *Limiter) evict(now time.Time) {
	var open string
	found := false
	for _, k := range l.windows.Keys() {
		n := len(l.prune(k, now))
		if n == 0 {
			l.windows.Remove(k)
			return
		}
		if !found && n < l.max {
			open, found = k, true
		}
	}
	if found {
		l.windows.Remove(open)
	}
}

// Remaining is how many more requests hash may make in the current window.
func (l *Limiter) Remaining(hash string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.max - len(l.prune(hash, l.now()))
	if n < 0 {
		return 0
	}
	return n
}

// RetryAfter is how long until the oldest recorded request leaves the window.
func (l *Limiter) RetryAfter(hash string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	stamps := l.prune(hash, now)
	if len(stamps) < l.max {
		return 0
	}
	return stamps[0].Add(l.window).Sub(now)
}

func (l *Limiter) prune(hash string, now time.Time) []time.Time {
	stamps, _ := l.windows.Peek(hash)
	cutoff := now.Add(-l.window)
	kept := make([]time.Time, 0, len(stamps)+1)
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (l *Limiter) Reset(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows.Remove(hash)
}

// Tracked is the number of hashes currently remembered.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windows.Len()
}

func (l *Limiter) Max() int { return l.max }

func (l *Limiter) Window() time.Duration { return l.window }
