package console

import (
	"context"
	"sync"
	"time"

	"github.com/stephnangue/profilebridge/logger"
	"golang.org/x/sync/singleflight"
)

// Entry is a cached sign-in URL.
type Entry struct {
	Profile          string
	Region           string
	URL              string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	CredentialExpiry time.Time
}

// Supplier produces a fresh URL and the expiry of the credentials behind it.
// The expiry is zero for credentials that do not expire.
type Supplier func(ctx context.Context) (url string, credentialExpiry time.Time, err error)

type CacheStats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

type URLCacheConfig struct {
	SessionDuration time.Duration
	Margin          time.Duration
	// GenerateTimeout bounds a shared call to the supplier. The call does
	// not end when the caller that started it goes away.
	GenerateTimeout time.Duration
	Logger          *logger.GatedLogger
	Now             func() time.Time
}

type entryKey struct {
	profile string
	region  string
}

// URLCache memoizes sign-in URLs per profile and region until Margin before
// they expire. It has no capacity bound.
type URLCache struct {
	sessionDuration time.Duration
	margin          time.Duration
	generateTimeout time.Duration
	logger          *logger.GatedLogger
	now             func() time.Time

	mu      sync.Mutex
	entries map[entryKey]Entry
	group   singleflight.Group
}

func NewURLCache(conf URLCacheConfig) *URLCache {
	if conf.SessionDuration <= 0 {
		conf.SessionDuration = 12 * time.Hour
	}
	if conf.GenerateTimeout <= 0 {
		conf.GenerateTimeout = 30 * time.Second
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	return &URLCache{
		sessionDuration: conf.SessionDuration,
		margin:          conf.Margin,
		generateTimeout: conf.GenerateTimeout,
		logger:          conf.Logger.WithSubsystem("url-cache"),
		now:             conf.Now,
		entries:         make(map[entryKey]Entry),
	}
}

func (c *URLCache) reusable(e Entry, now time.Time) bool {
	return now.Before(e.ExpiresAt.Add(-c.margin))
}

// GetOrGenerate returns the cached URL for (profile, region) or calls supply.
// Concurrent misses for one key share a single call, which keeps running
// when the caller that started it is canceled. Each caller still returns as
// soon as its own ctx is done.
func (c *URLCache) GetOrGenerate(ctx context.Context, profile, region string, supply Supplier) (string, error) {
	key := entryKey{profile: profile, region: region}

	if url, ok := c.lookup(key); ok {
		return url, nil
	}

	ch := c.group.DoChan(profile+"\x00"+region, func() (interface{}, error) {
		// A caller that lost the race may find the entry already stored.
		if url, ok := c.lookup(key); ok {
			return url, nil
		}

		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.generateTimeout)
		defer cancel()
		url, credExpiry, err := supply(genCtx)
		if err != nil {
			return "", err
		}

		issued := c.now()
		expires := issued.Add(c.sessionDuration)
		if !credExpiry.IsZero() && credExpiry.Before(expires) {
			expires = credExpiry
		}
		e := Entry{
			Profile:          profile,
			Region:           region,
			URL:              url,
			IssuedAt:         issued,
			ExpiresAt:        expires,
			CredentialExpiry: credExpiry,
		}

		c.mu.Lock()
		c.pruneLocked(issued)
		if c.reusable(e, issued) {
			c.entries[key] = e
		}
		c.mu.Unlock()

		c.logger.Debug("console url generated",
			logger.String("profile", profile),
			logger.String("region", region),
			logger.Time("expires_at", expires),
		)
		return url, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.logger.Trace("console url generation shared", logger.String("profile", profile))
		}
		return res.Val.(string), nil
	}
}

func (c *URLCache) lookup(key entryKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.reusable(e, c.now()) {
		delete(c.entries, key)
		return "", false
	}
	return e.URL, true
}

func (c *URLCache) pruneLocked(now time.Time) {
	for k, e := range c.entries {
		if !c.reusable(e, now) {
			delete(c.entries, k)
		}
	}
}

// InvalidateIfChanged drops entries of profile minted under credentials with
// a different expiry than expiry. A nil expiry or an entry without a
// recorded expiry is left alone.
func (c *URLCache) InvalidateIfChanged(profile string, expiry *time.Time) int {
	if expiry == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if k.profile != profile || e.CredentialExpiry.IsZero() {
			continue
		}
		if !e.CredentialExpiry.Equal(*expiry) {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("credentials changed, dropped cached urls",
			logger.String("profile", profile), logger.Int("dropped", n))
	}
	return n
}

// Invalidate drops every entry of profile.
func (c *URLCache) Invalidate(profile string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.profile == profile {
			delete(c.entries, k)
		}
	}
}

func (c *URLCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[entryKey]Entry)
	c.mu.Unlock()
}

func (c *URLCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	s := CacheStats{Total: len(c.entries)}
	for _, e := range c.entries {
		if c.reusable(e, now) {
			s.Valid++
		} else {
			s.Expired++
		}
	}
	return s
}
