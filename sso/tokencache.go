// Package sso reads bearer tokens cached by "aws sso login" and exchanges them
// for role credentials.
package sso

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/spf13/afero"
	"github.com/stephnangue/profilebridge/logger"
)

const legacyExpiresLayout = "2006-01-02T15:04:05UTC"

// Token is a cached SSO bearer token.
type Token struct {
	StartURL      string
	AccessToken   string
	Region        string
	ExpiresAt     time.Time
	SourcePath    string
	SourceModTime time.Time
}

// Usable reports whether the token is still valid margin before its expiry.
func (t *Token) Usable(now time.Time, margin time.Duration) bool {
	return now.Before(t.ExpiresAt.Add(-margin))
}

func (t Token) String() string {
	return fmt.Sprintf("Token{StartURL: %s, Region: %s, ExpiresAt: %s, AccessToken: [REDACTED]}",
		t.StartURL, t.Region, t.ExpiresAt.Format(time.RFC3339))
}

func (t Token) GoString() string { return t.String() }

// cacheFile is the JSON document written by the AWS CLI.
type cacheFile struct {
	StartURL     string `json:"startUrl"`
	AccessToken  string `json:"accessToken"`
	Region       string `json:"region"`
	ExpiresAt    string `json:"expiresAt"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type TokenCacheConfig struct {
	Fs  afero.Fs
	Dir string
	// MemoryTTL bounds how long a token stays in memory before the disk
	// file is consulted again.
	MemoryTTL time.Duration
	// ExpiryMargin is subtracted from a token's expiry when judging it.
	ExpiryMargin time.Duration
	Logger       *logger.GatedLogger
	Now          func() time.Time
}

// TokenCache looks up tokens in memory, then in the CLI's cache directory.
// It never writes to that directory.
type TokenCache struct {
	fs        afero.Fs
	dir       string
	memoryTTL time.Duration
	margin    time.Duration
	logger    *logger.GatedLogger
	now       func() time.Time
	memory    *ristretto.Cache[string, *Token]
}

func NewTokenCache(conf TokenCacheConfig) (*TokenCache, error) {
	if conf.Fs == nil {
		conf.Fs = afero.NewOsFs()
	}
	if conf.Logger == nil {
		conf.Logger = logger.NewNopLogger()
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	if conf.MemoryTTL <= 0 {
		conf.MemoryTTL = 30 * time.Second
	}

	memory, err := ristretto.NewCache(&ristretto.Config[string, *Token]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
		// Each token costs 1; the limit is a count of start URLs.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token cache: %w", err)
	}

	return &TokenCache{
		fs:        conf.Fs,
		dir:       conf.Dir,
		memoryTTL: conf.MemoryTTL,
		margin:    conf.ExpiryMargin,
		logger:    conf.Logger.WithSubsystem("sso-cache"),
		now:       conf.Now,
		memory:    memory,
	}, nil
}

// Lookup returns a usable token for startURL.
func (c *TokenCache) Lookup(startURL string) (*Token, bool) {
	return c.LookupSession("", startURL)
}

// LookupSession returns a usable token for startURL, trying the file named
// after session first when it is set.
func (c *TokenCache) LookupSession(session, startURL string) (*Token, bool) {
	if startURL == "" {
		return nil, false
	}
	key := normalizeURL(startURL)
	now := c.now()

	if tok, ok := c.fromMemory(key, now); ok {
		return tok, true
	}

	tok, ok := c.fromDisk(session, startURL, now)
	if !ok {
		return nil, false
	}

	ttl := c.memoryTTL
	if remaining := tok.ExpiresAt.Sub(now) - c.margin; remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		c.memory.SetWithTTL(key, tok, 1, ttl)
		c.memory.Wait()
	}

	cp := *tok
	return &cp, true
}

func (c *TokenCache) fromMemory(key string, now time.Time) (*Token, bool) {
	tok, found := c.memory.Get(key)
	if !found || tok == nil {
		return nil, false
	}

	info, err := c.fs.Stat(tok.SourcePath)
	if err != nil || !info.ModTime().Equal(tok.SourceModTime) {
		// The login flow rewrote or removed the file.
		c.memory.Del(key)
		c.logger.Debug("cached token source changed", logger.String("file", filepath.Base(tok.SourcePath)))
		return nil, false
	}
	if !tok.Usable(now, c.margin) {
		c.memory.Del(key)
		return nil, false
	}

	cp := *tok
	return &cp, true
}

func (c *TokenCache) fromDisk(session, startURL string, now time.Time) (*Token, bool) {
	key := normalizeURL(startURL)
	var candidates []string
	if session != "" {
		candidates = append(candidates, cacheFileName(session))
	}
	candidates = append(candidates, cacheFileName(startURL))

	for _, name := range candidates {
		tok, err := c.readToken(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		if normalizeURL(tok.StartURL) == key && tok.Usable(now, c.margin) {
			return tok, true
		}
	}

	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to list sso cache directory", logger.Err(err))
		}
		return nil, false
	}

	var best *Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		tok, err := c.readToken(filepath.Join(c.dir, e.Name()))
		if err != nil {
			continue
		}
		if normalizeURL(tok.StartURL) != key || !tok.Usable(now, c.margin) {
			continue
		}
		if best == nil || tok.ExpiresAt.After(best.ExpiresAt) {
			best = tok
		}
	}
	return best, best != nil
}

var errNotAToken = errors.New("not a token file")

func (c *TokenCache) readToken(p string) (*Token, error) {
	info, err := c.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(c.fs, p)
	if err != nil {
		return nil, err
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Debug("skipping unreadable sso cache file", logger.String("file", filepath.Base(p)))
		return nil, err
	}
	if f.AccessToken == "" || f.StartURL == "" {
		return nil, errNotAToken
	}
	expiresAt, err := parseExpiresAt(f.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &Token{
		StartURL:      f.StartURL,
		AccessToken:   f.AccessToken,
		Region:        f.Region,
		ExpiresAt:     expiresAt,
		SourcePath:    p,
		SourceModTime: info.ModTime(),
	}, nil
}

// Purge empties the memory tier.
func (c *TokenCache) Purge() {
	c.memory.Clear()
}

func (c *TokenCache) Close() {
	c.memory.Close()
}

// CacheSummary describes one file of the cache directory without its secret.
type CacheSummary struct {
	File      string     `json:"file" yaml:"file"`
	Kind      string     `json:"kind" yaml:"kind"`
	StartURL  string     `json:"start_url,omitempty" yaml:"start_url,omitempty"`
	Region    string     `json:"region,omitempty" yaml:"region,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Valid     bool       `json:"valid" yaml:"valid"`
}

// Summaries lists the cache directory sorted by file name.
func (c *TokenCache) Summaries() ([]CacheSummary, error) {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sso cache directory: %w", err)
	}

	now := c.now()
	var out []CacheSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s := CacheSummary{File: e.Name(), Kind: "unreadable"}
		data, err := afero.ReadFile(c.fs, filepath.Join(c.dir, e.Name()))
		var f cacheFile
		if err == nil && json.Unmarshal(data, &f) == nil {
			switch {
			case f.AccessToken != "":
				s.Kind = "token"
			case f.ClientID != "":
				s.Kind = "client-registration"
			default:
				s.Kind = "other"
			}
			s.StartURL = f.StartURL
			s.Region = f.Region
			if t, err := parseExpiresAt(f.ExpiresAt); err == nil {
				s.ExpiresAt = &t
				s.Valid = s.Kind == "token" && now.Before(t.Add(-c.margin))
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

func parseExpiresAt(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(legacyExpiresLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiresAt %q", v)
	}
	return t, nil
}

// cacheFileName mirrors the naming of the AWS CLI: sha1 of the session name
// or start URL, hex encoded.
func cacheFileName(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
