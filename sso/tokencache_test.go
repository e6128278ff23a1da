package sso

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cacheDir = "/home/u/.aws/sso/cache"

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func writeToken(t *testing.T, fsys afero.Fs, name, startURL, access string, expires time.Time) string {
	t.Helper()
	p := filepath.Join(cacheDir, name)
	data, err := json.Marshal(map[string]string{
		"startUrl":    startURL,
		"accessToken": access,
		"region":      "eu-west-1",
		"expiresAt":   expires.Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, p, data, 0o600))
	return p
}

func newCache(t *testing.T, fsys afero.Fs, now *time.Time) *TokenCache {
	t.Helper()
	c, err := NewTokenCache(TokenCacheConfig{
		Fs:           fsys,
		Dir:          cacheDir,
		MemoryTTL:    30 * time.Second,
		ExpiryMargin: 5 * time.Minute,
		Now:          func() time.Time { return *now },
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestLookup_FastPath(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := testNow
	writeToken(t, fsys, cacheFileName("https://x.awsapps.com/start"), "https://x.awsapps.com/start", "tok-a", now.Add(time.Hour))

	c := newCache(t, fsys, &now)
	tok, ok := c.Lookup("https://x.awsapps.com/start")
	require.True(t, ok)
	assert.Equal(t, "tok-a", tok.AccessToken)
	assert.Equal(t, "eu-west-1", tok.Region)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
}

func TestLookup_SessionFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := testNow
	writeToken(t, fsys, cacheFileName("corp"), "https://corp/start", "tok-session", now.Add(time.Hour))

	c := newCache(t, fsys, &now)
	tok, ok := c.LookupSession("corp", "https://corp/start")
	require.True(t, ok)
	assert.Equal(t, "tok-session", tok.AccessToken)
}

func TestLookup_ScanPicksLatest(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := testNow
	writeToken(t, fsys, "a.json", "https://x/start", "older", now.Add(time.Hour))
	writeToken(t, fsys, "b.json", "https://x/start/", "newer", now.Add(2*time.Hour))
	writeToken(t, fsys, "c.json", "https://other/start", "other", now.Add(3*time.Hour))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(cacheDir, "d.json"), []byte("{not json"), 0o600))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(cacheDir, "e.json"),
		[]byte(`{"clientId":"id","clientSecret":"s","expiresAt":"2030-01-01T00:00:00Z"}`), 0o600))

	c := newCache(t, fsys, &now)
	tok, ok := c.Lookup("https://x/start")
	require.True(t, ok)
	assert.Equal(t, "newer", tok.AccessToken)
}

func TestLookup_ExpiredAndMargin(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := testNow
	writeToken(t, fsys, "a.json", "https://expired", "x", now.Add(-time.Minute))
	writeToken(t, fsys, "b.json", "https://margin", "x", now.Add(4*time.Minute))

	c := newCache(t, fsys, &now)
	_, ok := c.Lookup("https://expired")
	assert.False(t, ok)
	_, ok = c.Lookup("https://margin")
	assert.False(t, ok, "tokens inside the safety margin are not usable")
	_, ok = c.Lookup("https://missing")
	assert.False(t, ok)
	_, ok = c.Lookup("")
	assert.False(t, ok)
}

func TestLookup_LegacyExpiresFormat(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := testNow
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(cacheDir, "a.json"), []byte(fmt.Sprintf(
		`{"startUrl":"https://x","accessToken":"legacy","region":"us-east-1","expiresAt":"%s"}`,
		now.Add(time.Hour).Format(legacyExpiresLayout))), 0o600))

	c := newCache(t, fsys, &now)
	tok, ok := c.Lookup("https://x")
	require.True(t, ok)
	assert.Equal(t, "legacy", tok.AccessToken)
}

func TestLookup_MemoryTier(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := testNow
	p := writeToken(t, fsys, "a.json", "https://x", "first", now.Add(time.Hour))

	c := newCache(t, fsys, &now)
	_, ok := c.Lookup("https://x")
	require.True(t, ok)

	// Same mtime: the memory tier answers without rereading.
	info, err := fsys.Stat(p)
	require.NoError(t, err)
	writeToken(t, fsys, "a.json", "https://x", "second", now.Add(time.Hour))
	require.NoError(t, fsys.Chtimes(p, info.ModTime(), info.ModTime()))

	tok, ok := c.Lookup("https://x")
	require.True(t, ok)
	assert.Equal(t, "first", tok.AccessToken)

	// A rewrite with a newer mtime drops the memory entry.
	later := info.ModTime().Add(time.Minute)
	require.NoError(t, fsys.Chtimes(p, later, later))
	tok, ok = c.Lookup("https://x")
	require.True(t, ok)
	assert.Equal(t, "second", tok.AccessToken)

	// A removed file is never served from memory.
	require.NoError(t, fsys.Remove(p))
	_, ok = c.Lookup("https://x")
	assert.False(t, ok)
}

func TestLookup_NeverWrites(t *testing.T) {
	base := afero.NewMemMapFs()
	now := testNow
	writeToken(t, base, "a.json", "https://x", "tok", now.Add(time.Hour))

	c := newCache(t, afero.NewReadOnlyFs(base), &now)
	_, ok := c.Lookup("https://x")
	assert.True(t, ok)
}

func TestSummaries(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := testNow
	writeToken(t, fsys, "a.json", "https://x", "secret-token", now.Add(time.Hour))
	writeToken(t, fsys, "b.json", "https://y", "secret-token", now.Add(-time.Hour))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(cacheDir, "c.json"),
		[]byte(`{"clientId":"id","clientSecret":"s","expiresAt":"2030-01-01T00:00:00Z"}`), 0o600))
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(cacheDir, "d.json"), []byte("nope"), 0o600))

	c := newCache(t, fsys, &now)
	sums, err := c.Summaries()
	require.NoError(t, err)
	require.Len(t, sums, 4)

	assert.Equal(t, "token", sums[0].Kind)
	assert.True(t, sums[0].Valid)
	assert.Equal(t, "token", sums[1].Kind)
	assert.False(t, sums[1].Valid)
	assert.Equal(t, "client-registration", sums[2].Kind)
	assert.Equal(t, "unreadable", sums[3].Kind)

	out, err := json.Marshal(sums)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret-token")
}

func TestSummaries_MissingDir(t *testing.T) {
	now := testNow
	c := newCache(t, afero.NewMemMapFs(), &now)
	sums, err := c.Summaries()
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestTokenString(t *testing.T) {
	tok := Token{StartURL: "https://x", AccessToken: "secret-token", ExpiresAt: testNow}
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v", tok, tok, tok), "secret-token")
}
