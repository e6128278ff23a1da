package profile

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPaths = Paths{
	Credentials: "/home/u/.aws/credentials",
	Config:      "/home/u/.aws/config",
	DisableSSO:  "/home/u/.aws/.nosso",
}

func newTestAggregator(t *testing.T, now time.Time, creds, cfg string) (afero.Fs, *Aggregator) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	if creds != "" {
		require.NoError(t, afero.WriteFile(fsys, testPaths.Credentials, []byte(creds), 0o600))
	}
	if cfg != "" {
		require.NoError(t, afero.WriteFile(fsys, testPaths.Config, []byte(cfg), 0o600))
	}
	return fsys, NewAggregator(AggregatorConfig{
		Fs:    fsys,
		Paths: testPaths,
		Now:   func() time.Time { return now },
	})
}

func TestListProfiles_StaticWithExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	creds := fmt.Sprintf("[alpha]\naws_access_key_id = AKIA\naws_secret_access_key = s\n# Expires %s UTC\n",
		now.Add(time.Hour).Format("2006-01-02 15:04:05"))

	_, agg := newTestAggregator(t, now, creds, "")
	profiles, err := agg.ListProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	p := profiles[0]
	assert.Equal(t, "alpha", p.Name)
	assert.True(t, p.HasCredentials)
	assert.False(t, p.Expired)
	require.NotNil(t, p.Expiration)
	assert.Equal(t, Fallback.Color, p.Color)
	assert.Equal(t, Fallback.Icon, p.Icon)
	assert.False(t, p.IsSSO)
}

func TestListProfiles_ExpirationDerivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stamp := func(d time.Duration) string { return now.Add(d).Format("2006-01-02 15:04:05") }
	creds := fmt.Sprintf(`
[past]
aws_access_key_id = A
# Expires %s UTC
[future]
aws_access_key_id = A
# Expires %s UTC
[none]
aws_access_key_id = A
`, stamp(-time.Second), stamp(time.Hour))

	_, agg := newTestAggregator(t, now, creds, "")
	profiles, err := agg.ListProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	assert.Equal(t, "future", profiles[0].Name)
	assert.False(t, profiles[0].Expired)
	assert.Equal(t, "none", profiles[1].Name)
	assert.False(t, profiles[1].Expired)
	assert.Nil(t, profiles[1].Expiration)
	assert.Equal(t, "past", profiles[2].Name)
	assert.True(t, profiles[2].Expired)
}

func TestListProfiles_Merge(t *testing.T) {
	creds := "[shared]\naws_access_key_id = A\naws_secret_access_key = B\n"
	cfg := `
[profile shared]
sso_start_url = https://x
sso_account_id = 1
sso_role_name = R
region = eu-west-1

[profile beta]
sso_start_url = https://x

[profile chained]
role_arn = arn:aws:iam::1:role/x
`
	_, agg := newTestAggregator(t, time.Now(), creds, cfg)
	profiles, err := agg.ListProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	beta, shared := profiles[0], profiles[1]

	assert.Equal(t, "beta", beta.Name)
	assert.True(t, beta.IsSSO)
	assert.False(t, beta.HasCredentials)
	assert.Empty(t, beta.SSORegion)

	assert.Equal(t, "shared", shared.Name)
	assert.True(t, shared.HasCredentials, "static credentials win")
	assert.True(t, shared.HasStaticCredentials)
	assert.True(t, shared.IsSSO)
	assert.Equal(t, "https://x", shared.SSOStartURL)
	assert.Equal(t, "eu-west-1", shared.Region)
}

func TestListProfiles_DisableSSOMarker(t *testing.T) {
	creds := "[shared]\naws_access_key_id = A\n"
	cfg := "[profile shared]\nsso_start_url = https://x\n[profile beta]\nsso_start_url = https://x\n"
	fsys, agg := newTestAggregator(t, time.Now(), creds, cfg)
	require.NoError(t, afero.WriteFile(fsys, testPaths.DisableSSO, nil, 0o600))

	profiles, err := agg.ListProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "shared", profiles[0].Name)
	assert.False(t, profiles[0].IsSSO)
}

func TestListProfiles_NoFiles(t *testing.T) {
	_, agg := newTestAggregator(t, time.Now(), "", "")
	profiles, err := agg.ListProfiles()
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestListProfiles_Idempotent(t *testing.T) {
	fsys, agg := newTestAggregator(t, time.Now(), "[a]\naws_access_key_id = A\n", "[profile b]\nsso_start_url = https://x\n")

	first, err := agg.ListProfiles()
	require.NoError(t, err)
	second, err := agg.ListProfiles()
	require.NoError(t, err)

	b1, _ := json.Marshal(first)
	b2, _ := json.Marshal(second)
	assert.Equal(t, b1, b2)
	assert.Equal(t, uint64(1), agg.CacheStats()["credentials"].Parses)
	assert.Equal(t, uint64(1), agg.CacheStats()["config"].Parses)

	later := time.Now().Add(time.Hour)
	require.NoError(t, fsys.Chtimes(testPaths.Credentials, later, later))
	_, err = agg.ListProfiles()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), agg.CacheStats()["credentials"].Parses)
	assert.Equal(t, uint64(1), agg.CacheStats()["config"].Parses)
}

func TestListProfiles_MalformedSectionDoesNotHideOthers(t *testing.T) {
	_, agg := newTestAggregator(t, time.Now(), "[broken\n[good]\naws_access_key_id = A\n", "")

	profiles, err := agg.ListProfiles()
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "good", profiles[0].Name)

	err = agg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedSection)
}

func TestLookup(t *testing.T) {
	_, agg := newTestAggregator(t, time.Now(), "[a]\naws_access_key_id = A\n[c]\naws_access_key_id = A\n", "")

	p, ok, err := agg.Lookup("c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", p.Name)

	_, ok, err = agg.Lookup("b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProfileJSON(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	static, err := json.Marshal(Profile{Name: "a", HasCredentials: true, Expiration: &exp, Color: "blue", Icon: "circle", HasStaticCredentials: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","has_credentials":true,"expiration":"2030-01-01T00:00:00Z","expired":false,"color":"blue","icon":"circle","is_sso":false}`, string(static))

	sso, err := json.Marshal(Profile{Name: "b", IsSSO: true, SSOStartURL: "https://x", SSORegion: "us-east-1", Region: "eu-west-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"b","has_credentials":false,"expired":false,"color":"","icon":"","is_sso":true,"sso_start_url":"https://x","sso_region":"us-east-1","aws_region":"eu-west-1"}`, string(sso))
}
