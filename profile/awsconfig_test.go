package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	data := []byte(`
[default]
region = us-west-2

[profile direct]
sso_start_url = https://direct.awsapps.com/start
sso_account_id = 111111111111
sso_role_name = Admin

[profile via-session]
sso_session = corp
sso_account_id = 222222222222
sso_role_name = ReadOnly
region = eu-central-1

[sso-session corp]
sso_start_url = https://corp.awsapps.com/start
sso_region = eu-west-1

[profile chained]
role_arn = arn:aws:iam::333333333333:role/x
source_profile = default

[plugins]
foo = bar
`)

	parsed, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Empty(t, parsed.Warnings)
	require.Len(t, parsed.Profiles, 4)
	require.Contains(t, parsed.Sessions, "corp")

	byName := map[string]ConfigSettings{}
	for _, p := range parsed.Profiles {
		byName[p.Name] = p.Settings
	}

	assert.Equal(t, "us-west-2", byName["default"].Region)
	assert.False(t, byName["default"].IsSSO())

	direct := byName["direct"]
	assert.True(t, direct.IsSSO())
	assert.Empty(t, direct.SSORegion)
	assert.Equal(t, "111111111111", direct.SSOAccountID)

	session := byName["via-session"]
	assert.True(t, session.IsSSO())
	assert.Equal(t, "https://corp.awsapps.com/start", session.SSOStartURL)
	assert.Equal(t, "eu-west-1", session.SSORegion)
	assert.Equal(t, "eu-central-1", session.Region)
	assert.Equal(t, "corp", session.SSOSession)

	assert.Equal(t, "default", byName["chained"].SourceProfile)
	assert.False(t, byName["chained"].IsSSO())
}

func TestParseConfig_UnknownSession(t *testing.T) {
	parsed, err := ParseConfig([]byte("[profile x]\nsso_session = missing\n"))
	require.NoError(t, err)
	require.Len(t, parsed.Warnings, 1)
	assert.Contains(t, parsed.Warnings[0].Error(), `unknown sso-session "missing"`)
	require.Len(t, parsed.Profiles, 1)
	assert.False(t, parsed.Profiles[0].Settings.IsSSO())
}

func TestParseConfig_DefaultDefinedTwice(t *testing.T) {
	parsed, err := ParseConfig([]byte("[default]\nregion = a\n[profile default]\nregion = b\n"))
	require.NoError(t, err)
	require.Len(t, parsed.Profiles, 1)
	assert.Equal(t, "a", parsed.Profiles[0].Settings.Region)
	require.Len(t, parsed.Warnings, 1)
}
