package token

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const tokenPath = "/home/u/.aws/profile_bridge_config.json"

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(presented string) bool {
	return m.Called(presented).Bool(0)
}

func TestLoadOrCreate_GeneratesAndPersists(t *testing.T) {
	fsys := afero.NewMemMapFs()
	m := NewManager(ManagerConfig{Fs: fsys, Path: tokenPath})

	tok, err := m.LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, Structured, Classify(tok))
	assert.Equal(t, tok, m.Token())

	info, err := fsys.Stat(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := afero.ReadFile(fsys, tokenPath)
	require.NoError(t, err)
	var st map[string]string
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, tok, st["api_token"])

	// A second manager loads the same token.
	again, err := NewManager(ManagerConfig{Fs: fsys, Path: tokenPath}).LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, tok, again)
}

func TestLoadOrCreate_ReplacesInvalidToken(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, tokenPath, []byte(`{"api_token":"short"}`), 0o600))

	tok, err := NewManager(ManagerConfig{Fs: fsys, Path: tokenPath}).LoadOrCreate()
	require.NoError(t, err)
	assert.NotEqual(t, "short", tok)
	assert.Equal(t, Structured, Classify(tok))
}

func TestLoad_Missing(t *testing.T) {
	_, err := NewManager(ManagerConfig{Fs: afero.NewMemMapFs(), Path: tokenPath}).Load()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestRotate(t *testing.T) {
	m := NewManager(ManagerConfig{Fs: afero.NewMemMapFs(), Path: tokenPath})
	old, err := m.LoadOrCreate()
	require.NoError(t, err)

	fresh, err := m.Rotate()
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)
	assert.False(t, m.Validate(old).Valid)
	assert.True(t, m.Validate(fresh).Valid)
}

func TestValidate(t *testing.T) {
	m := NewManager(ManagerConfig{Fs: afero.NewMemMapFs(), Path: tokenPath})
	tok, err := m.LoadOrCreate()
	require.NoError(t, err)

	assert.Equal(t, Result{Kind: Structured, Valid: true}, m.Validate(tok))

	other, err := Generate()
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: Structured}, m.Validate(other))
	assert.Equal(t, Result{Kind: Invalid}, m.Validate(""))
}

func TestValidate_Legacy(t *testing.T) {
	legacy := "abcdefghijklmnopqrstuvwxyz0123456789-AB"
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, tokenPath, []byte(`{"api_token":"`+legacy+`"}`), 0o600))

	m := NewManager(ManagerConfig{Fs: fsys, Path: tokenPath})
	tok, err := m.LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, legacy, tok)

	assert.Equal(t, Result{Kind: Legacy, Valid: true}, m.Validate(legacy))
	assert.Equal(t, Result{Kind: Legacy, Valid: true}, m.Validate(legacy))
}

func TestValidate_ChecksumMismatchSkipsVerifier(t *testing.T) {
	v := &mockVerifier{}
	m := NewManager(ManagerConfig{Fs: afero.NewMemMapFs(), Path: tokenPath, Verifier: v})
	tok, err := m.Issue()
	require.NoError(t, err)

	v.On("Verify", tok).Return(true).Once()
	assert.True(t, m.Validate(tok).Valid)

	flipped := []byte(tok)
	if flipped[10] == 'a' {
		flipped[10] = 'b'
	} else {
		flipped[10] = 'a'
	}
	assert.Equal(t, Result{Kind: Invalid}, m.Validate(string(flipped)))
	assert.Equal(t, Result{Kind: Invalid}, m.Validate("awspc_garbage"))

	v.AssertExpectations(t)
	v.AssertNumberOfCalls(t, "Verify", 1)
}

func TestDigestVerifier(t *testing.T) {
	v := NewDigestVerifier("secret")
	assert.True(t, v.Verify("secret"))
	assert.False(t, v.Verify("secreT"))
	assert.False(t, v.Verify(""))
}
