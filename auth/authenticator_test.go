package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stephnangue/profilebridge/auth/ratelimit"
	"github.com/stephnangue/profilebridge/auth/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(presented string) token.Result {
	return m.Called(presented).Get(0).(token.Result)
}

func newManager(t *testing.T) (*token.Manager, string) {
	t.Helper()
	m := token.NewManager(token.ManagerConfig{Fs: afero.NewMemMapFs(), Path: "/tok.json"})
	tok, err := m.LoadOrCreate()
	require.NoError(t, err)
	return m, tok
}

func TestAuthenticate(t *testing.T) {
	m, tok := newManager(t)
	a := NewAuthenticator(m, ratelimit.New(ratelimit.Config{MaxAttempts: 100, Window: time.Minute}), nil)

	assert.NoError(t, a.Authenticate(tok))
	assert.ErrorIs(t, a.Authenticate(""), ErrAuthenticationRejected)
	assert.ErrorIs(t, a.Authenticate("awspc_nope"), ErrAuthenticationRejected)

	other, err := token.Generate()
	require.NoError(t, err)
	assert.ErrorIs(t, a.Authenticate(other), ErrAuthenticationRejected)
}

func TestAuthenticate_RateLimitRunsFirst(t *testing.T) {
	v := &mockValidator{}
	v.On("Validate", "tok").Return(token.Result{Kind: token.Legacy, Valid: true}).Twice()

	a := NewAuthenticator(v, ratelimit.New(ratelimit.Config{MaxAttempts: 2, Window: time.Minute}), nil)
	assert.NoError(t, a.Authenticate("tok"))
	assert.NoError(t, a.Authenticate("tok"))
	assert.ErrorIs(t, a.Authenticate("tok"), ErrRateLimited)

	// A rate limited request never reaches validation.
	v.AssertNumberOfCalls(t, "Validate", 2)
}

func TestAuthenticate_LimitsPerHash(t *testing.T) {
	m, tok := newManager(t)
	a := NewAuthenticator(m, ratelimit.New(ratelimit.Config{MaxAttempts: 3, Window: time.Minute}), nil)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, a.Authenticate("wrong-token-wrong-token-wrong-token"), ErrAuthenticationRejected)
	}
	assert.ErrorIs(t, a.Authenticate("wrong-token-wrong-token-wrong-token"), ErrRateLimited)
	assert.NoError(t, a.Authenticate(tok))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r.Header.Set("Authorization", "bearer   xyz ")
	assert.Equal(t, "xyz", TokenFromRequest(r))

	r.Header.Set("X-API-Token", "header-token")
	assert.Equal(t, "header-token", TokenFromRequest(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, TokenFromRequest(r))
}

func TestHashToken(t *testing.T) {
	assert.Len(t, HashToken("x"), 64)
	assert.NotEqual(t, HashToken("x"), HashToken("y"))
}
