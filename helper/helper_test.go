package helper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequestID(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}

func TestGenerateShortID(t *testing.T) {
	assert.Regexp(t, `^[0-9a-f]{8}$`, GenerateShortID())
}

func TestHashes(t *testing.T) {
	full := GetHash("token")
	assert.Len(t, full, 64)
	assert.Equal(t, full[:8], ShortHash("token"))
	assert.NotEqual(t, GetHash("token"), GetHash("token2"))
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "expired", FormatTTL(0))
	assert.Equal(t, "expired", FormatTTL(-time.Second))
	assert.Equal(t, "1.5h", FormatTTL(90*time.Minute))
	assert.Equal(t, "2.0m", FormatTTL(2*time.Minute))
	assert.Equal(t, "30.0s", FormatTTL(30*time.Second))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".aws", "config"), ExpandPath("~/.aws/config"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/etc/hosts", ExpandPath("/etc/hosts"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))
}
