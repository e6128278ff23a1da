package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := Generate()
		require.NoError(t, err)
		assert.Regexp(t, `^awspc_[A-Za-z0-9]{43}_[A-Za-z0-9]{6}$`, tok)
		assert.Equal(t, Structured, Classify(tok))
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestChecksum(t *testing.T) {
	// CRC32 of the empty string is 0.
	assert.Equal(t, "000000", Checksum(""))
	// CRC32("a") = 0xE8B7BE43.
	assert.Equal(t, "4GEHKN", Checksum("a"))
	assert.Len(t, Checksum(strings.Repeat("z", 43)), 6)
}

func TestClassify_FlippedCharacter(t *testing.T) {
	tok, err := Generate()
	require.NoError(t, err)

	random := []byte(tok)
	for i := len(Prefix) + 1; i < len(Prefix)+1+randomLength; i++ {
		flipped := make([]byte, len(random))
		copy(flipped, random)
		if flipped[i] == 'a' {
			flipped[i] = 'b'
		} else {
			flipped[i] = 'a'
		}
		assert.Equal(t, Invalid, Classify(string(flipped)), "position %d", i)
	}
}

func TestClassify(t *testing.T) {
	legacy := "abcdefghijklmnopqrstuvwxyz012345-_AB"

	tests := []struct {
		name  string
		token string
		kind  Kind
	}{
		{"empty", "", Invalid},
		{"legacy", legacy, Legacy},
		{"legacy too short", "abc123", Invalid},
		{"legacy too long", strings.Repeat("a", 65), Invalid},
		{"legacy double underscore", "abcdefghijklmnop__qrstuvwxyz0123456", Invalid},
		{"legacy bad chars", strings.Repeat("a", 31) + "!", Invalid},
		{"prefix without structure", "awspc_" + strings.Repeat("a", 40), Invalid},
		{"three parts wrong prefix", "xxxxx_" + strings.Repeat("a", 43) + "_AAAAAA", Invalid},
		{"bad checksum", "awspc_" + strings.Repeat("a", 43) + "_zzzzzz", Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Classify(tt.token))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "structured", Structured.String())
	assert.Equal(t, "legacy", Legacy.String())
	assert.Equal(t, "invalid", Invalid.String())
}
