package token

import (
	"encoding/binary"
	"hash/crc32"
	"math/big"
	"regexp"
	"strings"

	"github.com/hashicorp/go-secure-stdlib/base62"
)

const (
	Prefix         = "awspc"
	randomLength   = 43
	checksumLength = 6
	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var (
	structuredPattern = regexp.MustCompile(`^awspc_[A-Za-z0-9]{43}_[A-Za-z0-9]{6}$`)
	legacyPattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{32,64}$`)
)

// Kind is the shape a presented token was recognized as.
type Kind int

const (
	Invalid Kind = iota
	Structured
	Legacy
)

func (k Kind) String() string {
	switch k {
	case Structured:
		return "structured"
	case Legacy:
		return "legacy"
	default:
		return "invalid"
	}
}

// Result is the outcome of validating a presented token.
type Result struct {
	Kind  Kind
	Valid bool
}

// Generate returns a new awspc_<random>_<checksum> token.
func Generate() (string, error) {
	random, err := base62.Random(randomLength)
	if err != nil {
		return "", err
	}
	return Prefix + "_" + random + "_" + Checksum(random), nil
}

// Checksum is the CRC32 (IEEE) of random, big endian, base62 encoded and
// left padded with '0' to six characters.
func Checksum(random string) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], crc32.ChecksumIEEE([]byte(random)))
	s := encodeBase62(new(big.Int).SetBytes(b[:]))
	if len(s) < checksumLength {
		s = strings.Repeat("0", checksumLength-len(s)) + s
	}
	return s
}

func encodeBase62(n *big.Int) string {
	if n.Sign() == 0 {
		return base62Alphabet[:1]
	}
	base := big.NewInt(int64(len(base62Alphabet)))
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append(out, base62Alphabet[mod.Int64()])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

// Classify checks the shape of presented and, for structured tokens, its
// checksum. It never looks at the stored secret.
func Classify(presented string) Kind {
	if presented == "" {
		return Invalid
	}
	if structuredPattern.MatchString(presented) {
		parts := strings.Split(presented, "_")
		if len(parts) != 3 || parts[2] != Checksum(parts[1]) {
			return Invalid
		}
		return Structured
	}
	if strings.HasPrefix(presented, Prefix+"_") {
		return Invalid
	}
	// Anything else that splits like a structured token is a forgery.
	if len(strings.Split(presented, "_")) == 3 {
		return Invalid
	}
	if strings.Contains(presented, "__") || !legacyPattern.MatchString(presented) {
		return Invalid
	}
	return Legacy
}
