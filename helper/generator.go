package helper

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/oklog/ulid"
)

// GenerateRequestID returns a lexically sortable request identifier.
func GenerateRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// GenerateShortID returns 8 random hex characters.
func GenerateShortID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}
