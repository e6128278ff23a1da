package helper

import (
	"crypto/sha256"
	"encoding/hex"
)

// GetHash returns the hex SHA-256 digest of value.
func GetHash(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// ShortHash returns the first 8 hex characters of GetHash. It is safe to log.
func ShortHash(value string) string {
	return GetHash(value)[:8]
}
