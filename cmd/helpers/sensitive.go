package helpers

import "strings"

// MaskValue is the default mask used for sensitive fields
const MaskValue = "***********"

// MaskToken keeps the structured prefix and the last four characters.
func MaskToken(tok string) string {
	if len(tok) <= 12 {
		return MaskValue
	}
	prefix := ""
	if i := strings.IndexByte(tok, '_'); i > 0 && i < 8 {
		prefix = tok[:i+1]
	}
	return prefix + MaskValue + tok[len(tok)-4:]
}
