package common

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a prefixed entity identifier with 16 hex characters of
// entropy, e.g. "pay_1a2b3c4d5e6f7a8b".
func NewID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return prefix + hex.EncodeToString(buf)
}
