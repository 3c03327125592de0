package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a 32-character random hex identifier. Identifiers are opaque,
// never reused and never derived from entity content.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// there is no sensible fallback for identifier generation.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
