// Package keygen mints and masks API credentials.
package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix is deliberately non-secret: it makes credentials recognizable
// in logs and lets the gateway reject garbage before touching the store.
const Prefix = "sk_live_"

// suffixLen is the number of hex characters after the prefix.
const suffixLen = 32

// KeyLen is the total length of a well-formed credential.
const KeyLen = len(Prefix) + suffixLen

// Generate returns a new credential: the fixed prefix followed by 32
// hex characters (128 bits of entropy). An RNG failure is returned as
// an error so issuance aborts instead of handing out a weak value.
func Generate() (string, error) {
	buf := make([]byte, suffixLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("keygen: rng failure: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// WellFormed reports whether s has the shape of a credential. It is a
// cheap format check, not a validity check against the store.
func WellFormed(s string) bool {
	if len(s) != KeyLen || !strings.HasPrefix(s, Prefix) {
		return false
	}
	for _, c := range s[len(Prefix):] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Mask returns the only view of a credential that may appear in
// responses or logs after issuance: the first 12 characters, an
// ellipsis, and the last 4.
func Mask(key string) string {
	if len(key) <= 16 {
		return key
	}
	return key[:12] + "..." + key[len(key)-4:]
}
