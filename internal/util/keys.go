package util

import (
	"crypto/sha256"
	"fmt"
)

// NameKey returns prefix + ":" + the first 16 hex chars of sha256(name).
// Object names may contain anything a catalog allows (quotes, spaces, separators);
// hashing keeps storage keys flat and bounded.
func NameKey(prefix, name string) string {
	sum := sha256.Sum256([]byte(name))
	return fmt.Sprintf("%s:%x", prefix, sum[:8])
}
