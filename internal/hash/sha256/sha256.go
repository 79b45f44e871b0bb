// Package sha256 provides the SHA-256 digests used for site and snapshot hashes.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements outreach.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashString is Hash for string input.
func (h *Hasher) HashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
