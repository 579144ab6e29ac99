package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the SHA-256 hex digest of data. It is the cache and dedup key
// for uploaded content: byte-identical inputs always produce the same value.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
