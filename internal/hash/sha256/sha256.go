// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes raw page bodies for snapshot dedup.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// RecordID derives a stable record identifier from the source URL, RFP
// number, and the first 100 characters of the title. Re-processing the same
// posting yields the same ID, so persistence updates instead of duplicating.
func RecordID(sourceURL, rfpNumber, title string) string {
	if len(title) > 100 {
		title = title[:100]
	}
	sum := sha256.Sum256([]byte(sourceURL + "|" + rfpNumber + "|" + title))
	return hex.EncodeToString(sum[:8])
}
