// Package sha256 names archived pages by the SHA-256 digest of their body.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"

	"github.com/JakeFAU/batch-crawler/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256.
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

// ArchivePath returns prefix/host/digest.html for a fetched page, so identical
// bodies from one host share an object.
func (h *Hasher) ArchivePath(prefix, rawURL string, body []byte) (string, error) {
	digest, err := h.Hash(body)
	if err != nil {
		return "", err
	}
	return path.Join(prefix, crawler.Hostname(rawURL), digest+".html"), nil
}
