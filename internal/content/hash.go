// internal/content/hash.go
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Hash is the content address of normalized file content.
func Hash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// Fingerprint derives a stable identifier for a set of path->hash pairs.
// It stands in for a commit id when the tree is not under version control.
func Fingerprint(hashes map[string]string) string {
	paths := make([]string, 0, len(hashes))
	for p := range hashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(hashes[p]))
		h.Write([]byte{'\n'})
	}
	return "snapshot-" + hex.EncodeToString(h.Sum(nil))[:12]
}
