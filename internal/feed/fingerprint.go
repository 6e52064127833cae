package feed

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint hashes the item text and its ordered attachment descriptors.
func Fingerprint(it Item) string {
	h := sha256.New()
	h.Write([]byte(it.Text))
	for _, a := range it.Attachments {
		h.Write([]byte{0})
		h.Write([]byte(a.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
