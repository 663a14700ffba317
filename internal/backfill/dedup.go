package backfill

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint identifies a letter for deduplication. Letters that differ
// only in case or whitespace share a fingerprint, and the same text filed
// under two clinicians or subspecialties does not.
func Fingerprint(userID, subspecialty, text string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(subspecialty))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.Join(strings.Fields(text), " "))))
	return hex.EncodeToString(h.Sum(nil))
}
