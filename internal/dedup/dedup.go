// Package dedup fingerprints incoming signals and tracks which fingerprints
// already received a final disposition. Membership is checked before a trade
// is attempted, but a fingerprint is committed only together with its
// disposition, in the same snapshot write. A crash between the check and the
// commit therefore re-delivers the signal instead of silently dropping it.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"breakout/internal/schema"
)

// Fingerprint derives the stable dedup key for a signal. Two signals with
// the same timestamp, symbol, and description are the same logical event no
// matter how many times the feed re-delivers them.
func Fingerprint(sig schema.Signal) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(sig.Timestamp.UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(sig.Symbol))
	h.Write([]byte{0})
	h.Write([]byte(sig.Description))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Set maps a committed fingerprint to its disposition time. The time bounds
// retention by age, not by count.
type Set map[string]time.Time

// Contains reports whether the fingerprint already has a disposition.
func (s Set) Contains(fp string) bool {
	_, ok := s[fp]
	return ok
}

// Mark records a disposition. The caller persists the snapshot afterwards.
func (s Set) Mark(fp string, at time.Time) {
	s[fp] = at
}

// Trim drops fingerprints older than the retention window and returns how
// many were removed.
func (s Set) Trim(retention time.Duration, now time.Time) int {
	cutoff := now.Add(-retention)
	removed := 0
	for fp, at := range s {
		if at.Before(cutoff) {
			delete(s, fp)
			removed++
		}
	}
	return removed
}

// Clone copies the set for read-only exposure.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for fp, at := range s {
		out[fp] = at
	}
	return out
}
