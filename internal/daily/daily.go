// internal/daily/daily.go
//
// Deterministic "character of the day".
// Every server with the same DAILY_SALT picks the same character for a UTC
// date, so the daily challenge can be verified without storing the pick.

package daily

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// DateKey returns YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CharIndex returns a deterministic index for a date using HMAC(salt, YYYY-MM-DD) % n.
func CharIndex(date time.Time, salt string, n int) int {
	if n <= 0 {
		return 0
	}
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(DateKey(date)))
	sum := h.Sum(nil)
	// first 8 bytes as uint64 for the modulus
	v := binary.BigEndian.Uint64(sum[:8])
	return int(v % uint64(n))
}
