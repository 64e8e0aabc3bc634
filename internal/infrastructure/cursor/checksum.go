package cursor

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// ChecksumFunc derives the x-cursor-checksum header value. The derivation is
// treated as opaque by the rest of the gateway: it must be deterministic
// given the access token and the current 30-minute bucket, nothing else.
type ChecksumFunc func(token string, bucket time.Time) string

// ChecksumBucket rounds now down to the 30-minute boundary the checksum is
// keyed on.
func ChecksumBucket(now time.Time) time.Time {
	return now.UTC().Truncate(30 * time.Minute)
}

// DefaultChecksum is the stand-in derivation used when no external one is
// injected. Swap via TransportConfig.Checksum.
func DefaultChecksum(token string, bucket time.Time) string {
	sum := sha256.Sum256([]byte(token + "|" + strconv.FormatInt(bucket.Unix(), 10)))
	return hex.EncodeToString(sum[:])
}
