package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ManualHash fingerprints a manually logged call. It is 16 hex characters
// so it can never collide with a 64 character prompt hash, which keeps
// manual rows out of exact-cache lookups.
func ManualHash(project, operation string, tokensIn int, at time.Time) string {
	src := fmt.Sprintf("%s:%s:%d:%s", project, operation, tokensIn, at.Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])[:16]
}
