package platforms

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// IdempotencyKey is stable for a job across retries, so a gateway that dedupes on it
// never creates a second remote post.
func IdempotencyKey(jobID string) string {
	sum := blake2b.Sum256([]byte(jobID))
	return "idem_" + hex.EncodeToString(sum[:])[:32]
}
