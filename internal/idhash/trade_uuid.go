package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTradeUUID computes the deterministic idempotency key for a signal.
// Formula: SHA256(timestamp|token|action|amount|wallet)
// Returns hex-encoded hash (64 characters). Amount must be the canonical
// decimal string so equal values hash equally.
func ComputeTradeUUID(
	timestamp int64,
	token string,
	action string,
	amount string,
	wallet string,
) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s",
		timestamp,
		token,
		action,
		amount,
		wallet,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
