package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTransferID computes a deterministic transfer_id using SHA256.
// Formula: SHA256(mention_id|sender_handle|recipient_handle|amount|token)
// Returns hex-encoded hash (64 characters).
//
// The mention ID anchors the hash: one mention yields exactly one transfer
// identity, so a restarted pipeline finds the existing record instead of
// submitting a second transfer. The ID is also passed to the ledger as the
// submission idempotency key.
func ComputeTransferID(
	mentionID string,
	senderHandle string,
	recipientHandle string,
	amount string,
	token string,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		mentionID,
		senderHandle,
		recipientHandle,
		amount,
		token,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
