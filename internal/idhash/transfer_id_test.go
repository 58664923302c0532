package idhash

import (
	"testing"
)

func TestComputeTransferID(t *testing.T) {
	tests := []struct {
		name            string
		mentionID       string
		senderHandle    string
		recipientHandle string
		amount          string
		token           string
		wantLen         int // hash length should be 64
	}{
		{
			name:            "basic transfer",
			mentionID:       "1712345678901234567",
			senderHandle:    "bob",
			recipientHandle: "alice",
			amount:          "5",
			token:           "TIP",
			wantLen:         64,
		},
		{
			name:            "fractional amount",
			mentionID:       "1712345678901234568",
			senderHandle:    "carol",
			recipientHandle: "dave",
			amount:          "0.00000001",
			token:           "TIP",
			wantLen:         64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTransferID(tt.mentionID, tt.senderHandle, tt.recipientHandle, tt.amount, tt.token)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeTransferID() length = %d, want %d", len(got), tt.wantLen)
			}

			// Verify determinism: same inputs should produce same output
			got2 := ComputeTransferID(tt.mentionID, tt.senderHandle, tt.recipientHandle, tt.amount, tt.token)
			if got != got2 {
				t.Errorf("ComputeTransferID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeTransferID_DifferentInputs(t *testing.T) {
	base := ComputeTransferID("100", "bob", "alice", "5", "TIP")

	// Different mention should produce different hash
	diffMention := ComputeTransferID("101", "bob", "alice", "5", "TIP")
	if base == diffMention {
		t.Error("Different mention should produce different hash")
	}

	// Different recipient should produce different hash
	diffRecipient := ComputeTransferID("100", "bob", "carol", "5", "TIP")
	if base == diffRecipient {
		t.Error("Different recipient should produce different hash")
	}

	// Different amount should produce different hash
	diffAmount := ComputeTransferID("100", "bob", "alice", "6", "TIP")
	if base == diffAmount {
		t.Error("Different amount should produce different hash")
	}
}
