// Package ledger provides typed clients for the ledger node and its mirror
// stream. Failure classification for transfers happens here: the pipeline
// only ever sees TransferError kinds, never raw RPC codes.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Client defines the ledger node interface.
type Client interface {
	// CreateAccount creates a new account owned by publicKey and funds it
	// from the service treasury with initialBalance of the native token.
	// Returns the new account ID.
	CreateAccount(ctx context.Context, publicKey string, initialBalance decimal.Decimal) (string, error)

	// Transfer submits exactly one transfer. It never retries: a failed
	// submission surfaces as a *TransferError and resubmission decisions
	// belong to the caller's durable-record logic.
	Transfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)

	// GetBalance retrieves an account's balance of the given token.
	GetBalance(ctx context.Context, accountID, token string) (decimal.Decimal, error)

	// GetTransfer retrieves a transfer's settlement state by the submission
	// idempotency key. Returns nil if the ledger has no record of it.
	GetTransfer(ctx context.Context, transferID string) (*TransferState, error)
}

// TransferRequest describes a single ledger transfer.
type TransferRequest struct {
	From       string          // sender account ID
	To         string          // recipient account ID
	Amount     decimal.Decimal // positive, within token precision
	Token      string          // symbol
	Memo       string
	TransferID string // idempotency key, deterministic per mention
}

// TransferReceipt is the node's acknowledgement of a settled transfer.
type TransferReceipt struct {
	TxID        string
	ConsensusAt int64 // Unix timestamp (ms)
}

// Transfer settlement states reported by the node and the mirror stream.
const (
	StateSettled  = "SETTLED"
	StateRejected = "REJECTED"
	StatePending  = "PENDING"
)

// TransferState is the ledger's view of a previously submitted transfer.
type TransferState struct {
	TransferID string
	TxID       string
	State      string // State* constant
	Reason     string // rejection reason code, empty otherwise
	SettledAt  int64  // Unix timestamp (ms), zero while pending
}
