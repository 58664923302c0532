package domain

import "github.com/shopspring/decimal"

// Transfer status values. A record starts INDETERMINATE at submission time
// and is settled to SUCCESS or FAILED exactly once, either by the ledger
// receipt or by out-of-band reconciliation.
const (
	TransferStatusSuccess       = "SUCCESS"
	TransferStatusFailed        = "FAILED"
	TransferStatusIndeterminate = "INDETERMINATE"
)

// Failure reason codes for FAILED transfers.
const (
	FailReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	FailReasonLedgerRejected    = "LEDGER_REJECTED"
)

// TransferRecord is the durable record of a submitted ledger transfer.
// TransferID is deterministic (see idhash), so the same mention can never
// produce a second submission across retries or process restarts.
type TransferRecord struct {
	TransferID      string // deterministic hash, primary key
	TxID            string // ledger transaction ID, set when known
	SenderHandle    string
	RecipientHandle string
	Amount          decimal.Decimal
	Token           string
	Status          string // TransferStatus* constant
	FailReason      string // FailReason* constant, empty unless FAILED
	Memo            string
	SubmittedAt     int64 // Unix timestamp (ms)
	SettledAt       int64 // Unix timestamp (ms), zero while INDETERMINATE
}

// Terminal reports whether the record reached a final status.
func (t *TransferRecord) Terminal() bool {
	return t.Status == TransferStatusSuccess || t.Status == TransferStatusFailed
}
