package ledger

import "fmt"

// TransferKind classifies transfer failures.
type TransferKind string

const (
	// KindInsufficientFunds: the ledger definitively rejected for balance.
	KindInsufficientFunds TransferKind = "INSUFFICIENT_FUNDS"

	// KindLedgerRejected: the ledger definitively rejected for any other
	// reason (bad account, frozen token, validation failure).
	KindLedgerRejected TransferKind = "LEDGER_REJECTED"

	// KindIndeterminate: the outcome is unknown (timeout, transport
	// failure after submission). The transfer may or may not settle;
	// resolution belongs to reconciliation, never to a blind retry.
	KindIndeterminate TransferKind = "INDETERMINATE"
)

// TransferError wraps a failed or unconfirmed transfer submission.
type TransferError struct {
	Kind TransferKind
	Code int // RPC error code, zero for transport failures
	Err  error
}

func (e *TransferError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transfer (%s, code %d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("transfer (%s): %v", e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Definitive reports whether the ledger actually decided the outcome.
func (e *TransferError) Definitive() bool {
	return e.Kind != KindIndeterminate
}
