package storage

import (
	"context"

	"tipbot/internal/domain"
)

// AccountLinkStore provides access to account_links storage.
type AccountLinkStore interface {
	// Insert adds a new link. Returns ErrDuplicateKey if the handle is
	// already linked.
	Insert(ctx context.Context, link *domain.AccountLink) error

	// GetByHandle retrieves a link. Returns ErrNotFound if not linked.
	GetByHandle(ctx context.Context, handle string) (*domain.AccountLink, error)
}

// TransferRecordStore provides access to transfer_records storage.
// Records are append-only except for the single INDETERMINATE → terminal
// settlement transition.
type TransferRecordStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if transfer_id exists.
	Insert(ctx context.Context, rec *domain.TransferRecord) error

	// GetByID retrieves a record by transfer_id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, transferID string) (*domain.TransferRecord, error)

	// Settle moves an INDETERMINATE record to SUCCESS or FAILED, setting
	// tx_id, fail_reason and settled_at. Returns ErrInvalidTransition if
	// the record already has a terminal status, ErrNotFound if missing.
	Settle(ctx context.Context, transferID, status, txID, failReason string, settledAt int64) error

	// ListIndeterminate returns records still INDETERMINATE whose
	// submitted_at is older than the given timestamp (ms).
	ListIndeterminate(ctx context.Context, olderThan int64) ([]*domain.TransferRecord, error)
}

// DedupStore records mention IDs that reached a terminal outcome.
type DedupStore interface {
	// IsProcessed reports whether the mention already completed.
	IsProcessed(ctx context.Context, mentionID string) (bool, error)

	// MarkProcessed records completion. Marking twice is a no-op.
	MarkProcessed(ctx context.Context, mentionID string) error
}

// PollCursorStore persists the mention cursor so restarts resume where the
// previous run stopped instead of re-fetching history.
type PollCursorStore interface {
	// Get returns the last seen mention ID. Returns ErrNotFound before the
	// first successful poll.
	Get(ctx context.Context) (string, error)

	// Set saves the last seen mention ID.
	Set(ctx context.Context, mentionID string) error
}

// TransferArchive receives settled transfers for analytics queries.
// Append-only; duplicates are tolerated by the backend.
type TransferArchive interface {
	// Append records a transfer that reached a terminal status.
	Append(ctx context.Context, rec *domain.TransferRecord) error
}
