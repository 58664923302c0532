package clickhouse

import (
	"context"

	"tipbot/internal/domain"
	"tipbot/internal/storage"
)

// TransferArchiveStore is a ClickHouse implementation of storage.TransferArchive.
// The archive backs analytics queries (volumes per token, failure rates) and
// is deliberately decoupled from the transactional postgres records: losing
// an archive row never affects payment correctness.
//
// The table uses ReplacingMergeTree keyed on transfer_id, so re-appending
// after a reconciliation settle simply supersedes the earlier row.
type TransferArchiveStore struct {
	conn *Conn
}

// NewTransferArchiveStore creates a new ClickHouse transfer archive store.
func NewTransferArchiveStore(conn *Conn) *TransferArchiveStore {
	return &TransferArchiveStore{conn: conn}
}

// Append records a transfer that reached a terminal status.
func (s *TransferArchiveStore) Append(ctx context.Context, rec *domain.TransferRecord) error {
	if rec == nil || rec.TransferID == "" {
		return storage.ErrInvalidInput
	}

	return s.conn.Exec(ctx, `
		INSERT INTO transfer_archive (
			transfer_id, tx_id, sender_handle, recipient_handle,
			amount, token, status, fail_reason, memo,
			submitted_at, settled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TransferID, rec.TxID, rec.SenderHandle, rec.RecipientHandle,
		rec.Amount.String(), rec.Token, rec.Status, rec.FailReason, rec.Memo,
		rec.SubmittedAt, rec.SettledAt,
	)
}

// CountByStatus returns archived transfer counts grouped by status.
func (s *TransferArchiveStore) CountByStatus(ctx context.Context) (map[string]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT status, count() AS n
		FROM transfer_archive FINAL
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var status string
		var n uint64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}

	return counts, rows.Err()
}
