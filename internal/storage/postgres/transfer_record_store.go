package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tipbot/internal/domain"
	"tipbot/internal/storage"
)

// TransferRecordStore is a PostgreSQL implementation of storage.TransferRecordStore.
// Amounts are stored as TEXT to preserve the exact decimal representation.
type TransferRecordStore struct {
	pool *Pool
}

// NewTransferRecordStore creates a new PostgreSQL transfer record store.
func NewTransferRecordStore(pool *Pool) *TransferRecordStore {
	return &TransferRecordStore{pool: pool}
}

// Insert adds a new record. Returns ErrDuplicateKey if transfer_id exists.
func (s *TransferRecordStore) Insert(ctx context.Context, rec *domain.TransferRecord) error {
	if rec == nil || rec.TransferID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO transfer_records (
			transfer_id, tx_id, sender_handle, recipient_handle,
			amount, token, status, fail_reason, memo,
			submitted_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.TransferID, rec.TxID, rec.SenderHandle, rec.RecipientHandle,
		rec.Amount.String(), rec.Token, rec.Status, rec.FailReason, rec.Memo,
		rec.SubmittedAt, rec.SettledAt,
	)

	if isDuplicateKeyError(err) {
		return storage.ErrDuplicateKey
	}
	return err
}

// GetByID retrieves a record by transfer_id. Returns ErrNotFound if not exists.
func (s *TransferRecordStore) GetByID(ctx context.Context, transferID string) (*domain.TransferRecord, error) {
	if transferID == "" {
		return nil, storage.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT transfer_id, tx_id, sender_handle, recipient_handle,
		       amount, token, status, fail_reason, memo,
		       submitted_at, settled_at
		FROM transfer_records
		WHERE transfer_id = $1
	`, transferID)

	rec, err := scanTransferRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return rec, nil
}

// Settle moves an INDETERMINATE record to a terminal status. The WHERE
// clause enforces the transition server-side, so concurrent settlers
// (executor receipt vs mirror reconciliation) cannot overwrite each other.
func (s *TransferRecordStore) Settle(ctx context.Context, transferID, status, txID, failReason string, settledAt int64) error {
	if transferID == "" {
		return storage.ErrInvalidInput
	}
	if status != domain.TransferStatusSuccess && status != domain.TransferStatusFailed {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transfer_records
		SET status = $2,
		    tx_id = CASE WHEN $3 <> '' THEN $3 ELSE tx_id END,
		    fail_reason = $4,
		    settled_at = $5
		WHERE transfer_id = $1
		  AND status = $6
	`, transferID, status, txID, failReason, settledAt, domain.TransferStatusIndeterminate)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		// Distinguish "missing" from "already terminal".
		row := s.pool.QueryRow(ctx, `
			SELECT status FROM transfer_records WHERE transfer_id = $1
		`, transferID)
		var current string
		if err := row.Scan(&current); err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return err
		}
		return storage.ErrInvalidTransition
	}

	return nil
}

// ListIndeterminate returns INDETERMINATE records submitted before olderThan,
// ordered by submitted_at ascending.
func (s *TransferRecordStore) ListIndeterminate(ctx context.Context, olderThan int64) ([]*domain.TransferRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT transfer_id, tx_id, sender_handle, recipient_handle,
		       amount, token, status, fail_reason, memo,
		       submitted_at, settled_at
		FROM transfer_records
		WHERE status = $1 AND submitted_at < $2
		ORDER BY submitted_at ASC
	`, domain.TransferStatusIndeterminate, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TransferRecord
	for rows.Next() {
		rec, err := scanTransferRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransferRecord(row rowScanner) (*domain.TransferRecord, error) {
	var rec domain.TransferRecord
	var amount string

	err := row.Scan(
		&rec.TransferID, &rec.TxID, &rec.SenderHandle, &rec.RecipientHandle,
		&amount, &rec.Token, &rec.Status, &rec.FailReason, &rec.Memo,
		&rec.SubmittedAt, &rec.SettledAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}

	return &rec, nil
}
