package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tipbot/internal/domain"
	"tipbot/internal/idhash"
	"tipbot/internal/ledger"
	"tipbot/internal/observability"
	"tipbot/internal/storage"
)

// Options configures Executor.
type Options struct {
	Records storage.TransferRecordStore
	Ledger  ledger.Client
	// Archive receives terminal records for analytics. Optional.
	Archive storage.TransferArchive
	// Metrics is optional.
	Metrics *observability.Metrics
	Logger  *log.Logger
}

// Executor submits ledger transfers exactly once per mention. The durable
// record is written INDETERMINATE before the submission goes out, so a crash
// at any point leaves either no submission or a reconcilable record, never a
// silent double spend.
type Executor struct {
	records storage.TransferRecordStore
	ledger  ledger.Client
	archive storage.TransferArchive
	metrics *observability.Metrics
	logger  *log.Logger
}

// New creates an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Records == nil {
		return nil, fmt.Errorf("records store is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Executor{
		records: opts.Records,
		ledger:  opts.Ledger,
		archive: opts.Archive,
		metrics: opts.Metrics,
		logger:  logger,
	}, nil
}

// Execute runs the transfer for a parsed command. The returned record
// carries the outcome: SUCCESS, FAILED with a reason, or INDETERMINATE when
// the submission outcome is unknown and reconciliation must finish the job.
// A non-nil error means infrastructure failed before any outcome existed.
func (e *Executor) Execute(ctx context.Context, mentionID string, cmd *domain.Command, sender, recipient *domain.AccountLink) (*domain.TransferRecord, error) {
	amount := cmd.Amount.String()
	transferID := idhash.ComputeTransferID(mentionID, sender.Handle, recipient.Handle, amount, cmd.Token)

	// A record for this transfer ID means a previous run already submitted.
	existing, err := e.records.GetByID(ctx, transferID)
	if err == nil {
		e.logger.Printf("[executor] transfer %s already recorded with status %s", transferID[:12], existing.Status)
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup transfer record: %w", err)
	}

	rec := &domain.TransferRecord{
		TransferID:      transferID,
		SenderHandle:    sender.Handle,
		RecipientHandle: recipient.Handle,
		Amount:          cmd.Amount,
		Token:           cmd.Token,
		Status:          domain.TransferStatusIndeterminate,
		Memo:            fmt.Sprintf("tip for mention %s", mentionID),
		SubmittedAt:     time.Now().UnixMilli(),
	}

	if err := e.records.Insert(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Concurrent executor won the insert; its record is authoritative.
			return e.records.GetByID(ctx, transferID)
		}
		return nil, fmt.Errorf("insert transfer record: %w", err)
	}

	submitStart := time.Now()
	receipt, err := e.ledger.Transfer(ctx, ledger.TransferRequest{
		From:       sender.AccountID,
		To:         recipient.AccountID,
		Amount:     cmd.Amount,
		Token:      cmd.Token,
		Memo:       rec.Memo,
		TransferID: transferID,
	})
	if e.metrics != nil {
		e.metrics.TransferLatency.Observe(time.Since(submitStart).Seconds())
	}
	if err != nil {
		return e.settleFailure(ctx, rec, err)
	}

	now := time.Now().UnixMilli()
	if err := e.records.Settle(ctx, transferID, domain.TransferStatusSuccess, receipt.TxID, "", now); err != nil {
		// The transfer settled on the ledger; only our local record is stale.
		// Reconciliation will settle it from the mirror stream.
		e.logger.Printf("[executor] transfer %s settled but record update failed: %v", transferID[:12], err)
		return rec, nil
	}

	rec.Status = domain.TransferStatusSuccess
	rec.TxID = receipt.TxID
	rec.SettledAt = now
	e.archiveRecord(ctx, rec)

	e.logger.Printf("[executor] transfer %s settled: %s %s from @%s to @%s",
		transferID[:12], amount, cmd.Token, sender.Handle, recipient.Handle)
	return rec, nil
}

// settleFailure classifies a submission error and settles the record when
// the failure is definitive. Indeterminate failures leave the record as-is
// for the reconciliation sweep.
func (e *Executor) settleFailure(ctx context.Context, rec *domain.TransferRecord, terr error) (*domain.TransferRecord, error) {
	var tferr *ledger.TransferError
	if !errors.As(terr, &tferr) || !tferr.Definitive() {
		e.logger.Printf("[executor] transfer %s outcome unknown, leaving for reconciliation: %v", rec.TransferID[:12], terr)
		return rec, nil
	}

	reason := domain.FailReasonLedgerRejected
	if tferr.Kind == ledger.KindInsufficientFunds {
		reason = domain.FailReasonInsufficientFunds
	}

	now := time.Now().UnixMilli()
	if err := e.records.Settle(ctx, rec.TransferID, domain.TransferStatusFailed, "", reason, now); err != nil {
		return nil, fmt.Errorf("settle failed transfer: %w", err)
	}

	rec.Status = domain.TransferStatusFailed
	rec.FailReason = reason
	rec.SettledAt = now
	e.archiveRecord(ctx, rec)

	e.logger.Printf("[executor] transfer %s failed: %s", rec.TransferID[:12], reason)
	return rec, nil
}

// archiveRecord appends a terminal record to the analytics archive. Archive
// failures are logged, never surfaced: analytics lag must not block payouts.
func (e *Executor) archiveRecord(ctx context.Context, rec *domain.TransferRecord) {
	if e.archive == nil {
		return
	}
	if err := e.archive.Append(ctx, rec); err != nil {
		e.logger.Printf("[executor] archive append failed for %s: %v", rec.TransferID[:12], err)
	}
}
