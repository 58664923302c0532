// Package reconcile settles INDETERMINATE transfer records out-of-band.
// Submission never retries on an unknown outcome, so the truth has to come
// from the ledger itself: the mirror stream pushes settlements as they
// happen, and a periodic sweep probes getTransfer for anything the stream
// missed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tipbot/internal/domain"
	"tipbot/internal/ledger"
	"tipbot/internal/observability"
	"tipbot/internal/storage"
)

// Default sweep configuration.
const (
	DefaultSweepInterval = 60 * time.Second
	// DefaultMinAge keeps the sweep off records the executor may still be
	// settling inline.
	DefaultMinAge = 2 * time.Minute
)

// Options configures Watcher.
type Options struct {
	Records storage.TransferRecordStore
	Ledger  ledger.Client
	// Events is the mirror settlement stream. Optional; the probe sweep
	// alone still converges.
	Events <-chan ledger.TransferEvent
	// Archive receives newly terminal records. Optional.
	Archive       storage.TransferArchive
	Metrics       *observability.Metrics
	Logger        *log.Logger
	SweepInterval time.Duration
	MinAge        time.Duration
}

// Watcher drives reconciliation until Stop.
type Watcher struct {
	records       storage.TransferRecordStore
	ledger        ledger.Client
	events        <-chan ledger.TransferEvent
	archive       storage.TransferArchive
	metrics       *observability.Metrics
	logger        *log.Logger
	sweepInterval time.Duration
	minAge        time.Duration

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a Watcher.
func New(opts Options) (*Watcher, error) {
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
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	minAge := opts.MinAge
	if minAge <= 0 {
		minAge = DefaultMinAge
	}
	return &Watcher{
		records:       opts.Records,
		ledger:        opts.Ledger,
		events:        opts.Events,
		archive:       opts.Archive,
		metrics:       opts.Metrics,
		logger:        logger,
		sweepInterval: sweep,
		minAge:        minAge,
		done:          make(chan struct{}),
	}, nil
}

// Start launches the event consumer and the probe sweep.
func (w *Watcher) Start(ctx context.Context) {
	if w.events != nil {
		w.wg.Add(1)
		go w.consumeEvents(ctx)
	}

	w.wg.Add(1)
	go w.sweepLoop(ctx)
}

// Stop halts reconciliation and waits for in-flight work.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) consumeEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.events:
			if !ok {
				w.logger.Printf("[reconcile] mirror stream closed, sweep continues alone")
				return
			}
			w.applyState(ctx, &ledger.TransferState{
				TransferID: event.TransferID,
				TxID:       event.TxID,
				State:      event.State,
				Reason:     event.Reason,
				SettledAt:  event.SettledAt,
			})
		}
	}
}

func (w *Watcher) sweepLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep probes the ledger for every INDETERMINATE record old enough to have
// left the executor's hands.
func (w *Watcher) Sweep(ctx context.Context) {
	olderThan := time.Now().Add(-w.minAge).UnixMilli()
	open, err := w.records.ListIndeterminate(ctx, olderThan)
	if err != nil {
		w.logger.Printf("[reconcile] list open records failed: %v", err)
		return
	}

	if w.metrics != nil {
		w.metrics.OpenIndeterminate.Set(float64(len(open)))
	}
	if len(open) == 0 {
		return
	}

	w.logger.Printf("[reconcile] probing %d open transfers", len(open))
	for _, rec := range open {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		state, err := w.ledger.GetTransfer(ctx, rec.TransferID)
		if err != nil {
			w.logger.Printf("[reconcile] probe %s failed: %v", shortID(rec.TransferID), err)
			continue
		}
		if state == nil {
			// The ledger never saw the submission. Leave the record open:
			// declaring it failed while a delayed submission could still
			// land would reopen the double-spend door.
			continue
		}
		w.applyState(ctx, state)
	}
}

// applyState settles a local record from the ledger's view of the transfer.
func (w *Watcher) applyState(ctx context.Context, state *ledger.TransferState) {
	var status, failReason string
	switch state.State {
	case ledger.StateSettled:
		status = domain.TransferStatusSuccess
	case ledger.StateRejected:
		status = domain.TransferStatusFailed
		failReason = domain.FailReasonLedgerRejected
		if state.Reason == "INSUFFICIENT_FUNDS" {
			failReason = domain.FailReasonInsufficientFunds
		}
	default:
		// Still pending on the ledger side.
		return
	}

	settledAt := state.SettledAt
	if settledAt == 0 {
		settledAt = time.Now().UnixMilli()
	}

	err := w.records.Settle(ctx, state.TransferID, status, state.TxID, failReason, settledAt)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// Already settled, a replayed mirror event. Expected.
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			// Not one of ours (or a foreign transfer on a shared ledger).
			return
		}
		w.logger.Printf("[reconcile] settle %s failed: %v", shortID(state.TransferID), err)
		return
	}

	w.logger.Printf("[reconcile] settled %s as %s", shortID(state.TransferID), status)
	if w.metrics != nil {
		w.metrics.ReconciledTransfers.WithLabelValues(status).Inc()
	}

	if w.archive != nil {
		rec, err := w.records.GetByID(ctx, state.TransferID)
		if err != nil {
			w.logger.Printf("[reconcile] reload %s for archive failed: %v", shortID(state.TransferID), err)
			return
		}
		if err := w.archive.Append(ctx, rec); err != nil {
			w.logger.Printf("[reconcile] archive append %s failed: %v", shortID(state.TransferID), err)
		}
	}
}

// shortID truncates a transfer ID for log lines.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
