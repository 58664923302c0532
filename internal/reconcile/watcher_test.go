package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tipbot/internal/domain"
	"tipbot/internal/ledger"
	"tipbot/internal/storage/memory"
)

// probeLedger implements ledger.Client; only GetTransfer matters here.
type probeLedger struct {
	mu     sync.Mutex
	states map[string]*ledger.TransferState
	probes int
}

func (p *probeLedger) CreateAccount(ctx context.Context, publicKey string, initialBalance decimal.Decimal) (string, error) {
	return "", errors.New("not implemented")
}

func (p *probeLedger) Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferReceipt, error) {
	return nil, errors.New("reconciliation must never resubmit")
}

func (p *probeLedger) GetBalance(ctx context.Context, accountID, token string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not implemented")
}

func (p *probeLedger) GetTransfer(ctx context.Context, transferID string) (*ledger.TransferState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.states[transferID], nil
}

func openRecord(transferID string, submittedAt int64) *domain.TransferRecord {
	return &domain.TransferRecord{
		TransferID:      transferID,
		SenderHandle:    "alice",
		RecipientHandle: "bob",
		Amount:          decimal.NewFromInt(5),
		Token:           "TIP",
		Status:          domain.TransferStatusIndeterminate,
		SubmittedAt:     submittedAt,
	}
}

func TestWatcher_SweepSettlesFromProbe(t *testing.T) {
	records := memory.NewTransferRecordStore()
	old := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, records.Insert(context.Background(), openRecord("t-settled", old)))
	require.NoError(t, records.Insert(context.Background(), openRecord("t-rejected", old)))
	require.NoError(t, records.Insert(context.Background(), openRecord("t-unknown", old)))

	lc := &probeLedger{states: map[string]*ledger.TransferState{
		"t-settled":  {TransferID: "t-settled", TxID: "tx-1", State: ledger.StateSettled, SettledAt: 123},
		"t-rejected": {TransferID: "t-rejected", State: ledger.StateRejected, Reason: "INSUFFICIENT_FUNDS"},
	}}

	w, err := New(Options{Records: records, Ledger: lc})
	require.NoError(t, err)

	w.Sweep(context.Background())

	settled, err := records.GetByID(context.Background(), "t-settled")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusSuccess, settled.Status)
	assert.Equal(t, "tx-1", settled.TxID)
	assert.Equal(t, int64(123), settled.SettledAt)

	rejected, err := records.GetByID(context.Background(), "t-rejected")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, rejected.Status)
	assert.Equal(t, domain.FailReasonInsufficientFunds, rejected.FailReason)

	// Unknown to the ledger: stays open, never declared failed.
	unknown, err := records.GetByID(context.Background(), "t-unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusIndeterminate, unknown.Status)
}

func TestWatcher_SweepSkipsFreshRecords(t *testing.T) {
	records := memory.NewTransferRecordStore()
	require.NoError(t, records.Insert(context.Background(),
		openRecord("t-fresh", time.Now().UnixMilli())))

	lc := &probeLedger{states: map[string]*ledger.TransferState{}}
	w, err := New(Options{Records: records, Ledger: lc})
	require.NoError(t, err)

	w.Sweep(context.Background())
	assert.Zero(t, lc.probes, "records inside the min-age window must not be probed")
}

func TestWatcher_EventSettlesRecord(t *testing.T) {
	records := memory.NewTransferRecordStore()
	old := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, records.Insert(context.Background(), openRecord("t-event", old)))

	events := make(chan ledger.TransferEvent, 1)
	w, err := New(Options{
		Records: records,
		Ledger:  &probeLedger{},
		Events:  events,
	})
	require.NoError(t, err)

	w.Start(context.Background())
	events <- ledger.TransferEvent{
		TransferID: "t-event", TxID: "tx-9", State: ledger.StateSettled, SettledAt: 456,
	}

	require.Eventually(t, func() bool {
		rec, err := records.GetByID(context.Background(), "t-event")
		return err == nil && rec.Status == domain.TransferStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()

	rec, err := records.GetByID(context.Background(), "t-event")
	require.NoError(t, err)
	assert.Equal(t, "tx-9", rec.TxID)
	assert.Equal(t, int64(456), rec.SettledAt)
}

func TestWatcher_ReplayedEventIsNoOp(t *testing.T) {
	records := memory.NewTransferRecordStore()
	old := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, records.Insert(context.Background(), openRecord("t-replay", old)))
	require.NoError(t, records.Settle(context.Background(),
		"t-replay", domain.TransferStatusSuccess, "tx-first", "", 100))

	w, err := New(Options{Records: records, Ledger: &probeLedger{}})
	require.NoError(t, err)

	// Replay claims a different tx; the settled record must not move.
	w.applyState(context.Background(), &ledger.TransferState{
		TransferID: "t-replay", TxID: "tx-second", State: ledger.StateSettled, SettledAt: 200,
	})

	rec, err := records.GetByID(context.Background(), "t-replay")
	require.NoError(t, err)
	assert.Equal(t, "tx-first", rec.TxID)
	assert.Equal(t, int64(100), rec.SettledAt)
}

func TestWatcher_EventForUnknownTransferIgnored(t *testing.T) {
	records := memory.NewTransferRecordStore()
	w, err := New(Options{Records: records, Ledger: &probeLedger{}})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		w.applyState(context.Background(), &ledger.TransferState{
			TransferID: "t-foreign", State: ledger.StateSettled,
		})
	})
}

func TestWatcher_PendingStateLeavesRecordOpen(t *testing.T) {
	records := memory.NewTransferRecordStore()
	old := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, records.Insert(context.Background(), openRecord("t-pending", old)))

	lc := &probeLedger{states: map[string]*ledger.TransferState{
		"t-pending": {TransferID: "t-pending", State: ledger.StatePending},
	}}
	w, err := New(Options{Records: records, Ledger: lc})
	require.NoError(t, err)

	w.Sweep(context.Background())

	rec, err := records.GetByID(context.Background(), "t-pending")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusIndeterminate, rec.Status)
}
