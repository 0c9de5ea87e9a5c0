package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remitflow/golang_services/internal/platform/kvstore"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

// readOutageKV fails reads while down is set; writes keep working.
type readOutageKV struct {
	*kvstore.MemoryStore
	down atomic.Bool
}

func (k *readOutageKV) Get(ctx context.Context, key string) ([]byte, error) {
	if k.down.Load() {
		return nil, errors.New("i/o timeout")
	}
	return k.MemoryStore.Get(ctx, key)
}

func TestHandleStatusUpdate_IsIdempotent(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	drainEvents(c.events)

	amount := decimal.NewFromInt(50)
	upd := StatusUpdate{TransactionID: tx.ID, Status: domain.StatusCompleted, Amount: &amount, Timestamp: testNow.Add(time.Hour)}

	_, err = c.reconciler.HandleStatusUpdate(ctx, upd)
	require.NoError(t, err)
	first, err := c.store.Get(ctx, tx.ID)
	require.NoError(t, err)
	firstJSON, _ := json.Marshal(first)

	_, err = c.reconciler.HandleStatusUpdate(ctx, upd)
	require.NoError(t, err)
	second, err := c.store.Get(ctx, tx.ID)
	require.NoError(t, err)
	secondJSON, _ := json.Marshal(second)

	assert.Equal(t, string(firstJSON), string(secondJSON))
	assert.Equal(t, []domain.EventType{domain.EventTransactionUpdated}, drainEvents(c.events), "one notification for two deliveries")
	assert.True(t, second.TotalAmount.Equal(second.Amount.Add(second.Fee)))
}

func TestHandleStatusUpdate_UnknownIDIsRecorded(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()
	ts := testNow.Add(time.Minute)

	tx, err := c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{
		TransactionID: "other-device-1",
		Status:        domain.StatusProcessing,
		Provider:      domain.Ptr("orange"),
		Timestamp:     ts,
	})
	require.NoError(t, err)
	assert.Equal(t, "other-device-1", tx.ID)

	got, err := c.store.Get(ctx, "other-device-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, "orange", *got.Provider)
	assert.Equal(t, ts, got.UpdatedAt)
}

func TestHandleStatusUpdate_StaleUpdateIsIgnored(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()

	_, err := c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: "tx-9", Status: domain.StatusProcessing, Timestamp: testNow.Add(2 * time.Minute)})
	require.NoError(t, err)
	drainEvents(c.events)

	tx, err := c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: "tx-9", Status: domain.StatusPending, Timestamp: testNow.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, tx.Status)
	assert.Empty(t, drainEvents(c.events))
}

func TestHandleStatusUpdate_TerminalRecordOnlyTakesReceipt(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()
	t1 := testNow.Add(time.Minute)

	_, err := c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: "tx-7", Status: domain.StatusCompleted, Timestamp: t1})
	require.NoError(t, err)

	tx, err := c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{
		TransactionID: "tx-7",
		Status:        domain.StatusRefunded,
		Receipt:       domain.Ptr("RCPT-42"),
		Timestamp:     t1.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.Equal(t, "RCPT-42", *tx.Receipt)
	require.NotNil(t, tx.CompletedAt)
	assert.Equal(t, t1, *tx.CompletedAt)
}

func TestHandleStatusUpdate_FailureReason(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()

	tx, err := c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{
		TransactionID: "tx-5",
		Status:        domain.StatusFailed,
		FailureReason: domain.Ptr("insufficient funds"),
		Timestamp:     testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "insufficient funds", *tx.FailureReason)
	assert.Nil(t, tx.CompletedAt)
}

func TestHandleStatusUpdate_Validation(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()

	_, err := c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{Status: domain.StatusCompleted})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: "x", Status: "settled"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: "x", Status: domain.StatusOfflinePending})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: "x", Status: domain.StatusProcessing})
	assert.ErrorIs(t, err, domain.ErrValidation, "timestamp is required")
}

func TestHandleStatusUpdate_ReadOutageKeepsRecord(t *testing.T) {
	kv := &readOutageKV{MemoryStore: kvstore.NewMemoryStore()}
	c := setupManagerTest(t, false, kv, 5)
	ctx := context.Background()

	first, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	_, err = c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	drainEvents(c.events)

	kv.down.Store(true)
	_, err = c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{
		TransactionID: first.ID,
		Status:        domain.StatusProcessing,
		Timestamp:     testNow.Add(time.Minute),
	})
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Empty(t, drainEvents(c.events))

	kv.down.Store(false)
	got, err := c.store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOfflinePending, got.Status)
	assert.True(t, got.Amount.Equal(first.Amount))
	assert.True(t, got.Fee.Equal(first.Fee))
	assert.Equal(t, first.Recipient, got.Recipient)
	assert.Equal(t, first.UserID, got.UserID)
}
