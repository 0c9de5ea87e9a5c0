package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/remitflow/golang_services/internal/platform/kvstore"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
	"github.com/remitflow/golang_services/internal/transaction_service/network"
	"github.com/remitflow/golang_services/internal/transaction_service/queue"
	"github.com/remitflow/golang_services/internal/transaction_service/store"
)

// --- Mocks ---

type MockRemoteBackend struct {
	mock.Mock
}

func (m *MockRemoteBackend) CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockRemoteBackend) UpdateTransaction(ctx context.Context, id string, patch domain.Patch) (*domain.Transaction, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockRemoteBackend) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockRateProvider struct {
	mock.Mock
}

func (m *MockRateProvider) GetRate(ctx context.Context, source, target string) (domain.Rate, error) {
	args := m.Called(ctx, source, target)
	return args.Get(0).(domain.Rate), args.Error(1)
}

// failingKV rejects every write.
type failingKV struct {
	*kvstore.MemoryStore
}

func (failingKV) Set(context.Context, string, []byte) error {
	return errors.New("storage quota exceeded")
}

// --- Helpers ---

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type managerTestComponents struct {
	manager    *TransactionManager
	reconciler *WebhookReconciler
	store      *store.Store
	queue      *queue.Queue
	monitor    *network.Monitor
	remote     *MockRemoteBackend
	rates      *MockRateProvider
	tasks      *TaskRunner
	events     <-chan domain.Event
}

func setupManagerTest(t *testing.T, online bool, txKV kvstore.Store, maxAttempts int) *managerTestComponents {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }

	if txKV == nil {
		txKV = kvstore.NewMemoryStore()
	}
	st := store.New(txKV, "sess", logger)
	q, err := queue.New(ctx, kvstore.NewMemoryStore(), logger, queue.WithClock(clock))
	require.NoError(t, err)
	mon := network.NewMonitor(online, logger, network.WithClock(clock))
	mon.OnReconnect(func(ctx context.Context) { _, _ = q.Drain(ctx) })

	broadcaster := NewBroadcaster(64, logger)
	events, unsubscribe := broadcaster.Subscribe()
	t.Cleanup(unsubscribe)

	tasks := NewTaskRunner(time.Second, nil, logger)
	remote := new(MockRemoteBackend)
	rates := new(MockRateProvider)

	var (
		mu  sync.Mutex
		seq int
	)
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("tx-%d", seq)
	}

	m := NewTransactionManager(st, q, mon, remote, rates, broadcaster, tasks,
		ManagerConfig{Fees: domain.DefaultFeeSchedule(), MaxAttempts: maxAttempts, RemoteTimeout: time.Second},
		logger, WithManagerClock(clock), WithIDGenerator(ids))
	rec := NewWebhookReconciler(st, broadcaster, logger)

	return &managerTestComponents{
		manager:    m,
		reconciler: rec,
		store:      st,
		queue:      q,
		monitor:    mon,
		remote:     remote,
		rates:      rates,
		tasks:      tasks,
		events:     events,
	}
}

func drainEvents(ch <-chan domain.Event) []domain.EventType {
	var out []domain.EventType
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func validRequest() CreateTransactionRequest {
	return CreateTransactionRequest{
		UserID:         "user-1",
		Amount:         decimal.NewFromInt(100),
		SourceCurrency: "USD",
		TargetCurrency: "XAF",
		Recipient:      domain.Recipient{ID: "r-1", Name: "Amina", Contact: "+237600000000"},
		Country:        "CM",
		PaymentMethod:  "mobile_money",
		ExchangeRate:   &domain.Rate{Value: decimal.RequireFromString("605.5"), AsOf: testNow},
	}
}

func pendingStatus(tx *domain.Transaction) bool {
	return tx.Status == domain.StatusPending
}

// --- Tests ---

func TestCreateTransaction_TotalsAreConsistent(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	base := domain.DefaultFeeSchedule().BaseFee

	for _, tc := range []struct{ amount, country string }{
		{"0.01", "CM"}, {"1", "NG"}, {"99.99", "KE"}, {"2500", "ZA"}, {"100", "unknown"},
	} {
		req := validRequest()
		req.Amount = decimal.RequireFromString(tc.amount)
		req.Country = tc.country

		tx, err := c.manager.CreateTransaction(ctx, req)
		require.NoError(t, err)
		assert.True(t, tx.TotalAmount.Equal(tx.Amount.Add(tx.Fee)), tc)
		assert.True(t, tx.Fee.GreaterThanOrEqual(base), tc)
	}
}

func TestCreateTransaction_OnlineScenario(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()
	c.remote.On("CreateTransaction", mock.Anything, mock.MatchedBy(pendingStatus)).Return(nil, nil).Once()

	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	c.tasks.Wait()

	assert.Equal(t, "4.49", tx.Fee.StringFixed(2))
	assert.Equal(t, "104.49", tx.TotalAmount.StringFixed(2))
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, "Within 15 minutes", tx.EstimatedDelivery)
	assert.Equal(t, 0, c.queue.Len())
	c.remote.AssertExpectations(t)

	t2 := testNow.Add(time.Hour)
	_, err = c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: tx.ID, Status: domain.StatusCompleted, Timestamp: t2})
	require.NoError(t, err)

	got, err := c.store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, t2, *got.CompletedAt)
	assert.Equal(t, tx.Fee, got.Fee, "fee is not recomputed")
}

func TestCreateTransaction_OfflineIsDurableLocally(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()

	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)

	got, err := c.store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOfflinePending, got.Status)
	assert.Equal(t, tx, got)
	assert.Equal(t, 1, c.queue.Len())
	c.remote.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
}

func TestCreateTransaction_OfflineThenReconnect(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	c.remote.On("CreateTransaction", mock.Anything, mock.MatchedBy(pendingStatus)).Return(nil, nil).Once()

	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, 1, c.queue.Len())
	pending := c.queue.Pending()
	assert.Equal(t, domain.OpCreateTransaction, pending[0].Kind)
	assert.Equal(t, tx.ID, pending[0].TransactionID)

	c.monitor.SetOnline(ctx, true)

	assert.Equal(t, 0, c.queue.Len())
	got, err := c.store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	c.remote.AssertExpectations(t)
	assert.Contains(t, drainEvents(c.events), domain.EventSyncCompleted)
}

func TestCreateTransaction_ReplayDoesNotOverwriteWebhookStatus(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	c.remote.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, nil).Once()

	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	_, err = c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{TransactionID: tx.ID, Status: domain.StatusProcessing, Timestamp: testNow.Add(time.Minute)})
	require.NoError(t, err)

	c.monitor.SetOnline(ctx, true)

	got, err := c.store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
}

func TestCreateTransaction_TransientFailureIsDeferred(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()
	c.remote.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}).Once()

	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	c.tasks.Wait()

	require.Equal(t, 1, c.queue.Len())
	assert.Equal(t, tx.ID, c.queue.Pending()[0].TransactionID)
	got, err := c.store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status, "local record is not rolled back")
}

func TestCreateTransaction_ServerRejectionIsReported(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()
	c.remote.On("CreateTransaction", mock.Anything, mock.Anything).
		Return(nil, domain.NewStatusError("create", 422, "invalid recipient")).Once()

	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	c.tasks.Wait()

	assert.Equal(t, 0, c.queue.Len())
	assert.Contains(t, drainEvents(c.events), domain.EventSyncFailed)
	_, err = c.store.Get(ctx, tx.ID)
	assert.NoError(t, err)
}

func TestCreateTransaction_GivesUpAfterMaxAttempts(t *testing.T) {
	c := setupManagerTest(t, false, nil, 2)
	ctx := context.Background()
	c.remote.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

	_, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)

	c.monitor.SetOnline(ctx, true)
	require.Equal(t, 1, c.queue.Len())
	assert.Equal(t, 1, c.queue.Pending()[0].Attempts)

	c.monitor.SetOnline(ctx, false)
	c.monitor.SetOnline(ctx, true)
	assert.Equal(t, 0, c.queue.Len())
	c.remote.AssertNumberOfCalls(t, "CreateTransaction", 2)
	assert.Contains(t, drainEvents(c.events), domain.EventSyncFailed)
}

func TestCreateTransaction_StorageFailureStillReturnsTransaction(t *testing.T) {
	c := setupManagerTest(t, false, failingKV{kvstore.NewMemoryStore()}, 5)
	ctx := context.Background()

	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Contains(t, drainEvents(c.events), domain.EventStorageFailed)

	got, err := c.manager.GetTransaction(ctx, tx.ID)
	require.NoError(t, err, "served from the in-process fallback")
	assert.Equal(t, tx.ID, got.ID)
}

func TestCreateTransaction_ValidationHasNoSideEffects(t *testing.T) {
	c := setupManagerTest(t, true, nil, 5)
	ctx := context.Background()

	req := validRequest()
	req.Amount = decimal.Zero
	req.PaymentMethod = ""
	_, err := c.manager.CreateTransaction(ctx, req)
	assert.ErrorIs(t, err, domain.ErrValidation)

	list, err := c.manager.ListTransactions(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, drainEvents(c.events))
}

func TestCreateTransaction_UsesRateProvider(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	asOf := testNow.Add(-time.Minute)
	c.rates.On("GetRate", mock.Anything, "USD", "NGN").Return(domain.Rate{Value: decimal.RequireFromString("1550"), AsOf: asOf}, nil).Once()
	c.rates.On("GetRate", mock.Anything, "USD", "GHS").Return(domain.Rate{}, errors.New("no quote")).Once()

	req := validRequest()
	req.ExchangeRate = nil
	req.TargetCurrency = "NGN"
	tx, err := c.manager.CreateTransaction(ctx, req)
	require.NoError(t, err)
	assert.True(t, tx.ExchangeRate.Equal(decimal.NewFromInt(1550)))
	require.NotNil(t, tx.RateAsOf)
	assert.Equal(t, asOf, *tx.RateAsOf)

	req.TargetCurrency = "GHS"
	_, err = c.manager.CreateTransaction(ctx, req)
	assert.Error(t, err)
	c.rates.AssertExpectations(t)
}

func TestRetrySync_ReturnsErrors(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)

	c.remote.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, domain.NewStatusError("create", 500, "boom")).Once()
	_, err = c.manager.RetrySync(ctx, tx.ID)
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, domain.RemoteServer, re.Kind)

	c.remote.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, nil).Once()
	synced, err := c.manager.RetrySync(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, synced.Status)

	_, err = c.manager.RetrySync(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateDetails_DefersWhileOffline(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	tx, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)

	updated, err := c.manager.UpdateDetails(ctx, tx.ID, UpdateDetailsRequest{Provider: domain.Ptr("mtn")})
	require.NoError(t, err)
	assert.Equal(t, "mtn", *updated.Provider)
	assert.Equal(t, 2, c.queue.Len())

	c.remote.On("CreateTransaction", mock.Anything, mock.Anything).Return(nil, nil).Once()
	c.remote.On("UpdateTransaction", mock.Anything, tx.ID, mock.MatchedBy(func(p domain.Patch) bool {
		return p.Provider != nil && *p.Provider == "mtn"
	})).Return(nil, nil).Once()

	c.monitor.SetOnline(ctx, true)
	assert.Equal(t, 0, c.queue.Len())
	c.remote.AssertExpectations(t)

	_, err = c.manager.UpdateDetails(ctx, tx.ID, UpdateDetailsRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListTransactions_FiltersByUser(t *testing.T) {
	c := setupManagerTest(t, false, nil, 5)
	ctx := context.Background()
	_, err := c.manager.CreateTransaction(ctx, validRequest())
	require.NoError(t, err)
	other := validRequest()
	other.UserID = "user-2"
	_, err = c.manager.CreateTransaction(ctx, other)
	require.NoError(t, err)
	_, err = c.reconciler.HandleStatusUpdate(ctx, StatusUpdate{
		TransactionID: "partner-1",
		Status:        domain.StatusProcessing,
		Timestamp:     testNow.Add(time.Minute),
	})
	require.NoError(t, err)

	mine, err := c.manager.ListTransactions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 2, "own records plus unowned ones")
	assert.Equal(t, "partner-1", mine[0].ID)
	assert.Empty(t, mine[0].UserID)
	assert.Equal(t, "user-1", mine[1].UserID)

	all, err := c.manager.ListTransactions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
