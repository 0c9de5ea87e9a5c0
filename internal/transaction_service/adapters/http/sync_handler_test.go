package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/remitflow/golang_services/internal/platform/kvstore"
	"github.com/remitflow/golang_services/internal/transaction_service/domain"
	"github.com/remitflow/golang_services/internal/transaction_service/network"
	"github.com/remitflow/golang_services/internal/transaction_service/queue"
)

type syncTestContext struct {
	router  http.Handler
	queue   *queue.Queue
	monitor *network.Monitor
}

func setupSyncTest(t *testing.T, online bool, handler queue.Handler) *syncTestContext {
	q, err := queue.New(context.Background(), kvstore.NewMemoryStore(), discardLogger())
	require.NoError(t, err)
	q.Register(domain.OpCreateTransaction, handler)
	monitor := network.NewMonitor(online, discardLogger())

	router := NewRouter(RouterConfig{
		Queue:     q,
		Network:   monitor,
		JWTSecret: testJWTSecret,
		Logger:    discardLogger(),
	})
	return &syncTestContext{router: router, queue: q, monitor: monitor}
}

func TestSyncHandler_StatusAndDrain(t *testing.T) {
	c := setupSyncTest(t, false, func(ctx context.Context, op domain.Operation) error {
		if op.TransactionID == "tx-bad" {
			return errors.New("rejected")
		}
		return nil
	})
	ctx := context.Background()
	for _, id := range []string{"tx-1", "tx-bad"} {
		_, err := c.queue.Enqueue(ctx, domain.Operation{Kind: domain.OpCreateTransaction, TransactionID: id})
		require.NoError(t, err)
	}

	rr := httptest.NewRecorder()
	c.router.ServeHTTP(rr, apiRequest(t, http.MethodGet, "/v1/sync", "", "user-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	var status SyncStatusDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, 2, status.Queue.Pending)
	assert.False(t, status.Network.Online)
	require.Len(t, status.Pending, 2)
	assert.Equal(t, "tx-1", status.Pending[0].TransactionID)

	rr = httptest.NewRecorder()
	c.router.ServeHTTP(rr, apiRequest(t, http.MethodPost, "/v1/sync/drain", "", "user-1"))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "offline drains are refused")
	assert.Equal(t, 2, c.queue.Len())

	c.monitor.SetOnline(ctx, true)
	rr = httptest.NewRecorder()
	c.router.ServeHTTP(rr, apiRequest(t, http.MethodPost, "/v1/sync/drain", "", "user-1"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res DrainResultDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"tx-bad: rejected"}, res.Errors)
}

func TestSyncHandler_NetworkOverride(t *testing.T) {
	c := setupSyncTest(t, true, func(context.Context, domain.Operation) error { return nil })

	rr := httptest.NewRecorder()
	c.router.ServeHTTP(rr, apiRequest(t, http.MethodPut, "/v1/network", `{"online":false}`, "user-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, c.monitor.IsOnline())

	var status network.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.False(t, status.Online)
	assert.NotNil(t, status.OfflineSince)

	rr = httptest.NewRecorder()
	c.router.ServeHTTP(rr, apiRequest(t, http.MethodPut, "/v1/network", `{}`, "user-1"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	c.router.ServeHTTP(rr, apiRequest(t, http.MethodGet, "/v1/network", "", "user-1"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"online":false`)
}

type chanSource struct {
	ch chan domain.Event
}

func (s *chanSource) Subscribe() (<-chan domain.Event, func()) {
	return s.ch, func() {}
}

func TestEventsHandler_StreamsOwnEvents(t *testing.T) {
	source := &chanSource{ch: make(chan domain.Event, 8)}
	svc := new(MockTransactionService)
	svc.On("GetTransaction", mock.Anything, "tx-foreign").Return(&domain.Transaction{ID: "tx-foreign", UserID: "user-2"}, nil)
	svc.On("GetTransaction", mock.Anything, "tx-own").Return(&domain.Transaction{ID: "tx-own", UserID: "user-1"}, nil)
	svc.On("GetTransaction", mock.Anything, "tx-gone").Return(nil, domain.ErrNotFound)
	router := NewRouter(RouterConfig{Transactions: svc, Events: source, JWTSecret: testJWTSecret, Logger: discardLogger()})
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/transactions/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testJWTSecret, "user-1", time.Hour))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	source.ch <- domain.Event{Type: domain.EventTransactionUpdated, TransactionID: "tx-other", Transaction: &domain.Transaction{ID: "tx-other", UserID: "user-2"}}
	source.ch <- domain.Event{Type: domain.EventSyncFailed, TransactionID: "tx-foreign", Message: "rejected"}
	source.ch <- domain.Event{Type: domain.EventStorageFailed, TransactionID: "tx-gone"}
	source.ch <- domain.Event{Type: domain.EventSyncCompleted, TransactionID: "tx-own"}
	source.ch <- domain.Event{Type: domain.EventTransactionUpdated, TransactionID: "tx-1", Transaction: &domain.Transaction{ID: "tx-1", UserID: "user-1"}}

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 4 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		lines = append(lines, line)
	}
	assert.Equal(t, "event: sync.completed", lines[0])
	assert.Contains(t, lines[1], `"transaction_id":"tx-own"`)
	assert.Equal(t, "event: transaction.updated", lines[2])
	assert.Contains(t, lines[3], `"transaction_id":"tx-1"`)
	for _, l := range lines {
		assert.NotContains(t, l, "tx-other")
		assert.NotContains(t, l, "tx-foreign")
		assert.NotContains(t, l, "tx-gone")
	}
}
