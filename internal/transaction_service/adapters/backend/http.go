package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

const maxResponseBytes = 1 << 20

// Limiter wraps a token bucket shared by all calls of one client.
type Limiter struct {
	limiter *rate.Limiter
}

func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until one token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return errors.New("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		rateLimitWaitsCounter.Inc()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// HTTPBackend talks to a PostgREST style transactions endpoint.
type HTTPBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *Limiter
	logger     *slog.Logger
}

func NewHTTPBackend(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "http_backend"),
	}
}

// SetRateLimiter sets an optional client-side limiter.
func (b *HTTPBackend) SetRateLimiter(l *Limiter) {
	b.limiter = l
}

// CreateTransaction POSTs tx. A 409 means the id is already stored remotely and counts as success.
func (b *HTTPBackend) CreateTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	var rows []domain.Transaction
	status, err := b.do(ctx, "create", http.MethodPost, "/transactions", tx, &rows)
	if status == http.StatusConflict {
		b.logger.DebugContext(ctx, "Transaction already present remotely", "transaction_id", tx.ID)
		recordRequest("create", nil)
		return tx, nil
	}
	recordRequest("create", err)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return &rows[0], nil
	}
	return tx, nil
}

func (b *HTTPBackend) UpdateTransaction(ctx context.Context, id string, patch domain.Patch) (*domain.Transaction, error) {
	if patch.IsEmpty() {
		return nil, &domain.RemoteError{Kind: domain.RemoteRejected, Op: "update", Err: fmt.Errorf("%w: empty patch", domain.ErrValidation)}
	}
	var rows []domain.Transaction
	_, err := b.do(ctx, "update", http.MethodPatch, "/transactions?id=eq."+url.QueryEscape(id), patch, &rows)
	if err == nil && len(rows) == 0 {
		err = &domain.RemoteError{Kind: domain.RemoteRejected, Op: "update", Err: fmt.Errorf("%w: %s", domain.ErrNotFound, id)}
	}
	recordRequest("update", err)
	if err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// Ping succeeds on any response below 500.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.baseURL+"/transactions?limit=0", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	b.setHeaders(req)
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return domain.ClassifyRemoteError("ping", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.NewStatusError("ping", resp.StatusCode, "")
	}
	return nil
}

func (b *HTTPBackend) do(ctx context.Context, op, method, path string, in, out any) (int, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return 0, domain.ClassifyRemoteError(op, err)
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", op, err)
	}
	b.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, domain.ClassifyRemoteError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, domain.ClassifyRemoteError(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, domain.NewStatusError(op, resp.StatusCode, string(respBody))
	}
	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &domain.RemoteError{Kind: domain.RemoteServer, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func (b *HTTPBackend) setHeaders(req *http.Request) {
	if b.apiKey == "" {
		return
	}
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
}
