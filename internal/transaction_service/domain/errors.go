package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	ErrNotFound         = errors.New("transaction not found")
	ErrValidation       = errors.New("validation failed")
	ErrStorage          = errors.New("local storage failure")
	ErrStaleUpdate      = errors.New("stale update discarded")
	ErrDrainInProgress  = errors.New("drain already in progress")
	ErrUnknownOperation = errors.New("unknown operation kind")
)

// RemoteErrorKind classifies failures of the remote transaction backend.
type RemoteErrorKind string

const (
	RemoteConnection RemoteErrorKind = "connection"
	RemoteTimeout    RemoteErrorKind = "timeout"
	RemoteServer     RemoteErrorKind = "server"
	RemoteRejected   RemoteErrorKind = "rejected"
)

// RemoteError is a classified backend failure.
type RemoteError struct {
	Kind       RemoteErrorKind
	Op         string
	StatusCode int // HTTP status when known
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s (%s, status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsTransient reports whether replaying the call later may succeed.
func (e *RemoteError) IsTransient() bool {
	return e.Kind == RemoteConnection || e.Kind == RemoteTimeout
}

// IsTransient reports whether err is a remote failure worth retrying.
func IsTransient(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.IsTransient()
	}
	return false
}

// NewStatusError classifies an HTTP response status.
func NewStatusError(op string, statusCode int, body string) *RemoteError {
	kind := RemoteRejected
	switch {
	case statusCode == 408 || statusCode == 429:
		kind = RemoteTimeout
	case statusCode >= 500:
		kind = RemoteServer
	}
	return &RemoteError{Kind: kind, Op: op, StatusCode: statusCode, Err: fmt.Errorf("http status %d: %s", statusCode, strings.TrimSpace(body))}
}

// ClassifyRemoteError wraps a raw transport error into a RemoteError. nil stays nil.
func ClassifyRemoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) RemoteErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return RemoteTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RemoteTimeout
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return RemoteConnection
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return RemoteConnection
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, timeoutTokens):
		return RemoteTimeout
	case containsAny(lower, connectionTokens):
		return RemoteConnection
	}
	return RemoteServer
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var timeoutTokens = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

var connectionTokens = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"failed to connect",
	"server closed idle connection",
	"conn closed",
}
