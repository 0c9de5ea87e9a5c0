package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TaskError is reported for every detached task that fails.
type TaskError struct {
	Task string
	Err  error
}

// TaskRunner runs fire-and-forget work on supervised goroutines. Each task gets its own
// timeout and is detached from the caller's context.
type TaskRunner struct {
	timeout time.Duration
	errs    chan<- TaskError
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskRunner builds a runner. errs may be nil; sends to it never block.
func NewTaskRunner(timeout time.Duration, errs chan<- TaskError, logger *slog.Logger) *TaskRunner {
	base, cancel := context.WithCancel(context.Background())
	return &TaskRunner{
		timeout: timeout,
		errs:    errs,
		logger:  logger.With("component", "task_runner"),
		base:    base,
		cancel:  cancel,
	}
}

func (r *TaskRunner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.base, r.timeout)
		defer cancel()

		err := r.run(ctx, name, fn)
		if err == nil {
			detachedTasksCounter.WithLabelValues(name, "ok").Inc()
			return
		}
		r.logger.ErrorContext(ctx, "Detached task failed", "task", name, "error", err)
		if r.errs != nil {
			select {
			case r.errs <- TaskError{Task: name, Err: err}:
			default:
				r.logger.Warn("Task error channel full, dropping report", "task", name)
			}
		}
	}()
}

func (r *TaskRunner) run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			detachedTasksCounter.WithLabelValues(name, "panic").Inc()
			err = fmt.Errorf("task %s panicked: %v", name, rec)
		}
	}()
	if err = fn(ctx); err != nil {
		detachedTasksCounter.WithLabelValues(name, "error").Inc()
	}
	return err
}

// Wait blocks until every started task has returned.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}

// Shutdown waits for in-flight tasks; when ctx ends first the remaining tasks are cancelled.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
