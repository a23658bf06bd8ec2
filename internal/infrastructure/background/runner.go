package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

var ErrRunnerClosed = errors.New("background runner closed")

type Config struct {
	// Workers bounds how many tasks run at once.
	Workers int
	// QueueSize bounds how many accepted tasks may wait for a worker.
	QueueSize   int
	TaskTimeout time.Duration
}

// Observer is notified as tasks start and finish.
type Observer interface {
	TaskStarted()
	TaskFinished(duration time.Duration, err error)
}

// Runner executes tasks on goroutines detached from the submitting request.
type Runner struct {
	cfg      Config
	sem      *semaphore.Weighted
	logger   *slog.Logger
	observer Observer

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closed  bool
	waiting int
	wg      sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger, observer Observer) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		logger:   logger,
		observer: observer,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Go accepts task unless the runner is closed or Workers+QueueSize tasks
// are already in flight. Task errors are logged, never returned.
func (r *Runner) Go(name string, task func(context.Context) error) error {
	if task == nil {
		return domain.WrapError(domain.ErrInvalidInput, "submit task", fmt.Errorf("task %q is nil", name))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.WrapError(domain.ErrTemporary, "submit task", ErrRunnerClosed)
	}
	if r.waiting >= r.cfg.Workers+r.cfg.QueueSize {
		r.mu.Unlock()
		return domain.WrapError(domain.ErrTemporary, "submit task", fmt.Errorf("runner saturated: %d tasks in flight", r.waiting))
	}
	r.waiting++
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(name, task)
	return nil
}

func (r *Runner) run(name string, task func(context.Context) error) {
	defer func() {
		r.mu.Lock()
		r.waiting--
		r.mu.Unlock()
		r.wg.Done()
	}()

	// An accepted task always runs. When Shutdown cancels it before a slot
	// frees up, it runs on the cancelled context so its cleanup still happens.
	ctx := r.baseCtx
	if err := r.sem.Acquire(r.baseCtx, 1); err != nil {
		r.logger.Warn("background_task_cancelled_before_start", "task", name, "error", err)
	} else {
		defer r.sem.Release(1)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(r.baseCtx, r.cfg.TaskTimeout)
		defer cancel()
	}

	if r.observer != nil {
		r.observer.TaskStarted()
	}
	started := time.Now()
	err := safeCall(ctx, task)
	if r.observer != nil {
		r.observer.TaskFinished(time.Since(started), err)
	}
	if err != nil {
		r.logger.Error("background_task_failed", "task", name, "duration_ms", time.Since(started).Milliseconds(), "error", err)
		return
	}
	r.logger.Debug("background_task_done", "task", name, "duration_ms", time.Since(started).Milliseconds())
}

func safeCall(ctx context.Context, task func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panic: %v", rec)
		}
	}()
	return task(ctx)
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first, in-flight tasks are cancelled, queued ones start on a cancelled
// context, and ctx.Err() is returned once all of them have returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

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
