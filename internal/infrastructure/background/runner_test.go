package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

type observerFake struct {
	mu       sync.Mutex
	started  int
	finished []error
}

func (o *observerFake) TaskStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observerFake) TaskFinished(_ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, err)
}

func TestRunnerRunsTasksAndWaitsOnShutdown(t *testing.T) {
	observer := &observerFake{}
	runner := New(Config{Workers: 2, QueueSize: 8}, nil, observer)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if err := runner.Go("count", func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}

	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if ran.Load() != 5 {
		t.Fatalf("expected 5 tasks to run, got %d", ran.Load())
	}
	if observer.started != 5 || len(observer.finished) != 5 {
		t.Fatalf("observer saw started=%d finished=%d", observer.started, len(observer.finished))
	}
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	runner := New(Config{Workers: 2, QueueSize: 10}, nil, nil)

	var current, peak atomic.Int32
	for i := 0; i < 6; i++ {
		if err := runner.Go("bounded", func(context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}); err != nil {
			t.Fatalf("Go() error = %v", err)
		}
	}
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", peak.Load())
	}
}

func TestRunnerRejectsWhenSaturated(t *testing.T) {
	runner := New(Config{Workers: 1, QueueSize: 0}, nil, nil)
	release := make(chan struct{})

	if err := runner.Go("blocker", func(context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	err := runner.Go("overflow", func(context.Context) error { return nil })
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}

	close(release)
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestRunnerRejectsAfterShutdown(t *testing.T) {
	runner := New(Config{}, nil, nil)
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	err := runner.Go("late", func(context.Context) error { return nil })
	if !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected ErrRunnerClosed, got %v", err)
	}
}

func TestRunnerRecoversPanicsAndReportsErrors(t *testing.T) {
	observer := &observerFake{}
	runner := New(Config{Workers: 1, QueueSize: 1}, nil, observer)

	_ = runner.Go("panics", func(context.Context) error { panic("boom") })
	_ = runner.Go("fails", func(context.Context) error { return errors.New("failed") })
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if len(observer.finished) != 2 {
		t.Fatalf("expected 2 finished tasks, got %d", len(observer.finished))
	}
	for _, err := range observer.finished {
		if err == nil {
			t.Fatalf("expected both tasks to report errors")
		}
	}
}

func TestShutdownCancelsTasksWhenContextExpires(t *testing.T) {
	runner := New(Config{Workers: 1}, nil, nil)
	cancelled := make(chan struct{})

	_ = runner.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := runner.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatalf("task was not cancelled")
	}
}

func TestShutdownStillInvokesQueuedTasks(t *testing.T) {
	runner := New(Config{Workers: 1, QueueSize: 1}, nil, nil)

	var invoked, sawCancel atomic.Int32
	task := func(ctx context.Context) error {
		invoked.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(200 * time.Millisecond):
		}
		if ctx.Err() != nil {
			sawCancel.Add(1)
		}
		return ctx.Err()
	}
	for _, name := range []string{"a", "b"} {
		if err := runner.Go(name, task); err != nil {
			t.Fatalf("Go(%s) error = %v", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := runner.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if invoked.Load() != 2 {
		t.Fatalf("expected both accepted tasks to run, got %d", invoked.Load())
	}
	if sawCancel.Load() != 2 {
		t.Fatalf("expected both tasks to see cancellation, got %d", sawCancel.Load())
	}
}
