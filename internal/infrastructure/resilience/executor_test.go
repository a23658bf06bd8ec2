package resilience

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestDefaultConfigMakesSingleAttempt(t *testing.T) {
	exec := NewExecutor(Config{BreakerEnabled: false})

	attempts := 0
	_, err := Call(context.Background(), exec, "llamaparse.upload", func(context.Context) (string, error) {
		attempts++
		return "", &HTTPStatusError{Provider: "llamaparse", Operation: "upload", StatusCode: http.StatusServiceUnavailable, Status: "503 Service Unavailable"}
	})
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt, got %d", attempts)
	}
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected transient failure wrapped as ErrTemporary, got %v", err)
	}
}

func TestCallLeavesPermanentErrorsUnwrapped(t *testing.T) {
	exec := NewExecutor(DefaultConfig())

	_, err := Call(context.Background(), exec, "openai.chat", func(context.Context) (int, error) {
		return 0, &HTTPStatusError{Provider: "openai", Operation: "chat", StatusCode: http.StatusBadRequest, Status: "400 Bad Request", Body: "bad schema"}
	})
	if errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("4xx must not be marked temporary: %v", err)
	}
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if !strings.Contains(err.Error(), "openai chat status: 400 Bad Request: bad schema") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestCallReturnsValue(t *testing.T) {
	exec := NewExecutor(DefaultConfig())
	got, err := Call(context.Background(), exec, "op", func(context.Context) (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}

type observerFake struct {
	retries []string
	states  []string
}

func (o *observerFake) OperationRetried(operation string) { o.retries = append(o.retries, operation) }
func (o *observerFake) BreakerStateChanged(operation, state string) {
	o.states = append(o.states, operation+":"+state)
}

func TestExecutorReportsRetriesAndBreakerChanges(t *testing.T) {
	observer := &observerFake{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        2,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     1,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}, WithObserver(observer))

	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if len(observer.retries) != 1 || observer.retries[0] != "nats.publish" {
		t.Fatalf("unexpected retries %v", observer.retries)
	}
	if len(observer.states) != 1 || observer.states[0] != "nats.publish:open" {
		t.Fatalf("unexpected breaker changes %v", observer.states)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{RetryInitialBackoff: 10 * time.Millisecond, RetryMaxBackoff: 35 * time.Millisecond, RetryMultiplier: 2}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}
	for i, w := range want {
		if got := cfg.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestProviderPolicy(t *testing.T) {
	if cfg := ProviderPolicy(0, true); cfg.RetryMaxAttempts != 1 || !cfg.BreakerEnabled {
		t.Fatalf("unexpected default provider policy %+v", cfg)
	}
	if cfg := ProviderPolicy(4, false); cfg.RetryMaxAttempts != 4 || cfg.BreakerEnabled {
		t.Fatalf("unexpected provider policy %+v", cfg)
	}
}
