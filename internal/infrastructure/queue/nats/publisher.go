package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/infrastructure/resilience"
)

const DefaultSubject = "jobs.finished"

// PublishObserver counts job-finished publishes by job status and outcome.
type PublishObserver interface {
	JobEventPublished(status domain.JobStatus, outcome string)
}

// Publish outcomes reported to PublishObserver.
const (
	OutcomePublished   = "published"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
	OutcomeCancelled   = "cancelled"
)

// EventBus publishes and consumes job-finished notifications.
type EventBus struct {
	conn     *nats.Conn
	publish  func(subject string, data []byte) error
	subject  string
	executor *resilience.Executor
	observer PublishObserver
	logger   *slog.Logger
}

type Options struct {
	Subject              string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Observer             PublishObserver
	Logger               *slog.Logger
}

func New(url string, options Options) (*EventBus, error) {
	subject := options.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("document-intake"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &EventBus{
		conn:     conn,
		publish:  conn.Publish,
		subject:  subject,
		executor: options.ResilienceExecutor,
		observer: options.Observer,
		logger:   logger,
	}, nil
}

func (b *EventBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// PublishJobFinished sends event on the configured subject. Connection-level
// failures are retried by the executor and surface as domain.ErrTemporary.
func (b *EventBus) PublishJobFinished(ctx context.Context, event domain.JobFinishedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := b.publish(b.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}

	outcome := publishOutcome(err)
	if b.observer != nil {
		b.observer.JobEventPublished(event.Status, outcome)
	}
	switch outcome {
	case OutcomePublished:
		return nil
	case OutcomeUnavailable:
		b.logger.Warn("job_event_publish_unavailable", "job_id", event.JobID, "status", event.Status, "error", err)
		return domain.WrapError(domain.ErrTemporary, "publish job event", err)
	default:
		b.logger.Error("job_event_publish_failed", "job_id", event.JobID, "status", event.Status, "outcome", outcome, "error", err)
		return err
	}
}

// classifyPublishError retries only failures of the connection itself. A
// cancelled caller is never retried and does not count against the breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch publishOutcome(err) {
	case OutcomePublished:
		return resilience.ErrorClassification{}
	case OutcomeCancelled:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case OutcomeUnavailable:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

func publishOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomePublished
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return OutcomeUnavailable
	default:
		return OutcomeRejected
	}
}

// SubscribeJobFinished delivers decoded events to handler until ctx is done,
// then drains the subscription. Malformed payloads are logged and skipped.
func (b *EventBus) SubscribeJobFinished(ctx context.Context, handler func(context.Context, domain.JobFinishedEvent) error) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		event, err := DecodeJobFinished(msg.Data)
		if err != nil {
			b.logger.Warn("job_event_decode_failed", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			b.logger.Error("job_event_handler_failed", "job_id", event.JobID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func DecodeJobFinished(data []byte) (domain.JobFinishedEvent, error) {
	var event domain.JobFinishedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.JobFinishedEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode job event", err)
	}
	if event.JobID == "" || !event.Status.Terminal() {
		return domain.JobFinishedEvent{}, domain.WrapError(domain.ErrInvalidInput, "decode job event", fmt.Errorf("job_id=%q status=%q", event.JobID, event.Status))
	}
	return event, nil
}

// Noop drops events. Used when no NATS url is configured.
type Noop struct{}

func (Noop) PublishJobFinished(context.Context, domain.JobFinishedEvent) error { return nil }
