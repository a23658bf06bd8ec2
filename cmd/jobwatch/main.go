package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kirillkom/document-intake/internal/config"
	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-intake/internal/observability/logging"
)

// jobwatch follows job-finished events and logs one line per event.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("jobwatch", cfg.LogLevel)
	slog.SetDefault(logger)

	if strings.TrimSpace(cfg.NATSURL) == "" {
		logger.Error("jobwatch_disabled", "reason", "NATS_URL is empty")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := nats.New(cfg.NATSURL, nats.Options{Subject: cfg.NATSSubject, Logger: logger})
	if err != nil {
		logger.Error("nats_connect_failed", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	logger.Info("jobwatch_subscribed", "subject", cfg.NATSSubject)
	err = bus.SubscribeJobFinished(ctx, func(_ context.Context, event domain.JobFinishedEvent) error {
		attrs := []any{
			"job_id", event.JobID,
			"status", event.Status,
			"created_by", event.CreatedBy,
			"finished_at", event.FinishedAt,
		}
		if event.DocumentType != "" {
			attrs = append(attrs, "document_type", event.DocumentType)
		}
		if event.RecordID != "" {
			attrs = append(attrs, "record_id", event.RecordID)
		}
		if event.Status == domain.JobFailed {
			logger.Warn("job_failed", append(attrs, "error", event.Error)...)
			return nil
		}
		logger.Info("job_finished", attrs...)
		return nil
	})
	if err != nil {
		logger.Error("jobwatch_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
