package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/pipeline"
	"github.com/kirillkom/document-intake/internal/core/ports"
	"github.com/kirillkom/document-intake/internal/core/registry"
)

type IngestConfig struct {
	DefaultParser   string
	DefaultModel    string
	DefaultLanguage string
	// TempDir holds files of synchronous generate calls; empty means os.TempDir.
	TempDir string
}

type IngestService struct {
	registry *registry.Registry
	jobs     ports.JobStore
	users    ports.UserDirectory
	storage  ports.ObjectStorage
	events   ports.JobEventPublisher
	runner   ports.TaskRunner
	observer pipeline.Observer
	logger   *slog.Logger
	cfg      IngestConfig
}

func NewIngestService(
	reg *registry.Registry,
	jobs ports.JobStore,
	users ports.UserDirectory,
	storage ports.ObjectStorage,
	events ports.JobEventPublisher,
	runner ports.TaskRunner,
	observer pipeline.Observer,
	logger *slog.Logger,
	cfg IngestConfig,
) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	return &IngestService{
		registry: reg,
		jobs:     jobs,
		users:    users,
		storage:  storage,
		events:   events,
		runner:   runner,
		observer: observer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Generate parses and extracts one document synchronously. Nothing is
// persisted and no job is tracked. Provider names are checked before the body
// is read.
func (s *IngestService) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Record, error) {
	parserName := firstNonEmpty(req.Parser, s.cfg.DefaultParser)
	model := firstNonEmpty(req.Model, s.cfg.DefaultModel)

	if req.DocumentType == "" || req.DocumentType == domain.DocumentUnknown {
		if err := s.registry.CheckModel(model); err != nil {
			return nil, err
		}
	} else if _, err := s.registry.Extractor(model, req.DocumentType); err != nil {
		return nil, err
	}
	if err := s.registry.CheckParser(parserName); err != nil {
		return nil, err
	}
	if isForbiddenFile(req.FileName) {
		return nil, domain.WrapError(domain.ErrForbiddenFile, "generate", fmt.Errorf("rejected %q", req.FileName))
	}
	if req.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "generate", errors.New("file is required"))
	}

	tmpPath, err := s.writeTemp(req.FileName, req.Body)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("temp_file_remove_failed", "path", tmpPath, "error", rmErr)
		}
	}()

	return s.ProcessFile(ctx, ProcessRequest{
		Path:         tmpPath,
		FileName:     sanitizeFilename(req.FileName),
		Parser:       parserName,
		Model:        model,
		Language:     firstNonEmpty(req.Language, s.cfg.DefaultLanguage),
		DocumentType: req.DocumentType,
	})
}

func (s *IngestService) writeTemp(fileName string, body io.Reader) (string, error) {
	suffix := strings.ToLower(filepath.Ext(sanitizeFilename(fileName)))
	f, err := os.CreateTemp(s.cfg.TempDir, "generate-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmpPath, nil
}

// Upload stores the file, creates a pending job and schedules the pipeline in
// the background. The returned job is the only outcome the caller sees; task
// errors end up on the job and in the logs.
func (s *IngestService) Upload(ctx context.Context, user domain.User, fileName string, body io.Reader) (*domain.ProcessingJob, error) {
	if isForbiddenFile(fileName) {
		return nil, domain.WrapError(domain.ErrForbiddenFile, "upload", fmt.Errorf("rejected %q", fileName))
	}
	parserName, model := s.cfg.DefaultParser, s.cfg.DefaultModel
	if err := s.registry.CheckParser(parserName); err != nil {
		return nil, err
	}
	if err := s.registry.CheckModel(model); err != nil {
		return nil, err
	}

	job, err := domain.NewJob(fileName, user.ID)
	if err != nil {
		return nil, err
	}
	name := sanitizeFilename(fileName)
	key := job.ID + "_" + name
	stored, err := s.storage.Save(ctx, key, body)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	req := ProcessRequest{
		Path:      stored,
		FileName:  name,
		Parser:    parserName,
		Model:     model,
		Language:  s.cfg.DefaultLanguage,
		JobID:     job.ID,
		CreatedBy: user.ID,
		Persist:   true,
	}
	p, err := s.newPipeline(req)
	if err != nil {
		s.removeStored(ctx, key)
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.removeStored(ctx, key)
		return nil, fmt.Errorf("create job: %w", err)
	}

	err = s.runner.Go("upload:"+job.ID, func(taskCtx context.Context) error {
		defer s.removeStored(taskCtx, key)
		if _, err := s.run(taskCtx, req, p); err != nil {
			s.logger.Error("upload_processing_failed", "job_id", job.ID, "file_name", name, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		s.removeStored(ctx, key)
		s.abandonJob(ctx, job.ID, err)
		return nil, fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	return job, nil
}

// abandonJob walks a job that will never run through processing to failed so
// it does not stay pending forever.
func (s *IngestService) abandonJob(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	if _, err := s.jobs.Update(ctx, jobID, domain.JobProcessing, nil); err != nil {
		s.logger.Error("job_abandon_failed", "job_id", jobID, "error", err)
		return
	}
	if _, err := s.jobs.Update(ctx, jobID, domain.JobFailed, &msg); err != nil {
		s.logger.Error("job_abandon_failed", "job_id", jobID, "error", err)
	}
}

func (s *IngestService) removeStored(ctx context.Context, key string) {
	if err := s.storage.Remove(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("stored_file_remove_failed", "key", key, "error", err)
	}
}

// IngestEmail processes every acceptable attachment of email for the user
// matching its sender. Dangerous attachments are skipped; the first pipeline
// error aborts the remaining attachments.
func (s *IngestService) IngestEmail(ctx context.Context, email domain.InboundEmail) ([]domain.Record, error) {
	if strings.TrimSpace(email.Sender) == "" || strings.TrimSpace(email.Subject) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ingest email", errors.New("missing required email fields: sender and subject are required"))
	}
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email.Sender))
	if err != nil {
		return nil, err
	}

	inbox := path.Join("inbox", time.Now().UTC().Format("20060102-150405"))
	results := make([]domain.Record, 0, len(email.Attachments))
	for _, attachment := range email.Attachments {
		name := sanitizeFilename(firstNonEmpty(attachment.FileName, "attachment.bin"))
		if isForbiddenFile(name) {
			s.logger.Warn("email_attachment_rejected", "sender", email.Sender, "file_name", name)
			continue
		}
		record, err := s.ingestAttachment(ctx, *user, inbox, name, attachment.Body)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}

	if len(results) == 0 {
		return nil, domain.ErrNoValidAttachments
	}
	return results, nil
}

func (s *IngestService) ingestAttachment(ctx context.Context, user domain.User, inbox, name string, body io.Reader) (domain.Record, error) {
	job, err := domain.NewJob(name, user.ID)
	if err != nil {
		return nil, err
	}
	key := path.Join(inbox, job.ID+"_"+name)
	stored, err := s.storage.Save(ctx, key, body)
	if err != nil {
		return nil, fmt.Errorf("save attachment: %w", err)
	}
	defer s.removeStored(ctx, key)

	req := ProcessRequest{
		Path:      stored,
		FileName:  name,
		Parser:    s.cfg.DefaultParser,
		Model:     s.cfg.DefaultModel,
		Language:  s.cfg.DefaultLanguage,
		JobID:     job.ID,
		CreatedBy: user.ID,
		Persist:   true,
	}
	p, err := s.newPipeline(req)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return s.run(ctx, req, p)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
