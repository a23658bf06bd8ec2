package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/pipeline"
)

// ProcessRequest describes one pipeline run over a file already on disk.
type ProcessRequest struct {
	Path     string
	FileName string
	Parser   string
	Model    string
	Language string
	// DocumentType skips classification when set to order or invoice.
	DocumentType domain.DocumentType
	// JobID enables job tracking; the job must exist as pending before the run.
	JobID     string
	CreatedBy string
	Persist   bool
}

// ProcessFile runs the pipeline for req and, when asked, persists the result
// through the create function registered for its document type.
func (s *IngestService) ProcessFile(ctx context.Context, req ProcessRequest) (domain.Record, error) {
	p, err := s.newPipeline(req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, req, p)
}

func (s *IngestService) newPipeline(req ProcessRequest) (*pipeline.Pipeline, error) {
	parser, err := s.registry.Parser(req.Parser, req.Path, req.Language)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{Logger: s.logger, Observer: s.observer}
	switch req.DocumentType {
	case domain.DocumentOrder, domain.DocumentInvoice:
		extractor, err := s.registry.Extractor(req.Model, req.DocumentType)
		if err != nil {
			return nil, err
		}
		opts.Extractor = extractor
		opts.DocumentType = req.DocumentType
	default:
		classifier, err := s.registry.Classifier(req.Model)
		if err != nil {
			return nil, err
		}
		opts.Classifier = classifier
		opts.Extractors = s.registry.ExtractorsFor(req.Model)
	}
	if req.JobID != "" {
		opts.Jobs = s.jobs
		opts.JobID = req.JobID
	}
	return pipeline.New(parser, opts)
}

func (s *IngestService) run(ctx context.Context, req ProcessRequest, p *pipeline.Pipeline) (domain.Record, error) {
	record, docType, err := p.Run(ctx)
	pipelineErr := err
	if err == nil && req.Persist {
		record, err = s.persist(ctx, req, record, docType)
	}
	if req.JobID != "" {
		s.publishFinished(ctx, req, record, docType, pipelineErr, err)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *IngestService) persist(ctx context.Context, req ProcessRequest, record domain.Record, docType domain.DocumentType) (domain.Record, error) {
	persister, err := s.registry.Persister(docType)
	if err != nil {
		return nil, err
	}
	created, err := persister.Persist(ctx, record, req.CreatedBy, req.FileName)
	if err != nil {
		return nil, fmt.Errorf("persist %s: %w", docType, err)
	}
	return created, nil
}

func (s *IngestService) publishFinished(ctx context.Context, req ProcessRequest, record domain.Record, docType domain.DocumentType, pipelineErr, err error) {
	if s.events == nil {
		return
	}
	event := domain.JobFinishedEvent{
		JobID:        req.JobID,
		Status:       domain.JobSuccess,
		DocumentType: docType,
		CreatedBy:    req.CreatedBy,
		FinishedAt:   time.Now().UTC(),
	}
	if pipelineErr != nil {
		event.Status = domain.JobFailed
	}
	if err != nil {
		event.Error = err.Error()
	}
	if record != nil {
		event.RecordID = record.RecordID()
	}
	if pubErr := s.events.PublishJobFinished(context.WithoutCancel(ctx), event); pubErr != nil {
		s.logger.Warn("job_event_publish_failed", "job_id", req.JobID, "error", pubErr)
	}
}
