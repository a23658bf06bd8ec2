// Package pipeline runs one document through parse, optional classification
// and extraction while keeping its processing job in step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
)

type Stage string

const (
	StageParse    Stage = "parse"
	StageClassify Stage = "classify"
	StageResolve  Stage = "resolve"
	StageExtract  Stage = "extract"
)

// ExtractorResolver picks the extractor for a classified document type.
type ExtractorResolver func(docType domain.DocumentType) (ports.RecordExtractor, error)

// Observer receives run and stage timings. Implementations must not block.
type Observer interface {
	RunStarted()
	StageFinished(stage Stage, elapsed time.Duration, err error)
	RunFinished(status domain.JobStatus, docType domain.DocumentType, elapsed time.Duration)
}

type Options struct {
	// Extractor and DocumentType skip classification when both are set.
	Extractor    ports.RecordExtractor
	DocumentType domain.DocumentType

	Classifier ports.DocumentClassifier
	Extractors ExtractorResolver

	// Jobs and JobID enable job tracking. The job must already exist as pending.
	Jobs  ports.JobStore
	JobID string

	Logger   *slog.Logger
	Observer Observer
}

type Pipeline struct {
	parser ports.DocumentParser
	opts   Options
	logger *slog.Logger
}

func New(parser ports.DocumentParser, opts Options) (*Pipeline, error) {
	if parser == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new pipeline", errors.New("parser is required"))
	}
	prebound := opts.Extractor != nil
	if prebound && opts.DocumentType != domain.DocumentOrder && opts.DocumentType != domain.DocumentInvoice {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new pipeline", fmt.Errorf("pre-bound extractor needs a concrete document type, got %q", opts.DocumentType))
	}
	if !prebound && (opts.Classifier == nil || opts.Extractors == nil) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new pipeline", errors.New("either an extractor or a classifier with extractor resolver is required"))
	}
	if (opts.Jobs == nil) != (opts.JobID == "") {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new pipeline", errors.New("job store and job id must be set together"))
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.JobID != "" {
		logger = logger.With("job_id", opts.JobID)
	}
	return &Pipeline{parser: parser, opts: opts, logger: logger}, nil
}

func (p *Pipeline) tracked() bool {
	return p.opts.Jobs != nil
}

// Run executes the pipeline once. Stage errors are returned exactly as the
// provider produced them, after the job has been marked failed with the same
// message.
func (p *Pipeline) Run(ctx context.Context) (domain.Record, domain.DocumentType, error) {
	started := time.Now()
	p.observeStart()

	if p.tracked() {
		// Job writes are detached from ctx so a run that starts cancelled
		// still ends in a terminal status.
		if _, err := p.opts.Jobs.Update(context.WithoutCancel(ctx), p.opts.JobID, domain.JobProcessing, nil); err != nil {
			p.logger.Error("pipeline_mark_processing_failed", "error", err)
			return nil, "", fmt.Errorf("set job status=processing: %w", err)
		}
	}

	record, docType, err := p.stages(ctx)
	if err != nil {
		p.fail(ctx, err)
		p.observeFinish(domain.JobFailed, docType, started)
		return nil, "", err
	}

	if p.tracked() {
		if _, err := p.opts.Jobs.Update(context.WithoutCancel(ctx), p.opts.JobID, domain.JobSuccess, nil); err != nil {
			p.logger.Error("pipeline_mark_success_failed", "error", err)
			err = fmt.Errorf("set job status=success: %w", err)
			p.fail(ctx, err)
			p.observeFinish(domain.JobFailed, docType, started)
			return nil, "", err
		}
	}

	p.observeFinish(domain.JobSuccess, docType, started)
	p.logger.Info("pipeline_finished", "document_type", docType, "elapsed_ms", time.Since(started).Milliseconds())
	return record, docType, nil
}

func (p *Pipeline) stages(ctx context.Context) (domain.Record, domain.DocumentType, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	var text string
	err := p.timed(StageParse, func() error {
		var parseErr error
		text, parseErr = p.parser.Parse(ctx)
		return parseErr
	})
	if err != nil {
		return nil, "", err
	}

	extractor, docType := p.opts.Extractor, p.opts.DocumentType
	if extractor == nil {
		err = p.timed(StageClassify, func() error {
			var classifyErr error
			docType, classifyErr = p.opts.Classifier.Classify(ctx, text)
			if classifyErr != nil {
				return classifyErr
			}
			if docType != domain.DocumentOrder && docType != domain.DocumentInvoice {
				return domain.ErrUndeterminedType
			}
			return nil
		})
		if err != nil {
			return nil, "", err
		}

		err = p.timed(StageResolve, func() error {
			var resolveErr error
			extractor, resolveErr = p.opts.Extractors(docType)
			return resolveErr
		})
		if err != nil {
			return nil, docType, err
		}
	}

	var record domain.Record
	err = p.timed(StageExtract, func() error {
		var extractErr error
		record, extractErr = extractor.Extract(ctx, text)
		if extractErr != nil {
			return extractErr
		}
		if record == nil {
			return domain.WrapError(domain.ErrInvalidInput, "extract record", errors.New("extractor returned no record"))
		}
		if record.DocumentType() != docType {
			return domain.WrapError(domain.ErrInvalidInput, "extract record", fmt.Errorf("extractor returned %s, expected %s", record.DocumentType(), docType))
		}
		return nil
	})
	if err != nil {
		return nil, docType, err
	}
	return record, docType, nil
}

// fail records err on the job. A job store failure here is logged and never
// replaces err.
func (p *Pipeline) fail(ctx context.Context, err error) {
	p.logger.Warn("pipeline_stage_failed", "error", err)
	if !p.tracked() {
		return
	}
	msg := err.Error()
	if _, updateErr := p.opts.Jobs.Update(context.WithoutCancel(ctx), p.opts.JobID, domain.JobFailed, &msg); updateErr != nil {
		p.logger.Error("pipeline_mark_failed_failed", "error", updateErr, "stage_error", err)
	}
}

func (p *Pipeline) timed(stage Stage, fn func() error) error {
	started := time.Now()
	err := fn()
	if p.opts.Observer != nil {
		p.opts.Observer.StageFinished(stage, time.Since(started), err)
	}
	return err
}

func (p *Pipeline) observeStart() {
	if p.opts.Observer != nil {
		p.opts.Observer.RunStarted()
	}
}

func (p *Pipeline) observeFinish(status domain.JobStatus, docType domain.DocumentType, started time.Time) {
	if p.opts.Observer != nil {
		p.opts.Observer.RunFinished(status, docType, time.Since(started))
	}
}

// RunAs runs p and narrows the record to T.
func RunAs[T domain.Record](ctx context.Context, p *Pipeline) (T, error) {
	var zero T
	record, _, err := p.Run(ctx)
	if err != nil {
		return zero, err
	}
	typed, ok := record.(T)
	if !ok {
		return zero, domain.WrapError(domain.ErrInvalidInput, "run pipeline", fmt.Errorf("unexpected record type %T", record))
	}
	return typed, nil
}
