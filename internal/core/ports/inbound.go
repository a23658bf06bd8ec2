package ports

import (
	"context"
	"io"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// DocumentGenerator runs the pipeline synchronously and returns the extracted record.
type DocumentGenerator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (domain.Record, error)
}

// DocumentUploader accepts a file for asynchronous processing and returns its job.
type DocumentUploader interface {
	Upload(ctx context.Context, user domain.User, fileName string, body io.Reader) (*domain.ProcessingJob, error)
}

// EmailIngestor processes every acceptable attachment of an inbound email.
type EmailIngestor interface {
	IngestEmail(ctx context.Context, email domain.InboundEmail) ([]domain.Record, error)
}

// JobReader is the read model for processing jobs.
type JobReader interface {
	Get(ctx context.Context, user domain.User, id string) (*domain.ProcessingJob, error)
	List(ctx context.Context, user domain.User) ([]domain.ProcessingJob, error)
}

// RecordManager exposes CRUD over one record kind scoped to the calling user.
type RecordManager[T domain.Record] interface {
	Get(ctx context.Context, user domain.User, id string) (T, error)
	List(ctx context.Context, query domain.RecordQuery) (domain.Page[T], error)
	UpdateStatus(ctx context.Context, user domain.User, id string, status domain.RecordStatus) (T, error)
	Delete(ctx context.Context, user domain.User, id string) error
	Counts(ctx context.Context, user domain.User) (domain.StatusCounts, error)
	Export(ctx context.Context, query domain.RecordQuery) ([]byte, error)
}
