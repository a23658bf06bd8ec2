package ports

import (
	"context"
	"io"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

// DocumentParser converts one file into plain or markdown text. Instances are
// bound to a path and language at construction.
type DocumentParser interface {
	Parse(ctx context.Context) (string, error)
}

// DocumentClassifier predicts the document type of parsed text. It may return
// domain.DocumentUnknown.
type DocumentClassifier interface {
	Classify(ctx context.Context, text string) (domain.DocumentType, error)
}

// RecordExtractor turns parsed text into a structured record of one document type.
type RecordExtractor interface {
	Extract(ctx context.Context, text string) (domain.Record, error)
}

// JobStore persists processing job state.
type JobStore interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	Update(ctx context.Context, id string, status domain.JobStatus, errMessage *string) (*domain.ProcessingJob, error)
	GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.ProcessingJob, error)
}

// RecordStore persists one kind of structured record.
type RecordStore[T domain.Record] interface {
	Create(ctx context.Context, record T) error
	GetByID(ctx context.Context, id string) (T, error)
	List(ctx context.Context, query domain.RecordQuery) ([]T, int, error)
	UpdateStatus(ctx context.Context, id string, status domain.RecordStatus) error
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, owner domain.User) (domain.StatusCounts, error)
}

// UserDirectory resolves users managed by the external auth service.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// ObjectStorage holds uploaded files for the duration of one pipeline run.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (string, error)
	Remove(ctx context.Context, key string) error
}

// JobEventPublisher announces jobs that reached a terminal status.
type JobEventPublisher interface {
	PublishJobFinished(ctx context.Context, event domain.JobFinishedEvent) error
}

// TaskRunner executes work detached from the caller's request.
type TaskRunner interface {
	Go(name string, task func(context.Context) error) error
}

// RecordExporter renders records as a downloadable document.
type RecordExporter[T domain.Record] interface {
	Export(ctx context.Context, records []T) ([]byte, error)
}

// RecordPersister stores an extracted record on behalf of a user. It assigns
// the record id and its initial review status.
type RecordPersister interface {
	Persist(ctx context.Context, record domain.Record, createdBy, fileName string) (domain.Record, error)
}
