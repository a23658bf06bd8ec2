package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

const jobColumns = `id, file_name, status, error_message, created_by, created_at, updated_at`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if job == nil {
		return domain.WrapError(domain.ErrInvalidInput, "create job", errors.New("job is nil"))
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO processing_jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, job.ID, job.FileName, string(job.Status), job.ErrorMessage, job.CreatedBy, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Update moves the job to status only when it currently holds one of the
// statuses allowed to precede it.
func (r *JobRepository) Update(ctx context.Context, id string, status domain.JobStatus, errMessage *string) (*domain.ProcessingJob, error) {
	allowed := status.Predecessors()
	if len(allowed) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "update job", fmt.Errorf("status %q is not a transition target", status))
	}

	args := []any{id, string(status), errMessage, time.Now().UTC()}
	for _, prev := range allowed {
		args = append(args, string(prev))
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE processing_jobs
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1 AND status IN (`+placeholders(5, len(allowed))+`)
RETURNING `+jobColumns, args...)

	job, err := scanJob(row)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update job: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM processing_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrJobNotFound, "update job", fmt.Errorf("id=%s", id))
	}
	return nil, domain.WrapError(domain.ErrInvalidTransition, "update job", fmt.Errorf("id=%s target=%s", id, status))
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM processing_jobs
WHERE id = $1
`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]domain.ProcessingJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
SELECT ` + jobColumns + `
FROM processing_jobs
`
	args := make([]any, 0, 2)
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		query += "WHERE created_by = $1\n"
	}
	args = append(args, limit)
	query += fmt.Sprintf("ORDER BY created_at DESC\nLIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessingJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	var status string
	err := row.Scan(
		&job.ID,
		&job.FileName,
		&status,
		&job.ErrorMessage,
		&job.CreatedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.ProcessingJob{}, err
	}
	job.Status = domain.JobStatus(status)
	return job, nil
}
