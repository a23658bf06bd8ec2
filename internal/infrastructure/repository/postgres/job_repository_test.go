package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/document-intake/internal/core/domain"
)

var jobRowColumns = []string{"id", "file_name", "status", "error_message", "created_by", "created_at", "updated_at"}

func newJobRepoWithMock(t *testing.T) (*JobRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewJobRepository(db), mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(schemaLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryCreate(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	job, err := domain.NewJob("order.pdf", "u-1")
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}

	mock.ExpectExec("INSERT INTO processing_jobs").
		WithArgs(job.ID, "order.pdf", string(domain.JobPending), sqlmock.AnyArg(), "u-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryUpdateReturnsUpdatedRow(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(jobRowColumns).
		AddRow("job_1", "order.pdf", string(domain.JobProcessing), nil, "u-1", now, now)

	mock.ExpectQuery("UPDATE processing_jobs").
		WithArgs("job_1", string(domain.JobProcessing), sqlmock.AnyArg(), sqlmock.AnyArg(), string(domain.JobPending)).
		WillReturnRows(rows)

	job, err := repo.Update(context.Background(), "job_1", domain.JobProcessing, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if job.Status != domain.JobProcessing || job.ErrorMessage != nil {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryUpdateStoresErrorMessage(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	msg := "parse failed"
	rows := sqlmock.NewRows(jobRowColumns).
		AddRow("job_1", "order.pdf", string(domain.JobFailed), msg, "u-1", now, now)

	mock.ExpectQuery("UPDATE processing_jobs").
		WithArgs("job_1", string(domain.JobFailed), sqlmock.AnyArg(), sqlmock.AnyArg(), string(domain.JobProcessing)).
		WillReturnRows(rows)

	job, err := repo.Update(context.Background(), "job_1", domain.JobFailed, &msg)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if job.ErrorMessage == nil || *job.ErrorMessage != msg {
		t.Fatalf("expected error message %q, got %v", msg, job.ErrorMessage)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryUpdateMissingJob(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE processing_jobs").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.Update(context.Background(), "missing", domain.JobProcessing, nil)
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryUpdateRejectsSkippedTransition(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE processing_jobs").
		WithArgs("job_1", string(domain.JobSuccess), sqlmock.AnyArg(), sqlmock.AnyArg(), string(domain.JobProcessing)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("job_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.Update(context.Background(), "job_1", domain.JobSuccess, nil)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryUpdateToPendingNeverQueries(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	_, err := repo.Update(context.Background(), "job_1", domain.JobPending, nil)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM processing_jobs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryListFiltersByOwner(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(jobRowColumns).
		AddRow("job_2", "b.pdf", string(domain.JobSuccess), nil, "u-1", now, now).
		AddRow("job_1", "a.pdf", string(domain.JobPending), nil, "u-1", now.Add(-time.Minute), now)

	mock.ExpectQuery(`FROM processing_jobs\s+WHERE created_by = \$1\s+ORDER BY created_at DESC\s+LIMIT \$2`).
		WithArgs("u-1", 100).
		WillReturnRows(rows)

	jobs, err := repo.List(context.Background(), domain.JobFilter{CreatedBy: "u-1", Limit: 100})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job_2" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestJobRepositoryListAllForAdmin(t *testing.T) {
	repo, mock, done := newJobRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`FROM processing_jobs\s+ORDER BY created_at DESC\s+LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	jobs, err := repo.List(context.Background(), domain.JobFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUserRepositoryGetByEmailReturnsDomainNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM users").
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err = NewUserRepository(db).GetByEmail(context.Background(), " nobody@example.com ")
	if !domain.IsKind(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUserRepositoryGetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM users").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "role"}).AddRow("u-1", "alice@example.com", "user"))

	user, err := NewUserRepository(db).GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if user.ID != "u-1" || user.IsAdmin() {
		t.Fatalf("unexpected user: %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
