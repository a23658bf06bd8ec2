package httpadapter

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/document-intake/internal/config"
	"github.com/kirillkom/document-intake/internal/core/domain"
)

const testSecret = "test-secret"

type fakeGenerator struct {
	got    *domain.GenerateRequest
	body   string
	record domain.Record
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, req domain.GenerateRequest) (domain.Record, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.body = string(raw)
	req.Body = nil
	f.got = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

type fakeUploader struct {
	user     domain.User
	fileName string
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, user domain.User, fileName string, body io.Reader) (*domain.ProcessingJob, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, err
	}
	f.user = user
	f.fileName = fileName
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ProcessingJob{ID: "J1", FileName: fileName, Status: domain.JobPending, CreatedBy: user.ID}, nil
}

type fakeEmailIngestor struct {
	got       *domain.InboundEmail
	fileNames []string
	records   []domain.Record
	err       error
}

func (f *fakeEmailIngestor) IngestEmail(_ context.Context, email domain.InboundEmail) ([]domain.Record, error) {
	for _, a := range email.Attachments {
		if _, err := io.Copy(io.Discard, a.Body); err != nil {
			return nil, err
		}
		f.fileNames = append(f.fileNames, a.FileName)
	}
	email.Attachments = nil
	f.got = &email
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeJobReader struct {
	jobs []domain.ProcessingJob
}

func (f *fakeJobReader) Get(_ context.Context, user domain.User, id string) (*domain.ProcessingJob, error) {
	for i := range f.jobs {
		if f.jobs[i].ID == id && user.CanSee(f.jobs[i].CreatedBy) {
			return &f.jobs[i], nil
		}
	}
	return nil, domain.WrapError(domain.ErrJobNotFound, "get job", io.EOF)
}

func (f *fakeJobReader) List(_ context.Context, user domain.User) ([]domain.ProcessingJob, error) {
	out := []domain.ProcessingJob{}
	for _, job := range f.jobs {
		if user.CanSee(job.CreatedBy) {
			out = append(out, job)
		}
	}
	return out, nil
}

type fakeRecords[T domain.Record] struct {
	items       map[string]T
	lastQuery   domain.RecordQuery
	lastStatus  domain.RecordStatus
	deleted     []string
	counts      domain.StatusCounts
	exportBytes []byte
	err         error
}

func newFakeRecords[T domain.Record](items ...T) *fakeRecords[T] {
	f := &fakeRecords[T]{items: map[string]T{}}
	for _, item := range items {
		f.items[item.RecordID()] = item
	}
	return f
}

func (f *fakeRecords[T]) lookup(user domain.User, id string) (T, error) {
	item, ok := f.items[id]
	if !ok || !user.CanSee(item.Owner()) {
		var zero T
		return zero, domain.WrapError(domain.ErrRecordNotFound, "get record", io.EOF)
	}
	return item, nil
}

func (f *fakeRecords[T]) Get(_ context.Context, user domain.User, id string) (T, error) {
	return f.lookup(user, id)
}

func (f *fakeRecords[T]) List(_ context.Context, query domain.RecordQuery) (domain.Page[T], error) {
	f.lastQuery = query
	if f.err != nil {
		return domain.Page[T]{}, f.err
	}
	var items []T
	for _, item := range f.items {
		if query.Owner.CanSee(item.Owner()) {
			items = append(items, item)
		}
	}
	return domain.NewPage(items, len(items), query.Page, query.PerPage), nil
}

func (f *fakeRecords[T]) UpdateStatus(_ context.Context, user domain.User, id string, status domain.RecordStatus) (T, error) {
	item, err := f.lookup(user, id)
	if err != nil {
		return item, err
	}
	f.lastStatus = status
	return item, nil
}

func (f *fakeRecords[T]) Delete(_ context.Context, user domain.User, id string) error {
	if _, err := f.lookup(user, id); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRecords[T]) Counts(_ context.Context, _ domain.User) (domain.StatusCounts, error) {
	return f.counts, nil
}

func (f *fakeRecords[T]) Export(_ context.Context, query domain.RecordQuery) ([]byte, error) {
	f.lastQuery = query
	return f.exportBytes, nil
}

func testServices() Services {
	return Services{
		Generator: &fakeGenerator{record: &domain.Order{InvoiceNumber: "INV-1"}},
		Uploader:  &fakeUploader{},
		Email:     &fakeEmailIngestor{},
		Jobs:      &fakeJobReader{},
		Orders:    newFakeRecords[*domain.Order](),
		Invoices:  newFakeRecords[*domain.Invoice](),
	}
}

func newTestHandler(cfg config.Config, services Services) http.Handler {
	return NewRouter(cfg, services).Handler()
}

func signToken(t *testing.T, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authorized(t *testing.T, req *http.Request, subject, role string) *http.Request {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+signToken(t, subject, role))
	return req
}
