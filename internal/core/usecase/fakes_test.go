package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
	"github.com/kirillkom/document-intake/internal/core/registry"
)

type jobStoreFake struct {
	mu        sync.Mutex
	jobs      map[string]*domain.ProcessingJob
	history   map[string][]domain.JobStatus
	createErr error
}

func newJobStoreFake() *jobStoreFake {
	return &jobStoreFake{
		jobs:    make(map[string]*domain.ProcessingJob),
		history: make(map[string][]domain.JobStatus),
	}
}

func (f *jobStoreFake) Create(_ context.Context, job *domain.ProcessingJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyJob := *job
	f.jobs[job.ID] = &copyJob
	f.history[job.ID] = []domain.JobStatus{job.Status}
	return nil
}

func (f *jobStoreFake) Update(_ context.Context, id string, status domain.JobStatus, errMessage *string) (*domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return nil, domain.ErrInvalidTransition
	}
	job.Status = status
	job.ErrorMessage = errMessage
	f.history[id] = append(f.history[id], status)
	copyJob := *job
	return &copyJob, nil
}

func (f *jobStoreFake) GetByID(_ context.Context, id string) (*domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copyJob := *job
	return &copyJob, nil
}

func (f *jobStoreFake) List(_ context.Context, filter domain.JobFilter) ([]domain.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ProcessingJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		if filter.CreatedBy != "" && job.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

func (f *jobStoreFake) only(t *testing.T) *domain.ProcessingJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(f.jobs))
	}
	for _, job := range f.jobs {
		return job
	}
	return nil
}

type storageFake struct {
	dir     string
	saved   []string
	removed []string
	saveErr error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	path := filepath.Join(f.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	f.saved = append(f.saved, key)
	return path, nil
}

func (f *storageFake) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	err := os.Remove(filepath.Join(f.dir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type usersFake struct {
	users map[string]domain.User
}

func (f *usersFake) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

type eventsFake struct {
	events []domain.JobFinishedEvent
}

func (f *eventsFake) PublishJobFinished(_ context.Context, event domain.JobFinishedEvent) error {
	f.events = append(f.events, event)
	return nil
}

// runnerFake runs tasks inline so tests observe their effects synchronously.
type runnerFake struct {
	err      error
	names    []string
	taskErrs []error
}

func (f *runnerFake) Go(name string, task func(context.Context) error) error {
	if f.err != nil {
		return f.err
	}
	f.names = append(f.names, name)
	f.taskErrs = append(f.taskErrs, task(context.Background()))
	return nil
}

type parserFake struct {
	text     string
	err      error
	path     string
	language string
	// existed records whether the bound file was present while parsing.
	existed bool
	calls   *int
}

func (f *parserFake) Parse(context.Context) (string, error) {
	if f.calls != nil {
		*f.calls++
	}
	_, statErr := os.Stat(f.path)
	f.existed = statErr == nil
	return f.text, f.err
}

type classifierFake struct {
	docType domain.DocumentType
	err     error
}

func (f classifierFake) Classify(context.Context, string) (domain.DocumentType, error) {
	return f.docType, f.err
}

type extractorFake struct {
	newRecord func() domain.Record
	err       error
	calls     *int
}

func (f extractorFake) Extract(context.Context, string) (domain.Record, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.newRecord(), nil
}

type recordStoreFake[T domain.Record] struct {
	mu        sync.Mutex
	records   map[string]T
	order     []string
	createErr error
	statuses  map[string]domain.RecordStatus
}

func newRecordStoreFake[T domain.Record]() *recordStoreFake[T] {
	return &recordStoreFake[T]{records: make(map[string]T), statuses: make(map[string]domain.RecordStatus)}
}

func (f *recordStoreFake[T]) Create(_ context.Context, record T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.records[record.RecordID()] = record
	f.order = append(f.order, record.RecordID())
	return nil
}

func (f *recordStoreFake[T]) GetByID(_ context.Context, id string) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		var zero T
		return zero, domain.ErrRecordNotFound
	}
	return record, nil
}

func (f *recordStoreFake[T]) List(_ context.Context, query domain.RecordQuery) ([]T, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var visible []T
	for _, id := range f.order {
		record := f.records[id]
		if query.Owner.CanSee(record.Owner()) {
			visible = append(visible, record)
		}
	}
	start := (query.Page - 1) * query.PerPage
	if start >= len(visible) {
		return nil, len(visible), nil
	}
	end := min(start+query.PerPage, len(visible))
	return visible[start:end], len(visible), nil
}

func (f *recordStoreFake[T]) UpdateStatus(_ context.Context, id string, status domain.RecordStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return domain.ErrRecordNotFound
	}
	f.statuses[id] = status
	return nil
}

func (f *recordStoreFake[T]) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	return nil
}

func (f *recordStoreFake[T]) CountByStatus(context.Context, domain.User) (domain.StatusCounts, error) {
	return domain.StatusCounts{"total": len(f.records)}, nil
}

type exporterFake[T domain.Record] struct {
	exported []T
}

func (f *exporterFake[T]) Export(_ context.Context, records []T) ([]byte, error) {
	f.exported = records
	return []byte("xlsx"), nil
}

type providerCalls struct {
	parse   int
	extract int
}

type testEnv struct {
	service *IngestService
	jobs    *jobStoreFake
	storage *storageFake
	events  *eventsFake
	runner  *runnerFake
	orders  *recordStoreFake[*domain.Order]
	parser  *parserFake
	calls   *providerCalls
}

type envOptions struct {
	parseErr   error
	classified domain.DocumentType
	extractErr error
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.classified == "" {
		opts.classified = domain.DocumentOrder
	}
	env := &testEnv{
		jobs:    newJobStoreFake(),
		storage: &storageFake{dir: t.TempDir()},
		events:  &eventsFake{},
		runner:  &runnerFake{},
		orders:  newRecordStoreFake[*domain.Order](),
		calls:   &providerCalls{},
	}

	orders := NewRecordService[*domain.Order](env.orders, nil)
	reg, err := registry.NewBuilder().
		Parser("llamaparse", func(path, lang string) (ports.DocumentParser, error) {
			env.parser = &parserFake{text: "parsed", err: opts.parseErr, path: path, language: lang, calls: &env.calls.parse}
			return env.parser, nil
		}).
		Classifier("openai", func() ports.DocumentClassifier {
			return classifierFake{docType: opts.classified}
		}).
		Extractor("openai", domain.DocumentOrder, func() ports.RecordExtractor {
			return extractorFake{
				newRecord: func() domain.Record {
					return &domain.Order{TotalExclVAT: 150, Lines: []domain.OrderLine{{Subtotal: 100}, {Subtotal: 50}}}
				},
				err:   opts.extractErr,
				calls: &env.calls.extract,
			}
		}).
		Persister(domain.DocumentOrder, orders).
		Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	env.service = NewIngestService(
		reg,
		env.jobs,
		&usersFake{users: map[string]domain.User{"buyer@example.com": {ID: "u1", Email: "buyer@example.com"}}},
		env.storage,
		env.events,
		env.runner,
		nil,
		nil,
		IngestConfig{DefaultParser: "llamaparse", DefaultModel: "openai", TempDir: t.TempDir()},
	)
	return env
}

func assertNoFiles(t *testing.T, dir string) {
	t.Helper()
	var leftovers []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	if len(leftovers) > 0 {
		t.Fatalf("expected no files left in %s, got %v", dir, leftovers)
	}
}
