package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
	"github.com/kirillkom/document-intake/internal/core/validation"
)

const exportPageSize = 100

// RecordService manages one record kind on behalf of authenticated users and
// doubles as the create function registered for that kind.
type RecordService[T domain.Record] struct {
	store    ports.RecordStore[T]
	exporter ports.RecordExporter[T]
	now      func() time.Time
}

func NewRecordService[T domain.Record](store ports.RecordStore[T], exporter ports.RecordExporter[T]) *RecordService[T] {
	return &RecordService[T]{
		store:    store,
		exporter: exporter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Persist assigns an id and the review status from the line-total rule, then
// stores the record.
func (s *RecordService[T]) Persist(ctx context.Context, record domain.Record, createdBy, fileName string) (domain.Record, error) {
	typed, ok := record.(T)
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "persist record", fmt.Errorf("unexpected record type %T", record))
	}
	id, err := domain.NewID(typed.DocumentType().IDPrefix())
	if err != nil {
		return nil, err
	}
	typed.Stamp(id, fileName, createdBy, validation.Validate(typed), s.now())
	if err := s.store.Create(ctx, typed); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return typed, nil
}

func (s *RecordService[T]) Get(ctx context.Context, user domain.User, id string) (T, error) {
	var zero T
	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return zero, err
		}
		return zero, fmt.Errorf("get record: %w", err)
	}
	if !user.CanSee(record.Owner()) {
		return zero, domain.WrapError(domain.ErrRecordNotFound, "get record", fmt.Errorf("record %s", id))
	}
	return record, nil
}

func (s *RecordService[T]) List(ctx context.Context, query domain.RecordQuery) (domain.Page[T], error) {
	query = query.Normalize()
	items, total, err := s.store.List(ctx, query)
	if err != nil {
		return domain.Page[T]{}, fmt.Errorf("list records: %w", err)
	}
	return domain.NewPage(items, total, query.Page, query.PerPage), nil
}

func (s *RecordService[T]) UpdateStatus(ctx context.Context, user domain.User, id string, status domain.RecordStatus) (T, error) {
	var zero T
	if !status.Valid() {
		return zero, domain.WrapError(domain.ErrInvalidInput, "update record status", fmt.Errorf("unknown status %q", status))
	}
	if _, err := s.Get(ctx, user, id); err != nil {
		return zero, err
	}
	if err := s.store.UpdateStatus(ctx, id, status); err != nil {
		return zero, fmt.Errorf("update record status: %w", err)
	}
	return s.Get(ctx, user, id)
}

func (s *RecordService[T]) Delete(ctx context.Context, user domain.User, id string) error {
	if _, err := s.Get(ctx, user, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

func (s *RecordService[T]) Counts(ctx context.Context, user domain.User) (domain.StatusCounts, error) {
	counts, err := s.store.CountByStatus(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	return counts, nil
}

// Export renders every record matching query, ignoring its paging.
func (s *RecordService[T]) Export(ctx context.Context, query domain.RecordQuery) ([]byte, error) {
	if s.exporter == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "export records", errors.New("export is not configured"))
	}
	query.PerPage = exportPageSize
	query.Page = 1
	query = query.Normalize()

	var all []T
	for {
		items, total, err := s.store.List(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("list records for export: %w", err)
		}
		all = append(all, items...)
		if len(items) == 0 || len(all) >= total {
			break
		}
		query.Page++
	}

	data, err := s.exporter.Export(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("export records: %w", err)
	}
	return data, nil
}
