package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/document-intake/internal/core/domain"
	"github.com/kirillkom/document-intake/internal/core/ports"
)

const defaultJobListLimit = 100

type JobQueryService struct {
	jobs ports.JobStore
}

func NewJobQueryService(jobs ports.JobStore) *JobQueryService {
	return &JobQueryService{jobs: jobs}
}

// Get hides jobs of other users behind ErrJobNotFound unless user is an admin.
func (s *JobQueryService) Get(ctx context.Context, user domain.User, id string) (*domain.ProcessingJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	if !user.CanSee(job.CreatedBy) {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("job %s", id))
	}
	return job, nil
}

func (s *JobQueryService) List(ctx context.Context, user domain.User) ([]domain.ProcessingJob, error) {
	filter := domain.JobFilter{Limit: defaultJobListLimit}
	if !user.IsAdmin() {
		filter.CreatedBy = user.ID
	}
	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
