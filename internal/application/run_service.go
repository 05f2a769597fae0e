package application

import (
	"context"

	"github.com/gateline/gateline/internal/domain"
)

// RunService answers queries about pipeline runs and their ordered
// stage results.
type RunService struct {
	Runs domain.RunRepository
}

func (s *RunService) Get(ctx context.Context, id domain.RunID) (domain.PipelineRun, error) {
	return s.Runs.Get(ctx, id)
}

func (s *RunService) List(ctx context.Context) ([]domain.PipelineRun, error) {
	return s.Runs.List(ctx)
}
