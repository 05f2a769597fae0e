package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gateline/gateline/internal/domain"
)

// TriggerService turns triggering revisions into pipeline runs. At most
// one run is active per (source, environment) pair; a revision arriving
// while that pair is busy is queued in trigger order, never run
// concurrently, so desired-state writes for an environment stay
// serialized.
type TriggerService struct {
	Runs     domain.RunRepository
	Pipeline domain.PipelineRunner
	Log      *logrus.Logger
	Now      func() time.Time

	mu     sync.Mutex
	active map[string]bool
	queued map[string][]domain.RunID
}

// Trigger creates a run for the revision and executes it, blocking until
// the run reaches a terminal state. If the (source, environment) pair
// already has an active run the new run is queued and returned in
// Pending state; it executes once the pair drains.
func (s *TriggerService) Trigger(ctx context.Context, source domain.Source, env domain.Environment, revision domain.Revision) (domain.PipelineRun, error) {
	if revision.CommitID == "" {
		return domain.PipelineRun{}, fmt.Errorf("%w: revision commit ID is required", domain.ErrInvalidArgument)
	}
	if env == "" {
		return domain.PipelineRun{}, fmt.Errorf("%w: environment is required", domain.ErrInvalidArgument)
	}

	run := domain.PipelineRun{
		ID:          domain.RunID(uuid.NewString()),
		Source:      source,
		Environment: env,
		Revision:    revision,
		Status:      domain.RunStatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.Runs.Create(ctx, run); err != nil {
		return domain.PipelineRun{}, err
	}

	key := string(source) + "/" + string(env)

	s.mu.Lock()
	if s.active == nil {
		s.active = make(map[string]bool)
		s.queued = make(map[string][]domain.RunID)
	}
	if s.active[key] {
		s.queued[key] = append(s.queued[key], run.ID)
		s.mu.Unlock()
		return run, nil
	}
	s.active[key] = true
	s.mu.Unlock()

	if err := s.execute(ctx, run.ID); err != nil {
		s.release(key)
		return domain.PipelineRun{}, fmt.Errorf("run pipeline: %w", err)
	}
	s.release(key)

	return s.Runs.Get(ctx, run.ID)
}

// execute starts the workflow and waits for it to complete.
func (s *TriggerService) execute(ctx context.Context, id domain.RunID) error {
	handle, err := s.Pipeline.Run(ctx, id)
	if err != nil {
		return fmt.Errorf("start pipeline workflow: %w", err)
	}
	_, err = handle.AwaitResult(ctx)
	return err
}

// release hands the pair to the next queued run, or marks it idle.
// Queued runs drain in the background; their outcome lives in the run
// repository, not in any caller's return value.
func (s *TriggerService) release(key string) {
	s.mu.Lock()
	queue := s.queued[key]
	if len(queue) == 0 {
		s.active[key] = false
		s.mu.Unlock()
		return
	}
	next := queue[0]
	s.queued[key] = queue[1:]
	s.mu.Unlock()

	go func() {
		if err := s.execute(context.Background(), next); err != nil && s.Log != nil {
			s.Log.WithFields(logrus.Fields{"run": next, "pair": key}).
				WithError(err).Error("queued pipeline run failed to execute")
		}
		s.release(key)
	}()
}

func (s *TriggerService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
