package domain

import "context"

// RunRepository persists pipeline runs and their ordered stage results.
// Each stage result is persisted before the next stage is invoked so a
// crash mid-run can be inspected or resumed after restart.
type RunRepository interface {
	Create(ctx context.Context, run PipelineRun) error
	Get(ctx context.Context, id RunID) (PipelineRun, error)
	List(ctx context.Context) ([]PipelineRun, error)

	// Update persists the run's mutable fields (current stage, status,
	// completion timestamp). Stage results are appended separately.
	Update(ctx context.Context, run PipelineRun) error

	// AppendStage appends one stage result to the run's ordered history.
	AppendStage(ctx context.Context, id RunID, result StageResult) error
}

// DesiredStateStore owns the per-environment current desired-state
// pointer, the single contended resource between runs.
type DesiredStateStore interface {
	// Current returns the current pointer for the environment, or
	// ErrNotFound if nothing was ever deployed there.
	Current(ctx context.Context, env Environment) (DesiredStateChange, error)

	// Swap installs change as the new current pointer. change.Version
	// must be the version the caller observed via Current (zero for the
	// first deployment); a stale version fails with ErrConcurrentUpdate.
	Swap(ctx context.Context, change DesiredStateChange) (DesiredStateChange, error)
}
