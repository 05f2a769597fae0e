package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PipelineWorkflow drives one run through the ordered stage sequence
// Gate -> Build -> Publish -> UpdateDesiredState -> VerifySync. Every
// step with a side effect runs as an activity so the workflow body stays
// deterministic and replays cleanly on a durable engine. Each stage
// result is persisted before the next stage is invoked.
type PipelineWorkflow struct {
	Runs      RunRepository
	Gate      GateEvaluator
	Builder   ArtifactBuilder
	Publisher ArtifactPublisher
	Updater   DesiredStateUpdater
	Verifier  SyncVerifier
	Notifier  Notifier
	Rulesets  RulesetProvider
	Retry     RetryPolicy
	Timeouts  StageTimeouts
	Now       func() time.Time
}

// Name is the stable workflow registration name.
func (wf *PipelineWorkflow) Name() string { return "release-pipeline" }

func (wf *PipelineWorkflow) now() time.Time {
	if wf.Now != nil {
		return wf.Now()
	}
	return time.Now().UTC()
}

// Activity inputs and outcomes. Outcomes carry stage failures as data,
// not Go errors, so the workflow can branch on them deterministically
// after a replay; an activity error means infrastructure trouble, not a
// failed stage.

type StartRunInput struct {
	RunID RunID
}

type GateInput struct {
	Revision    Revision
	Environment Environment
}

type GateOutcome struct {
	Verdict    QualityGateVerdict
	Attempts   int
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type BuildInput struct {
	Revision Revision
}

type BuildOutcome struct {
	Artifact   Artifact
	Attempts   int
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type PublishInput struct {
	Artifact Artifact
}

type PublishOutcome struct {
	Reference  PublishedReference
	Attempts   int
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type UpdateInput struct {
	Environment Environment
	Reference   PublishedReference
}

type UpdateOutcome struct {
	Change     DesiredStateChange
	Attempts   int
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type VerifyInput struct {
	Environment Environment
	Expected    PublishedReference
}

type VerifyOutcome struct {
	Attempts   int
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type RevertInput struct {
	Environment Environment
	Change      DesiredStateChange
}

type RevertOutcome struct {
	Change     DesiredStateChange
	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type RecordStageInput struct {
	RunID  RunID
	Result StageResult
}

type CompleteRunInput struct {
	RunID  RunID
	Status RunStatus
}

// StartRun marks the run Running and returns its persisted state.
func (wf *PipelineWorkflow) StartRun() Activity[StartRunInput, PipelineRun] {
	return NewActivity("start-run", func(ctx context.Context, in StartRunInput) (PipelineRun, error) {
		run, err := wf.Runs.Get(ctx, in.RunID)
		if err != nil {
			return PipelineRun{}, err
		}
		run.Status = RunStatusRunning
		if err := wf.Runs.Update(ctx, run); err != nil {
			return PipelineRun{}, err
		}
		return run, nil
	})
}

// EvaluateGate runs static analysis against the revision and renders a
// verdict. Backend unavailability is retried; it is never conflated
// with a failed verdict.
func (wf *PipelineWorkflow) EvaluateGate() Activity[GateInput, GateOutcome] {
	return NewActivity("evaluate-gate", func(ctx context.Context, in GateInput) (GateOutcome, error) {
		out := GateOutcome{StartedAt: wf.now()}
		ruleset := wf.Rulesets.ForEnvironment(in.Environment)

		var verdict QualityGateVerdict
		attempts, err := wf.Retry.Do(ctx, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, wf.Timeouts.For(StageGate))
			defer cancel()
			v, evalErr := wf.Gate.Evaluate(ctx, in.Revision, ruleset)
			if evalErr != nil {
				return evalErr
			}
			verdict = v
			return nil
		})
		out.Attempts = attempts
		out.FinishedAt = wf.now()
		if err != nil {
			out.Failure = err.Error()
			return out, nil
		}
		out.Verdict = verdict
		return out, nil
	})
}

// BuildArtifact produces the content-addressed artifact for a revision.
func (wf *PipelineWorkflow) BuildArtifact() Activity[BuildInput, BuildOutcome] {
	return NewActivity("build-artifact", func(ctx context.Context, in BuildInput) (BuildOutcome, error) {
		out := BuildOutcome{StartedAt: wf.now()}

		var artifact Artifact
		attempts, err := wf.Retry.Do(ctx, func(ctx context.Context) error {
			a, buildErr := wf.Builder.Build(ctx, in.Revision)
			if buildErr != nil {
				return buildErr
			}
			artifact = a
			return nil
		})
		out.Attempts = attempts
		out.FinishedAt = wf.now()
		if err != nil {
			out.Failure = err.Error()
			return out, nil
		}
		out.Artifact = artifact
		return out, nil
	})
}

// PublishArtifact pushes the artifact to the registry. Publishing an
// already-published digest returns the existing reference.
func (wf *PipelineWorkflow) PublishArtifact() Activity[PublishInput, PublishOutcome] {
	return NewActivity("publish-artifact", func(ctx context.Context, in PublishInput) (PublishOutcome, error) {
		out := PublishOutcome{StartedAt: wf.now()}

		var ref PublishedReference
		attempts, err := wf.Retry.Do(ctx, func(ctx context.Context) error {
			r, pubErr := wf.Publisher.Publish(ctx, in.Artifact)
			if pubErr != nil {
				return pubErr
			}
			ref = r
			return nil
		})
		out.Attempts = attempts
		out.FinishedAt = wf.now()
		if err != nil {
			out.Failure = err.Error()
			return out, nil
		}
		out.Reference = ref
		return out, nil
	})
}

// UpdateDesiredState rewrites the GitOps source of truth. A lost
// compare-and-swap is transient: the updater re-reads current state and
// reapplies on the next attempt.
func (wf *PipelineWorkflow) UpdateDesiredState() Activity[UpdateInput, UpdateOutcome] {
	return NewActivity("update-desired-state", func(ctx context.Context, in UpdateInput) (UpdateOutcome, error) {
		out := UpdateOutcome{StartedAt: wf.now()}

		var change DesiredStateChange
		attempts, err := wf.Retry.Do(ctx, func(ctx context.Context) error {
			c, updErr := wf.Updater.UpdateDesiredState(ctx, in.Environment, in.Reference)
			if updErr != nil {
				return updErr
			}
			change = c
			return nil
		})
		out.Attempts = attempts
		out.FinishedAt = wf.now()
		if err != nil {
			out.Failure = err.Error()
			return out, nil
		}
		out.Change = change
		return out, nil
	})
}

// VerifySync polls the environment until it runs the expected reference
// and reports healthy, retrying timeouts and failed probes up to the
// bounded policy.
func (wf *PipelineWorkflow) VerifySync() Activity[VerifyInput, VerifyOutcome] {
	return NewActivity("verify-sync", func(ctx context.Context, in VerifyInput) (VerifyOutcome, error) {
		out := VerifyOutcome{StartedAt: wf.now()}

		attempts, err := wf.Retry.Do(ctx, func(ctx context.Context) error {
			return wf.Verifier.Verify(ctx, in.Environment, in.Expected, wf.Timeouts.For(StageVerify))
		})
		out.Attempts = attempts
		out.FinishedAt = wf.now()
		if err != nil {
			out.Failure = err.Error()
		}
		return out, nil
	})
}

// RevertDesiredState restores the previous reference after a failed
// deployment. A revert with no previous reference cannot succeed.
func (wf *PipelineWorkflow) RevertDesiredState() Activity[RevertInput, RevertOutcome] {
	return NewActivity("revert-desired-state", func(ctx context.Context, in RevertInput) (RevertOutcome, error) {
		out := RevertOutcome{StartedAt: wf.now()}
		if in.Change.PreviousRef == "" {
			out.FinishedAt = wf.now()
			out.Failure = fmt.Sprintf("%s: no previous reference for %s", ErrRollbackFailed, in.Environment)
			return out, nil
		}

		var change DesiredStateChange
		_, err := wf.Retry.Do(ctx, func(ctx context.Context) error {
			c, updErr := wf.Updater.UpdateDesiredState(ctx, in.Environment, in.Change.PreviousRef)
			if updErr != nil {
				return updErr
			}
			change = c
			return nil
		})
		out.FinishedAt = wf.now()
		if err != nil {
			out.Failure = fmt.Sprintf("%s: %s", ErrRollbackFailed, err)
			return out, nil
		}
		out.Change = change
		return out, nil
	})
}

// RecordStage appends a stage result and advances the run's current
// stage. Safe to re-run: appending the same stage twice overwrites the
// earlier row rather than duplicating it.
func (wf *PipelineWorkflow) RecordStage() Activity[RecordStageInput, struct{}] {
	return NewActivity("record-stage", func(ctx context.Context, in RecordStageInput) (struct{}, error) {
		if err := wf.Runs.AppendStage(ctx, in.RunID, in.Result); err != nil {
			return struct{}{}, err
		}
		run, err := wf.Runs.Get(ctx, in.RunID)
		if err != nil {
			return struct{}{}, err
		}
		run.Stage = in.Result.Stage
		return struct{}{}, wf.Runs.Update(ctx, run)
	})
}

// CompleteRun records the terminal status and completion time.
func (wf *PipelineWorkflow) CompleteRun() Activity[CompleteRunInput, struct{}] {
	return NewActivity("complete-run", func(ctx context.Context, in CompleteRunInput) (struct{}, error) {
		run, err := wf.Runs.Get(ctx, in.RunID)
		if err != nil {
			return struct{}{}, err
		}
		run.Status = in.Status
		now := wf.now()
		run.CompletedAt = &now
		return struct{}{}, wf.Runs.Update(ctx, run)
	})
}

// Notify delivers a pipeline event. Best-effort: the notifier owns its
// retry budget and logs drops, so a delivery failure never surfaces
// here and never fails the run.
func (wf *PipelineWorkflow) Notify() Activity[NotificationEvent, struct{}] {
	return NewActivity("notify", func(ctx context.Context, event NotificationEvent) (struct{}, error) {
		_ = wf.Notifier.Notify(ctx, event)
		return struct{}{}, nil
	})
}

// Run executes the pipeline for one run. It is the workflow body handed
// to the engine: all I/O happens in activities via runner.
func (wf *PipelineWorkflow) Run(runner DurableRunner, runID RunID) (struct{}, error) {
	run, err := RunActivity(runner, wf.StartRun(), StartRunInput{RunID: runID})
	if err != nil {
		return struct{}{}, err
	}

	// Gate
	gate, err := RunActivity(runner, wf.EvaluateGate(), GateInput{
		Revision:    run.Revision,
		Environment: run.Environment,
	})
	if err != nil {
		return wf.abort(runner, run, StageGate, err)
	}
	res := newStageResult(StageGate, gate.Attempts, gate.StartedAt, gate.FinishedAt)
	if gate.Failure != "" {
		res.Status = StageStatusFailed
		res.Error = gate.Failure
		return wf.failRun(runner, run, res)
	}
	res.Detail = mustDetail(gate.Verdict)
	if !gate.Verdict.Passed {
		// A failed gate skips all remaining stages: no later stage
		// results exist for this run.
		res.Status = StageStatusFailed
		res.Error = "quality gate failed: " + strings.Join(gate.Verdict.Violations, "; ")
		return wf.failRun(runner, run, res)
	}
	res.Status = StageStatusPassed
	if err := wf.record(runner, run.ID, res); err != nil {
		return struct{}{}, err
	}

	// Build
	build, err := RunActivity(runner, wf.BuildArtifact(), BuildInput{Revision: run.Revision})
	if err != nil {
		return wf.abort(runner, run, StageBuild, err)
	}
	res = newStageResult(StageBuild, build.Attempts, build.StartedAt, build.FinishedAt)
	if build.Failure != "" {
		res.Status = StageStatusFailed
		res.Error = build.Failure
		return wf.failRun(runner, run, res)
	}
	res.Status = StageStatusPassed
	res.Detail = mustDetail(build.Artifact)
	if err := wf.record(runner, run.ID, res); err != nil {
		return struct{}{}, err
	}

	// Publish
	publish, err := RunActivity(runner, wf.PublishArtifact(), PublishInput{Artifact: build.Artifact})
	if err != nil {
		return wf.abort(runner, run, StagePublish, err)
	}
	res = newStageResult(StagePublish, publish.Attempts, publish.StartedAt, publish.FinishedAt)
	if publish.Failure != "" {
		res.Status = StageStatusFailed
		res.Error = publish.Failure
		return wf.failRun(runner, run, res)
	}
	res.Status = StageStatusPassed
	res.Detail = mustDetail(struct {
		Reference PublishedReference
	}{publish.Reference})
	if err := wf.record(runner, run.ID, res); err != nil {
		return struct{}{}, err
	}

	// Update desired state
	update, err := RunActivity(runner, wf.UpdateDesiredState(), UpdateInput{
		Environment: run.Environment,
		Reference:   publish.Reference,
	})
	if err != nil {
		return wf.abort(runner, run, StageUpdate, err)
	}
	res = newStageResult(StageUpdate, update.Attempts, update.StartedAt, update.FinishedAt)
	if update.Failure != "" {
		res.Status = StageStatusFailed
		res.Error = update.Failure
		return wf.failRun(runner, run, res)
	}
	res.Status = StageStatusPassed
	res.Detail = mustDetail(update.Change)
	if err := wf.record(runner, run.ID, res); err != nil {
		return struct{}{}, err
	}

	// Verify sync
	verify, err := RunActivity(runner, wf.VerifySync(), VerifyInput{
		Environment: run.Environment,
		Expected:    update.Change.NewRef,
	})
	if err != nil {
		return wf.abort(runner, run, StageVerify, err)
	}
	res = newStageResult(StageVerify, verify.Attempts, verify.StartedAt, verify.FinishedAt)
	if verify.Failure != "" {
		res.Status = StageStatusFailed
		res.Error = verify.Failure
		if err := wf.record(runner, run.ID, res); err != nil {
			return struct{}{}, err
		}
		wf.notifyStageFailure(runner, run, res)
		return wf.rollback(runner, run, update.Change, verify.Failure)
	}
	res.Status = StageStatusPassed
	if err := wf.record(runner, run.ID, res); err != nil {
		return struct{}{}, err
	}

	return wf.complete(runner, run, StageVerify, RunStatusSucceeded, SeverityInfo,
		fmt.Sprintf("revision %s deployed to %s as %s", run.Revision.CommitID, run.Environment, update.Change.NewRef))
}

// rollback reverts the environment to the reference that was current
// before this run. The run ends RolledBack on success; a failed revert
// ends Failed with the highest-severity notification.
func (wf *PipelineWorkflow) rollback(runner DurableRunner, run PipelineRun, change DesiredStateChange, cause string) (struct{}, error) {
	revert, err := RunActivity(runner, wf.RevertDesiredState(), RevertInput{
		Environment: run.Environment,
		Change:      change,
	})
	if err != nil {
		return struct{}{}, err
	}
	if revert.Failure != "" {
		return wf.complete(runner, run, StageVerify, RunStatusFailed, SeverityCritical,
			fmt.Sprintf("deployment of %s to %s failed (%s) and rollback failed: %s; external intervention required",
				run.Revision.CommitID, run.Environment, cause, revert.Failure))
	}
	return wf.complete(runner, run, StageVerify, RunStatusRolledBack, SeverityWarning,
		fmt.Sprintf("deployment of %s to %s failed (%s); reverted to %s",
			run.Revision.CommitID, run.Environment, cause, revert.Change.NewRef))
}

// failRun records the failed stage result and ends the run Failed.
func (wf *PipelineWorkflow) failRun(runner DurableRunner, run PipelineRun, res StageResult) (struct{}, error) {
	if err := wf.record(runner, run.ID, res); err != nil {
		return struct{}{}, err
	}
	wf.notifyStageFailure(runner, run, res)
	return wf.complete(runner, run, res.Stage, RunStatusFailed, SeverityWarning,
		fmt.Sprintf("run for %s failed at stage %s: %s", run.Revision.CommitID, res.Stage, res.Error))
}

// abort handles an activity-level error (engine trouble or caller
// cancellation): the interrupted stage is recorded Skipped, never
// Failed, because no verdict about the stage itself exists.
func (wf *PipelineWorkflow) abort(runner DurableRunner, run PipelineRun, stage Stage, cause error) (struct{}, error) {
	res := StageResult{
		Stage:      stage,
		Status:     StageStatusSkipped,
		Error:      cause.Error(),
		StartedAt:  wf.now(),
		FinishedAt: wf.now(),
	}
	if err := wf.record(runner, run.ID, res); err != nil {
		return struct{}{}, err
	}
	return wf.complete(runner, run, stage, RunStatusFailed, SeverityWarning,
		fmt.Sprintf("run for %s aborted at stage %s: %s", run.Revision.CommitID, stage, cause))
}

func (wf *PipelineWorkflow) record(runner DurableRunner, id RunID, res StageResult) error {
	_, err := RunActivity(runner, wf.RecordStage(), RecordStageInput{RunID: id, Result: res})
	return err
}

// complete records the terminal status and emits the single terminal
// notification for the run.
func (wf *PipelineWorkflow) complete(runner DurableRunner, run PipelineRun, stage Stage, status RunStatus, severity Severity, summary string) (struct{}, error) {
	if _, err := RunActivity(runner, wf.CompleteRun(), CompleteRunInput{RunID: run.ID, Status: status}); err != nil {
		return struct{}{}, err
	}
	_, err := RunActivity(runner, wf.Notify(), NotificationEvent{
		RunID:       run.ID,
		Environment: run.Environment,
		Stage:       stage,
		Status:      status,
		Severity:    severity,
		Summary:     summary,
	})
	return struct{}{}, err
}

func (wf *PipelineWorkflow) notifyStageFailure(runner DurableRunner, run PipelineRun, res StageResult) {
	_, _ = RunActivity(runner, wf.Notify(), NotificationEvent{
		RunID:       run.ID,
		Environment: run.Environment,
		Stage:       res.Stage,
		Status:      RunStatusRunning,
		Severity:    SeverityWarning,
		Summary:     fmt.Sprintf("stage %s failed after %d attempts: %s", res.Stage, res.Attempts, res.Error),
	})
}

func newStageResult(stage Stage, attempts int, started, finished time.Time) StageResult {
	return StageResult{
		Stage:     stage,
		Attempts:  attempts,
		StartedAt: started, FinishedAt: finished,
	}
}

func mustDetail(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
