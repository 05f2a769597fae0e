package domain

import (
	"encoding/json"
	"time"
)

// RunID uniquely identifies a pipeline run.
type RunID string

// Source identifies the code repository a run was triggered from.
type Source string

// Environment identifies a deployment target environment.
type Environment string

// Revision identifies a unit of source change. Immutable once created.
type Revision struct {
	CommitID  string
	Branch    string
	Author    string
	Timestamp time.Time
}

// Stage names the ordered steps of the pipeline.
type Stage string

const (
	StageGate    Stage = "gate"
	StageBuild   Stage = "build"
	StagePublish Stage = "publish"
	StageUpdate  Stage = "update-desired-state"
	StageVerify  Stage = "verify-sync"
)

// Stages is the mandatory stage sequence. A later stage never runs
// unless every prior stage passed.
var Stages = []Stage{StageGate, StageBuild, StagePublish, StageUpdate, StageVerify}

// RunStatus is the overall status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"

	// RunStatusRolledBack distinguishes "deployed then reverted" from
	// "never deployed" (failed).
	RunStatusRolledBack RunStatus = "rolled-back"
)

// Terminal reports whether the status is a terminal run state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusRolledBack
}

// StageStatus is the status of a single stage within a run.
type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusPassed  StageStatus = "passed"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// StageResult is the outcome of one stage within a run. Results are
// append-only and strictly ordered by stage sequence.
type StageResult struct {
	Stage      Stage
	Status     StageStatus
	Detail     json.RawMessage
	Error      string
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// PipelineRun is one execution instance triggered by a revision.
// Mutated only by the pipeline workflow.
type PipelineRun struct {
	ID          RunID
	Source      Source
	Environment Environment
	Revision    Revision
	Stage       Stage
	Status      RunStatus
	Stages      []StageResult
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// StageResultFor returns the recorded result for the given stage, if any.
func (r *PipelineRun) StageResultFor(stage Stage) (StageResult, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == stage {
			return sr, true
		}
	}
	return StageResult{}, false
}
