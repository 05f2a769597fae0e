package domain

import (
	"context"
	"time"
)

// GateEvaluator renders a quality-gate verdict for a revision. Two
// evaluations of the same immutable input render the same verdict.
// Backend unreachability surfaces as ErrAnalysisUnavailable, never as a
// failed verdict.
type GateEvaluator interface {
	Evaluate(ctx context.Context, revision Revision, ruleset GateRuleset) (QualityGateVerdict, error)
}

// ArtifactBuilder turns a source revision into an immutable,
// content-addressed artifact. ErrBuildFailure is terminal.
type ArtifactBuilder interface {
	Build(ctx context.Context, revision Revision) (Artifact, error)
}

// ArtifactPublisher pushes an artifact to a registry. Publishing an
// already-published digest is a no-op returning the existing reference.
type ArtifactPublisher interface {
	Publish(ctx context.Context, artifact Artifact) (PublishedReference, error)
}

// DesiredStateUpdater rewrites the GitOps source of truth for an
// environment and records the change through the desired-state store's
// compare-and-swap. A lost race fails with ErrConcurrentUpdate.
type DesiredStateUpdater interface {
	UpdateDesiredState(ctx context.Context, env Environment, ref PublishedReference) (DesiredStateChange, error)
}

// SyncVerifier polls the live environment until the observed reference
// matches expected and the health probe is green, or timeout elapses.
// Fails with ErrSyncTimeout or ErrSyncUnhealthy.
type SyncVerifier interface {
	Verify(ctx context.Context, env Environment, expected PublishedReference, timeout time.Duration) error
}

// Notifier delivers a pipeline event to an external channel with
// at-least-once semantics and bounded retries. Exhausted retries are
// logged and dropped; Notify errors never fail a run.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}
