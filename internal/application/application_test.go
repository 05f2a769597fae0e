package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gateline/gateline/internal/application"
	"github.com/gateline/gateline/internal/domain"
	"github.com/gateline/gateline/internal/infrastructure/sqlite"
	"github.com/gateline/gateline/internal/infrastructure/syncworkflow"
)

// metricsGate renders verdicts from fixed analysis metrics, standing in
// for the analysis backend.
type metricsGate struct {
	metrics domain.GateMetrics
	err     error
}

func (g *metricsGate) Evaluate(_ context.Context, _ domain.Revision, ruleset domain.GateRuleset) (domain.QualityGateVerdict, error) {
	if g.err != nil {
		return domain.QualityGateVerdict{}, g.err
	}
	return domain.EvaluateThresholds(g.metrics, ruleset), nil
}

// digestBuilder derives a deterministic artifact from the commit ID.
// started, if set, is signalled once per build before blocking on
// proceed; tests use the pair to hold a run mid-flight.
type digestBuilder struct {
	started chan struct{}
	proceed chan struct{}
}

func (b *digestBuilder) Build(_ context.Context, rev domain.Revision) (domain.Artifact, error) {
	if b.started != nil {
		b.started <- struct{}{}
		<-b.proceed
	}
	return domain.Artifact{
		Digest:     "sha256:" + rev.CommitID,
		Revision:   rev,
		Repository: "registry.test/app",
	}, nil
}

type refPublisher struct{}

func (refPublisher) Publish(_ context.Context, a domain.Artifact) (domain.PublishedReference, error) {
	return domain.PublishedReference(a.Repository + "@" + a.Digest), nil
}

// storeUpdater applies references directly through the desired-state
// store's compare-and-swap.
type storeUpdater struct {
	store domain.DesiredStateStore
}

func (u *storeUpdater) UpdateDesiredState(ctx context.Context, env domain.Environment, ref domain.PublishedReference) (domain.DesiredStateChange, error) {
	current, err := u.store.Current(ctx, env)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.DesiredStateChange{}, err
	}
	return u.store.Swap(ctx, domain.DesiredStateChange{
		Environment: env,
		PreviousRef: current.NewRef,
		NewRef:      ref,
		CommitID:    "managed",
		Version:     current.Version,
	})
}

type scriptedVerifier struct {
	errs []error
}

func (v *scriptedVerifier) Verify(_ context.Context, _ domain.Environment, _ domain.PublishedReference, _ time.Duration) error {
	if len(v.errs) > 0 {
		err := v.errs[0]
		v.errs = v.errs[1:]
		return err
	}
	return nil
}

type recordingNotifier struct {
	events []domain.NotificationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event domain.NotificationEvent) error {
	n.events = append(n.events, event)
	return nil
}

type testHarness struct {
	trigger  *application.TriggerService
	runs     *application.RunService
	store    *sqlite.StateStore
	gate     *metricsGate
	builder  *digestBuilder
	verifier *scriptedVerifier
	notifier *recordingNotifier
}

func setup(t *testing.T) *testHarness {
	t.Helper()
	db := sqlite.OpenTestDB(t)

	runRepo := &sqlite.RunRepo{DB: db}
	store := &sqlite.StateStore{DB: db}

	h := &testHarness{
		store:    store,
		gate:     &metricsGate{metrics: domain.GateMetrics{Coverage: 92}},
		builder:  &digestBuilder{},
		verifier: &scriptedVerifier{},
		notifier: &recordingNotifier{},
	}

	wf := &domain.PipelineWorkflow{
		Runs:      runRepo,
		Gate:      h.gate,
		Builder:   h.builder,
		Publisher: refPublisher{},
		Updater:   &storeUpdater{store: store},
		Verifier:  h.verifier,
		Notifier:  h.notifier,
		Rulesets: domain.StaticRulesets{
			Default: domain.GateRuleset{MinCoverage: 70},
			PerEnvironment: map[domain.Environment]domain.GateRuleset{
				"prod": {MinCoverage: 80},
			},
		},
		Retry: domain.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
	}

	engine := &syncworkflow.Engine{}
	runner, err := engine.PipelineRunner(wf)
	if err != nil {
		t.Fatalf("create pipeline runner: %v", err)
	}

	h.trigger = &application.TriggerService{Runs: runRepo, Pipeline: runner}
	h.runs = &application.RunService{Runs: runRepo}
	return h
}

func revision(commitID string) domain.Revision {
	return domain.Revision{
		CommitID:  commitID,
		Branch:    "main",
		Author:    "dev@acme.io",
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestTrigger_SuccessfulDeployment(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	run, err := h.trigger.Trigger(ctx, "github.com/acme/app", "prod", revision("abc123"))
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	if run.Status != domain.RunStatusSucceeded {
		t.Errorf("Status = %q, want succeeded", run.Status)
	}
	if len(run.Stages) != len(domain.Stages) {
		t.Fatalf("stage results = %d, want %d", len(run.Stages), len(domain.Stages))
	}
	for _, sr := range run.Stages {
		if sr.Status != domain.StageStatusPassed {
			t.Errorf("stage %q = %q, want passed", sr.Stage, sr.Status)
		}
	}

	current, err := h.store.Current(ctx, "prod")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.NewRef != "registry.test/app@sha256:abc123" {
		t.Errorf("desired state = %q", current.NewRef)
	}

	if len(h.notifier.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notifier.events))
	}
	if h.notifier.events[0].Severity != domain.SeverityInfo {
		t.Errorf("terminal severity = %q, want info", h.notifier.events[0].Severity)
	}
}

func TestTrigger_GateFailureLeavesDesiredStateUntouched(t *testing.T) {
	h := setup(t)
	h.gate.metrics = domain.GateMetrics{Coverage: 61, NewBugs: 2}
	ctx := context.Background()

	run, err := h.trigger.Trigger(ctx, "github.com/acme/app", "prod", revision("def456"))
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	if run.Status != domain.RunStatusFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
	if len(run.Stages) != 1 {
		t.Fatalf("stage results = %d, want only the gate result", len(run.Stages))
	}
	if run.Stages[0].Status != domain.StageStatusFailed {
		t.Errorf("gate result = %+v", run.Stages[0])
	}

	if _, err := h.store.Current(ctx, "prod"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("desired state was written despite failed gate: %v", err)
	}
}

func TestTrigger_VerificationFailureRollsBack(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	// Establish a known-good deployment first.
	if _, err := h.trigger.Trigger(ctx, "github.com/acme/app", "prod", revision("abc123")); err != nil {
		t.Fatalf("baseline Trigger: %v", err)
	}

	h.verifier.errs = []error{domain.ErrSyncTimeout, domain.ErrSyncTimeout, domain.ErrSyncTimeout}
	run, err := h.trigger.Trigger(ctx, "github.com/acme/app", "prod", revision("ghi789"))
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	if run.Status != domain.RunStatusRolledBack {
		t.Errorf("Status = %q, want rolled-back", run.Status)
	}

	current, err := h.store.Current(ctx, "prod")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.NewRef != "registry.test/app@sha256:abc123" {
		t.Errorf("desired state = %q, want the baseline reference restored", current.NewRef)
	}

	history, err := h.store.History(ctx, "prod")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	// Baseline deploy, failed deploy, revert.
	if len(history) != 3 {
		t.Errorf("history entries = %d, want 3", len(history))
	}
}

func TestTrigger_RejectsInvalidInput(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	_, err := h.trigger.Trigger(ctx, "github.com/acme/app", "prod", domain.Revision{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty commit: got %v, want ErrInvalidArgument", err)
	}

	_, err = h.trigger.Trigger(ctx, "github.com/acme/app", "", revision("abc123"))
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty environment: got %v, want ErrInvalidArgument", err)
	}
}

func TestTrigger_SerializesRunsPerEnvironment(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.builder.started = make(chan struct{}, 2)
	h.builder.proceed = make(chan struct{})

	firstDone := make(chan domain.PipelineRun, 1)
	go func() {
		run, err := h.trigger.Trigger(ctx, "github.com/acme/app", "prod", revision("abc123"))
		if err != nil {
			t.Errorf("first Trigger: %v", err)
		}
		firstDone <- run
	}()

	// Wait until the first run is mid-build, holding the pair busy.
	<-h.builder.started

	queued, err := h.trigger.Trigger(ctx, "github.com/acme/app", "prod", revision("jkl012"))
	if err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if queued.Status != domain.RunStatusPending {
		t.Errorf("queued run Status = %q, want pending", queued.Status)
	}

	// Release the first run, then the queued one when it starts building.
	h.builder.proceed <- struct{}{}
	first := <-firstDone
	if first.Status != domain.RunStatusSucceeded {
		t.Errorf("first run Status = %q, want succeeded", first.Status)
	}

	<-h.builder.started
	h.builder.proceed <- struct{}{}

	// The queued run drains in the background; wait for its terminal state.
	deadline := time.After(5 * time.Second)
	for {
		run, err := h.runs.Get(ctx, queued.ID)
		if err != nil {
			t.Fatalf("Get queued run: %v", err)
		}
		if run.Status.Terminal() {
			if run.Status != domain.RunStatusSucceeded {
				t.Errorf("queued run Status = %q, want succeeded", run.Status)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("queued run never reached a terminal state, last status %q", run.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunService_ListAndGet(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	created, err := h.trigger.Trigger(ctx, "github.com/acme/app", "staging", revision("abc123"))
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	got, err := h.runs.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("Get returned run %q, want %q", got.ID, created.ID)
	}

	all, err := h.runs.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List = %d runs, want 1", len(all))
	}

	if _, err := h.runs.Get(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get missing run: got %v, want ErrNotFound", err)
	}
}
