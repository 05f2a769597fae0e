// Package runrepotest provides contract tests for
// [domain.RunRepository] implementations.
package runrepotest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gateline/gateline/internal/domain"
)

// Factory creates a fresh [domain.RunRepository] for each test.
type Factory func(t *testing.T) domain.RunRepository

// Run exercises the [domain.RunRepository] contract.
func Run(t *testing.T, factory Factory) {
	sampleRun := func() domain.PipelineRun {
		return domain.PipelineRun{
			ID:          "r1",
			Source:      "github.com/acme/app",
			Environment: "prod",
			Revision: domain.Revision{
				CommitID:  "abc123",
				Branch:    "main",
				Author:    "dev@acme.io",
				Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			},
			Status:    domain.RunStatusPending,
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, sampleRun()); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Revision.CommitID != "abc123" {
			t.Errorf("Revision.CommitID = %q, want %q", got.Revision.CommitID, "abc123")
		}
		if got.Status != domain.RunStatusPending {
			t.Errorf("Status = %q, want %q", got.Status, domain.RunStatusPending)
		}
		if got.CompletedAt != nil {
			t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
		}
		if len(got.Stages) != 0 {
			t.Errorf("Stages = %d, want 0", len(got.Stages))
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRun())
		err := repo.Create(ctx, sampleRun())
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		run := sampleRun()
		_ = repo.Create(ctx, run)

		run.Status = domain.RunStatusSucceeded
		run.Stage = domain.StageVerify
		done := time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC)
		run.CompletedAt = &done
		if err := repo.Update(ctx, run); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, _ := repo.Get(ctx, "r1")
		if got.Status != domain.RunStatusSucceeded {
			t.Errorf("Status after Update = %q, want %q", got.Status, domain.RunStatusSucceeded)
		}
		if got.Stage != domain.StageVerify {
			t.Errorf("Stage after Update = %q, want %q", got.Stage, domain.StageVerify)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
			t.Errorf("CompletedAt after Update = %v, want %v", got.CompletedAt, done)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), domain.PipelineRun{ID: "nonexistent"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendStageOrdering", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRun())

		started := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)
		for i, stage := range []domain.Stage{domain.StageGate, domain.StageBuild} {
			err := repo.AppendStage(ctx, "r1", domain.StageResult{
				Stage:      stage,
				Status:     domain.StageStatusPassed,
				Detail:     json.RawMessage(`{"ok":true}`),
				Attempts:   1,
				StartedAt:  started.Add(time.Duration(i) * time.Minute),
				FinishedAt: started.Add(time.Duration(i)*time.Minute + 30*time.Second),
			})
			if err != nil {
				t.Fatalf("AppendStage %s: %v", stage, err)
			}
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.Stages) != 2 {
			t.Fatalf("Stages = %d, want 2", len(got.Stages))
		}
		if got.Stages[0].Stage != domain.StageGate || got.Stages[1].Stage != domain.StageBuild {
			t.Errorf("stage order = %s, %s; want gate, build", got.Stages[0].Stage, got.Stages[1].Stage)
		}
		if got.Stages[0].Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", got.Stages[0].Attempts)
		}
	})

	t.Run("AppendStageIdempotent", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Create(ctx, sampleRun())

		res := domain.StageResult{
			Stage:      domain.StageGate,
			Status:     domain.StageStatusPassed,
			Attempts:   2,
			StartedAt:  time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC),
			FinishedAt: time.Date(2026, 3, 1, 9, 2, 0, 0, time.UTC),
		}
		if err := repo.AppendStage(ctx, "r1", res); err != nil {
			t.Fatalf("AppendStage: %v", err)
		}
		if err := repo.AppendStage(ctx, "r1", res); err != nil {
			t.Fatalf("AppendStage replay: %v", err)
		}

		got, _ := repo.Get(ctx, "r1")
		if len(got.Stages) != 1 {
			t.Fatalf("Stages after replay = %d, want 1", len(got.Stages))
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		r1 := sampleRun()
		r2 := sampleRun()
		r2.ID = "r2"
		r2.CreatedAt = r1.CreatedAt.Add(time.Minute)
		_ = repo.Create(ctx, r1)
		_ = repo.Create(ctx, r2)

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
	})
}
