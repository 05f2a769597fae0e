package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gateline/gateline/internal/domain"
)

// RunRepo implements [domain.RunRepository] backed by SQLite.
type RunRepo struct {
	DB *sql.DB
}

// stageSeq fixes each stage's position in the result history so that
// re-recording a stage after an at-least-once replay overwrites its row
// instead of appending a duplicate, and reads come back in pipeline order.
func stageSeq(stage domain.Stage) int {
	for i, s := range domain.Stages {
		if s == stage {
			return i
		}
	}
	return len(domain.Stages)
}

func (r *RunRepo) Create(ctx context.Context, run domain.PipelineRun) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, source, environment, commit_id, branch, author, revision_at, stage, status, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(run.ID), string(run.Source), string(run.Environment),
		run.Revision.CommitID, run.Revision.Branch, run.Revision.Author,
		run.Revision.Timestamp.UTC().Format(time.RFC3339Nano),
		string(run.Stage), string(run.Status),
		run.CreatedAt.UTC().Format(time.RFC3339Nano), nullTime(run.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %q: %w", run.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id domain.RunID) (domain.PipelineRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, source, environment, commit_id, branch, author, revision_at, stage, status, created_at, completed_at
		 FROM pipeline_runs WHERE id = ?`,
		string(id),
	)
	run, err := scanRun(row)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	run.Stages, err = r.stageResults(ctx, id)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	return run, nil
}

func (r *RunRepo) List(ctx context.Context) ([]domain.PipelineRun, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, source, environment, commit_id, branch, author, revision_at, stage, status, created_at, completed_at
		 FROM pipeline_runs ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].Stages, err = r.stageResults(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (r *RunRepo) Update(ctx context.Context, run domain.PipelineRun) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE pipeline_runs SET stage = ?, status = ?, completed_at = ? WHERE id = ?`,
		string(run.Stage), string(run.Status), nullTime(run.CompletedAt), string(run.ID),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %q: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *RunRepo) AppendStage(ctx context.Context, id domain.RunID, result domain.StageResult) error {
	var detail any
	if result.Detail != nil {
		detail = string(result.Detail)
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO stage_results (run_id, seq, stage, status, detail, error, attempts, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, seq) DO UPDATE SET
		   status = excluded.status,
		   detail = excluded.detail,
		   error = excluded.error,
		   attempts = excluded.attempts,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at`,
		string(id), stageSeq(result.Stage), string(result.Stage), string(result.Status),
		detail, result.Error, result.Attempts,
		result.StartedAt.UTC().Format(time.RFC3339Nano),
		result.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append stage result: %w", err)
	}
	return nil
}

func (r *RunRepo) stageResults(ctx context.Context, id domain.RunID) ([]domain.StageResult, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT stage, status, detail, error, attempts, started_at, finished_at
		 FROM stage_results WHERE run_id = ? ORDER BY seq`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var results []domain.StageResult
	for rows.Next() {
		var sr domain.StageResult
		var stage, status, startedAt, finishedAt string
		var detail sql.NullString
		if err := rows.Scan(&stage, &status, &detail, &sr.Error, &sr.Attempts, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		sr.Stage = domain.Stage(stage)
		sr.Status = domain.StageStatus(status)
		if detail.Valid {
			sr.Detail = json.RawMessage(detail.String)
		}
		if sr.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if sr.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	var id, source, env, stage, status, revisionAt, createdAt string
	var completedAt sql.NullString
	err := s.Scan(&id, &source, &env,
		&run.Revision.CommitID, &run.Revision.Branch, &run.Revision.Author,
		&revisionAt, &stage, &status, &createdAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.ID = domain.RunID(id)
	run.Source = domain.Source(source)
	run.Environment = domain.Environment(env)
	run.Stage = domain.Stage(stage)
	run.Status = domain.RunStatus(status)
	if run.Revision.Timestamp, err = time.Parse(time.RFC3339Nano, revisionAt); err != nil {
		return run, fmt.Errorf("parse revision_at: %w", err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return run, fmt.Errorf("parse created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return run, fmt.Errorf("parse completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	return run, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
