package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gateline/gateline/internal/domain"
)

// StateStore implements [domain.DesiredStateStore] backed by SQLite.
// The per-environment current pointer is a versioned row: Swap succeeds
// only when the caller observed the latest version, so two runs can
// never both install a current pointer for the same environment.
type StateStore struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s *StateStore) Current(ctx context.Context, env domain.Environment) (domain.DesiredStateChange, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT environment, version, previous_ref, new_ref, commit_id, committed_at
		 FROM desired_state WHERE environment = ?`,
		string(env),
	)
	return scanChange(row)
}

func (s *StateStore) Swap(ctx context.Context, change domain.DesiredStateChange) (domain.DesiredStateChange, error) {
	installed := change
	installed.Version = change.Version + 1
	installed.CommittedAt = s.now()
	committedAt := installed.CommittedAt.UTC().Format(time.RFC3339Nano)

	if change.Version == 0 {
		// First deployment for the environment.
		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO desired_state (environment, version, previous_ref, new_ref, commit_id, committed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(installed.Environment), installed.Version,
			string(installed.PreviousRef), string(installed.NewRef),
			installed.CommitID, committedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.DesiredStateChange{},
					fmt.Errorf("environment %q: %w", change.Environment, domain.ErrConcurrentUpdate)
			}
			return domain.DesiredStateChange{}, fmt.Errorf("insert desired state: %w", err)
		}
	} else {
		res, err := s.DB.ExecContext(ctx,
			`UPDATE desired_state
			 SET version = ?, previous_ref = ?, new_ref = ?, commit_id = ?, committed_at = ?
			 WHERE environment = ? AND version = ?`,
			installed.Version, string(installed.PreviousRef), string(installed.NewRef),
			installed.CommitID, committedAt,
			string(installed.Environment), change.Version,
		)
		if err != nil {
			return domain.DesiredStateChange{}, fmt.Errorf("swap desired state: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return domain.DesiredStateChange{},
				fmt.Errorf("environment %q at version %d: %w", change.Environment, change.Version, domain.ErrConcurrentUpdate)
		}
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO desired_state_history (environment, version, previous_ref, new_ref, commit_id, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(installed.Environment), installed.Version,
		string(installed.PreviousRef), string(installed.NewRef),
		installed.CommitID, committedAt,
	)
	if err != nil {
		return domain.DesiredStateChange{}, fmt.Errorf("append desired state history: %w", err)
	}
	return installed, nil
}

// History returns all changes for an environment in version order.
func (s *StateStore) History(ctx context.Context, env domain.Environment) ([]domain.DesiredStateChange, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT environment, version, previous_ref, new_ref, commit_id, committed_at
		 FROM desired_state_history WHERE environment = ? ORDER BY version`,
		string(env),
	)
	if err != nil {
		return nil, fmt.Errorf("list desired state history: %w", err)
	}
	defer rows.Close()

	var changes []domain.DesiredStateChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

func (s *StateStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func scanChange(s scanner) (domain.DesiredStateChange, error) {
	var change domain.DesiredStateChange
	var env, prevRef, newRef, committedAt string
	err := s.Scan(&env, &change.Version, &prevRef, &newRef, &change.CommitID, &committedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return change, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return change, fmt.Errorf("scan desired state: %w", err)
	}
	change.Environment = domain.Environment(env)
	change.PreviousRef = domain.PublishedReference(prevRef)
	change.NewRef = domain.PublishedReference(newRef)
	if change.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt); err != nil {
		return change, fmt.Errorf("parse committed_at: %w", err)
	}
	return change, nil
}
