// Package gitops rewrites the desired-state source of truth that an
// external GitOps controller reconciles environments against.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"gopkg.in/yaml.v3"

	"github.com/gateline/gateline/internal/domain"
)

const (
	// DefaultAuthorName signs desired-state commits unless configured.
	DefaultAuthorName = "gateline"

	// DefaultAuthorEmail signs desired-state commits unless configured.
	DefaultAuthorEmail = "gateline@localhost"
)

// Options configures the updater.
type Options struct {
	// Repo is the REQUIRED open desired-state repository.
	Repo *git.Repository

	// State is the REQUIRED versioned current-pointer store. The git
	// commit is only the durable record; the store's compare-and-swap
	// is what serializes concurrent update attempts per environment.
	State domain.DesiredStateStore

	// PathFor maps an environment to its descriptor file within the
	// repository worktree. Defaults to "envs/<env>/deployment.yaml".
	PathFor func(env domain.Environment) string

	// Push pushes each commit to the default remote when set.
	Push bool

	// AuthorName and AuthorEmail sign commits.
	AuthorName  string
	AuthorEmail string

	// Now supplies commit timestamps; defaults to time.Now.
	Now func() time.Time
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.Repo == nil {
		return fmt.Errorf("%w: Repo is required", domain.ErrInvalidArgument)
	}
	if o.State == nil {
		return fmt.Errorf("%w: State is required", domain.ErrInvalidArgument)
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.PathFor == nil {
		o.PathFor = func(env domain.Environment) string {
			return fmt.Sprintf("envs/%s/deployment.yaml", env)
		}
	}
	if o.AuthorName == "" {
		o.AuthorName = DefaultAuthorName
	}
	if o.AuthorEmail == "" {
		o.AuthorEmail = DefaultAuthorEmail
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Updater implements [domain.DesiredStateUpdater]: it performs a
// read-modify-write of the environment's descriptor file, commits the
// change, and installs the new reference through the store's
// compare-and-swap.
type Updater struct {
	opts Options

	// mu serializes worktree access within this process; the store's
	// version check covers everything else.
	mu sync.Mutex
}

// NewUpdater creates an Updater from validated options.
func NewUpdater(opts Options) (*Updater, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	return &Updater{opts: opts}, nil
}

func (u *Updater) UpdateDesiredState(ctx context.Context, env domain.Environment, ref domain.PublishedReference) (domain.DesiredStateChange, error) {
	current, err := u.opts.State.Current(ctx, env)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.DesiredStateChange{}, fmt.Errorf("read current desired state: %w", err)
	}

	commitID, err := u.commitDescriptor(env, ref)
	if err != nil {
		return domain.DesiredStateChange{}, err
	}

	change, err := u.opts.State.Swap(ctx, domain.DesiredStateChange{
		Environment: env,
		PreviousRef: current.NewRef,
		NewRef:      ref,
		CommitID:    commitID,
		Version:     current.Version,
	})
	if err != nil {
		// A lost swap leaves the commit in history but does not move
		// the current pointer; the caller re-reads and reapplies.
		return domain.DesiredStateChange{}, err
	}

	if u.opts.Push {
		if err := u.opts.Repo.PushContext(ctx, &git.PushOptions{}); err != nil &&
			!errors.Is(err, git.NoErrAlreadyUpToDate) {
			return domain.DesiredStateChange{}, fmt.Errorf("push desired state: %w", err)
		}
	}
	return change, nil
}

// commitDescriptor rewrites the environment's descriptor image
// reference and commits the file.
func (u *Updater) commitDescriptor(env domain.Environment, ref domain.PublishedReference) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	wt, err := u.opts.Repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	path := u.opts.PathFor(env)
	descriptor := map[string]any{}
	data, err := util.ReadFile(wt.Filesystem, path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &descriptor); err != nil {
			return "", fmt.Errorf("parse descriptor %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// First deployment to this environment.
	default:
		return "", fmt.Errorf("read descriptor %s: %w", path, err)
	}

	descriptor["image"] = string(ref)
	out, err := yaml.Marshal(descriptor)
	if err != nil {
		return "", fmt.Errorf("render descriptor %s: %w", path, err)
	}
	if err := util.WriteFile(wt.Filesystem, path, out, 0o644); err != nil {
		return "", fmt.Errorf("write descriptor %s: %w", path, err)
	}
	if _, err := wt.Add(path); err != nil {
		return "", fmt.Errorf("stage descriptor %s: %w", path, err)
	}

	now := u.opts.Now()
	commit, err := wt.Commit(fmt.Sprintf("%s: set image to %s", env, ref), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  u.opts.AuthorName,
			Email: u.opts.AuthorEmail,
			When:  now,
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit descriptor %s: %w", path, err)
	}
	return commit.String(), nil
}
