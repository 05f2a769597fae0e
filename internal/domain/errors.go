package domain

import "errors"

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAnalysisUnavailable indicates that the static-analysis backend
	// could not be reached. It is not a verdict: the gate stage retries,
	// it never promotes this condition to a failed gate.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")

	// ErrBuildFailure indicates a compilation or packaging error.
	// Surfaced verbatim; never retried.
	ErrBuildFailure = errors.New("build failure")

	// ErrTransientPublish indicates the registry was unreachable during
	// publish.
	ErrTransientPublish = errors.New("transient publish error")

	// ErrConcurrentUpdate indicates a compare-and-swap against the
	// current desired-state pointer lost to a concurrent writer. The
	// caller re-reads current state and reapplies.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	// ErrSyncTimeout indicates the observed environment state never
	// converged to the expected reference within the stage timeout.
	ErrSyncTimeout = errors.New("sync timeout")

	// ErrSyncUnhealthy indicates the environment converged to the
	// expected reference but its health probe stayed red.
	ErrSyncUnhealthy = errors.New("sync unhealthy")

	// ErrRollbackFailed indicates the previous desired-state reference
	// could not be restored after a failed deployment. Requires external
	// intervention and the highest-severity notification.
	ErrRollbackFailed = errors.New("rollback failed")
)

// Transient reports whether err is retryable at the stage level.
// Everything else is terminal: it aborts the stage on the first attempt.
func Transient(err error) bool {
	switch {
	case errors.Is(err, ErrAnalysisUnavailable),
		errors.Is(err, ErrTransientPublish),
		errors.Is(err, ErrConcurrentUpdate),
		errors.Is(err, ErrSyncTimeout),
		errors.Is(err, ErrSyncUnhealthy):
		return true
	}
	return false
}
