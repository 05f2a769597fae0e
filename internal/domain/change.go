package domain

import "time"

// DesiredStateChange is one commit to the GitOps source of truth.
// Exactly one change is the current pointer per environment; history is
// append-only. Version implements optimistic concurrency: a swap only
// succeeds when the caller observed the latest version.
type DesiredStateChange struct {
	Environment Environment
	PreviousRef PublishedReference
	NewRef      PublishedReference
	CommitID    string
	Version     int64
	CommittedAt time.Time
}
