package domain

// Artifact is an immutable, content-addressed build output. Digest is a
// deterministic function of the build inputs: rebuilding an unchanged
// revision yields the same digest.
type Artifact struct {
	Digest     string
	Revision   Revision
	Repository string
}

// PublishedReference is the immutable registry reference produced by a
// publish, e.g. "registry.example.com/app@sha256:...".
type PublishedReference string
