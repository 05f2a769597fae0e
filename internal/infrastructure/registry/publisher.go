package registry

import (
	"context"
	"fmt"

	"oras.land/oras-go/v2"

	"github.com/gateline/gateline/internal/domain"
)

// Publisher implements [domain.ArtifactPublisher] by copying staged
// build content to a registry target. Publishing a digest the target
// already holds is a no-op returning the existing reference.
type Publisher struct {
	// Source is the staged build content, normally Builder.Store().
	Source oras.ReadOnlyTarget

	// Target is the registry destination: a remote repository in
	// production, an in-process store in tests.
	Target oras.Target
}

func (p *Publisher) Publish(ctx context.Context, artifact domain.Artifact) (domain.PublishedReference, error) {
	ref := domain.PublishedReference(artifact.Repository + "@" + artifact.Digest)

	desc, err := p.Source.Resolve(ctx, artifact.Digest)
	if err != nil {
		return "", fmt.Errorf("%w: resolve staged artifact %s: %v", domain.ErrBuildFailure, artifact.Digest, err)
	}
	exists, err := p.Target.Exists(ctx, desc)
	if err != nil {
		return "", fmt.Errorf("%w: check %s: %v", domain.ErrTransientPublish, ref, err)
	}
	if exists {
		return ref, nil
	}

	if _, err := oras.Copy(ctx, p.Source, artifact.Digest, p.Target, artifact.Digest, oras.DefaultCopyOptions); err != nil {
		return "", fmt.Errorf("%w: push %s: %v", domain.ErrTransientPublish, ref, err)
	}
	return ref, nil
}
