// Package registry builds content-addressed OCI artifacts and publishes
// them through ORAS.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/errdef"

	"github.com/gateline/gateline/internal/domain"
)

// MediaTypeBuildRecord is the config media type of built artifacts.
const MediaTypeBuildRecord = "application/vnd.gateline.build-record.v1+json"

// buildRecord is the canonical build input payload. The artifact digest
// is a function of these fields and nothing else, which is what makes
// rebuilding an unchanged revision reproduce the same digest.
type buildRecord struct {
	Repository string `json:"repository"`
	CommitID   string `json:"commitId"`
	Branch     string `json:"branch"`
}

// Builder implements [domain.ArtifactBuilder]. Built content is staged
// in an in-process store; the publisher copies it to the registry.
type Builder struct {
	repository string
	store      *memory.Store
}

// NewBuilder creates a builder producing artifacts for the given
// registry repository, e.g. "registry.example.com/app".
func NewBuilder(repository string) *Builder {
	return &Builder{repository: repository, store: memory.New()}
}

// Store exposes the staged build output for publishing.
func (b *Builder) Store() *memory.Store { return b.store }

func (b *Builder) Build(ctx context.Context, revision domain.Revision) (domain.Artifact, error) {
	record, err := json.Marshal(buildRecord{
		Repository: b.repository,
		CommitID:   revision.CommitID,
		Branch:     revision.Branch,
	})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: encode build record: %v", domain.ErrBuildFailure, err)
	}

	configDesc := ocispec.Descriptor{
		MediaType: MediaTypeBuildRecord,
		Digest:    digest.FromBytes(record),
		Size:      int64(len(record)),
	}
	manifest, err := json.Marshal(ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    []ocispec.Descriptor{configDesc},
	})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: encode manifest: %v", domain.ErrBuildFailure, err)
	}
	manifestDesc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    digest.FromBytes(manifest),
		Size:      int64(len(manifest)),
	}

	if err := b.push(ctx, configDesc, record); err != nil {
		return domain.Artifact{}, err
	}
	if err := b.push(ctx, manifestDesc, manifest); err != nil {
		return domain.Artifact{}, err
	}
	if err := b.store.Tag(ctx, manifestDesc, manifestDesc.Digest.String()); err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: tag manifest: %v", domain.ErrBuildFailure, err)
	}

	return domain.Artifact{
		Digest:     manifestDesc.Digest.String(),
		Revision:   revision,
		Repository: b.repository,
	}, nil
}

// push stages a blob, tolerating rebuilds of content that already exists.
func (b *Builder) push(ctx context.Context, desc ocispec.Descriptor, blob []byte) error {
	err := b.store.Push(ctx, desc, bytes.NewReader(blob))
	if err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return fmt.Errorf("%w: stage %s: %v", domain.ErrBuildFailure, desc.Digest, err)
	}
	return nil
}
