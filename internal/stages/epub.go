package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/listenupapp/pagesync-server/internal/domain"
	"github.com/listenupapp/pagesync-server/internal/structure"
)

// Package is a packaged artifact.
type Package struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Packager serializes a finished structure into a distributable artifact.
type Packager interface {
	Package(ctx context.Context, s *structure.Structure) (*Package, error)
}

// ManifestPackager emits the versioned structure encoding. It stands in for a
// full EPUB writer, which is an external collaborator.
type ManifestPackager struct{}

// Package implements Packager.
func (ManifestPackager) Package(_ context.Context, s *structure.Structure) (*Package, error) {
	data, err := structure.Encode(s)
	if err != nil {
		return nil, err
	}
	return &Package{
		Data:        data,
		ContentType: "application/vnd.pagesync.structure+json",
		Extension:   "json",
	}, nil
}

// EPUBGeneration packages the structure and stores the artifact.
type EPUBGeneration struct {
	packager  Packager
	artifacts ArtifactStore
}

// NewEPUBGeneration creates the packaging stage.
func NewEPUBGeneration(packager Packager, artifacts ArtifactStore) *EPUBGeneration {
	if packager == nil {
		packager = ManifestPackager{}
	}
	return &EPUBGeneration{packager: packager, artifacts: artifacts}
}

// Name implements Stage.
func (*EPUBGeneration) Name() domain.StageName { return domain.StageEPUBGeneration }

// Run implements Stage.
func (e *EPUBGeneration) Run(ctx context.Context, in Input) (*Output, error) {
	if e.artifacts == nil {
		return nil, errors.New("no artifact store configured")
	}
	pkg, err := e.packager.Package(ctx, in.Structure)
	if err != nil {
		return nil, fmt.Errorf("package: %w", err)
	}
	key := e.artifacts.NewKey(fmt.Sprintf("artifacts/job-%d", in.JobID), pkg.Extension)
	if err := e.artifacts.Put(ctx, key, bytes.NewReader(pkg.Data)); err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	return &Output{Structure: in.Structure, ArtifactKey: key}, nil
}
