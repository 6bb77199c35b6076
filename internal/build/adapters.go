package build

import (
	"context"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/process"
)

// DocsGenerator regenerates the API document the SDK generator consumes.
type DocsGenerator interface {
	Generate(ctx context.Context) error
}

// SDKBuilder produces the SDK sources of a language in dir. In clean mode
// previous output is wiped first.
type SDKBuilder interface {
	Build(ctx context.Context, language, dir string, clean bool) error
}

// ProcessRunner supervises the image build command.
type ProcessRunner interface {
	Run(ctx context.Context, argv []string, hooks process.Hooks) (int, error)
	RunDirect(ctx context.Context, argv []string) (int, error)
}

// PackageLocker grants exclusive use of a package directory. The returned
// function releases the lock and is safe to call more than once.
type PackageLocker interface {
	Lock(ctx context.Context, key string) (func() error, error)
}

// ImageInspector looks up an image after it has been built.
type ImageInspector interface {
	Inspect(ctx context.Context, ref string) (models.ImageInfo, error)
}

var _ ProcessRunner = (*process.Supervisor)(nil)
