package build

import (
	"context"

	"github.com/cochaviz/executor-builder/internal/models"
)

// ExecutorRepository resolves executor definitions for a build.
type ExecutorRepository interface {
	GetByID(ctx context.Context, id int64) (models.ExecutorDefinition, error)
	// InitialExecutor returns the first executor of a language, creating a
	// default one if the language has none.
	InitialExecutor(ctx context.Context, language string) (models.ExecutorDefinition, error)
}

// BuildHistory records the outcome of build runs.
type BuildHistory interface {
	Save(record models.BuildRecord) error
}
