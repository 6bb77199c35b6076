// Package repositories resolves executor definitions from a persistent store
// and the on-disk package layout.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cochaviz/executor-builder/internal/models"
)

// ErrNotFound is returned when no executor matches a lookup.
var ErrNotFound = errors.New("executor not found")

// ExecutorStore persists executor records.
type ExecutorStore interface {
	Get(ctx context.Context, id int64) (models.ExecutorDefinition, error)
	FirstByLanguage(ctx context.Context, language string) (models.ExecutorDefinition, error)
	Create(ctx context.Context, executor models.ExecutorDefinition) (models.ExecutorDefinition, error)
	List(ctx context.Context) ([]models.ExecutorDefinition, error)
}

const (
	packagePrefix      = "docker-executor-"
	templateName       = "Dockerfile"
	DefaultImagePrefix = "processmaker"
)

// PackageLayout locates executor packages below Root. Each language has a
// package directory holding the base Dockerfile template.
type PackageLayout struct {
	Root        string
	ImagePrefix string
}

// PackagePath returns the package directory of a language.
func (l PackageLayout) PackagePath(language string) string {
	return filepath.Join(l.Root, packagePrefix+models.NormalizeLanguage(language))
}

// ImageName returns the image tag for an executor, preferring a stored name.
func (l PackageLayout) ImageName(executor models.ExecutorDefinition) string {
	if executor.ImageName != "" {
		return executor.ImageName
	}
	prefix := l.ImagePrefix
	if prefix == "" {
		prefix = DefaultImagePrefix
	}
	return fmt.Sprintf("%s/executor-%s:%s", prefix, models.NormalizeLanguage(executor.Language), strconv.FormatInt(executor.ID, 10))
}

// Describe fills in the package path and image name of a stored record.
func (l PackageLayout) Describe(executor models.ExecutorDefinition) models.ExecutorDefinition {
	executor.PackagePath = l.PackagePath(executor.Language)
	executor.ImageName = l.ImageName(executor)
	return executor
}

// Complete describes the record and loads its base Dockerfile template.
func (l PackageLayout) Complete(executor models.ExecutorDefinition) (models.ExecutorDefinition, error) {
	if err := models.ValidateLanguage(models.NormalizeLanguage(executor.Language)); err != nil {
		return models.ExecutorDefinition{}, fmt.Errorf("executor %d: %w", executor.ID, err)
	}
	executor = l.Describe(executor)
	if !l.contains(executor.PackagePath) {
		return models.ExecutorDefinition{}, fmt.Errorf("executor %d: package path %s is outside %s", executor.ID, executor.PackagePath, l.Root)
	}

	path := filepath.Join(executor.PackagePath, templateName)
	template, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.ExecutorDefinition{}, fmt.Errorf("no executor package for %s: %s does not exist", executor.Language, path)
		}
		return models.ExecutorDefinition{}, fmt.Errorf("read dockerfile template: %w", err)
	}
	executor.DockerfileTemplate = string(template)
	return executor, nil
}

func (l PackageLayout) contains(path string) bool {
	rel, err := filepath.Rel(filepath.Clean(l.Root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Registry resolves complete executor definitions.
type Registry struct {
	Store  ExecutorStore
	Layout PackageLayout
	Logger *slog.Logger

	mu sync.Mutex
}

// GetByID resolves the executor with the given id.
func (r *Registry) GetByID(ctx context.Context, id int64) (models.ExecutorDefinition, error) {
	if r.Store == nil {
		return models.ExecutorDefinition{}, errors.New("executor store is not configured")
	}

	executor, err := r.Store.Get(ctx, id)
	if err != nil {
		return models.ExecutorDefinition{}, err
	}
	return r.Layout.Complete(executor)
}

// InitialExecutor resolves the first executor of a language, creating a
// default one when the language has none yet.
func (r *Registry) InitialExecutor(ctx context.Context, language string) (models.ExecutorDefinition, error) {
	if r.Store == nil {
		return models.ExecutorDefinition{}, errors.New("executor store is not configured")
	}
	language = models.NormalizeLanguage(language)
	if language == "" {
		return models.ExecutorDefinition{}, errors.New("language is required")
	}
	if err := models.ValidateLanguage(language); err != nil {
		return models.ExecutorDefinition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	executor, err := r.Store.FirstByLanguage(ctx, language)
	if errors.Is(err, ErrNotFound) {
		executor, err = r.Store.Create(ctx, models.ExecutorDefinition{
			Language: language,
			Title:    models.DefaultExecutorTitle(language),
		})
		if err == nil {
			r.logger().Info("created initial executor", "language", language, "executor_id", executor.ID)
		}
	}
	if err != nil {
		return models.ExecutorDefinition{}, err
	}
	return r.Layout.Complete(executor)
}

// List returns every stored executor with its package path and image name.
func (r *Registry) List(ctx context.Context) ([]models.ExecutorDefinition, error) {
	if r.Store == nil {
		return nil, errors.New("executor store is not configured")
	}

	executors, err := r.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	described := make([]models.ExecutorDefinition, len(executors))
	for i, executor := range executors {
		described[i] = r.Layout.Describe(executor)
	}
	return described, nil
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
