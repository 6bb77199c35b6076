package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/repositories"
)

var _ repositories.ExecutorStore = (*LocalExecutorRepository)(nil)

// LocalExecutorRepository stores executor records in a single YAML file.
type LocalExecutorRepository struct {
	Path string

	mu sync.Mutex
}

type registryFile struct {
	Executors []models.ExecutorDefinition `yaml:"executors"`
}

// Get returns the executor with the given id.
func (r *LocalExecutorRepository) Get(_ context.Context, id int64) (models.ExecutorDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	registry, err := r.load()
	if err != nil {
		return models.ExecutorDefinition{}, err
	}
	for _, executor := range registry.Executors {
		if executor.ID == id {
			return executor, nil
		}
	}
	return models.ExecutorDefinition{}, fmt.Errorf("executor %d: %w", id, repositories.ErrNotFound)
}

// FirstByLanguage returns the executor with the lowest id for a language.
func (r *LocalExecutorRepository) FirstByLanguage(_ context.Context, language string) (models.ExecutorDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	registry, err := r.load()
	if err != nil {
		return models.ExecutorDefinition{}, err
	}

	language = models.NormalizeLanguage(language)
	for _, executor := range sortedByID(registry.Executors) {
		if models.NormalizeLanguage(executor.Language) == language {
			return executor, nil
		}
	}
	return models.ExecutorDefinition{}, fmt.Errorf("executor for language %s: %w", language, repositories.ErrNotFound)
}

// Create assigns the next free id to the executor and persists it.
func (r *LocalExecutorRepository) Create(_ context.Context, executor models.ExecutorDefinition) (models.ExecutorDefinition, error) {
	if models.NormalizeLanguage(executor.Language) == "" {
		return models.ExecutorDefinition{}, errors.New("executor language is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registry, err := r.load()
	if err != nil {
		return models.ExecutorDefinition{}, err
	}

	var maxID int64
	for _, existing := range registry.Executors {
		maxID = max(maxID, existing.ID)
	}
	executor.ID = maxID + 1
	executor.Language = models.NormalizeLanguage(executor.Language)
	executor.PackagePath = ""
	executor.DockerfileTemplate = ""

	registry.Executors = append(registry.Executors, executor)
	if err := r.save(registry); err != nil {
		return models.ExecutorDefinition{}, err
	}
	return executor, nil
}

// List returns every executor ordered by id.
func (r *LocalExecutorRepository) List(_ context.Context) ([]models.ExecutorDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	registry, err := r.load()
	if err != nil {
		return nil, err
	}
	return sortedByID(registry.Executors), nil
}

func (r *LocalExecutorRepository) load() (registryFile, error) {
	if r.Path == "" {
		return registryFile{}, errors.New("registry path is not configured")
	}

	data, err := os.ReadFile(r.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return registryFile{}, nil
		}
		return registryFile{}, err
	}

	var registry registryFile
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return registryFile{}, fmt.Errorf("parse registry %s: %w", r.Path, err)
	}
	return registry, nil
}

// save replaces the registry file atomically.
func (r *LocalExecutorRepository) save(registry registryFile) error {
	dir := filepath.Dir(r.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(registry)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".executors-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.Path)
}

func sortedByID(executors []models.ExecutorDefinition) []models.ExecutorDefinition {
	sorted := make([]models.ExecutorDefinition, len(executors))
	copy(sorted, executors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
