package embedded

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/repositories"
)

//go:embed executors.yaml
var defaultRegistry []byte

// DefaultRegistry returns the YAML document describing the built-in executors.
func DefaultRegistry() []byte {
	return append([]byte(nil), defaultRegistry...)
}

var _ repositories.ExecutorStore = (*EmbeddedExecutorRepository)(nil)

// EmbeddedExecutorRepository keeps executors in memory, seeded with the built-in set.
type EmbeddedExecutorRepository struct {
	mu        sync.RWMutex
	executors map[int64]models.ExecutorDefinition
	order     []int64
}

// NewEmbeddedExecutorRepository constructs a repository pre-populated with the built-in executors.
func NewEmbeddedExecutorRepository() (*EmbeddedExecutorRepository, error) {
	var registry struct {
		Executors []models.ExecutorDefinition `yaml:"executors"`
	}
	if err := yaml.Unmarshal(defaultRegistry, &registry); err != nil {
		return nil, fmt.Errorf("parse embedded registry: %w", err)
	}

	repo := &EmbeddedExecutorRepository{executors: make(map[int64]models.ExecutorDefinition)}
	for _, executor := range registry.Executors {
		repo.append(executor)
	}
	return repo, nil
}

// Get returns the executor with the given id.
func (r *EmbeddedExecutorRepository) Get(_ context.Context, id int64) (models.ExecutorDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[id]
	if !ok {
		return models.ExecutorDefinition{}, fmt.Errorf("executor %d: %w", id, repositories.ErrNotFound)
	}
	return executor, nil
}

// FirstByLanguage returns the earliest executor registered for a language.
func (r *EmbeddedExecutorRepository) FirstByLanguage(_ context.Context, language string) (models.ExecutorDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	language = models.NormalizeLanguage(language)
	for _, id := range r.order {
		if executor := r.executors[id]; models.NormalizeLanguage(executor.Language) == language {
			return executor, nil
		}
	}
	return models.ExecutorDefinition{}, fmt.Errorf("executor for language %s: %w", language, repositories.ErrNotFound)
}

// Create adds an executor under the next free id.
func (r *EmbeddedExecutorRepository) Create(_ context.Context, executor models.ExecutorDefinition) (models.ExecutorDefinition, error) {
	if models.NormalizeLanguage(executor.Language) == "" {
		return models.ExecutorDefinition{}, errors.New("executor language is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var maxID int64
	for _, id := range r.order {
		maxID = max(maxID, id)
	}
	executor.ID = maxID + 1
	executor.Language = models.NormalizeLanguage(executor.Language)
	r.append(executor)
	return executor, nil
}

// List returns every executor in registration order.
func (r *EmbeddedExecutorRepository) List(_ context.Context) ([]models.ExecutorDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executors := make([]models.ExecutorDefinition, 0, len(r.order))
	for _, id := range r.order {
		executors = append(executors, r.executors[id])
	}
	return executors, nil
}

func (r *EmbeddedExecutorRepository) append(executor models.ExecutorDefinition) {
	if _, exists := r.executors[executor.ID]; !exists {
		r.order = append(r.order, executor.ID)
	}
	r.executors[executor.ID] = executor
}
