//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/repositories"
)

func TestExecutorRepositoryAgainstPostgres(t *testing.T) {
	url := os.Getenv("EXECUTOR_BUILDER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EXECUTOR_BUILDER_TEST_DATABASE_URL not set")
	}

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv returned error: %v", err)
	}
	cfg.URL = url

	ctx := context.Background()
	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer db.Close()

	repo := NewExecutorRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema returned error: %v", err)
	}

	created, err := repo.Create(ctx, models.ExecutorDefinition{Language: "Go", Title: "Go Executor"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	loaded, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.Language != "go" {
		t.Fatalf("unexpected language %q", loaded.Language)
	}
	if _, err := repo.Get(ctx, -1); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
