package repositories_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/repositories"
	"github.com/cochaviz/executor-builder/internal/repositories/embedded"
)

func newRegistry(t *testing.T, languages ...string) *repositories.Registry {
	t.Helper()

	root := t.TempDir()
	for _, language := range languages {
		dir := filepath.Join(root, "docker-executor-"+language)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create package dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM "+language+":latest"), 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}

	store, err := embedded.NewEmbeddedExecutorRepository()
	if err != nil {
		t.Fatalf("NewEmbeddedExecutorRepository: %v", err)
	}
	return &repositories.Registry{
		Store:  store,
		Layout: repositories.PackageLayout{Root: root},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRegistryResolvesByIDAndName(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, "python", "php")
	ctx := context.Background()

	byName, err := registry.InitialExecutor(ctx, "Python")
	if err != nil {
		t.Fatalf("InitialExecutor returned error: %v", err)
	}
	byID, err := registry.GetByID(ctx, byName.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}

	for _, executor := range []models.ExecutorDefinition{byName, byID} {
		if executor.PackagePath == "" || executor.ImageName == "" {
			t.Fatalf("package path and image name must be set: %+v", executor)
		}
		if !strings.HasPrefix(executor.ImageName, "processmaker/executor-python:") {
			t.Fatalf("unexpected image name %q", executor.ImageName)
		}
		if executor.DockerfileTemplate != "FROM python:latest" {
			t.Fatalf("unexpected template %q", executor.DockerfileTemplate)
		}
	}
}

func TestRegistryCreatesInitialExecutor(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, "ruby")
	ctx := context.Background()

	first, err := registry.InitialExecutor(ctx, "ruby")
	if err != nil {
		t.Fatalf("InitialExecutor returned error: %v", err)
	}
	if first.Title != "Ruby Executor" {
		t.Fatalf("unexpected default title %q", first.Title)
	}

	second, err := registry.InitialExecutor(ctx, "ruby")
	if err != nil {
		t.Fatalf("InitialExecutor returned error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("initial executor must be created once, got ids %d and %d", first.ID, second.ID)
	}
}

func TestRegistryUnknownID(t *testing.T) {
	t.Parallel()

	_, err := newRegistry(t).GetByID(context.Background(), 77)
	if !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("message should mention not found: %q", err.Error())
	}
}

func TestRegistryMissingPackage(t *testing.T) {
	t.Parallel()

	if _, err := newRegistry(t).InitialExecutor(context.Background(), "lua"); err == nil {
		t.Fatalf("expected error when the package template is missing")
	}
}

func TestRegistryListDescribesExecutors(t *testing.T) {
	t.Parallel()

	executors, err := newRegistry(t).List(context.Background())
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	for _, executor := range executors {
		if executor.PackagePath == "" || executor.ImageName == "" {
			t.Fatalf("listed executor not described: %+v", executor)
		}
	}
}

func TestLayoutPrefersStoredImageName(t *testing.T) {
	t.Parallel()

	layout := repositories.PackageLayout{Root: "/opt/executors", ImagePrefix: "acme"}

	stored := models.ExecutorDefinition{ID: 3, Language: "php", ImageName: "registry.local/php:custom"}
	if got := layout.ImageName(stored); got != "registry.local/php:custom" {
		t.Fatalf("unexpected image name %q", got)
	}

	derived := models.ExecutorDefinition{ID: 3, Language: "PHP"}
	if got := layout.ImageName(derived); got != "acme/executor-php:3" {
		t.Fatalf("unexpected image name %q", got)
	}
	if got := layout.PackagePath("PHP"); got != "/opt/executors/docker-executor-php" {
		t.Fatalf("unexpected package path %q", got)
	}
}

func TestRegistryRejectsLanguageOutsidePackages(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, "python")
	ctx := context.Background()

	victim := filepath.Join(filepath.Dir(registry.Layout.Root), "victim")
	if err := os.MkdirAll(victim, 0o755); err != nil {
		t.Fatalf("create victim dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(victim, "Dockerfile"), []byte("FROM scratch"), 0o644); err != nil {
		t.Fatalf("write victim template: %v", err)
	}

	for _, language := range []string{"x/../../victim", "../victim", "c#", "ruby executor"} {
		if _, err := registry.InitialExecutor(ctx, language); err == nil {
			t.Errorf("InitialExecutor(%q) should be rejected", language)
		}
	}

	executors, err := registry.Store.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	for _, executor := range executors {
		if strings.ContainsAny(executor.Language, `/\ #`) {
			t.Fatalf("invalid language was stored: %q", executor.Language)
		}
	}
}

func TestRegistryRejectsStoredLanguageOutsidePackages(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, "python")
	ctx := context.Background()

	stored, err := registry.Store.Create(ctx, models.ExecutorDefinition{Language: "../../victim"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := registry.GetByID(ctx, stored.ID); err == nil {
		t.Fatalf("a stored language escaping the packages directory must not resolve")
	}
}
