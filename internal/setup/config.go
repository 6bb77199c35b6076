package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/cochaviz/executor-builder/internal/repositories/embedded"
)

const appName = "executor-builder"

var StorageDir = "/var/lib/executor-builder"

// RegistryPath is the executor registry file written by Initialize.
var RegistryPath = filepath.Join(StorageDir, "executors.yaml")

// PackagesDir holds one docker-executor-<language> package per language.
var PackagesDir = filepath.Join(StorageDir, "packages")

// BuildsDir holds the build history records.
var BuildsDir = filepath.Join(StorageDir, "builds")

// LockDir returns the directory for package locks and run markers. It
// prefers the user's runtime directory and falls back to the cache home.
func LockDir() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

func configFiles() []string {
	return []string{RegistryPath}
}

func Verify() error {
	for _, file := range configFiles() {
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("file %s does not exist", file)
		}
	}
	return nil
}

func ClearConfig() error {
	getLogger().Info("clearing configuration files")

	for _, file := range configFiles() {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return nil
}

// Initialize writes the default executor registry and creates the package
// and history directories.
func Initialize() error {
	logger := getLogger()

	for _, dir := range []string{filepath.Dir(RegistryPath), PackagesDir, BuildsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(RegistryPath, embedded.DefaultRegistry(), 0o644); err != nil {
		return fmt.Errorf("write registry %s: %w", RegistryPath, err)
	}
	logger.Info("executor registry written", "path", RegistryPath)
	return nil
}
