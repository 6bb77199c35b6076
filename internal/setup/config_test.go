package setup

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func useTempStorage(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	oldRegistry, oldPackages, oldBuilds := RegistryPath, PackagesDir, BuildsDir
	RegistryPath = filepath.Join(dir, "executors.yaml")
	PackagesDir = filepath.Join(dir, "packages")
	BuildsDir = filepath.Join(dir, "builds")
	t.Cleanup(func() {
		RegistryPath, PackagesDir, BuildsDir = oldRegistry, oldPackages, oldBuilds
	})
}

func TestInitializeVerifyClear(t *testing.T) {
	useTempStorage(t)

	if err := Verify(); err == nil {
		t.Fatalf("expected verification to fail before initialization")
	}
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	if err := Verify(); err != nil {
		t.Fatalf("Verify after Initialize: %v", err)
	}

	data, err := os.ReadFile(RegistryPath)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	var registry struct {
		Executors []map[string]any `yaml:"executors"`
	}
	if err := yaml.Unmarshal(data, &registry); err != nil {
		t.Fatalf("registry is not valid yaml: %v", err)
	}
	if len(registry.Executors) == 0 {
		t.Fatalf("registry has no executors")
	}
	for _, dir := range []string{PackagesDir, BuildsDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}

	if err := ClearConfig(); err != nil {
		t.Fatalf("ClearConfig returned error: %v", err)
	}
	if err := Verify(); err == nil {
		t.Fatalf("expected verification to fail after clearing")
	}
	if err := ClearConfig(); err != nil {
		t.Fatalf("clearing twice should succeed: %v", err)
	}
}

func TestLockDirIsNamespaced(t *testing.T) {
	if filepath.Base(LockDir()) != appName && filepath.Base(LockDir()) != "run" {
		t.Fatalf("unexpected lock dir %s", LockDir())
	}
}
