package build

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DockerfileName is the fixed name of the generated Dockerfile inside a package directory.
const DockerfileName = "Dockerfile.custom"

// AssembleDockerfile joins the base template and the executor config with a single newline.
// Neither part is interpreted.
func AssembleDockerfile(template, fragment string) string {
	return template + "\n" + fragment
}

// DockerfilePath returns where the generated Dockerfile lives for a package.
func DockerfilePath(packagePath string) string {
	return filepath.Join(packagePath, DockerfileName)
}

// WriteDockerfile writes content to the package's Dockerfile.custom, replacing any existing file.
func WriteDockerfile(packagePath, content string) (string, error) {
	path := DockerfilePath(packagePath)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// CleanupDockerfile deletes a generated Dockerfile. It is safe to call when
// nothing was written or the file is already gone.
func CleanupDockerfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// IndentDockerfile renders content for the operator log, one indented line per Dockerfile line.
func IndentDockerfile(content string) string {
	return "Dockerfile:\n  " + strings.Join(strings.Split(content, "\n"), "\n  ")
}
