package build

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
)

const runMarkerPattern = "build_script_executor_*"

// AcquireRunMarker records the current process id in a freshly created temp file
// inside dir and returns its path. An empty dir uses the system temp directory.
//
// The marker is advisory: nothing consults it to reject concurrent builds.
func AcquireRunMarker(dir string) (string, error) {
	file, err := os.CreateTemp(dir, runMarkerPattern)
	if err != nil {
		return "", err
	}

	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

// ReleaseRunMarker removes a marker created by AcquireRunMarker. Releasing an
// empty path or an already removed marker is not an error.
func ReleaseRunMarker(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
