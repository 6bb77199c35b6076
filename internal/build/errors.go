package build

import (
	"errors"

	"github.com/cochaviz/executor-builder/internal/process"
)

// Failure kinds a build run can end with. Use errors.Is against a returned
// error to tell them apart.
var (
	ErrResolution = errors.New("executor resolution failed")
	ErrGeneration = errors.New("generation failed")
	ErrSpawn      = errors.New("build command could not be started")
	ErrBuildExit  = errors.New("build command exited with nonzero status")
	ErrLocked     = errors.New("package is locked by another build")
	ErrTimeout    = process.ErrTimeout
)

// A BuildError represents an error that occurred during the build process.
//
// Message is the flattened, human readable description reported to observers.
type BuildError struct {
	Kind    error
	Message string
	Err     error
}

// Error returns the error message.
func (e *BuildError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	case e.Kind != nil:
		return e.Kind.Error()
	default:
		return "build failed"
	}
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *BuildError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newBuildError(kind error, message string, cause error) *BuildError {
	return &BuildError{Kind: kind, Message: message, Err: cause}
}
