package process

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when a supervised command outlives the supervisor timeout.
var ErrTimeout = errors.New("command timed out")

// SpawnError reports that a command could not be started at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("start command: %v", e.Err)
	}
	return fmt.Sprintf("start %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
