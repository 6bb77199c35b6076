package models

import "time"

// Phase is the lifecycle moment a progress event describes.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseError    Phase = "error"
	PhaseDone     Phase = "done"
)

// ProgressEvent is one notification addressed to a build observer.
//
// Exactly one of Output and ExitCode carries the payload: done events carry the
// exit code, every other phase carries text.
type ProgressEvent struct {
	ID          string
	BuildID     string
	RecipientID string
	Phase       Phase
	Output      string
	ExitCode    *int
	Timestamp   time.Time
}

// Payload returns the event payload as either a string or an int.
func (e ProgressEvent) Payload() any {
	if e.ExitCode != nil {
		return *e.ExitCode
	}
	return e.Output
}
