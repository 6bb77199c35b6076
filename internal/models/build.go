package models

import (
	"time"
)

// BuildState captures the lifecycle position of a single executor build.
type BuildState string

// Build states in the order a run moves through them. Done and Failed are terminal.
const (
	BuildStateInit                 BuildState = "init"
	BuildStateResolving            BuildState = "resolving"
	BuildStateGeneratingDocs       BuildState = "generating_docs"
	BuildStateGeneratingSDK        BuildState = "generating_sdk"
	BuildStateAssemblingDockerfile BuildState = "assembling_dockerfile"
	BuildStateBuildingImage        BuildState = "building_image"
	BuildStateDone                 BuildState = "done"
	BuildStateFailed               BuildState = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s BuildState) Terminal() bool {
	return s == BuildStateDone || s == BuildStateFailed
}

// BuildRequest asks for an executor image to be (re)built.
//
// Token is either a numeric executor id or a language name. An empty
// RecipientID runs the build silently.
type BuildRequest struct {
	// BuildID is assigned by the orchestrator when empty.
	BuildID     string
	Token       string
	RecipientID string
	RequestedAt time.Time
}

// Silent reports whether the build runs without an observer.
func (r BuildRequest) Silent() bool {
	return r.RecipientID == ""
}

// BuildResult summarises a finished build run.
type BuildResult struct {
	BuildID    string
	State      BuildState
	Executor   ExecutorDefinition
	Dockerfile string
	Command    []string
	ExitCode   int
	Image      *ImageInfo
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the build command ran to completion with status zero.
func (r BuildResult) Succeeded() bool {
	return r.State == BuildStateDone && r.ExitCode == 0
}

// ImageInfo describes a container image as reported by the local engine.
type ImageInfo struct {
	ID      string    `json:"id"`
	Tags    []string  `json:"tags,omitempty"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`
}

// BuildRecord is the persisted summary of a build run.
type BuildRecord struct {
	BuildID     string     `json:"build_id"`
	Token       string     `json:"token"`
	RecipientID string     `json:"recipient_id,omitempty"`
	ExecutorID  int64      `json:"executor_id,omitempty"`
	Language    string     `json:"language,omitempty"`
	ImageName   string     `json:"image_name,omitempty"`
	State       BuildState `json:"state"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
