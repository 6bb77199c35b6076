package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/process"
	"github.com/cochaviz/executor-builder/internal/progress"
)

// SDKDirName is the SDK output directory inside an executor package.
const SDKDirName = "sdk"

// BuildService builds the script executor image of one language per Run.
type BuildService struct {
	Logger             *slog.Logger
	ExecutorRepository ExecutorRepository
	DocsGenerator      DocsGenerator
	SDKBuilder         SDKBuilder
	Runner             ProcessRunner

	// Events receives progress for requests with a recipient. Nil disables publication.
	Events progress.Sink
	// Locker serializes builds of the same package. Nil leaves concurrent
	// builds of one language free to overwrite each other's Dockerfile.
	Locker PackageLocker
	// ImageInspector, when set, looks up the image after a successful build.
	ImageInspector ImageInspector
	History        BuildHistory

	// MarkerDir holds run markers. Empty means the system temp directory.
	MarkerDir    string
	DockerBinary string
	// FailOnNonzeroExit turns a nonzero build exit into an ErrBuildExit failure.
	FailOnNonzeroExit bool
}

// Run executes one build. Every resource it acquires is released before it
// returns, whatever the outcome.
func (s *BuildService) Run(ctx context.Context, request *models.BuildRequest) (*models.BuildResult, error) {
	if request == nil {
		return nil, errors.New("build request is required")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	buildID := request.BuildID
	if buildID == "" {
		buildID = uuid.NewString()
	}
	logger := s.logger().With("build_id", buildID, "token", request.Token)
	if !request.Silent() {
		logger = logger.With("recipient", request.RecipientID)
	}

	run := &buildRun{
		service:  s,
		logger:   logger,
		reporter: progress.NewReporter(s.Events, request.RecipientID, buildID, logger),
		request:  request,
		result: &models.BuildResult{
			BuildID:   buildID,
			State:     models.BuildStateInit,
			StartedAt: time.Now().UTC(),
		},
	}
	run.record()

	err := run.execute(ctx)
	if releaseErr := run.release(); releaseErr != nil {
		logger.Error("build cleanup incomplete", "error", releaseErr)
		err = errors.Join(err, fmt.Errorf("cleanup: %w", releaseErr))
	}
	run.result.FinishedAt = time.Now().UTC()

	if err != nil {
		run.fail(ctx, err)
		return run.result, err
	}

	run.record()
	logger.Info("build finished",
		"image", run.result.Executor.ImageName,
		"exit_code", run.result.ExitCode,
		"duration", run.result.FinishedAt.Sub(run.result.StartedAt),
	)
	return run.result, nil
}

func (s *BuildService) validate() error {
	switch {
	case s.ExecutorRepository == nil:
		return errors.New("executor repository is not configured")
	case s.DocsGenerator == nil:
		return errors.New("docs generator is not configured")
	case s.SDKBuilder == nil:
		return errors.New("sdk builder is not configured")
	case s.Runner == nil:
		return errors.New("process runner is not configured")
	}
	return nil
}

func (s *BuildService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// buildRun owns the scoped resources of one invocation.
type buildRun struct {
	service  *BuildService
	logger   *slog.Logger
	reporter *progress.Reporter
	request  *models.BuildRequest
	result   *models.BuildResult
	failedIn models.BuildState
	failure  string

	markerPath     string
	dockerfilePath string
	unlock         func() error
}

func (r *buildRun) execute(ctx context.Context) error {
	s := r.service

	markerPath, err := AcquireRunMarker(s.MarkerDir)
	if err != nil {
		return newBuildError(nil, fmt.Sprintf("create run marker: %v", err), err)
	}
	r.markerPath = markerPath
	r.logger.Debug("run marker created", "path", markerPath)
	r.reporter.Report(ctx, models.PhaseStarting, markerPath)

	r.transition(models.BuildStateResolving)
	executor, err := resolveExecutor(ctx, s.ExecutorRepository, r.request.Token)
	if err == nil && (executor.PackagePath == "" || executor.ImageName == "") {
		err = fmt.Errorf("executor %d has no package path or image name", executor.ID)
	}
	if err != nil {
		return newBuildError(ErrResolution, fmt.Sprintf("resolve executor %q: %v", r.request.Token, err), err)
	}
	r.result.Executor = executor
	r.logger = r.logger.With("language", executor.Language, "executor_id", executor.ID)
	r.info(ctx, "Building for language: "+executor.Language)

	r.transition(models.BuildStateGeneratingDocs)
	r.info(ctx, "Generating SDK json document")
	if err := s.DocsGenerator.Generate(ctx); err != nil {
		return newBuildError(ErrGeneration, err.Error(), err)
	}

	r.transition(models.BuildStateGeneratingSDK)
	// The SDK directory is part of the build context, so the lock covers
	// SDK regeneration as well as the Dockerfile and the image build.
	if s.Locker != nil {
		unlock, err := s.Locker.Lock(ctx, executor.PackagePath)
		if err != nil {
			return newBuildError(ErrLocked, fmt.Sprintf("lock package %s: %v", executor.PackagePath, err), err)
		}
		r.unlock = unlock
	}
	sdkDir := filepath.Join(executor.PackagePath, SDKDirName)
	if err := os.MkdirAll(sdkDir, 0o755); err != nil {
		return newBuildError(ErrGeneration, fmt.Sprintf("create sdk directory: %v", err), err)
	}
	r.info(ctx, "Building the SDK")
	if err := s.SDKBuilder.Build(ctx, executor.Language, sdkDir, true); err != nil {
		return newBuildError(ErrGeneration, err.Error(), err)
	}
	r.info(ctx, "SDK is at "+sdkDir)

	r.transition(models.BuildStateAssemblingDockerfile)
	content := AssembleDockerfile(executor.DockerfileTemplate, executor.Config)
	r.info(ctx, IndentDockerfile(content))
	dockerfilePath, err := WriteDockerfile(executor.PackagePath, content)
	if err != nil {
		return newBuildError(nil, fmt.Sprintf("write dockerfile: %v", err), err)
	}
	r.dockerfilePath = dockerfilePath
	r.result.Dockerfile = content

	r.transition(models.BuildStateBuildingImage)
	r.info(ctx, "Building the docker executor")
	argv := DockerBuildCommand(s.DockerBinary, executor.ImageName, executor.PackagePath)
	r.result.Command = argv

	code, err := r.runBuild(ctx, argv)
	r.result.ExitCode = code
	if err != nil {
		return classifyRunError(err)
	}

	r.transition(models.BuildStateDone)
	if code != 0 {
		r.logger.Warn("build command exited with nonzero status", "exit_code", code)
		if s.FailOnNonzeroExit {
			return newBuildError(ErrBuildExit, fmt.Sprintf("build command exited with code %d", code), nil)
		}
		return nil
	}

	r.inspectImage(ctx, executor.ImageName)
	return nil
}

func (r *buildRun) runBuild(ctx context.Context, argv []string) (int, error) {
	runner := r.service.Runner
	// Without a progress channel nobody would see streamed lines, so the
	// output goes to the builder's own streams instead.
	if r.request.Silent() || !r.reporter.Enabled() {
		if !r.request.Silent() {
			r.logger.Warn("no progress sink configured; build output is not streamed to the recipient")
		}
		return runner.RunDirect(ctx, argv)
	}
	return runner.Run(ctx, argv, process.Hooks{
		OnLine: func(line string) {
			r.reporter.Report(ctx, models.PhaseRunning, line)
		},
		OnExit: func(code int) {
			r.reporter.ReportExit(ctx, code)
		},
	})
}

func (r *buildRun) inspectImage(ctx context.Context, ref string) {
	if r.service.ImageInspector == nil {
		return
	}
	info, err := r.service.ImageInspector.Inspect(ctx, ref)
	if err != nil {
		r.logger.Warn("built image could not be inspected", "image", ref, "error", err)
		return
	}
	r.result.Image = &info
	r.logger.Info("image built", "image", ref, "image_id", info.ID, "size", info.Size)
}

func classifyRunError(err error) error {
	var spawnErr *process.SpawnError
	switch {
	case errors.As(err, &spawnErr):
		return newBuildError(ErrSpawn, err.Error(), err)
	case errors.Is(err, process.ErrTimeout):
		return newBuildError(ErrTimeout, err.Error(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newBuildError(nil, fmt.Sprintf("build interrupted: %v", err), err)
	default:
		return newBuildError(nil, err.Error(), err)
	}
}

// info logs a narrative message and mirrors it to the observer.
func (r *buildRun) info(ctx context.Context, message string) {
	r.logger.Info(message)
	r.reporter.Report(ctx, models.PhaseRunning, message+"\n")
}

func (r *buildRun) transition(state models.BuildState) {
	r.logger.Debug("build state changed", "from", r.result.State, "to", state)
	r.result.State = state
	r.record()
}

func (r *buildRun) fail(ctx context.Context, err error) {
	r.failedIn = r.result.State
	r.failure = err.Error()
	r.result.State = models.BuildStateFailed

	// A nonzero exit was already reported through the done event.
	if !errors.Is(err, ErrBuildExit) {
		r.reporter.Report(ctx, models.PhaseError, err.Error())
	}
	r.logger.Error("build failed", "failed_in", r.failedIn, "error", err)
	r.record()
}

// release frees every resource the run acquired. It runs exactly once per
// build, on every path out of Run.
func (r *buildRun) release() error {
	var errs []error

	if err := CleanupDockerfile(r.dockerfilePath); err != nil {
		errs = append(errs, fmt.Errorf("remove dockerfile: %w", err))
	}
	r.dockerfilePath = ""

	if r.unlock != nil {
		if err := r.unlock(); err != nil {
			errs = append(errs, fmt.Errorf("release package lock: %w", err))
		}
		r.unlock = nil
	}

	if err := ReleaseRunMarker(r.markerPath); err != nil {
		errs = append(errs, fmt.Errorf("remove run marker: %w", err))
	}
	r.markerPath = ""

	return errors.Join(errs...)
}

func (r *buildRun) record() {
	history := r.service.History
	if history == nil {
		return
	}

	record := models.BuildRecord{
		BuildID:     r.result.BuildID,
		Token:       r.request.Token,
		RecipientID: r.request.RecipientID,
		ExecutorID:  r.result.Executor.ID,
		Language:    r.result.Executor.Language,
		ImageName:   r.result.Executor.ImageName,
		State:       r.result.State,
		StartedAt:   r.result.StartedAt,
	}
	if !r.result.FinishedAt.IsZero() {
		finished := r.result.FinishedAt
		record.FinishedAt = &finished
	}
	if r.result.State.Terminal() && r.result.Command != nil {
		code := r.result.ExitCode
		record.ExitCode = &code
	}
	if r.failure != "" {
		record.Error = fmt.Sprintf("%s: %s", r.failedIn, r.failure)
	}

	if err := history.Save(record); err != nil {
		r.logger.Warn("build record not saved", "error", err)
	}
}
