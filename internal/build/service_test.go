package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/process"
)

const (
	testTemplate = "FROM python:3.12-slim\nWORKDIR /opt/executor"
	testConfig   = "RUN pip install requests\nRUN echo ready"
)

var errExecutorNotFound = errors.New("executor not found")

type stubExecutorRepository struct {
	root      string
	executors map[int64]models.ExecutorDefinition
	languages []string
}

func newStubExecutorRepository(root string) *stubExecutorRepository {
	return &stubExecutorRepository{
		root: root,
		executors: map[int64]models.ExecutorDefinition{
			6: {
				ID:                 6,
				Language:           "python",
				Title:              "Python Executor",
				Config:             testConfig,
				ImageName:          "processmaker/executor-python:6",
				PackagePath:        filepath.Join(root, "docker-executor-python"),
				DockerfileTemplate: testTemplate,
			},
		},
	}
}

func (r *stubExecutorRepository) GetByID(_ context.Context, id int64) (models.ExecutorDefinition, error) {
	executor, ok := r.executors[id]
	if !ok {
		return models.ExecutorDefinition{}, fmt.Errorf("executor %d: %w", id, errExecutorNotFound)
	}
	return executor, nil
}

func (r *stubExecutorRepository) InitialExecutor(_ context.Context, language string) (models.ExecutorDefinition, error) {
	r.languages = append(r.languages, language)
	for _, executor := range r.executors {
		if executor.Language == language {
			return executor, nil
		}
	}
	return models.ExecutorDefinition{}, fmt.Errorf("executor for %s: %w", language, errExecutorNotFound)
}

type stubDocsGenerator struct {
	calls int
	err   error
}

func (g *stubDocsGenerator) Generate(context.Context) error {
	g.calls++
	return g.err
}

type stubSDKBuilder struct {
	calls    int
	language string
	dir      string
	clean    bool
	err      error
}

func (b *stubSDKBuilder) Build(_ context.Context, language, dir string, clean bool) error {
	b.calls++
	b.language, b.dir, b.clean = language, dir, clean
	return b.err
}

// stubRunner pretends to be the image build tool.
type stubRunner struct {
	lines    []string
	code     int
	err      error
	during   func(argv []string)
	argv     []string
	streamed bool
	direct   bool
}

func (r *stubRunner) Run(_ context.Context, argv []string, hooks process.Hooks) (int, error) {
	r.argv, r.streamed = argv, true
	if r.err != nil {
		return -1, r.err
	}
	if hooks.OnStart != nil {
		hooks.OnStart()
	}
	if r.during != nil {
		r.during(argv)
	}
	for _, line := range r.lines {
		hooks.OnLine(line)
	}
	hooks.OnExit(r.code)
	return r.code, nil
}

func (r *stubRunner) RunDirect(_ context.Context, argv []string) (int, error) {
	r.argv, r.direct = argv, true
	if r.err != nil {
		return -1, r.err
	}
	if r.during != nil {
		r.during(argv)
	}
	return r.code, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (s *recordingSink) Publish(_ context.Context, event models.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) phases() map[models.Phase]int {
	counts := map[models.Phase]int{}
	for _, event := range s.events {
		counts[event.Phase]++
	}
	return counts
}

type stubHistory struct {
	records []models.BuildRecord
}

func (h *stubHistory) Save(record models.BuildRecord) error {
	h.records = append(h.records, record)
	return nil
}

type stubInspector struct {
	info models.ImageInfo
	err  error
}

func (i *stubInspector) Inspect(context.Context, string) (models.ImageInfo, error) {
	return i.info, i.err
}

type fixture struct {
	service    *BuildService
	repository *stubExecutorRepository
	docs       *stubDocsGenerator
	sdk        *stubSDKBuilder
	runner     *stubRunner
	sink       *recordingSink
	root       string
	markerDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	markerDir := t.TempDir()
	f := &fixture{
		repository: newStubExecutorRepository(root),
		docs:       &stubDocsGenerator{},
		sdk:        &stubSDKBuilder{},
		runner:     &stubRunner{},
		sink:       &recordingSink{},
		root:       root,
		markerDir:  markerDir,
	}
	f.service = &BuildService{
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		ExecutorRepository: f.repository,
		DocsGenerator:      f.docs,
		SDKBuilder:         f.sdk,
		Runner:             f.runner,
		Events:             f.sink,
		MarkerDir:          markerDir,
	}
	return f
}

func (f *fixture) packagePath() string {
	return filepath.Join(f.root, "docker-executor-python")
}

func (f *fixture) assertCleanedUp(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(f.markerDir)
	if err != nil {
		t.Fatalf("read marker dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("run marker left behind: %v", entries[0].Name())
	}
	if _, err := os.Stat(DockerfilePath(f.packagePath())); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Dockerfile.custom left behind (stat err: %v)", err)
	}
}

func TestRunStreamsProgressToRecipient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.lines = []string{"Step 1/3 : FROM python:3.12-slim", "Step 2/3 : RUN pip install requests", "Successfully built 1a2b3c"}

	var dockerfileDuringBuild string
	f.runner.during = func([]string) {
		data, err := os.ReadFile(DockerfilePath(f.packagePath()))
		if err != nil {
			t.Errorf("Dockerfile.custom missing during build: %v", err)
			return
		}
		dockerfileDuringBuild = string(data)
	}

	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python", RecipientID: "user-1"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if dockerfileDuringBuild != testTemplate+"\n"+testConfig {
		t.Fatalf("unexpected Dockerfile content %q", dockerfileDuringBuild)
	}
	if !f.runner.streamed || f.runner.direct {
		t.Fatalf("a recipient must select the streaming supervisor")
	}

	wantArgv := []string{
		"docker", "build", "--build-arg", "SDK_DIR=/sdk",
		"-t", "processmaker/executor-python:6",
		"-f", f.packagePath() + "/Dockerfile.custom",
		f.packagePath(),
	}
	if !reflect.DeepEqual(f.runner.argv, wantArgv) {
		t.Fatalf("unexpected command line:\n got %q\nwant %q", f.runner.argv, wantArgv)
	}

	events := f.sink.events
	if events[0].Phase != models.PhaseStarting {
		t.Fatalf("first event must be starting, got %s", events[0].Phase)
	}
	if !strings.HasPrefix(filepath.Base(events[0].Output), "build_script_executor_") {
		t.Fatalf("starting payload should be the run marker path, got %q", events[0].Output)
	}
	last := events[len(events)-1]
	if last.Phase != models.PhaseDone || last.Payload() != 0 {
		t.Fatalf("last event must be done with code 0, got %+v", last)
	}

	phases := f.sink.phases()
	if phases[models.PhaseStarting] != 1 || phases[models.PhaseDone] != 1 || phases[models.PhaseError] != 0 {
		t.Fatalf("unexpected phase counts: %v", phases)
	}

	lineEvents := events[len(events)-1-len(f.runner.lines) : len(events)-1]
	for i, event := range lineEvents {
		if event.Phase != models.PhaseRunning || event.Output != f.runner.lines[i] {
			t.Fatalf("line %d: unexpected event %+v", i, event)
		}
	}

	var narrative []string
	for _, event := range events[1 : len(events)-1-len(f.runner.lines)] {
		narrative = append(narrative, event.Output)
	}
	wantNarrative := []string{
		"Building for language: python\n",
		"Generating SDK json document\n",
		"Building the SDK\n",
		"SDK is at " + filepath.Join(f.packagePath(), "sdk") + "\n",
		"Dockerfile:\n  FROM python:3.12-slim\n  WORKDIR /opt/executor\n  RUN pip install requests\n  RUN echo ready\n",
		"Building the docker executor\n",
	}
	if !reflect.DeepEqual(narrative, wantNarrative) {
		t.Fatalf("unexpected narrative:\n got %q\nwant %q", narrative, wantNarrative)
	}

	if result.State != models.BuildStateDone || result.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.sdk.language != "python" || !f.sdk.clean || f.sdk.dir != filepath.Join(f.packagePath(), "sdk") {
		t.Fatalf("unexpected sdk invocation: %+v", f.sdk)
	}
	if info, err := os.Stat(f.sdk.dir); err != nil || !info.IsDir() {
		t.Fatalf("sdk directory not created: %v", err)
	}
	f.assertCleanedUp(t)
}

func TestRunSilentModeRunsDirectly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !f.runner.direct || f.runner.streamed {
		t.Fatalf("silent builds must run the command directly")
	}
	if len(f.sink.events) != 0 {
		t.Fatalf("silent builds must not publish events, got %d", len(f.sink.events))
	}
	if !strings.HasPrefix(result.Executor.ImageName, "processmaker/executor-python:") {
		t.Fatalf("unexpected image %q", result.Executor.ImageName)
	}
	f.assertCleanedUp(t)
}

func TestRunWithoutSinkRunsDirectly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.service.Events = nil

	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python", RecipientID: "user-1"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !f.runner.direct || f.runner.streamed {
		t.Fatalf("a recipient without a progress sink must not swallow the build output")
	}
	if result.State != models.BuildStateDone {
		t.Fatalf("unexpected state %s", result.State)
	}
	f.assertCleanedUp(t)
}

func TestRunByNameUsesInitialExecutor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.service.Run(context.Background(), &models.BuildRequest{Token: " Python "}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !reflect.DeepEqual(f.repository.languages, []string{"python"}) {
		t.Fatalf("expected name lookup for python, got %v", f.repository.languages)
	}
}

func TestRunByIDUsesIDLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "6"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(f.repository.languages) != 0 {
		t.Fatalf("numeric token must not use the name lookup")
	}
	if result.Executor.ID != 6 {
		t.Fatalf("unexpected executor %+v", result.Executor)
	}
}

func TestRunUnknownIDFailsBeforeSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "77", RecipientID: "user-1"})
	if !errors.Is(err, ErrResolution) {
		t.Fatalf("expected ErrResolution, got %v", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("message should say the executor was not found: %q", err.Error())
	}

	if entries, _ := os.ReadDir(f.root); len(entries) != 0 {
		t.Fatalf("package root must stay untouched, found %d entries", len(entries))
	}
	if f.docs.calls != 0 || f.runner.argv != nil {
		t.Fatalf("no later step may run after a resolution failure")
	}

	phases := f.sink.phases()
	if phases[models.PhaseError] != 1 || phases[models.PhaseDone] != 0 {
		t.Fatalf("expected exactly one error event, got %v", phases)
	}
	last := f.sink.events[len(f.sink.events)-1]
	if last.Phase != models.PhaseError || last.Output != err.Error() {
		t.Fatalf("error event should carry the flattened message, got %+v", last)
	}
	f.assertCleanedUp(t)
}

func TestRunCleansUpWhenSDKGenerationFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sdk.err = errors.New("processmaker:sdk: unknown language")

	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python", RecipientID: "user-1"})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if result.State != models.BuildStateFailed {
		t.Fatalf("expected failed state, got %s", result.State)
	}
	if f.runner.argv != nil {
		t.Fatalf("build command must not run after a generation failure")
	}
	if f.sink.phases()[models.PhaseError] != 1 {
		t.Fatalf("expected one error event, got %v", f.sink.phases())
	}
	f.assertCleanedUp(t)
}

func TestRunDocsFailureIsGenerationError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.docs.err = errors.New("l5-swagger failed")

	_, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python"})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	f.assertCleanedUp(t)
}

func TestRunNonzeroExitIsNotEscalated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.code = 1
	f.runner.lines = []string{"error: failed to solve"}

	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python", RecipientID: "user-1"})
	if err != nil {
		t.Fatalf("nonzero exit must not fail the build by default, got %v", err)
	}
	if result.State != models.BuildStateDone || result.ExitCode != 1 || result.Succeeded() {
		t.Fatalf("unexpected result: %+v", result)
	}

	last := f.sink.events[len(f.sink.events)-1]
	if last.Phase != models.PhaseDone || last.Payload() != 1 {
		t.Fatalf("done event should carry the exit code, got %+v", last)
	}
	if f.sink.phases()[models.PhaseError] != 0 {
		t.Fatalf("no error event expected")
	}
}

func TestRunFailOnNonzeroExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.code = 2
	f.service.FailOnNonzeroExit = true

	_, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python", RecipientID: "user-1"})
	if !errors.Is(err, ErrBuildExit) {
		t.Fatalf("expected ErrBuildExit, got %v", err)
	}
	phases := f.sink.phases()
	if phases[models.PhaseDone] != 1 || phases[models.PhaseError] != 0 {
		t.Fatalf("the done event already reports the failure, got %v", phases)
	}
	f.assertCleanedUp(t)
}

func TestRunSpawnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.err = &process.SpawnError{Command: "docker", Err: errors.New("executable file not found in $PATH")}

	_, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python", RecipientID: "user-1"})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if f.sink.phases()[models.PhaseDone] != 0 {
		t.Fatalf("no done event expected when the command never started")
	}
	f.assertCleanedUp(t)
}

func TestRunTimeoutIsReported(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.err = fmt.Errorf("%w after 1s", process.ErrTimeout)

	_, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	f.assertCleanedUp(t)
}

func TestConcurrentBuildsWithoutLockCollide(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	second := *f.service
	second.Runner = &stubRunner{}

	collided := false
	f.runner.during = func([]string) {
		if _, err := second.Run(context.Background(), &models.BuildRequest{Token: "python"}); err != nil {
			t.Errorf("overlapping build failed: %v", err)
		}
		// The overlapping build removed the Dockerfile this build is using.
		if _, err := os.Stat(DockerfilePath(f.packagePath())); errors.Is(err, os.ErrNotExist) {
			collided = true
		}
	}

	if _, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !collided {
		t.Fatalf("expected the overlapping build to be detectable")
	}
}

func TestPackageLockSerializesSameLanguage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.service.Locker = NewMutexLocker()
	second := *f.service
	second.Runner = &stubRunner{}

	var secondErr error
	intact := false
	sdkRegenerations := 0
	f.runner.during = func([]string) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		before := f.sdk.calls
		_, secondErr = second.Run(ctx, &models.BuildRequest{Token: "python"})
		sdkRegenerations = f.sdk.calls - before

		_, err := os.Stat(DockerfilePath(f.packagePath()))
		intact = err == nil
	}

	if _, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !errors.Is(secondErr, ErrLocked) {
		t.Fatalf("expected the overlapping build to wait for the lock, got %v", secondErr)
	}
	if !intact {
		t.Fatalf("the locked build's Dockerfile must survive the overlapping build")
	}
	if sdkRegenerations != 0 {
		t.Fatalf("SDK was regenerated %d time(s) while the package was being built", sdkRegenerations)
	}
	f.assertCleanedUp(t)

	if _, err := second.Run(context.Background(), &models.BuildRequest{Token: "python"}); err != nil {
		t.Fatalf("lock must be released after the first build: %v", err)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	history := &stubHistory{}
	f.service.History = history

	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python", RecipientID: "user-1"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(history.records) < 2 {
		t.Fatalf("expected several records, got %d", len(history.records))
	}
	first, last := history.records[0], history.records[len(history.records)-1]
	if first.State != models.BuildStateInit || first.BuildID != result.BuildID {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if last.State != models.BuildStateDone || last.ExitCode == nil || *last.ExitCode != 0 || last.FinishedAt == nil {
		t.Fatalf("unexpected last record: %+v", last)
	}
}

func TestRunKeepsProvidedBuildID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.service.Run(context.Background(), &models.BuildRequest{BuildID: "fixed-id", Token: "python"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.BuildID != "fixed-id" {
		t.Fatalf("expected provided build id, got %q", result.BuildID)
	}
}

func TestRunHistoryRecordsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	history := &stubHistory{}
	f.service.History = history

	if _, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "77"}); err == nil {
		t.Fatalf("expected failure")
	}
	last := history.records[len(history.records)-1]
	if last.State != models.BuildStateFailed || !strings.HasPrefix(last.Error, string(models.BuildStateResolving)) {
		t.Fatalf("unexpected failure record: %+v", last)
	}
}

func TestRunInspectsBuiltImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.service.ImageInspector = &stubInspector{info: models.ImageInfo{ID: "sha256:feed"}}

	result, err := f.service.Run(context.Background(), &models.BuildRequest{Token: "python"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Image == nil || result.Image.ID != "sha256:feed" {
		t.Fatalf("expected image info, got %+v", result.Image)
	}

	f2 := newFixture(t)
	f2.service.ImageInspector = &stubInspector{err: errors.New("no such image")}
	if _, err := f2.service.Run(context.Background(), &models.BuildRequest{Token: "python"}); err != nil {
		t.Fatalf("inspection failures must not fail the build: %v", err)
	}
}

func TestRunRequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := (&BuildService{}).Run(context.Background(), &models.BuildRequest{Token: "python"}); err == nil {
		t.Fatalf("expected configuration error")
	}
	if _, err := newFixture(t).service.Run(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}
