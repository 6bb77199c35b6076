package simple

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cochaviz/executor-builder/internal/build"
	"github.com/cochaviz/executor-builder/internal/env"
	"github.com/cochaviz/executor-builder/internal/generators"
	"github.com/cochaviz/executor-builder/internal/images"
	"github.com/cochaviz/executor-builder/internal/logging"
	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/process"
	"github.com/cochaviz/executor-builder/internal/progress"
	"github.com/cochaviz/executor-builder/internal/repositories"
	"github.com/cochaviz/executor-builder/internal/repositories/embedded"
	"github.com/cochaviz/executor-builder/internal/repositories/local"
	"github.com/cochaviz/executor-builder/internal/repositories/postgres"
	"github.com/cochaviz/executor-builder/internal/server"
	"github.com/cochaviz/executor-builder/internal/setup"
)

var (
	DefaultDocsCommand = []string{"php", "artisan", "l5-swagger:generate"}
	DefaultSDKCommand  = []string{"php", "artisan", "processmaker:sdk"}
)

const (
	DefaultKafkaTopic    = "executor-builds"
	DefaultListenAddress = ":8080"
)

// Options configures one builder environment.
type Options struct {
	// RegistryPath is the executor registry file. Empty serves the built-in
	// executors from memory.
	RegistryPath string
	// DatabaseURL selects the PostgreSQL registry instead of RegistryPath.
	DatabaseURL string
	PackagesDir string
	ImagePrefix string
	BuildsDir   string
	MarkerDir   string
	// LockDir holds cross-process package locks. Empty locks within the
	// process only.
	LockDir     string
	DisableLock bool

	DockerBinary string
	DocsCommand  []string
	DocumentPath string
	SDKCommand   []string
	Timeout      time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	// EventsOut, when set, receives every progress event as a JSON line.
	EventsOut io.Writer

	FailOnNonzeroExit bool
	VerifyImage       bool
}

// DefaultOptions returns the built-in defaults with EXECUTOR_BUILDER_*
// environment overrides applied. Command line flags override the result.
func DefaultOptions() (Options, error) {
	timeout, err := env.Duration("EXECUTOR_BUILDER_TIMEOUT", 0)
	if err != nil {
		return Options{}, err
	}
	failOnNonzero, err := env.Bool("EXECUTOR_BUILDER_FAIL_ON_NONZERO_EXIT", false)
	if err != nil {
		return Options{}, err
	}
	verifyImage, err := env.Bool("EXECUTOR_BUILDER_VERIFY_IMAGE", false)
	if err != nil {
		return Options{}, err
	}
	disableLock, err := env.Bool("EXECUTOR_BUILDER_DISABLE_LOCK", false)
	if err != nil {
		return Options{}, err
	}

	return Options{
		RegistryPath:      env.String("EXECUTOR_BUILDER_REGISTRY", setup.RegistryPath),
		DatabaseURL:       env.String("EXECUTOR_BUILDER_DATABASE_URL", ""),
		PackagesDir:       env.String("EXECUTOR_BUILDER_PACKAGES_DIR", setup.PackagesDir),
		ImagePrefix:       env.String("EXECUTOR_BUILDER_IMAGE_PREFIX", repositories.DefaultImagePrefix),
		BuildsDir:         env.String("EXECUTOR_BUILDER_BUILDS_DIR", setup.BuildsDir),
		MarkerDir:         env.String("EXECUTOR_BUILDER_MARKER_DIR", ""),
		LockDir:           env.String("EXECUTOR_BUILDER_LOCK_DIR", setup.LockDir()),
		DisableLock:       disableLock,
		DockerBinary:      env.String("EXECUTOR_BUILDER_DOCKER", build.DefaultDockerBinary),
		DocsCommand:       env.List("EXECUTOR_BUILDER_DOCS_COMMAND", DefaultDocsCommand),
		DocumentPath:      env.String("EXECUTOR_BUILDER_DOCUMENT_PATH", ""),
		SDKCommand:        env.List("EXECUTOR_BUILDER_SDK_COMMAND", DefaultSDKCommand),
		Timeout:           timeout,
		KafkaBrokers:      env.List("EXECUTOR_BUILDER_KAFKA_BROKERS", nil),
		KafkaTopic:        env.String("EXECUTOR_BUILDER_KAFKA_TOPIC", DefaultKafkaTopic),
		FailOnNonzeroExit: failOnNonzero,
		VerifyImage:       verifyImage,
	}, nil
}

// Environment holds the wired collaborators of a configuration. Close
// releases the connections it opened.
type Environment struct {
	Service  *build.BuildService
	Registry *repositories.Registry
	History  *local.LocalBuildRepository

	closers []io.Closer
}

// Open wires repositories, generators, the process supervisor, progress
// sinks, the package locker and the build history described by opts.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Environment, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")
	environment := &Environment{}

	store, err := environment.openStore(ctx, opts, logger)
	if err != nil {
		environment.Close()
		return nil, err
	}
	environment.Registry = &repositories.Registry{
		Store:  store,
		Layout: repositories.PackageLayout{Root: opts.PackagesDir, ImagePrefix: opts.ImagePrefix},
		Logger: logger.With("component", "registry"),
	}

	if opts.BuildsDir != "" {
		environment.History = &local.LocalBuildRepository{BaseDir: opts.BuildsDir}
	}

	service := &build.BuildService{
		Logger:             logger.With("component", "build"),
		ExecutorRepository: environment.Registry,
		DocsGenerator: &generators.DocsGenerator{
			Logger:       logger.With("component", "docs"),
			Command:      opts.DocsCommand,
			DocumentPath: opts.DocumentPath,
		},
		SDKBuilder: &generators.SDKBuilder{
			Logger:  logger.With("component", "sdk"),
			Command: opts.SDKCommand,
		},
		Runner: &process.Supervisor{
			Logger:  logger.With("component", "process"),
			Timeout: opts.Timeout,
		},
		MarkerDir:         opts.MarkerDir,
		DockerBinary:      opts.DockerBinary,
		FailOnNonzeroExit: opts.FailOnNonzeroExit,
	}
	if environment.History != nil {
		service.History = environment.History
	}

	switch {
	case opts.DisableLock:
	case opts.LockDir == "":
		service.Locker = build.NewMutexLocker()
	default:
		service.Locker = &build.FileLocker{Dir: opts.LockDir}
	}

	sink, err := environment.openSinks(opts)
	if err != nil {
		environment.Close()
		return nil, err
	}
	service.Events = sink

	if opts.VerifyImage {
		inspector, err := images.NewDockerInspector()
		if err != nil {
			environment.Close()
			return nil, err
		}
		environment.closers = append(environment.closers, inspector)
		service.ImageInspector = inspector
	}

	environment.Service = service
	return environment, nil
}

func (e *Environment) openStore(ctx context.Context, opts Options, logger *slog.Logger) (repositories.ExecutorStore, error) {
	if opts.DatabaseURL == "" {
		if opts.RegistryPath == "" {
			store, err := embedded.NewEmbeddedExecutorRepository()
			if err != nil {
				return nil, err
			}
			logger.Debug("using built-in executors; created executors are not persisted")
			return store, nil
		}
		logger.Debug("using file registry", "path", opts.RegistryPath)
		return &local.LocalExecutorRepository{Path: opts.RegistryPath}, nil
	}

	cfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	cfg.URL = opts.DatabaseURL

	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	e.closers = append(e.closers, db)

	store := postgres.NewExecutorRepository(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("prepare registry schema: %w", err)
	}
	logger.Debug("using database registry")
	return store, nil
}

func (e *Environment) openSinks(opts Options) (progress.Sink, error) {
	var sinks []progress.Sink

	if len(opts.KafkaBrokers) > 0 {
		kafkaSink, err := progress.NewKafkaSink(progress.KafkaConfig{
			Brokers: opts.KafkaBrokers,
			Topic:   opts.KafkaTopic,
		})
		if err != nil {
			return nil, fmt.Errorf("configure kafka progress sink: %w", err)
		}
		e.closers = append(e.closers, kafkaSink)
		sinks = append(sinks, kafkaSink)
	}
	if opts.EventsOut != nil {
		sinks = append(sinks, progress.NewStreamSink(opts.EventsOut))
	}

	return progress.Combine(sinks...), nil
}

// Close releases every connection opened by Open.
func (e *Environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Build executes the end-to-end flow for one language or executor id. An
// empty recipient runs the build silently.
func Build(ctx context.Context, opts Options, token, recipient string, logger *slog.Logger) (*models.BuildResult, error) {
	if token == "" {
		return nil, fmt.Errorf("language or executor id is required")
	}

	environment, err := Open(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	defer environment.Close()

	return environment.Service.Run(ctx, &models.BuildRequest{
		Token:       token,
		RecipientID: recipient,
		RequestedAt: time.Now().UTC(),
	})
}

// ListExecutors returns every registered executor with its package path
// and image name.
func ListExecutors(ctx context.Context, opts Options, logger *slog.Logger) ([]models.ExecutorDefinition, error) {
	environment, err := Open(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	defer environment.Close()

	return environment.Registry.List(ctx)
}

// ListBuilds returns the most recent build records.
func ListBuilds(opts Options, limit int) ([]models.BuildRecord, error) {
	if opts.BuildsDir == "" {
		return nil, errors.New("builds directory is not configured")
	}
	history := &local.LocalBuildRepository{BaseDir: opts.BuildsDir}
	return history.List(limit)
}

// Serve runs the HTTP surface on addr until ctx is done.
func Serve(ctx context.Context, opts Options, addr string, logger *slog.Logger) error {
	logger = logging.Ensure(logger)

	environment, err := Open(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer environment.Close()

	var history server.BuildHistory
	if environment.History != nil {
		history = environment.History
	}

	if addr == "" {
		addr = DefaultListenAddress
	}
	srv := server.New(ctx, environment.Service, environment.Registry, history, logger.With("component", "server"))
	return srv.Listen(ctx, addr)
}
