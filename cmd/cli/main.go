package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/executor-builder/config"
	"github.com/cochaviz/executor-builder/internal/logging"
	"github.com/cochaviz/executor-builder/internal/setup"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logger *slog.Logger
	root := newRootCommand(os.Stderr, &levelVar, &logger)
	if err := root.ExecuteContext(ctx); err != nil {
		if logger == nil {
			logger = logging.NewCLI(os.Stderr, &levelVar)
		}
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. The logger is constructed once the
// persistent flags are parsed and stored in *logger for main's error path.
func newRootCommand(stderr io.Writer, levelVar *slog.LevelVar, logger **slog.Logger) *cobra.Command {
	var (
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:           "executor-builder",
		Short:         "CLI for 'executor-builder': builds script executor images per language",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "cli", "Log output format (cli, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		levelVar.Set(level)

		*logger = logging.New(mode, stderr, levelVar)
		slog.SetDefault(*logger)
		setup.SetLogger((*logger).With("component", "setup"))
		return nil
	}

	current := func() *slog.Logger {
		return logging.Ensure(*logger)
	}

	root.AddCommand(
		newBuildCommand(current),
		newExecutorsCommand(current),
		newBuildsCommand(current),
		newSetupCommand(current),
		newServeCommand(current),
	)
	return root
}

func verifySetup(logger *slog.Logger, opts config.Options) error {
	if opts.DatabaseURL != "" || opts.RegistryPath != setup.RegistryPath {
		return nil
	}
	logger = logger.With("action", "verify_setup")
	logger.Debug("verifying setup state")
	if err := setup.Verify(); err != nil {
		logger.Error("setup verification failed", "error", err)
		logger.Info("run 'executor-builder setup' to initialize the configuration")
		return err
	}
	logger.Debug("setup verification succeeded")
	return nil
}

// bindOptions registers the flags shared by every command that opens a
// builder environment. Defaults already carry the environment overrides.
func bindOptions(cmd *cobra.Command, opts *config.Options) {
	flags := cmd.Flags()
	flags.StringVar(&opts.RegistryPath, "registry", opts.RegistryPath, "Executor registry file; empty serves the built-in executors from memory")
	flags.StringVar(&opts.DatabaseURL, "database-url", opts.DatabaseURL, "PostgreSQL registry URL; overrides --registry")
	flags.StringVar(&opts.PackagesDir, "packages-dir", opts.PackagesDir, "Directory holding docker-executor-<language> packages")
	flags.StringVar(&opts.ImagePrefix, "image-prefix", opts.ImagePrefix, "Repository prefix of derived image names")
	flags.StringVar(&opts.BuildsDir, "builds-dir", opts.BuildsDir, "Directory storing build history records")
}

func newBuildCommand(logger func() *slog.Logger) *cobra.Command {
	opts, optsErr := config.DefaultOptions()
	var eventsOut string

	cmd := &cobra.Command{
		Use:   "build <language-or-id> [recipient]",
		Args:  cobra.RangeArgs(1, 2),
		Short: "Build the script executor image of a language or executor id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if optsErr != nil {
				return optsErr
			}
			token := strings.TrimSpace(args[0])
			if token == "" {
				return fmt.Errorf("language or executor id is required")
			}
			var recipient string
			if len(args) == 2 {
				recipient = strings.TrimSpace(args[1])
			}

			cmdLogger := logger().With("command", "build", "token", token)
			if err := verifySetup(cmdLogger, opts); err != nil {
				return err
			}

			switch eventsOut {
			case "":
			case "-":
				opts.EventsOut = cmd.OutOrStdout()
			default:
				file, err := os.OpenFile(eventsOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open events output: %w", err)
				}
				defer file.Close()
				opts.EventsOut = file
			}

			result, err := config.Build(cmd.Context(), opts, token, recipient, cmdLogger)
			if err != nil {
				return err
			}

			if recipient == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\texit %d\n", result.Executor.ImageName, result.ExitCode)
			}
			return nil
		},
	}

	bindOptions(cmd, &opts)
	flags := cmd.Flags()
	flags.StringVar(&opts.DockerBinary, "docker", opts.DockerBinary, "Image build tool binary")
	flags.StringSliceVar(&opts.DocsCommand, "docs-command", opts.DocsCommand, "Command regenerating the API document")
	flags.StringVar(&opts.DocumentPath, "document", opts.DocumentPath, "OpenAPI document to validate after generation")
	flags.StringSliceVar(&opts.SDKCommand, "sdk-command", opts.SDKCommand, "SDK generator command; language, directory and --clean are appended")
	flags.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Kill the image build after this long (0 disables)")
	flags.StringSliceVar(&opts.KafkaBrokers, "kafka-brokers", opts.KafkaBrokers, "Kafka brokers receiving progress events")
	flags.StringVar(&opts.KafkaTopic, "kafka-topic", opts.KafkaTopic, "Kafka topic for progress events")
	flags.StringVar(&eventsOut, "events-out", "", "Write progress events as JSON lines to a file, or - for stdout")
	flags.StringVar(&opts.MarkerDir, "marker-dir", opts.MarkerDir, "Directory for run markers (defaults to the system temp dir)")
	flags.StringVar(&opts.LockDir, "lock-dir", opts.LockDir, "Directory for package locks; empty locks within this process only")
	flags.BoolVar(&opts.DisableLock, "no-lock", opts.DisableLock, "Do not serialize builds of the same package")
	flags.BoolVar(&opts.FailOnNonzeroExit, "fail-on-nonzero-exit", opts.FailOnNonzeroExit, "Treat a nonzero build exit as a failure")
	flags.BoolVar(&opts.VerifyImage, "verify-image", opts.VerifyImage, "Inspect the built image through the Docker Engine API")

	return cmd
}

func newExecutorsCommand(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executors",
		Short: "Inspect the executor registry",
	}
	cmd.AddCommand(newExecutorsListCommand(logger))
	return cmd
}

func newExecutorsListCommand(logger func() *slog.Logger) *cobra.Command {
	opts, optsErr := config.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered executors with their image names",
		RunE: func(cmd *cobra.Command, args []string) error {
			if optsErr != nil {
				return optsErr
			}
			cmdLogger := logger().With("command", "executors.list")
			if err := verifySetup(cmdLogger, opts); err != nil {
				return err
			}

			executors, err := config.ListExecutors(cmd.Context(), opts, cmdLogger)
			if err != nil {
				cmdLogger.Error("listing executors failed", "error", err)
				return err
			}
			if len(executors) == 0 {
				cmdLogger.Warn("no executors registered")
				return nil
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "ID\tLANGUAGE\tTITLE\tIMAGE")
			for _, executor := range executors {
				fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", executor.ID, executor.Language, executor.Title, executor.ImageName)
			}
			return out.Flush()
		},
	}

	bindOptions(cmd, &opts)
	return cmd
}

func newBuildsCommand(logger func() *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "Inspect the build history",
	}
	cmd.AddCommand(newBuildsListCommand(logger))
	return cmd
}

func newBuildsListCommand(logger func() *slog.Logger) *cobra.Command {
	opts, optsErr := config.DefaultOptions()
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent builds, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if optsErr != nil {
				return optsErr
			}
			cmdLogger := logger().With("command", "builds.list")

			records, err := config.ListBuilds(opts, limit)
			if err != nil {
				cmdLogger.Error("listing builds failed", "error", err)
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no builds")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BUILD\tLANGUAGE\tSTATE\tEXIT\tSTARTED")
			for _, record := range records {
				exit := "-"
				if record.ExitCode != nil {
					exit = fmt.Sprint(*record.ExitCode)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", record.BuildID, record.Language, record.State, exit, record.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.BuildsDir, "builds-dir", opts.BuildsDir, "Directory storing build history records")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of builds to show (0 for all)")
	return cmd
}

func newSetupCommand(logger func() *slog.Logger) *cobra.Command {
	var clearConfig bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Initialize the system with the default executor registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger().With("command", "setup")

			alreadyConfigured := false
			if err := setup.Verify(); err == nil {
				alreadyConfigured = true
			}

			if alreadyConfigured && !clearConfig {
				cmdLogger.Info("system already configured", "hint", "use 'executor-builder setup --clear' to reinitialize")
				return nil
			}

			if clearConfig {
				logArgs := []any{}
				if alreadyConfigured {
					logArgs = append(logArgs, "action", "reinitializing existing configuration")
				}
				cmdLogger.Info("clearing existing configuration", logArgs...)
				if err := setup.ClearConfig(); err != nil {
					cmdLogger.Error("clear configuration failed", "error", err)
					return fmt.Errorf("clear configuration: %w", err)
				}
				cmdLogger.Info("existing configuration cleared")
			}

			if err := setup.Initialize(); err != nil {
				cmdLogger.Error("initialization failed", "error", err)
				return fmt.Errorf("initialize: %w", err)
			}
			cmdLogger.Info("initialization completed", "registry", setup.RegistryPath, "packages", setup.PackagesDir)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&clearConfig, "clear", "C", false, "Remove existing setup configuration before initializing")

	return cmd
}

func newServeCommand(logger func() *slog.Logger) *cobra.Command {
	opts, optsErr := config.DefaultOptions()
	listen := config.DefaultListenAddress

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept build requests over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if optsErr != nil {
				return optsErr
			}
			cmdLogger := logger().With("command", "serve")
			if err := verifySetup(cmdLogger, opts); err != nil {
				return err
			}

			cmdLogger.Info("starting server; press Ctrl+C to stop", "listen", listen)
			if err := config.Serve(cmd.Context(), opts, listen, cmdLogger); err != nil {
				return err
			}
			cmdLogger.Info("server stopped")
			return nil
		},
	}

	bindOptions(cmd, &opts)
	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", listen, "Address to listen on")
	flags.StringVar(&opts.DockerBinary, "docker", opts.DockerBinary, "Image build tool binary")
	flags.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "Kill each image build after this long (0 disables)")
	flags.StringSliceVar(&opts.KafkaBrokers, "kafka-brokers", opts.KafkaBrokers, "Kafka brokers receiving progress events")
	flags.StringVar(&opts.KafkaTopic, "kafka-topic", opts.KafkaTopic, "Kafka topic for progress events")
	flags.StringVar(&opts.LockDir, "lock-dir", opts.LockDir, "Directory for package locks; empty locks within this process only")
	flags.BoolVar(&opts.FailOnNonzeroExit, "fail-on-nonzero-exit", opts.FailOnNonzeroExit, "Treat a nonzero build exit as a failure")
	flags.BoolVar(&opts.VerifyImage, "verify-image", opts.VerifyImage, "Inspect built images through the Docker Engine API")

	return cmd
}
