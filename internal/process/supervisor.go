// Package process runs external commands on behalf of a build and streams
// their merged output back to the caller.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Hooks receive the lifecycle of a supervised command. They are called
// sequentially from the supervising goroutine; nil hooks are skipped.
type Hooks struct {
	OnStart func()
	OnLine  func(line string)
	OnExit  func(code int)
}

func (h Hooks) start() {
	if h.OnStart != nil {
		h.OnStart()
	}
}

func (h Hooks) line(line string) {
	if h.OnLine != nil {
		h.OnLine(line)
	}
}

func (h Hooks) exit(code int) {
	if h.OnExit != nil {
		h.OnExit(code)
	}
}

// Supervisor launches child processes and blocks until they terminate.
type Supervisor struct {
	Logger *slog.Logger
	// Timeout bounds the lifetime of each child. Zero disables it.
	Timeout time.Duration
	Dir     string
	Env     []string
	// Stdout and Stderr receive the output of RunDirect. They default to the
	// orchestrator's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Run starts argv with stdout and stderr joined into one pipe and forwards every
// line to hooks.OnLine in arrival order. The exit code is passed to hooks.OnExit
// and returned once the child has terminated.
//
// A nonzero exit is not an error. A child that cannot be started yields a
// *SpawnError and no hook is called.
func (s *Supervisor) Run(ctx context.Context, argv []string, hooks Hooks) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reader, writer, err := os.Pipe()
	if err != nil {
		return -1, &SpawnError{Command: commandName(argv), Err: fmt.Errorf("create output pipe: %w", err)}
	}

	cmd, err := s.command(ctx, argv)
	if err != nil {
		reader.Close()
		writer.Close()
		return -1, err
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return -1, &SpawnError{Command: commandName(argv), Err: err}
	}
	// The child owns the write end now; EOF arrives once it and its descendants exit.
	writer.Close()

	logger := s.logger().With("command", commandName(argv), "pid", cmd.Process.Pid)
	logger.Debug("child process started")
	hooks.start()

	stopWatch := context.AfterFunc(ctx, func() { reader.Close() })
	readErr := readLines(reader, hooks.line)
	stopWatch()
	reader.Close()

	waitErr := cmd.Wait()
	code := exitCode(cmd, waitErr)
	logger.Debug("child process exited", "exit_code", code)
	hooks.exit(code)

	if cause := context.Cause(ctx); cause != nil {
		return code, cause
	}
	if waitErr != nil && !isExitError(waitErr) {
		return code, fmt.Errorf("wait for %s: %w", commandName(argv), waitErr)
	}
	if readErr != nil {
		return code, fmt.Errorf("read output of %s: %w", commandName(argv), readErr)
	}
	return code, nil
}

// RunDirect runs argv with its output attached to the supervisor's Stdout and
// Stderr, without line streaming. It has the same exit and spawn semantics as Run.
func (s *Supervisor) RunDirect(ctx context.Context, argv []string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cmd, err := s.command(ctx, argv)
	if err != nil {
		return -1, err
	}
	cmd.Stdout = s.stdout()
	cmd.Stderr = s.stderr()

	if err := cmd.Start(); err != nil {
		return -1, &SpawnError{Command: commandName(argv), Err: err}
	}

	waitErr := cmd.Wait()
	code := exitCode(cmd, waitErr)
	s.logger().Debug("child process exited", "command", commandName(argv), "exit_code", code)

	if cause := context.Cause(ctx); cause != nil {
		return code, cause
	}
	if waitErr != nil && !isExitError(waitErr) {
		return code, fmt.Errorf("wait for %s: %w", commandName(argv), waitErr)
	}
	return code, nil
}

func (s *Supervisor) command(ctx context.Context, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, &SpawnError{Err: errors.New("empty command line")}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	// Run the child in its own process group so cancellation reaches the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd, nil
}

func (s *Supervisor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeoutCause(ctx, s.Timeout, fmt.Errorf("%w after %s", ErrTimeout, s.Timeout))
	}
	return context.WithCancel(ctx)
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Supervisor) stdout() io.Writer {
	if s.Stdout != nil {
		return s.Stdout
	}
	return os.Stdout
}

func (s *Supervisor) stderr() io.Writer {
	if s.Stderr != nil {
		return s.Stderr
	}
	return os.Stderr
}

// readLines calls fn for every newline-terminated line of r, with the line
// terminator removed. A trailing line without a newline is delivered too.
func readLines(r io.Reader, fn func(string)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			fn(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func commandName(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}
