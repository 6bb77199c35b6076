// Package generators drives the external tools that regenerate the API document
// and the language SDKs an executor image is built from.
package generators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const outputTailLines = 20

// CommandError reports an external generator that failed.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Command)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := tailLines(e.Output, outputTailLines); tail != "" {
		b.WriteString(": ")
		b.WriteString(tail)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func runCommand(ctx context.Context, logger *slog.Logger, argv []string) error {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return errors.New("generator command is not configured")
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	logger.Debug("running generator", "command", strings.Join(argv, " "))
	err := cmd.Run()
	if out := strings.TrimSpace(output.String()); out != "" {
		logger.Debug("generator output", "command", argv[0], "output", out)
	}
	if err == nil {
		return nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &CommandError{
		Command:  strings.Join(argv, " "),
		ExitCode: code,
		Output:   output.String(),
		Err:      err,
	}
}

func tailLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
