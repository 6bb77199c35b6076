package generators

import (
	"context"
	"fmt"
	"log/slog"
)

// SDKBuilder generates the SDK of a language into a directory by running
// Command followed by the language, the directory and, in clean mode, --clean.
type SDKBuilder struct {
	Logger  *slog.Logger
	Command []string
}

// Build generates the SDK for language into dir.
func (b *SDKBuilder) Build(ctx context.Context, language, dir string, clean bool) error {
	argv := append(append([]string(nil), b.Command...), language, dir)
	if clean {
		argv = append(argv, "--clean")
	}
	if len(b.Command) == 0 {
		argv = nil
	}

	if err := runCommand(ctx, b.logger(), argv); err != nil {
		return fmt.Errorf("build %s sdk: %w", language, err)
	}
	return nil
}

func (b *SDKBuilder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}
