package generators

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getkin/kin-openapi/openapi3"
)

// DocsGenerator regenerates the API document SDK generation reads from.
type DocsGenerator struct {
	Logger  *slog.Logger
	Command []string
	// DocumentPath, when set, is loaded and validated after the command ran.
	DocumentPath string
}

// Generate runs the docs command and validates the produced document.
func (g *DocsGenerator) Generate(ctx context.Context) error {
	logger := g.logger()

	if err := runCommand(ctx, logger, g.Command); err != nil {
		return fmt.Errorf("generate api document: %w", err)
	}
	if g.DocumentPath == "" {
		return nil
	}

	doc, err := ValidateDocument(ctx, g.DocumentPath)
	if err != nil {
		return err
	}
	logger.Debug("api document validated", "path", g.DocumentPath, "paths", doc.Paths.Len())
	return nil
}

// ValidateDocument loads an OpenAPI 3 document and checks it is well formed.
func ValidateDocument(ctx context.Context, path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load api document %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid api document %s: %w", path, err)
	}
	return doc, nil
}

func (g *DocsGenerator) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}
