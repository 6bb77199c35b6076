package build

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/cochaviz/executor-builder/internal/models"
)

// ExecutorToken is a parsed language-or-id build argument.
type ExecutorToken struct {
	ID       int64
	Language string
	ByID     bool
}

// ParseExecutorToken interprets a nonnegative base-10 integer as an executor
// id and anything else as a language name. Language names are lower-cased
// and restricted to letters, digits, '.', '_' and '-'.
func ParseExecutorToken(token string) (ExecutorToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ExecutorToken{}, errors.New("language or executor id is required")
	}

	if isDigits(token) {
		id, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return ExecutorToken{}, err
		}
		return ExecutorToken{ID: id, ByID: true}, nil
	}
	language := models.NormalizeLanguage(token)
	if err := models.ValidateLanguage(language); err != nil {
		return ExecutorToken{}, err
	}
	return ExecutorToken{Language: language}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func resolveExecutor(ctx context.Context, repository ExecutorRepository, token string) (models.ExecutorDefinition, error) {
	parsed, err := ParseExecutorToken(token)
	if err != nil {
		return models.ExecutorDefinition{}, err
	}
	if parsed.ByID {
		return repository.GetByID(ctx, parsed.ID)
	}
	return repository.InitialExecutor(ctx, parsed.Language)
}
