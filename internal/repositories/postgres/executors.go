package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cochaviz/executor-builder/internal/models"
	"github.com/cochaviz/executor-builder/internal/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS script_executors (
	id         BIGSERIAL PRIMARY KEY,
	language   TEXT NOT NULL,
	title      TEXT NOT NULL,
	config     TEXT NOT NULL DEFAULT '',
	image_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS script_executors_language_idx ON script_executors (language, id);
`

const selectColumns = `SELECT id, language, title, config, image_name FROM script_executors`

// DB is the subset of *sql.DB the repository needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ repositories.ExecutorStore = (*ExecutorRepository)(nil)

// ExecutorRepository reads and writes the script_executors table.
type ExecutorRepository struct {
	db DB
}

func NewExecutorRepository(db DB) *ExecutorRepository {
	return &ExecutorRepository{db: db}
}

// EnsureSchema creates the executors table when it does not exist yet.
func (r *ExecutorRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create executors schema: %w", err)
	}
	return nil
}

func (r *ExecutorRepository) Get(ctx context.Context, id int64) (models.ExecutorDefinition, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	executor, err := scanExecutor(row)
	if err != nil {
		return models.ExecutorDefinition{}, handleNotFound(err, fmt.Sprintf("executor %d", id))
	}
	return executor, nil
}

func (r *ExecutorRepository) FirstByLanguage(ctx context.Context, language string) (models.ExecutorDefinition, error) {
	language = models.NormalizeLanguage(language)
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE language = $1 ORDER BY id LIMIT 1`, language)
	executor, err := scanExecutor(row)
	if err != nil {
		return models.ExecutorDefinition{}, handleNotFound(err, "executor for language "+language)
	}
	return executor, nil
}

func (r *ExecutorRepository) Create(ctx context.Context, executor models.ExecutorDefinition) (models.ExecutorDefinition, error) {
	executor.Language = models.NormalizeLanguage(executor.Language)
	if executor.Language == "" {
		return models.ExecutorDefinition{}, errors.New("executor language is required")
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO script_executors (language, title, config, image_name) VALUES ($1, $2, $3, $4) RETURNING id`,
		executor.Language, executor.Title, executor.Config, executor.ImageName,
	).Scan(&executor.ID)
	if err != nil {
		return models.ExecutorDefinition{}, fmt.Errorf("insert executor: %w", err)
	}
	executor.PackagePath = ""
	executor.DockerfileTemplate = ""
	return executor, nil
}

func (r *ExecutorRepository) List(ctx context.Context) ([]models.ExecutorDefinition, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	defer rows.Close()

	var executors []models.ExecutorDefinition
	for rows.Next() {
		executor, err := scanExecutor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan executor: %w", err)
		}
		executors = append(executors, executor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	return executors, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecutor(row scanner) (models.ExecutorDefinition, error) {
	var executor models.ExecutorDefinition
	err := row.Scan(&executor.ID, &executor.Language, &executor.Title, &executor.Config, &executor.ImageName)
	return executor, err
}

func handleNotFound(err error, subject string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", subject, repositories.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", subject, err)
}
