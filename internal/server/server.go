// Package server exposes build requests and the executor registry over HTTP.
package server

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/cochaviz/executor-builder/internal/models"
)

const defaultBuildListLimit = 20

// Builder runs one build to completion.
type Builder interface {
	Run(ctx context.Context, request *models.BuildRequest) (*models.BuildResult, error)
}

// ExecutorLister lists the known executors.
type ExecutorLister interface {
	List(ctx context.Context) ([]models.ExecutorDefinition, error)
}

// BuildHistory reads stored build records.
type BuildHistory interface {
	Get(buildID string) (*models.BuildRecord, error)
	List(limit int) ([]models.BuildRecord, error)
}

// Server accepts build requests and runs them in the background. Builds
// outlive the request that started them and are bounded by the context
// passed to New.
type Server struct {
	app       *fiber.App
	builder   Builder
	executors ExecutorLister
	history   BuildHistory
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the server and its routes. history may be nil, in which
// case the build lookup routes answer 404.
func New(ctx context.Context, builder Builder, executors ExecutorLister, history BuildHistory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)

	s := &Server{
		app:       fiber.New(fiber.Config{DisableStartupMessage: true}),
		builder:   builder,
		executors: executors,
		history:   history,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	s.app.Get("/healthz", s.health)

	v1 := s.app.Group("/api").Group("/v1")
	v1.Get("/executors", s.listExecutors)

	builds := v1.Group("/builds")
	builds.Post("/", s.startBuild)
	builds.Get("/", s.listBuilds)
	builds.Get("/:id", s.getBuild)

	return s
}

// App exposes the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until ctx is done, then stops accepting requests
// and waits for running builds.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		_ = s.Shutdown(10 * time.Second)
		return err
	case <-ctx.Done():
	}

	if err := s.Shutdown(10 * time.Second); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown stops the HTTP listener, cancels running builds and waits for
// them to release their resources.
func (s *Server) Shutdown(timeout time.Duration) error {
	err := s.app.ShutdownWithTimeout(timeout)
	s.cancel()
	s.wg.Wait()
	return err
}

// Wait blocks until every background build has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

type startBuildRequest struct {
	Language  string `json:"language"`
	Recipient string `json:"recipient"`
}

func (s *Server) startBuild(c *fiber.Ctx) error {
	var req startBuildRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	req.Language = strings.TrimSpace(req.Language)
	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.Language == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "language is required",
		})
	}
	if req.Recipient == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "recipient is required",
		})
	}
	if s.ctx.Err() != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "server is shutting down",
		})
	}

	request := &models.BuildRequest{
		BuildID:     uuid.NewString(),
		Token:       req.Language,
		RecipientID: req.Recipient,
		RequestedAt: time.Now().UTC(),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger := s.logger.With("build_id", request.BuildID, "token", request.Token)
		if _, err := s.builder.Run(s.ctx, request); err != nil {
			logger.Warn("background build failed", "error", err)
			return
		}
		logger.Info("background build finished")
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"build_id": request.BuildID,
	})
}

func (s *Server) listExecutors(c *fiber.Ctx) error {
	executors, err := s.executors.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if executors == nil {
		executors = []models.ExecutorDefinition{}
	}
	return c.JSON(executors)
}

func (s *Server) listBuilds(c *fiber.Ctx) error {
	if s.history == nil {
		return c.JSON([]models.BuildRecord{})
	}
	limit := c.QueryInt("limit", defaultBuildListLimit)
	if limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be positive",
		})
	}

	records, err := s.history.List(limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if records == nil {
		records = []models.BuildRecord{}
	}
	return c.JSON(records)
}

func (s *Server) getBuild(c *fiber.Ctx) error {
	id := c.Params("id")
	if s.history == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "build history is disabled",
		})
	}

	record, err := s.history.Get(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if record == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "build not found",
		})
	}
	return c.JSON(record)
}
