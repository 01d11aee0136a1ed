package server

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/usecase"
)

const (
	defaultExecutionLimit = 20
	defaultLogLimit       = 50
)

// StatusProvider is the read-only view of the pipeline the server exposes.
type StatusProvider interface {
	IsRunning() bool
	GetStatus(ctx context.Context) (usecase.Status, error)
	Executions(ctx context.Context, jobID string, limit int) ([]domain.JobExecution, error)
	Stats(ctx context.Context) (domain.ProcessingStats, error)
	SourceStatus(ctx context.Context, name string) (usecase.SourceStatus, error)
	ListSources(ctx context.Context) ([]domain.DataSource, error)
	Logs(ctx context.Context, documentID string, limit int) ([]domain.ProcessingLogEntry, error)
}

// Server is the operational status HTTP surface.
type Server struct {
	app      *fiber.App
	provider StatusProvider
	logger   arbor.ILogger
}

// New builds the fiber app and registers routes.
func New(provider StatusProvider, logger arbor.ILogger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		app:      fiber.New(fiber.Config{AppName: "technotes"}),
		provider: provider,
		logger:   logger,
	}
	s.app.Use(s.recoverAndLog)
	s.routes()
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)

	api := s.app.Group("/api/v1")
	api.Get("/jobs", s.jobs)
	api.Get("/jobs/:id/executions", s.executions)
	api.Get("/stats", s.stats)
	api.Get("/sources", s.sources)
	api.Get("/sources/:name/status", s.sourceStatus)
	api.Get("/logs", s.logs)
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("status server listening")
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) recoverAndLog(c fiber.Ctx) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("path", c.Path()).Msgf("panic recovered: %v", r)
			err = failure(c, fiber.StatusInternalServerError, messageInternal)
		}
		s.logger.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}()
	return c.Next()
}

func (s *Server) health(c fiber.Ctx) error {
	running := s.provider.IsRunning()
	status := "healthy"
	if !running {
		status = "degraded"
	}
	return success(c, fiber.Map{"status": status, "scheduler_running": running})
}

func (s *Server) jobs(c fiber.Ctx) error {
	status, err := s.provider.GetStatus(c.Context())
	if err != nil {
		return s.internal(c, err)
	}
	return success(c, status)
}

func (s *Server) executions(c fiber.Ctx) error {
	limit, ok := queryLimit(c, defaultExecutionLimit)
	if !ok {
		return failure(c, fiber.StatusBadRequest, messageInvalid)
	}
	execs, err := s.provider.Executions(c.Context(), c.Params("id"), limit)
	if err != nil {
		return s.internal(c, err)
	}
	if execs == nil {
		execs = []domain.JobExecution{}
	}
	return success(c, execs)
}

func (s *Server) stats(c fiber.Ctx) error {
	stats, err := s.provider.Stats(c.Context())
	if err != nil {
		return s.internal(c, err)
	}
	return success(c, stats)
}

func (s *Server) sourceStatus(c fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params("name"))
	if err != nil {
		return failure(c, fiber.StatusBadRequest, messageInvalid)
	}
	status, err := s.provider.SourceStatus(c.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return failure(c, fiber.StatusNotFound, messageNotFound)
		}
		return s.internal(c, err)
	}
	return success(c, status)
}

func (s *Server) sources(c fiber.Ctx) error {
	sources, err := s.provider.ListSources(c.Context())
	if err != nil {
		return s.internal(c, err)
	}
	return success(c, sources)
}

func (s *Server) logs(c fiber.Ctx) error {
	limit, ok := queryLimit(c, defaultLogLimit)
	if !ok {
		return failure(c, fiber.StatusBadRequest, messageInvalid)
	}
	entries, err := s.provider.Logs(c.Context(), c.Query("document"), limit)
	if err != nil {
		return s.internal(c, err)
	}
	return success(c, entries)
}

// queryLimit reads a positive ?limit= value, falling back to def when absent.
func queryLimit(c fiber.Ctx, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) internal(c fiber.Ctx, err error) error {
	s.logger.Error().Err(err).Str("path", c.Path()).Msg("status request failed")
	return failure(c, fiber.StatusInternalServerError, messageInternal)
}
