// Package api exposes the executor over HTTP. It is a thin submission
// surface; all semantics live in the engine.
package api

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/engine"
)

// Server wires the executor into a fiber application
type Server struct {
	executor *engine.Executor
	history  stepflow.HistoryStore
	logger   zerolog.Logger
	app      *fiber.App
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHistory exposes recorded workflow results under /api/v1/history
func WithHistory(store stepflow.HistoryStore) Option {
	return func(s *Server) {
		s.history = store
	}
}

// NewServer creates the HTTP server around an executor
func NewServer(executor *engine.Executor, opts ...Option) *Server {
	s := &Server{
		executor: executor,
		logger:   zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.InfoLevel),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New()
	s.registerRoutes()
	return s
}

// App returns the underlying fiber application, used by tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until the context is done, then shuts down gracefully
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", addr).Msg("Starting HTTP server")
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down server...")
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "stepflow",
		})
	})

	v1 := s.app.Group("/api/v1")
	workflows := v1.Group("/workflows")

	workflows.Post("/", s.handleStart)
	workflows.Get("/", s.handleListActive)
	workflows.Get("/:id", s.handleGetState)
	workflows.Post("/:id/pause", s.handlePause)
	workflows.Post("/:id/resume", s.handleResume)
	workflows.Post("/:id/stop", s.handleStop)

	if s.history != nil {
		history := v1.Group("/history")
		history.Get("/", s.handleListHistory)
		history.Get("/:runId", s.handleGetHistory)
	}
}

// handleStart submits a workflow definition for asynchronous execution
func (s *Server) handleStart(c fiber.Ctx) error {
	var def stepflow.WorkflowDefinition
	if err := c.Bind().JSON(&def); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if validation := stepflow.Validate(&def); !validation.IsValid {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  "Workflow validation failed",
			"issues": validation.Errors,
		})
	}

	runID, _, err := s.executor.StartAsync(context.WithoutCancel(c.Context()), &def)
	if err != nil {
		if stepflow.IsAlreadyRunningError(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		s.logger.Error().Err(err).Str("workflow_id", def.ID).Msg("Failed to start workflow")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start workflow",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"runId":      runID,
		"workflowId": def.ID,
		"status":     stepflow.StatusRunning,
	})
}

func (s *Server) handleListActive(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"active": s.executor.ListActive(),
	})
}

func (s *Server) handleGetState(c fiber.Ctx) error {
	state, err := s.executor.GetState(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(state)
}

func (s *Server) handlePause(c fiber.Ctx) error {
	return s.lifecycle(c, s.executor.Pause, stepflow.StatusPaused)
}

func (s *Server) handleResume(c fiber.Ctx) error {
	return s.lifecycle(c, s.executor.Resume, stepflow.StatusRunning)
}

func (s *Server) handleStop(c fiber.Ctx) error {
	return s.lifecycle(c, s.executor.Stop, stepflow.StatusCancelled)
}

// lifecycle runs one control operation and maps its typed errors to
// HTTP statuses
func (s *Server) lifecycle(c fiber.Ctx, op func(string) error, resulting stepflow.Status) error {
	workflowID := c.Params("id")
	if err := op(workflowID); err != nil {
		status := fiber.StatusInternalServerError
		if we, ok := err.(*stepflow.WorkflowError); ok {
			switch we.Code {
			case stepflow.ErrCodeNotFound:
				status = fiber.StatusNotFound
			case stepflow.ErrCodeInvalidState:
				status = fiber.StatusConflict
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"workflowId": workflowID,
		"status":     resulting,
	})
}

func (s *Server) handleGetHistory(c fiber.Ctx) error {
	result, err := s.history.GetResult(c.Context(), c.Params("runId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(result)
}

func (s *Server) handleListHistory(c fiber.Ctx) error {
	filter := stepflow.HistoryFilter{
		WorkflowID: c.Query("workflowId"),
	}
	if raw := c.Query("status"); raw != "" {
		status := stepflow.Status(raw)
		filter.Status = &status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a non-negative integer",
			})
		}
		filter.Limit = limit
	}

	results, err := s.history.ListResults(c.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list workflow history")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list workflow history",
		})
	}
	return c.JSON(fiber.Map{
		"results": results,
	})
}
