// Package server is the HTTP front door: it starts runs and streams their
// events as newline-delimited JSON, serves the run history and mounts the
// MCP tool server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/mcp"
	"github.com/tordrt/revolve/internal/pipeline"
	"github.com/tordrt/revolve/internal/progress"
	"github.com/tordrt/revolve/internal/store"
)

// Runner starts pipeline runs
type Runner interface {
	Run(ctx context.Context, task pipeline.Task) <-chan progress.Event
}

// RunRequest is the body of POST /api/v1/runs. Either Prompt or Messages
// must be set.
type RunRequest struct {
	Prompt   string        `json:"prompt"`
	Messages []llm.Message `json:"messages"`
	Tables   []string      `json:"tables"`
	TestMode *bool         `json:"test_mode"`
}

// Server holds the dependencies of the HTTP API
type Server struct {
	runner Runner
	store  store.Store
	logger *zap.Logger
	echo   *echo.Echo
}

// New builds the echo application. st and mcpServer may be nil.
func New(runner Runner, st store.Store, mcpServer *mcpserver.MCPServer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{runner: runner, store: st, logger: logger, echo: echo.New()}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/healthz", s.health)
	api := e.Group("/api/v1")
	api.POST("/runs", s.startRun)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)

	if mcpServer != nil {
		mux := http.NewServeMux()
		mcp.MountHTTPHandlers(mux, mcpServer)
		e.Any("/mcp/*", echo.WrapHandler(mux))
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.echo,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("address", addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// startRun streams the events of a new run
// (POST /api/v1/runs)
func (s *Server) startRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	task := pipeline.Task{Messages: req.Messages, Tables: req.Tables, TestMode: req.TestMode}
	if req.Prompt != "" {
		task.Messages = append(task.Messages, llm.UserMessage(req.Prompt))
	}
	if task.Prompt() == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	events := s.runner.Run(ctx, task)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	res.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(res)
	for e := range events {
		if err := enc.Encode(e); err != nil {
			s.logger.Warn("client went away", zap.Error(err))
			cancel()
			continue
		}
		res.Flush()
	}
	return nil
}

// listRuns returns the newest runs
// (GET /api/v1/runs?limit=N)
func (s *Server) listRuns(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history is disabled")
	}

	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}

	runs, err := s.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	return c.JSON(http.StatusOK, runs)
}

// getRun returns one run with its test records
// (GET /api/v1/runs/:id)
func (s *Server) getRun(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history is disabled")
	}

	run, err := s.store.LoadRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}
