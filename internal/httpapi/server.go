package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/jobs"
)

// Server exposes the job manager over HTTP and WebSocket.
type Server struct {
	manager *jobs.Manager
	cfg     config.Config
	logger  *slog.Logger
}

// New creates the HTTP surface in front of the job manager.
func New(manager *jobs.Manager, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{manager: manager, cfg: cfg, logger: logger}
}

// Router builds the echo instance with middleware and all routes.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     s.cfg.CORSOrigins,
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", s.cfg.MaxFileSize/1024+1024)))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status)
			return nil
		},
	}))

	e.GET("/health", s.handleHealth)

	api := e.Group("/api")
	api.GET("/config", s.handleConfig)
	api.POST("/upload", s.handleUpload)
	api.GET("/jobs/:id", s.handleJob)
	api.GET("/ws/:id", s.handleWebSocket)

	if info, err := os.Stat(s.cfg.FrontendDir); err == nil && info.IsDir() {
		e.Static("/", s.cfg.FrontendDir)
		s.logger.Info("serving frontend", "dir", s.cfg.FrontendDir)
	}

	return e
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// configResponse describes the submission options the frontend offers.
type configResponse struct {
	Languages           []string `json:"languages"`
	ConversationTypes   []string `json:"conversation_types"`
	SupportedExtensions []string `json:"supported_extensions"`
	MaxFileSize         int64    `json:"max_file_size"`
}

// handleConfig serves the submission options.
func (s *Server) handleConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, configResponse{
		Languages:           s.cfg.Languages,
		ConversationTypes:   s.cfg.ConversationTypes,
		SupportedExtensions: s.cfg.SupportedExtensions,
		MaxFileSize:         s.cfg.MaxFileSize,
	})
}

// handleUpload validates a multipart submission and starts a job.
func (s *Server) handleUpload(c echo.Context) error {
	language := c.FormValue("language")
	if !slices.Contains(s.cfg.Languages, language) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid language: %s", language))
	}

	conversationType := c.FormValue("conversation_type")
	if !slices.Contains(s.cfg.ConversationTypes, conversationType) {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("Invalid conversation type: %s", conversationType))
	}

	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No file provided")
	}
	if header.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No filename provided")
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(s.cfg.SupportedExtensions, ext) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(
			"Unsupported file format: %s. Supported: %s",
			ext, strings.Join(s.cfg.SupportedExtensions, ", ")))
	}

	if header.Size > s.cfg.MaxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf(
			"File too large. Maximum size: %dMB", s.cfg.MaxFileSize/(1024*1024)))
	}

	src, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process upload")
	}
	defer src.Close()

	id, err := s.manager.Submit(jobs.Submission{
		Filename:         header.Filename,
		Language:         language,
		ConversationType: conversationType,
		Payload:          src,
	})
	if err != nil {
		s.logger.Error("submit upload", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process upload")
	}

	return c.JSON(http.StatusOK, map[string]string{"job_id": id})
}

// handleJob serves a job snapshot.
func (s *Server) handleJob(c echo.Context) error {
	job, err := s.manager.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load job")
	}
	return c.JSON(http.StatusOK, job)
}
