package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"audio-transcriber/internal/config"
	"audio-transcriber/internal/httpapi"
	"audio-transcriber/internal/jobs"
	"audio-transcriber/internal/transcribe"
)

// retentionSweepInterval is how often finished jobs are checked against
// the retention TTL.
const retentionSweepInterval = time.Hour

// App wires configuration, the job manager, the transcription client, and
// the HTTP surface.
type App struct {
	Config  config.Config
	Manager *jobs.Manager
	Logger  *slog.Logger

	server *echo.Echo
}

// New loads configuration from the given path (defaults when missing) and
// builds the application.
func New(configPath string) (*App, error) {
	cfg, err := config.NewYAMLStore(configPath).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds the application from explicit configuration.
func NewWithConfig(cfg config.Config) (*App, error) {
	logger := newLogger(cfg.LogLevel)

	transcriber := transcribe.NewClient(transcribe.Config{
		APIKey:        cfg.Gemini.APIKey,
		Model:         cfg.Gemini.Model,
		FallbackModel: cfg.Gemini.FallbackModel,
		Pricing: transcribe.Pricing{
			InputPerMillion:  cfg.Gemini.InputCostPerMillion,
			OutputPerMillion: cfg.Gemini.OutputCostPerMillion,
		},
		Logger: logger,
	})

	manager := jobs.NewManager(transcriber, jobs.Config{
		UploadDir:  cfg.UploadDir,
		MaxWorkers: int64(cfg.MaxWorkers),
		Logger:     logger,
	})

	app := &App{
		Config:  cfg,
		Manager: manager,
		Logger:  logger,
		server:  httpapi.New(manager, cfg, logger).Router(),
	}
	return app, nil
}

// Run serves HTTP until ctx is cancelled, then drains: stop accepting
// requests, cancel in-flight jobs, and sweep finished jobs.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.Config.Host, a.Config.Port)
	a.Logger.Info("starting transcription server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sweeper := time.NewTicker(retentionSweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("serve: %w", err)
		case <-sweeper.C:
			a.Manager.Cleanup(time.Duration(a.Config.JobRetention))
		case <-ctx.Done():
			a.Logger.Info("shutting down transcription server")
			return a.shutdown()
		}
	}
}

// shutdown closes the listener, waits for executors, and drops all
// finished jobs.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.Manager.Close()
	a.Manager.Cleanup(0)
	return err
}

// newLogger builds the JSON slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
