package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"whisper-server/internal/config"
	"whisper-server/internal/device"
	"whisper-server/internal/diagnostics"
	"whisper-server/internal/jobs"
	"whisper-server/internal/models"
	"whisper-server/internal/server"
	"whisper-server/internal/transcribe"
)

const shutdownTimeout = 5 * time.Second

// App wires configuration, the job store, the executor, and the HTTP surface.
type App struct {
	Settings    config.Settings
	Store       *jobs.Store
	Diagnostics *diagnostics.Checker

	httpServer *http.Server
}

// New builds the application from persisted settings plus overrides.
func New(settingsPath string, override func(*config.Settings)) (*App, error) {
	store := config.NewYAMLStore(settingsPath)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if override != nil {
		override(&settings)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	setupLogging(settings.LogLevel)

	jobStore := jobs.NewStore()
	deviceCtx := device.NewContext(settings.NvidiaSMIBin)
	gate := models.NewProvisioner(settings.ModelCacheDir)
	engine := transcribe.NewWhisperCLI(settings.WhisperBin)
	prober := transcribe.NewFFprobeProber(settings.FFprobeBin)
	executor := transcribe.NewExecutor(
		jobStore, engine, prober, gate, deviceCtx,
		settings.ChunkDuration, settings.ChunkOverlap, settings.MaxRepeats,
	)

	srv := server.New(jobStore, executor, gate, deviceCtx)

	return &App{
		Settings:    settings,
		Store:       jobStore,
		Diagnostics: diagnostics.NewChecker(),
		httpServer: &http.Server{
			Addr:    settings.Addr(),
			Handler: srv.Router(),
		},
	}, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	report := a.Diagnostics.Run(a.Settings)
	for _, item := range report.Items {
		if item.Status == "fail" {
			log.Warn().Str("check", item.ID).Str("hint", item.Hint).Msg(item.Message)
		} else {
			log.Debug().Str("check", item.ID).Msg(item.Message)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.httpServer.Addr).Msg("whisper server listening")
		errCh <- a.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// setupLogging configures the global zerolog logger.
func setupLogging(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
