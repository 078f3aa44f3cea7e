package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/puttr/internal/config"
	"github.com/italolelis/puttr/internal/downloader"
	"github.com/italolelis/puttr/internal/executor"
	"github.com/italolelis/puttr/internal/http/rest"
	"github.com/italolelis/puttr/internal/inventory"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/notifier"
	"github.com/italolelis/puttr/internal/remote"
	"github.com/italolelis/puttr/internal/storage/sqlite"
	"github.com/italolelis/puttr/internal/syncer"
	"github.com/italolelis/puttr/internal/telemetry"
	"github.com/spf13/afero"
)

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("puttr starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    cfg.TelemetryServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		ExportInterval: cfg.TelemetryExportInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	downloads := sqlite.NewInstrumentedDownloadRepository(database, tel)
	cycles := sqlite.NewInstrumentedCycleRepository(database, tel)

	reset, err := downloads.ResetStaleClaims(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset stale download claims: %w", err)
	}

	if reset > 0 {
		logger.Warn("reset download claims left by a previous run", "count", reset)
	}

	// =========================================================================
	// Start Sync Coordinator
	fs := afero.NewOsFs()

	svc := remote.NewInstrumentedClient(
		remote.NewClient(cfg.RemoteHost, cfg.RemoteAuthKey, &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: tel.Transport(nil),
		}),
		tel,
	)

	dl := downloader.New(fs, svc, newTransferClient(cfg, tel), downloader.Config{
		TempRoot:     cfg.TempDir,
		StorageRoot:  cfg.StorageDir,
		ChunkSize:    cfg.ChunkSize,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		StallTimeout: cfg.StallTimeout,
		MaxParallel:  cfg.MaxParallel,
	},
		downloader.WithJournal(downloads),
		downloader.WithTelemetry(tel),
		downloader.WithInstanceID(downloader.GenerateInstanceID()),
	)

	s := syncer.New(fs,
		syncer.Config{
			TempRoot:       cfg.TempDir,
			StorageRoot:    cfg.StorageDir,
			KeepPartialFor: cfg.KeepPartialFor,
		},
		svc,
		inventory.NewScanner(fs, cfg.StorageDir),
		executor.New(fs, cfg.StorageDir),
		dl,
		syncer.WithCycleRepository(cycles),
		syncer.WithDownloadJournal(downloads),
		syncer.WithNotifier(notifier.New(cfg.DiscordWebhookURL, &http.Client{Timeout: cfg.RequestTimeout})),
		syncer.WithTelemetry(tel),
	)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, s, downloads, cycles, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Main Loop
	syncDone := make(chan error, 1)

	go func() {
		syncDone <- s.Run(ctx, cfg.SyncInterval)
	}()

	logger.Info("sync client running",
		"storage_dir", cfg.StorageDir,
		"temp_dir", cfg.TempDir,
		"sync_interval", cfg.SyncInterval.String(),
		"max_parallel", cfg.MaxParallel,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		select {
		case <-syncDone:
		case <-shutdownCtx.Done():
			logger.Warn("sync cycle did not stop before the shutdown deadline")
		}

		return ctx.Err()
	}
}

// newTransferClient returns the client used for file transfers. It has no
// overall timeout; stalled streams are aborted by the downloader.
func newTransferClient(cfg *config.Config, tel *telemetry.Telemetry) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = cfg.RequestTimeout

	return &http.Client{Transport: tel.Transport(base)}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	s *syncer.Syncer,
	downloads *sqlite.InstrumentedDownloadRepository,
	cycles *sqlite.InstrumentedCycleRepository,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewStatusHandler(cfg.Web.Username, cfg.Web.Password, s, downloads, cycles, tel.Handler())

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:              cfg.Web.BindAddress,
		ReadTimeout:       cfg.Web.ReadTimeout,
		ReadHeaderTimeout: cfg.Web.ReadTimeout,
		WriteTimeout:      cfg.Web.WriteTimeout,
		IdleTimeout:       cfg.Web.IdleTimeout,
		Handler:           tel.HTTPHandler(r, "puttr-api"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
