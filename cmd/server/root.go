package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/audio-api/internal/bootstrap"
	"github.com/maauso/audio-api/internal/config"
	"github.com/maauso/audio-api/internal/server"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "audio-api",
		Short: "Audio join, cut and mix API server",
		Long: `Audio API - an HTTP service that joins, cuts and mixes uploaded audio.

Uploaded files are stored temporarily, processed with ffmpeg, and the
result is streamed back as an MP3 attachment. Configuration is read from
the environment (PORT, UPLOAD_DIR, MAX_UPLOAD_MB, PROCESS_TIMEOUT, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides PORT)")
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func run(ctx context.Context, portOverride int) error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if portOverride > 0 {
		cfg.Port = portOverride
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting audio API",
		slog.String("version", Version),
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("upload_dir", cfg.UploadDir),
		slog.Int("max_upload_mb", cfg.MaxUploadMB),
		slog.Int("max_join_files", cfg.MaxJoinFiles),
		slog.Duration("process_timeout", cfg.ProcessTimeout),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	router := server.NewRouter(deps.Handlers, logger, server.Config{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowCredentials: true,
	})

	// Uploads and processing both have to fit inside the write deadline.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       cfg.ProcessTimeout,
		WriteTimeout:      2 * cfg.ProcessTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown handling
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
