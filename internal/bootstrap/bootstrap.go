// Package bootstrap provides dependency initialization for the audio API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/audio-api/internal/config"
	"github.com/maauso/audio-api/internal/media"
	"github.com/maauso/audio-api/internal/operation"
	"github.com/maauso/audio-api/internal/probe"
	"github.com/maauso/audio-api/internal/server"
	"github.com/maauso/audio-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service  *operation.Service
	Storage  storage.Storage
	Handlers *server.Handlers
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)

	svc := operation.NewService(
		processor,
		store,
		logger,
		operation.WithTimeout(cfg.ProcessTimeout),
		operation.WithProber(probe.Duration),
	)

	handlers := server.NewHandlers(
		svc,
		store,
		logger,
		server.WithMaxPartBytes(cfg.MaxUploadBytes()),
		server.WithMaxJoinFiles(cfg.MaxJoinFiles),
	)

	return &Dependencies{
		Service:  svc,
		Storage:  store,
		Handlers: handlers,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.UploadDir, s3Cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 archive configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("upload_dir", cfg.UploadDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.UploadDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("upload_dir", cfg.UploadDir),
	)
	return localStore, nil
}
