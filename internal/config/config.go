// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidUploadLimit is returned when MAX_UPLOAD_MB is not positive.
	ErrInvalidUploadLimit = errors.New("config: MAX_UPLOAD_MB must be positive")
	// ErrInvalidJoinLimit is returned when MAX_JOIN_FILES is below 2.
	ErrInvalidJoinLimit = errors.New("config: MAX_JOIN_FILES must be at least 2")
	// ErrInvalidTimeout is returned when PROCESS_TIMEOUT is not positive.
	ErrInvalidTimeout = errors.New("config: PROCESS_TIMEOUT must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port       int    `env:"PORT, default=3000" json:"port"`
	CORSOrigin string `env:"CORS_ORIGIN, default=http://localhost:4200" json:"cors_origin"`

	// Storage settings
	UploadDir string `env:"UPLOAD_DIR, default=/tmp/audio-api/uploads" json:"upload_dir"`

	// Upload limits
	MaxUploadMB  int `env:"MAX_UPLOAD_MB, default=50" json:"max_upload_mb"`
	MaxJoinFiles int `env:"MAX_JOIN_FILES, default=10" json:"max_join_files"`

	// Processing settings
	FFmpegPath     string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	ProcessTimeout time.Duration `env:"PROCESS_TIMEOUT, default=5m" json:"process_timeout"`

	// Optional S3 archive settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 archive configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxUploadBytes returns the per-part upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that limits and timeouts are usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxUploadMB <= 0 {
		return ErrInvalidUploadLimit
	}
	if c.MaxJoinFiles < 2 {
		return ErrInvalidJoinLimit
	}
	if c.ProcessTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, CORSOrigin: %s, UploadDir: %s, MaxUploadMB: %d, MaxJoinFiles: %d, FFmpegPath: %s, ProcessTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.CORSOrigin,
		c.UploadDir,
		c.MaxUploadMB,
		c.MaxJoinFiles,
		c.FFmpegPath,
		c.ProcessTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
