package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// AllowCredentials lets browsers send cookies and auth headers.
	AllowCredentials bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:   []string{"http://localhost:4200"},
		AllowCredentials: true,
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// Each operation is served under /api and under a bare alias.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /health", h.Health)

	for _, prefix := range []string{"/api", ""} {
		mux.HandleFunc("POST "+prefix+"/join", h.Join)
		mux.HandleFunc("POST "+prefix+"/cut", h.Cut)
		mux.HandleFunc("POST "+prefix+"/mix", h.Mix)
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins, cfg.AllowCredentials),
	)

	return chain(mux)
}
