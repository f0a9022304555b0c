package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/audio-api/internal/operation"
	"github.com/maauso/audio-api/internal/storage"
)

// DefaultMaxPartBytes is the per-file upload limit when none is configured.
const DefaultMaxPartBytes int64 = 50 << 20

// DefaultArchiveTimeout bounds the optional archive upload of one artifact.
const DefaultArchiveTimeout = 30 * time.Second

// Dispatcher runs a validated operation.
type Dispatcher interface {
	Execute(ctx context.Context, req operation.Request) (*operation.Artifact, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service      Dispatcher
	store        storage.Storage
	validator    *operation.Validator
	logger       *slog.Logger
	maxPartBytes int64
	maxJoinFiles int

	archiveTimeout time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxPartBytes sets the per-file upload limit.
func WithMaxPartBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxPartBytes = n
		}
	}
}

// WithMaxJoinFiles sets how many files a join accepts.
func WithMaxJoinFiles(n int) HandlerOption {
	return func(h *Handlers) {
		if n >= 2 {
			h.maxJoinFiles = n
		}
	}
}

// WithArchiveTimeout sets how long the archive upload may delay a download.
func WithArchiveTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.archiveTimeout = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service Dispatcher, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:      service,
		store:        store,
		logger:       logger,
		maxPartBytes: DefaultMaxPartBytes,
		maxJoinFiles: operation.MaxJoinParts,

		archiveTimeout: DefaultArchiveTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.validator = operation.NewValidator(h.maxJoinFiles)
	return h
}

// Root handles GET / with a plain-text liveness message.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, LivenessMessage)
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Join handles POST /api/join: 2 or more files under mp3Files.
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	contract := uploadContract{field: "mp3Files", maxFiles: h.maxJoinFiles, maxPartBytes: h.maxPartBytes}
	h.serveOperation(w, r, contract, func(up upload) (operation.Request, error) {
		return h.validator.Join(up.parts)
	})
}

// Cut handles POST /api/cut: one file under mp3File plus startTime and duration.
func (h *Handlers) Cut(w http.ResponseWriter, r *http.Request) {
	contract := uploadContract{field: "mp3File", maxFiles: 1, maxPartBytes: h.maxPartBytes}
	h.serveOperation(w, r, contract, func(up upload) (operation.Request, error) {
		return h.validator.Cut(up.parts, up.values["startTime"], up.values["duration"])
	})
}

// Mix handles POST /api/mix: exactly two files under mp3Files.
func (h *Handlers) Mix(w http.ResponseWriter, r *http.Request) {
	contract := uploadContract{field: "mp3Files", maxFiles: 2, maxPartBytes: h.maxPartBytes}
	h.serveOperation(w, r, contract, func(up upload) (operation.Request, error) {
		return h.validator.Mix(up.parts)
	})
}

// serveOperation runs persist, validate, execute and stream in order.
// Every temporary file it learns about is released when it returns,
// whichever step failed.
func (h *Handlers) serveOperation(w http.ResponseWriter, r *http.Request, c uploadContract, build func(upload) (operation.Request, error)) {
	ctx := r.Context()

	var owned []string
	defer func() { h.release(ctx, owned) }()

	up, err := h.readUpload(ctx, w, r, c)
	owned = storage.Paths(up.parts)
	if err != nil {
		h.logger.Warn("upload rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		h.writeUploadError(w, err)
		return
	}

	req, err := build(up)
	if err != nil {
		h.writeRequestError(w, r, err)
		return
	}

	artifact, err := h.service.Execute(ctx, req)
	if err != nil {
		h.writeOperationError(w, req.Kind, err)
		return
	}
	owned = append(owned, artifact.Path)

	h.archive(ctx, w, artifact)
	h.sendArtifact(w, artifact)
}

func (h *Handlers) writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *operation.ValidationError
	if errors.As(err, &vErr) {
		h.logger.Warn("request validation failed",
			slog.String("path", r.URL.Path),
			slog.String("field", vErr.Field),
			slog.String("error", vErr.Message),
		)
		writeError(w, http.StatusBadRequest, vErr.Error(), CodeValidation)
		return
	}

	h.logger.Error("request validation error", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
}

// writeOperationError maps dispatcher failures to responses. Diagnostic
// detail was already logged by the dispatcher and stays server-side.
func (h *Handlers) writeOperationError(w http.ResponseWriter, kind operation.Kind, err error) {
	var pErr *operation.ProcessingError
	switch {
	case errors.Is(err, operation.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("audio %s timed out", kind), CodeTimeout)
	case errors.As(err, &pErr):
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("error processing audio %s", kind), CodeProcessing)
	default:
		h.logger.Error("operation error", slog.String("op", string(kind)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
