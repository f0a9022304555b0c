package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/maauso/audio-api/internal/operation"
	"github.com/maauso/audio-api/internal/storage"
)

// Response headers set on artifact downloads.
const (
	HeaderAudioDuration = "X-Audio-Duration"
	HeaderArchiveURL    = "X-Archive-URL"
)

// sendArtifact streams the artifact as an attachment.
// Once the status line is written, copy failures are only logged.
func (h *Handlers) sendArtifact(w http.ResponseWriter, a *operation.Artifact) {
	f, err := os.Open(a.Path) // #nosec G304 - path is generated by storage
	if err != nil {
		h.logger.Error("failed to open artifact",
			slog.String("path", a.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read processed audio", CodeDelivery)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("failed to stat artifact",
			slog.String("path", a.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read processed audio", CodeDelivery)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "audio/mpeg")
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if a.Duration > 0 {
		header.Set(HeaderAudioDuration, strconv.FormatFloat(a.Duration, 'f', 3, 64))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, f)
	if err != nil {
		h.logger.Warn("artifact delivery failed",
			slog.String("filename", a.Filename),
			slog.Int64("bytes_sent", n),
			slog.Int64("bytes_total", info.Size()),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Debug("artifact delivered",
		slog.String("filename", a.Filename),
		slog.Int64("bytes", n),
	)
}

// archive copies the artifact to long-term storage when the backend
// supports it. Failures never affect the download, and a slow backend
// delays it by at most archiveTimeout.
func (h *Handlers) archive(ctx context.Context, w http.ResponseWriter, a *operation.Artifact) {
	archiver, ok := h.store.(storage.Archiver)
	if !ok {
		return
	}

	f, err := os.Open(a.Path) // #nosec G304 - path is generated by storage
	if err != nil {
		h.logger.Warn("failed to open artifact for archive", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithTimeout(ctx, h.archiveTimeout)
	defer cancel()

	key := fmt.Sprintf("%s/%s", a.Kind, a.Filename)
	url, err := archiver.Archive(ctx, key, f)
	if err != nil {
		h.logger.Warn("failed to archive artifact",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}

	w.Header().Set(HeaderArchiveURL, url)
}

// release removes every temporary file of a request. It runs detached
// from the request context so a client disconnect cannot skip it.
func (h *Handlers) release(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	if err := h.store.Release(context.WithoutCancel(ctx), paths...); err != nil {
		h.logger.Warn("temporary file cleanup failed",
			slog.Int("paths", len(paths)),
			slog.String("error", err.Error()),
		)
	}
}
