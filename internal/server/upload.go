package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/maauso/audio-api/internal/storage"
)

// Upload errors mapped to client responses by writeUploadError.
var (
	errNotMultipart    = errors.New("request is not multipart/form-data")
	errUnexpectedField = errors.New("unexpected file field")
	errTooManyFiles    = errors.New("too many files")
	errValueTooLarge   = errors.New("form value too large")
)

// maxValueBytes bounds a single non-file form value.
const maxValueBytes = 4 << 10

// multipartOverhead covers part headers and text fields on top of file bytes.
const multipartOverhead = 1 << 20

// uploadContract binds a route to its upload field and limits.
type uploadContract struct {
	// field is the only form field accepted for files.
	field string
	// maxFiles is the most files accepted under field.
	maxFiles int
	// maxPartBytes is the per-file limit.
	maxPartBytes int64
}

// upload is the parsed form of one request.
type upload struct {
	parts  []storage.UploadedPart
	values map[string]string
}

// readUpload streams the multipart body, persisting each file part as it
// arrives. On error the parts persisted so far are still returned so the
// caller can release them.
func (h *Handlers) readUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, c uploadContract) (upload, error) {
	up := upload{values: make(map[string]string)}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return up, errNotMultipart
	}

	if c.maxPartBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(c.maxFiles)*c.maxPartBytes+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return up, fmt.Errorf("%w: %w", errNotMultipart, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return up, nil
		}
		if err != nil {
			return up, fmt.Errorf("read multipart: %w", err)
		}

		name := part.FormName()
		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, maxValueBytes+1))
			_ = part.Close()
			if err != nil {
				return up, fmt.Errorf("read form value %s: %w", name, err)
			}
			if len(value) > maxValueBytes {
				return up, fmt.Errorf("%w: %q exceeds %d bytes", errValueTooLarge, name, maxValueBytes)
			}
			up.values[name] = strings.TrimSpace(string(value))
			continue
		}

		if name != c.field {
			_ = part.Close()
			return up, fmt.Errorf("%w: %q (expected %q)", errUnexpectedField, name, c.field)
		}
		if len(up.parts) >= c.maxFiles {
			_ = part.Close()
			return up, fmt.Errorf("%w: at most %d allowed under %q", errTooManyFiles, c.maxFiles, c.field)
		}

		saved, err := h.store.Persist(ctx, name, part.FileName(), part, c.maxPartBytes)
		_ = part.Close()
		if err != nil {
			return up, err
		}
		up.parts = append(up.parts, saved)
	}
}

// writeUploadError maps an upload failure to a client response.
func (h *Handlers) writeUploadError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, storage.ErrPartTooLarge), errors.As(err, &maxBytesErr):
		writeError(w, http.StatusRequestEntityTooLarge, "uploaded file exceeds the size limit", CodeFileTooLarge)
	case errors.Is(err, errUnexpectedField):
		writeError(w, http.StatusBadRequest, err.Error(), CodeUnexpectedField)
	case errors.Is(err, errTooManyFiles):
		writeError(w, http.StatusBadRequest, err.Error(), CodeTooManyFiles)
	case errors.Is(err, errValueTooLarge):
		writeError(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case errors.Is(err, errNotMultipart):
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data upload", CodeInvalidUpload)
	default:
		h.logger.Error("failed to persist upload",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "could not read upload", CodeInvalidUpload)
	}
}
