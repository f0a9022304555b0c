package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maauso/audio-api/internal/id"
)

// LocalStorage implements the Storage interface using local disk.
// Every file it hands out lives directly under one directory.
type LocalStorage struct {
	dir    string
	logger *slog.Logger
}

// NewLocalStorage creates a new LocalStorage instance.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir string, logger *slog.Logger) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "audio-api")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	return &LocalStorage{dir: dir, logger: logger}, nil
}

// Dir returns the upload directory path.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Persist saves data to <field>-<unix-ms>-<uuid><ext> under the upload directory.
func (s *LocalStorage) Persist(ctx context.Context, field, filename string, data io.Reader, limit int64) (UploadedPart, error) {
	select {
	case <-ctx.Done():
		return UploadedPart{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path := s.OutputPath(field, filepath.Ext(filename))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 - path is generated internally
	if err != nil {
		return UploadedPart{}, fmt.Errorf("create temp file: %w", err)
	}

	src := data
	if limit > 0 {
		// One byte past the limit is enough to tell an oversize part apart.
		src = io.LimitReader(data, limit+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return UploadedPart{}, fmt.Errorf("write temp file: %w", err)
	}
	if limit > 0 && n > limit {
		_ = f.Close()
		_ = os.Remove(path)
		return UploadedPart{}, fmt.Errorf("%w: %s > %d bytes", ErrPartTooLarge, filename, limit)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return UploadedPart{}, fmt.Errorf("close temp file: %w", err)
	}

	return UploadedPart{
		Field:    field,
		Path:     path,
		Filename: filename,
		Size:     n,
	}, nil
}

// OutputPath returns a fresh path under the upload directory.
func (s *LocalStorage) OutputPath(prefix, ext string) string {
	return filepath.Join(s.dir, id.Generate(sanitize(prefix))+sanitizeExt(ext))
}

// Release removes the given files.
// It continues even if some files fail to delete and returns every
// failure joined together. Files that are already gone are only logged.
func (s *LocalStorage) Release(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.logger.DebugContext(ctx, "temp file already removed",
					slog.String("path", p),
				)
				continue
			}
			errs = append(errs, fmt.Errorf("remove temp file %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// sanitize keeps a name prefix safe to embed in a filename.
func sanitize(prefix string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return -1
		}
	}, prefix)
	if clean == "" {
		return "file"
	}
	return clean
}

// sanitizeExt lower-cases an extension and drops it unless it is a short
// alphanumeric suffix such as ".mp3".
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > 8 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}

// Verify interface implementation at compile time.
var _ Storage = (*LocalStorage)(nil)
