// Package storage manages the temporary files that live for the duration of
// a single request: uploaded parts and produced artifacts.
// It defines the Storage interface (port) and implementations for local
// disk and, optionally, S3 archiving of produced artifacts.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrPartTooLarge is returned when an uploaded part exceeds the per-part limit.
var ErrPartTooLarge = errors.New("uploaded part exceeds size limit")

// UploadedPart is one user-submitted file persisted to temporary storage.
// It is owned by the request that created it and released when that
// request finishes.
type UploadedPart struct {
	// Field is the multipart form field the part was sent under.
	Field string
	// Path is the assigned temporary path on disk.
	Path string
	// Filename is the original client-side filename.
	Filename string
	// Size is the number of bytes written.
	Size int64
}

// Storage defines the temporary file lifecycle used by request handlers.
type Storage interface {
	// Persist writes data to a uniquely named file and returns the part.
	// Parts larger than limit bytes are removed and ErrPartTooLarge is
	// returned. A limit <= 0 disables the check.
	Persist(ctx context.Context, field, filename string, data io.Reader, limit int64) (UploadedPart, error)

	// OutputPath allocates a unique path for a produced file. No file is created.
	OutputPath(prefix, ext string) string

	// Release removes the given paths. Missing files are not an error,
	// so releasing the same set twice is safe.
	Release(ctx context.Context, paths ...string) error

	// Dir returns the directory holding every temporary file.
	Dir() string
}

// Archiver is implemented by storage backends that can keep a copy of a
// produced artifact beyond the request lifecycle.
type Archiver interface {
	// Archive uploads data under key and returns its public URL.
	Archive(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// Paths returns the temporary paths of the given parts.
func Paths(parts []UploadedPart) []string {
	paths := make([]string, 0, len(parts))
	for _, p := range parts {
		paths = append(paths, p.Path)
	}
	return paths
}
