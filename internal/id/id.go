// Package id provides collision-resistant names for temporary files.
package id

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generate creates a new unique name with the given prefix.
// Format: <prefix>-<unix-millis>-<uuid>
// Example: mp3Files-1701432000123-6f1c2d0e-8a4b-4f7e-9c1d-2b3a4c5d6e7f
//
// The millisecond timestamp keeps names sortable; the random UUID keeps
// concurrent requests within the same millisecond apart.
func Generate(prefix string) string {
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), uuid.NewString())
}
