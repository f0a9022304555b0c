// Package probe inspects produced MP3 artifacts.
package probe

import (
	"errors"
	"fmt"
	"os"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// ErrUnknownLength is returned when the decoder cannot determine the stream length.
var ErrUnknownLength = errors.New("probe: stream length unknown")

// go-mp3 always decodes to 16-bit little-endian stereo.
const bytesPerFrame = 4

// Duration returns the playback length in seconds of the MP3 file at path.
func Duration(path string) (float64, error) {
	f, err := os.Open(path) // #nosec G304 - path is an artifact generated by the service
	if err != nil {
		return 0, fmt.Errorf("probe: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("probe: decode: %w", err)
	}

	length := dec.Length()
	if length < 0 || dec.SampleRate() <= 0 {
		return 0, ErrUnknownLength
	}

	return float64(length/bytesPerFrame) / float64(dec.SampleRate()), nil
}
