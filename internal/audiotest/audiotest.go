// Package audiotest provides fixture generation and spectral checks for
// tests that run real ffmpeg jobs.
package audiotest

import (
	"errors"
	"io"
	"math"
	"os"
	"os/exec"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
)

// SampleRate is the rate of every generated fixture.
const SampleRate = 44100

// SkipIfNoFFmpeg skips the test if ffmpeg is not available.
func SkipIfNoFFmpeg(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
}

// WriteTone writes a mono 16-bit WAV sine tone of the given frequency and length.
func WriteTone(t testing.TB, path string, freq, seconds float64) {
	t.Helper()

	f, err := os.Create(path) // #nosec G304 - test fixture path
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer func() { _ = f.Close() }()

	n := int(seconds * SampleRate)
	data := make([]int, n)
	for i := range data {
		data[i] = int(0.5 * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close fixture encoder: %v", err)
	}
}

// ToneFile writes a tone fixture into dir and returns its path.
func ToneFile(t testing.TB, dir, name string, freq, seconds float64) string {
	t.Helper()
	path := dir + string(os.PathSeparator) + name
	WriteTone(t, path, freq, seconds)
	return path
}

// PCM is a decoded mono signal.
type PCM struct {
	Samples    []float64
	SampleRate int
}

// Seconds returns the signal length.
func (p PCM) Seconds() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// DecodeMP3 decodes r and downmixes it to mono.
func DecodeMP3(r io.Reader) (PCM, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return PCM{}, err
	}

	raw, err := io.ReadAll(dec)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return PCM{}, err
	}

	frames := len(raw) / 4
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(raw[4*i]) | uint16(raw[4*i+1])<<8)
		r := int16(uint16(raw[4*i+2]) | uint16(raw[4*i+3])<<8)
		samples[i] = (float64(l) + float64(r)) / 2 / 32768.0
	}
	return PCM{Samples: samples, SampleRate: dec.SampleRate()}, nil
}

// DecodeMP3File decodes the MP3 file at path.
func DecodeMP3File(t testing.TB, path string) PCM {
	t.Helper()
	f, err := os.Open(path) // #nosec G304 - test output path
	if err != nil {
		t.Fatalf("open mp3: %v", err)
	}
	defer func() { _ = f.Close() }()

	pcm, err := DecodeMP3(f)
	if err != nil {
		t.Fatalf("decode mp3: %v", err)
	}
	return pcm
}

// Level returns the normalized Goertzel magnitude of freq within the window
// [from, to) seconds. A full-scale tone at freq yields about 0.5 per unit
// of amplitude; absent tones stay close to zero.
func (p PCM) Level(freq, from, to float64) float64 {
	start := int(from * float64(p.SampleRate))
	end := int(to * float64(p.SampleRate))
	if start < 0 {
		start = 0
	}
	if end > len(p.Samples) {
		end = len(p.Samples)
	}
	n := end - start
	if n <= 0 {
		return 0
	}

	coeff := 2 * math.Cos(2*math.Pi*freq/float64(p.SampleRate))
	var s1, s2 float64
	for _, x := range p.Samples[start:end] {
		s0 := x + coeff*s1 - s2
		s2, s1 = s1, s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	return math.Sqrt(math.Max(power, 0)) / float64(n)
}
