package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrNotEnoughInputs is returned when fewer than two paths are given to Join.
	ErrNotEnoughInputs = errors.New("join requires at least two inputs")
	// ErrInvalidRange is returned when a cut start or duration is negative.
	ErrInvalidRange = errors.New("invalid range: start and duration must be non-negative")
)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// Join concatenates audio files with the concat filter.
// Inputs are re-encoded, so they may differ in codec or sample rate.
func (p *FFmpegProcessor) Join(ctx context.Context, inputs []string, output string) error {
	if len(inputs) < 2 {
		return fmt.Errorf("%w: got %d", ErrNotEnoughInputs, len(inputs))
	}
	return p.runFFmpeg(ctx, joinArgs(inputs, output))
}

// Cut extracts a time range, seeking on the input side.
func (p *FFmpegProcessor) Cut(ctx context.Context, input, output string, start, duration float64) error {
	if start < 0 || duration < 0 {
		return fmt.Errorf("%w: start=%.3f, duration=%.3f", ErrInvalidRange, start, duration)
	}
	return p.runFFmpeg(ctx, cutArgs(input, output, start, duration))
}

// Mix combines two inputs with the amix filter.
func (p *FFmpegProcessor) Mix(ctx context.Context, first, second, output string) error {
	return p.runFFmpeg(ctx, mixArgs(first, second, output))
}

// joinArgs builds: -y -i in0 ... -i inN -filter_complex [0:a]...[N:a]concat=n=N:v=0:a=1[a] -map [a] out
func joinArgs(inputs []string, output string) []string {
	args := []string{"-y"} // Overwrite output file
	var labels strings.Builder
	for i, in := range inputs {
		args = append(args, "-i", in)
		fmt.Fprintf(&labels, "[%d:a]", i)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[a]", labels.String(), len(inputs))

	return append(args,
		"-filter_complex", filter,
		"-map", "[a]", // Only the concatenated audio
		output,
	)
}

// cutArgs builds: -y -ss start -i in -t duration -vn out
func cutArgs(input, output string, start, duration float64) []string {
	return []string{
		"-y",
		"-ss", formatSeconds(start), // Input seek
		"-i", input,
		"-t", formatSeconds(duration), // Output duration
		"-vn", // Drop cover art / video streams
		output,
	}
}

// mixArgs builds: -y -i a -i b -filter_complex [0:a][1:a]amix=inputs=2:duration=longest[a] -map [a] out
func mixArgs(first, second, output string) []string {
	return []string{
		"-y",
		"-i", first,
		"-i", second,
		"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=longest[a]",
		"-map", "[a]",
		output,
	}
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// Keep the log short; only errors matter for diagnostics.
	args = append([]string{"-hide_banner", "-loglevel", "error"}, args...)

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status, or -1 if ffmpeg did not exit normally.
func (e *FFmpegError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Verify interface implementation at compile time.
var _ Processor = (*FFmpegProcessor)(nil)
