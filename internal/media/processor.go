// Package media delegates audio transformations to an external processor.
package media

import "context"

// Processor defines the audio operations the service offers.
// Implementations shell out to ffmpeg or a similar tool; none of them
// touch audio samples in-process.
type Processor interface {
	// Join concatenates the inputs, in the given order, into output.
	Join(ctx context.Context, inputs []string, output string) error

	// Cut writes the range [start, start+duration) seconds of input to output.
	// Ranges running past the end of the input are truncated by the tool.
	Cut(ctx context.Context, input, output string, start, duration float64) error

	// Mix overlays two inputs into a single stream as long as the longer one.
	Mix(ctx context.Context, first, second, output string) error
}
