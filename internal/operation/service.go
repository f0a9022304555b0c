package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/audio-api/internal/media"
	"github.com/maauso/audio-api/internal/probe"
	"github.com/maauso/audio-api/internal/storage"
)

// DefaultTimeout bounds a single external processor run.
const DefaultTimeout = 5 * time.Minute

// outputExt is the container every operation produces.
const outputExt = ".mp3"

// DurationProber reports the playback length of a produced file.
type DurationProber func(path string) (float64, error)

// Service dispatches validated Requests to the media processor.
// It owns the output path of each run; inputs stay owned by the caller.
type Service struct {
	processor media.Processor
	store     storage.Storage
	logger    *slog.Logger
	timeout   time.Duration
	probe     DurationProber
	now       func() time.Time
}

// ServiceOption configures optional Service parameters.
type ServiceOption func(*Service)

// WithTimeout sets the bound on a single processor run.
func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProber replaces the duration probe. A nil prober disables probing.
func WithProber(p DurationProber) ServiceOption {
	return func(s *Service) {
		s.probe = p
	}
}

// NewService creates a new Service.
func NewService(processor media.Processor, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		processor: processor,
		store:     store,
		logger:    logger,
		timeout:   DefaultTimeout,
		probe:     probe.Duration,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs req and returns the produced artifact.
//
// On failure any partially written output is released before returning
// and the error is either ErrTimeout or a *ProcessingError. The caller
// remains responsible for releasing the request inputs and, on success,
// the artifact.
func (s *Service) Execute(ctx context.Context, req Request) (*Artifact, error) {
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("operation: unknown kind %q", req.Kind)
	}

	output := s.store.OutputPath(req.Kind.OutputPrefix(), outputExt)
	inputs := req.InputPaths()
	logger := s.logger.With(
		slog.String("op", string(req.Kind)),
		slog.Int("inputs", len(inputs)),
		slog.String("output", output),
	)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := s.now()
	logger.Info("operation started")

	err := s.run(runCtx, req, inputs, output)
	if err == nil {
		err = checkOutput(output)
	}
	if err != nil {
		if rerr := s.store.Release(context.WithoutCancel(ctx), output); rerr != nil {
			logger.Warn("failed to release partial output", slog.String("error", rerr.Error()))
		}
		return nil, s.classify(ctx, runCtx, logger, req.Kind, err)
	}

	artifact := &Artifact{
		Kind:     req.Kind,
		Path:     output,
		Filename: fmt.Sprintf("%s-%d%s", req.Kind.OutputPrefix(), s.now().UnixMilli(), outputExt),
	}

	if s.probe != nil {
		if d, perr := s.probe(output); perr == nil {
			artifact.Duration = d
		} else {
			logger.Debug("could not probe output duration", slog.String("error", perr.Error()))
		}
	}

	logger.Info("operation completed",
		slog.Duration("elapsed", s.now().Sub(started)),
		slog.Float64("duration_sec", artifact.Duration),
	)

	return artifact, nil
}

func (s *Service) run(ctx context.Context, req Request, inputs []string, output string) error {
	switch req.Kind {
	case KindJoin:
		return s.processor.Join(ctx, inputs, output)
	case KindCut:
		if len(inputs) != 1 {
			return fmt.Errorf("cut expects one input, got %d", len(inputs))
		}
		return s.processor.Cut(ctx, inputs[0], output, req.Start, req.Duration)
	case KindMix:
		if len(inputs) != 2 {
			return fmt.Errorf("mix expects two inputs, got %d", len(inputs))
		}
		return s.processor.Mix(ctx, inputs[0], inputs[1], output)
	default:
		return fmt.Errorf("unknown kind %q", req.Kind)
	}
}

// classify maps a processor failure to the error taxonomy and logs the
// diagnostic detail that clients never see.
func (s *Service) classify(parent, runCtx context.Context, logger *slog.Logger, kind Kind, err error) error {
	// The deadline belongs to this run, not to the caller.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		logger.Error("operation timed out", slog.Duration("timeout", s.timeout))
		return fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
	}

	attrs := []any{slog.String("error", err.Error())}
	var ffErr *media.FFmpegError
	if errors.As(err, &ffErr) {
		attrs = append(attrs,
			slog.Int("exit_code", ffErr.ExitCode()),
			slog.String("stderr", ffErr.Stderr),
		)
	}
	logger.Error("operation failed", attrs...)

	return &ProcessingError{Kind: kind, Err: err}
}

// checkOutput ensures the processor actually left a file behind.
func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("no output produced: %w", err)
	}
	if info.Size() == 0 {
		return errors.New("no output produced: empty file")
	}
	return nil
}
