package operation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/audio-api/internal/storage"
)

// ErrInvalidTimeSpec is returned by ParseTimeSpec for malformed values.
var ErrInvalidTimeSpec = errors.New("invalid time value")

var (
	secondsRe   = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)
	timestampRe = regexp.MustCompile(`^(?:(\d+):)?(\d+):(\d+(?:\.\d+)?)$`)
)

// ParseTimeSpec parses a non-negative time value in seconds.
// It accepts plain seconds ("12", "1.5") and timestamps ("01:30",
// "00:01:30.250") in the forms ffmpeg understands.
func ParseTimeSpec(s string) (float64, error) {
	s = strings.TrimSpace(s)

	if secondsRe.MatchString(s) {
		return finiteSeconds(s, s)
	}

	m := timestampRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeSpec, s)
	}

	var hours float64
	if m[1] != "" {
		h, err := finiteSeconds(m[1], s)
		if err != nil {
			return 0, err
		}
		hours = h
	}
	minutes, err := finiteSeconds(m[2], s)
	if err != nil {
		return 0, err
	}
	seconds, err := finiteSeconds(m[3], s)
	if err != nil {
		return 0, err
	}
	if seconds >= 60 || (m[1] != "" && minutes >= 60) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeSpec, s)
	}

	total := hours*3600 + minutes*60 + seconds
	if math.IsInf(total, 0) || math.IsNaN(total) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTimeSpec, s)
	}
	return total, nil
}

// finiteSeconds parses one numeric component of the full value s.
func finiteSeconds(component, s string) (float64, error) {
	v, err := strconv.ParseFloat(component, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTimeSpec, s)
	}
	return v, nil
}

// joinInput, cutInput and mixInput carry the per-operation upload contract.
type joinInput struct {
	Files []storage.UploadedPart `form:"mp3Files" validate:"min=2"`
}

type cutInput struct {
	File      []storage.UploadedPart `form:"mp3File" validate:"len=1"`
	StartTime string                 `form:"startTime" validate:"required,timespec"`
	Duration  string                 `form:"duration" validate:"required,timespec"`
}

type mixInput struct {
	Files []storage.UploadedPart `form:"mp3Files" validate:"len=2"`
}

// Validator checks the shape of incoming operations and builds Requests.
type Validator struct {
	validate *validator.Validate
	maxJoin  int
}

// NewValidator creates a Validator. maxJoin bounds the number of join
// inputs; values <= 0 fall back to MaxJoinParts.
func NewValidator(maxJoin int) *Validator {
	if maxJoin <= 0 {
		maxJoin = MaxJoinParts
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("form"); name != "" {
			return name
		}
		return fld.Name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("timespec", func(fl validator.FieldLevel) bool {
		_, err := ParseTimeSpec(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, maxJoin: maxJoin}
}

// Join validates a join of parts in submission order.
func (v *Validator) Join(parts []storage.UploadedPart) (Request, error) {
	if err := v.check(joinInput{Files: parts}); err != nil {
		return Request{}, err
	}
	if len(parts) > v.maxJoin {
		return Request{}, &ValidationError{
			Field:   "mp3Files",
			Message: fmt.Sprintf("at most %d files can be joined", v.maxJoin),
		}
	}
	return Request{Kind: KindJoin, Parts: parts}, nil
}

// Cut validates a cut of one part from startTime for duration.
func (v *Validator) Cut(parts []storage.UploadedPart, startTime, duration string) (Request, error) {
	in := cutInput{File: parts, StartTime: startTime, Duration: duration}
	if err := v.check(in); err != nil {
		return Request{}, err
	}

	// Both values already passed the timespec tag.
	start, _ := ParseTimeSpec(startTime)
	length, _ := ParseTimeSpec(duration)

	return Request{Kind: KindCut, Parts: parts, Start: start, Duration: length}, nil
}

// Mix validates a mix of exactly two parts.
func (v *Validator) Mix(parts []storage.UploadedPart) (Request, error) {
	if err := v.check(mixInput{Files: parts}); err != nil {
		return Request{}, err
	}
	return Request{Kind: KindMix, Parts: parts}, nil
}

// check runs struct validation and maps the first failure to a ValidationError.
func (v *Validator) check(in any) error {
	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate request: %w", err)
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("at least %s files are required", fe.Param())
	case "len":
		if fe.Param() == "1" {
			return "exactly one file is required"
		}
		return fmt.Sprintf("exactly %s files are required", fe.Param())
	case "required":
		return "is required"
	case "timespec":
		return "must be a non-negative number of seconds or a [HH:]MM:SS timestamp"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
