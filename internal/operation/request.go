// Package operation turns validated uploads into media jobs and runs them.
// A Request is the typed form of one of the three supported
// transformations; Service executes it against a media.Processor and
// hands back the produced Artifact.
package operation

import (
	"github.com/maauso/audio-api/internal/storage"
)

// Kind identifies the transformation a Request asks for.
type Kind string

const (
	// KindJoin concatenates two or more inputs in submission order.
	KindJoin Kind = "join"
	// KindCut extracts a time range from one input.
	KindCut Kind = "cut"
	// KindMix overlays exactly two inputs.
	KindMix Kind = "mix"
)

// MaxJoinParts is the default upper bound on join inputs.
const MaxJoinParts = 10

// OutputPrefix returns the prefix used for produced filenames.
func (k Kind) OutputPrefix() string {
	switch k {
	case KindJoin:
		return "joined"
	case KindMix:
		return "mixed"
	default:
		return string(k)
	}
}

// IsValid returns true if the kind is one of the supported transformations.
func (k Kind) IsValid() bool {
	return k == KindJoin || k == KindCut || k == KindMix
}

// Request is a validated operation.
// Parts holds the inputs in submission order. Start and Duration are
// seconds and only meaningful for KindCut.
type Request struct {
	Kind     Kind
	Parts    []storage.UploadedPart
	Start    float64
	Duration float64
}

// InputPaths returns the temporary paths of the request inputs.
func (r Request) InputPaths() []string {
	return storage.Paths(r.Parts)
}

// Artifact is the single file produced by a successful operation.
// It lives until the response has been streamed.
type Artifact struct {
	Kind Kind
	// Path is the temporary location of the produced file.
	Path string
	// Filename is the name offered to the client for download.
	Filename string
	// Duration is the probed length in seconds, or 0 if unknown.
	Duration float64
}
