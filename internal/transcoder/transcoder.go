// Package transcoder defines the narrow, injected interface the cache core
// drives to produce encoded bytes (spec §4.2). Concrete implementations are
// thin wrappers over external codec processes (ffmpeg, flac, lame); the
// core never calls into a codec library directly.
package transcoder

import (
	"errors"
	"time"

	"github.com/castfs/castfs/internal/buffer"
)

// StepOutcome is the result of one Step call.
type StepOutcome int

const (
	// Progress means Step wrote zero or more bytes and more remain.
	Progress StepOutcome = iota
	// EndOfStream means the source is exhausted; Finish should be called.
	EndOfStream
	// StepErrorOutcome means the step failed; the caller should inspect
	// the returned error and transition the entry to Errored.
	StepErrorOutcome
)

// Sentinel errors per spec §7.
var (
	ErrSourceMissing   = errors.New("transcoder: source missing")
	ErrSourceCorrupt   = errors.New("transcoder: source corrupt")
	ErrUnsupportedCodec = errors.New("transcoder: unsupported codec")
)

// Transcoder is the sink-driven encoder contract. The core never manages
// threading, cancellation, or caching inside a Transcoder — all of that is
// driven externally by the producer goroutine (internal/cacheentry).
type Transcoder interface {
	// OpenInput opens sourcePath, failing with ErrSourceMissing,
	// ErrSourceCorrupt, or ErrUnsupportedCodec.
	OpenInput(sourcePath string) error
	// SourceMtime is valid after OpenInput.
	SourceMtime() time.Time
	// PredictSize returns a conservative upper bound on the final
	// encoded size. MAY be called after OpenInput and before any Step.
	// Need not equal the final encoded size (spec I7: the estimate must
	// never shrink in a later observation).
	PredictSize() uint64
	// OpenOutput binds the sink buffer that Step/Finish write into.
	OpenOutput(buf *buffer.Buffer)
	// Step advances the encode by a bounded amount of work, writing via
	// buf.Append or buf.Splice.
	Step() (StepOutcome, error)
	// Finish flushes encoder state and writes the trailing tag at the
	// agreed tail offset.
	Finish() error
	// TrailingTag returns the fixed-size tag appended after the encoded
	// payload (e.g. a 128-byte ID3v1 tag), sized per target recipe.
	TrailingTag() []byte
}

var (
	_ Transcoder = (*flacMp3)(nil)
	_ Transcoder = (*vorbisMp3)(nil)
	_ Transcoder = (*containerToMp4)(nil)
	_ Transcoder = (*passthrough)(nil)
)
