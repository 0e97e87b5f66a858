package cacheentry

import "errors"

// Errors specific to the producer lifecycle. Transcoder- and buffer-level
// errors (SourceMissing, SourceCorrupt, UnsupportedCodec, OutOfSpace,
// IoError, InvalidRegion) propagate from internal/transcoder and
// internal/buffer unchanged.
var (
	// ErrAbortedIdle is set on an entry whose producer hit abort_threshold
	// with no attached readers.
	ErrAbortedIdle = errors.New("cacheentry: producer aborted after idle timeout")
	// ErrShutdownAborted is set on a producer interrupted by process shutdown.
	ErrShutdownAborted = errors.New("cacheentry: producer interrupted by shutdown")
)
