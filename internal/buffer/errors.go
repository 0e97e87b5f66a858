package buffer

import "errors"

// Sentinel errors per spec §4.1 ("Failure semantics"). Callers compare with
// errors.Is; these are not wrapped with additional context by the buffer
// itself, since the caller (CacheEntry) already knows which key/offset it
// was operating on and adds that context.
var (
	// ErrOutOfSpace is returned when reserve/append could not grow the
	// backing store to the requested size.
	ErrOutOfSpace = errors.New("buffer: out of space")
	// ErrIO is returned for persistent backing-store failures (mmap,
	// ftruncate, msync).
	ErrIO = errors.New("buffer: io error")
	// ErrInvalidRegion is returned when Splice targets bytes already
	// covered by the append frontier. Per spec §7 this is a programmer
	// error, not a runtime condition callers should recover from.
	ErrInvalidRegion = errors.New("buffer: invalid region")
)
