package cacheentry

import (
	"time"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/transcoder"
)

// fakeTranscoder is a deterministic, in-process stand-in for a Transcoder,
// used to drive CacheEntry's state machine without spawning any process.
type fakeTranscoder struct {
	chunks    [][]byte
	idx       int
	buf       *buffer.Buffer
	mtime     time.Time
	predicted uint64
	tag       []byte
	openErr   error
	stepErr   error
	finishErr error
	// infinite, when set, makes Step always report Progress without ever
	// reaching EndOfStream — used to exercise the suspend/abort path, which
	// only engages while the producer loop keeps iterating.
	infinite bool
	// gate, when non-nil, makes Step report Progress without consuming
	// chunks until the channel is closed — used to hold a producer in its
	// suspend-check loop long enough to observe the Suspended state.
	gate chan struct{}
}

func (f *fakeTranscoder) gateOpen() bool {
	if f.gate == nil {
		return true
	}
	select {
	case <-f.gate:
		return true
	default:
		return false
	}
}

func (f *fakeTranscoder) OpenInput(string) error       { return f.openErr }
func (f *fakeTranscoder) SourceMtime() time.Time       { return f.mtime }
func (f *fakeTranscoder) PredictSize() uint64          { return f.predicted }
func (f *fakeTranscoder) OpenOutput(b *buffer.Buffer)  { f.buf = b }
func (f *fakeTranscoder) TrailingTag() []byte          { return f.tag }

// Finish mirrors the real flacMp3/vorbisMp3 Finish: it splices the tag at
// the pre-tag watermark rather than appending it, so tests exercising
// finish() observe the same Splice-never-advances-watermark interaction
// the real transcoders do.
func (f *fakeTranscoder) Finish() error {
	if f.finishErr != nil {
		return f.finishErr
	}
	if len(f.tag) == 0 {
		return nil
	}
	return f.buf.Splice(f.tag, f.buf.Watermark())
}

func (f *fakeTranscoder) Step() (transcoder.StepOutcome, error) {
	if f.stepErr != nil {
		return transcoder.StepErrorOutcome, f.stepErr
	}
	if f.infinite || !f.gateOpen() {
		return transcoder.Progress, nil
	}
	if f.idx >= len(f.chunks) {
		return transcoder.EndOfStream, nil
	}
	chunk := f.chunks[f.idx]
	f.idx++
	if _, err := f.buf.Append(chunk); err != nil {
		return transcoder.StepErrorOutcome, err
	}
	return transcoder.Progress, nil
}
