package transcoder

import (
	"io"
	"os"
	"time"

	"github.com/castfs/castfs/internal/buffer"
)

// passthroughChunkSize bounds how much of the source passthrough copies per
// Step call, matching stepChunkSize's responsiveness goal.
const passthroughChunkSize = stepChunkSize

// passthrough streams the source file unmodified into the sink buffer, used
// when recipe.AutoCopy is set and the source is already compatible with the
// requested format (SPEC_FULL §6). It is the only Transcoder that never
// spawns an external process.
type passthrough struct {
	sourcePath string
	info       os.FileInfo
	file       *os.File
	buf        *buffer.Buffer
	done       bool
}

func newPassthrough() *passthrough { return &passthrough{} }

func (t *passthrough) OpenInput(sourcePath string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return ErrSourceMissing
	}
	if info.IsDir() {
		return ErrSourceCorrupt
	}
	f, err := os.Open(sourcePath)
	if err != nil {
		return ErrSourceMissing
	}
	t.sourcePath = sourcePath
	t.info = info
	t.file = f
	return nil
}

func (t *passthrough) SourceMtime() time.Time { return t.info.ModTime() }

func (t *passthrough) PredictSize() uint64 { return uint64(t.info.Size()) }

func (t *passthrough) OpenOutput(buf *buffer.Buffer) { t.buf = buf }

func (t *passthrough) Step() (StepOutcome, error) {
	if t.done {
		return EndOfStream, nil
	}
	chunk := make([]byte, passthroughChunkSize)
	n, err := t.file.Read(chunk)
	if n > 0 {
		if _, werr := t.buf.Append(chunk[:n]); werr != nil {
			return StepErrorOutcome, werr
		}
	}
	if err == io.EOF {
		t.done = true
		return EndOfStream, nil
	}
	if err != nil {
		return StepErrorOutcome, err
	}
	return Progress, nil
}

func (t *passthrough) Finish() error { return t.file.Close() }

func (t *passthrough) TrailingTag() []byte { return nil }
