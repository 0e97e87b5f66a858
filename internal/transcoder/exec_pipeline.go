package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/castfs/castfs/internal/buffer"
)

// stepChunkSize bounds how much a single Step call reads from the codec
// pipeline's stdout, so the producer goroutine (internal/cacheentry) stays
// responsive to suspend/abort requests between steps.
const stepChunkSize = 256 * 1024

// execPipeline runs one or more chained external commands (e.g. "flac
// --decode --stdout" piped into "lame --silent -b N - -") and exposes their
// combined stdout as a Step-able byte source. Grounded on
// internal/materializer/hls.go's exec.CommandContext usage for ffmpeg.
type execPipeline struct {
	ctx        context.Context
	cancel     context.CancelFunc
	sourcePath string
	sourceInfo os.FileInfo
	cmds       []*exec.Cmd
	stdout     *bufio.Reader
	closer     io.Closer
	buf        *buffer.Buffer
	started    bool
	done       bool
}

// newExecPipeline stats sourcePath up front so OpenInput can fail fast with
// ErrSourceMissing without spawning any process.
func newExecPipeline(sourcePath string) (*execPipeline, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, ErrSourceMissing
	}
	if info.IsDir() {
		return nil, ErrSourceCorrupt
	}
	return &execPipeline{sourcePath: sourcePath, sourceInfo: info}, nil
}

func (p *execPipeline) sourceMtime() time.Time { return p.sourceInfo.ModTime() }

func (p *execPipeline) openOutput(buf *buffer.Buffer) { p.buf = buf }

// build constructs the command chain, piping argv[i]'s stdout into
// argv[i+1]'s stdin. The final command's stdout is captured for Step.
func (p *execPipeline) build(argvs [][]string) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	cmds := make([]*exec.Cmd, len(argvs))
	for i, argv := range argvs {
		cmds[i] = exec.CommandContext(p.ctx, argv[0], argv[1:]...)
		cmds[i].Stderr = nil // discarded; codec diagnostics aren't part of the cache
	}
	for i := 0; i < len(cmds)-1; i++ {
		pipe, err := cmds[i].StdoutPipe()
		if err != nil {
			p.cancel()
			return fmt.Errorf("transcoder: wiring pipeline: %w", err)
		}
		cmds[i+1].Stdin = pipe
	}
	last := cmds[len(cmds)-1]
	out, err := last.StdoutPipe()
	if err != nil {
		p.cancel()
		return fmt.Errorf("transcoder: opening pipeline output: %w", err)
	}
	for _, c := range cmds {
		if err := c.Start(); err != nil {
			p.cancel()
			return fmt.Errorf("%w: starting %s", ErrSourceCorrupt, c.Path)
		}
	}
	p.cmds = cmds
	p.stdout = bufio.NewReaderSize(out, stepChunkSize)
	p.closer = out
	p.started = true
	return nil
}

// step reads the next chunk from the pipeline's stdout and appends it to the
// bound buffer via Append (the normal monotone path; trailing tags are
// spliced separately in Finish).
func (p *execPipeline) step() (StepOutcome, error) {
	if !p.started {
		return StepErrorOutcome, fmt.Errorf("transcoder: step called before pipeline started")
	}
	if p.done {
		return EndOfStream, nil
	}
	chunk := make([]byte, stepChunkSize)
	n, err := p.stdout.Read(chunk)
	if n > 0 {
		if _, werr := p.buf.Append(chunk[:n]); werr != nil {
			return StepErrorOutcome, werr
		}
	}
	if err == io.EOF {
		p.done = true
		return EndOfStream, nil
	}
	if err != nil {
		return StepErrorOutcome, fmt.Errorf("%w: reading pipeline output: %v", ErrSourceCorrupt, err)
	}
	return Progress, nil
}

// finish waits for every process in the chain to exit cleanly.
func (p *execPipeline) finish() error {
	defer p.cancel()
	for _, c := range p.cmds {
		if err := c.Wait(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSourceCorrupt, c.Path, err)
		}
	}
	return nil
}
