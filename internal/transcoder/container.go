package transcoder

import (
	"strconv"
	"time"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/recipe"
)

// containerToMp4 remuxes/re-encodes an arbitrary source container to a
// streaming-friendly fragmented MP4 via a single ffmpeg invocation, grounded
// on internal/materializer/hls.go's ffmpeg exec.CommandContext pattern.
type containerToMp4 struct {
	recipe recipe.TargetRecipe
	pipe   *execPipeline
}

func newContainerToMp4(r recipe.TargetRecipe) *containerToMp4 {
	return &containerToMp4{recipe: r}
}

func (t *containerToMp4) OpenInput(sourcePath string) error {
	p, err := newExecPipeline(sourcePath)
	if err != nil {
		return err
	}
	t.pipe = p
	args := []string{"ffmpeg", "-hide_banner", "-loglevel", "error", "-i", sourcePath}
	if t.recipe.SampleRateCap > 0 {
		args = append(args, "-ar", strconv.Itoa(t.recipe.SampleRateCap))
	}
	if t.recipe.BitrateKbps > 0 {
		args = append(args, "-b:a", strconv.Itoa(t.recipe.BitrateKbps)+"k")
	}
	args = append(args,
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4", "pipe:1")
	return t.pipe.build([][]string{args})
}

func (t *containerToMp4) SourceMtime() time.Time { return t.pipe.sourceMtime() }

// PredictSize treats the source file's own size as the estimate: MP4
// remuxing rarely shrinks audio payloads by more than a small constant
// factor, and over-estimating only inflates the size getattr reports until
// the entry finishes, never correctness.
func (t *containerToMp4) PredictSize() uint64 {
	info, err := statSize(t.pipe.sourcePath)
	if err != nil {
		return 0
	}
	return info
}

func (t *containerToMp4) OpenOutput(buf *buffer.Buffer) { t.pipe.openOutput(buf) }

func (t *containerToMp4) Step() (StepOutcome, error) { return t.pipe.step() }

// Finish has no trailing tag to splice; MP4's own moov/moof atoms carry
// metadata, so the fixed-tag mechanism is unused for this format.
func (t *containerToMp4) Finish() error { return t.pipe.finish() }

func (t *containerToMp4) TrailingTag() []byte { return nil }
