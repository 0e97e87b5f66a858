package transcoder

import (
	"strconv"
	"time"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/recipe"
)

// flacMp3 decodes a FLAC source to PCM via the flac CLI and encodes it to
// MP3 via lame, chained with no intermediate file (spec §4.2 "decode once,
// stream through").
type flacMp3 struct {
	recipe recipe.TargetRecipe
	pipe   *execPipeline
	tag    []byte
}

func newFlacMp3(r recipe.TargetRecipe) *flacMp3 {
	return &flacMp3{recipe: r}
}

func (t *flacMp3) OpenInput(sourcePath string) error {
	p, err := newExecPipeline(sourcePath)
	if err != nil {
		return err
	}
	t.pipe = p
	lameArgs := lameArgsFor(t.recipe)
	argv := [][]string{
		{"flac", "--decode", "--stdout", "--silent", sourcePath},
		append([]string{"lame", "--silent"}, append(lameArgs, "-", "-")...),
	}
	return t.pipe.build(argv)
}

func (t *flacMp3) SourceMtime() time.Time { return t.pipe.sourceMtime() }

// PredictSize returns the full source file size plus the trailing tag as an
// upper bound (no compression ratio is applied); actual encoded size is
// normally smaller, satisfying the "never shrinks" estimate contract by
// construction since we never revise this number downward.
func (t *flacMp3) PredictSize() uint64 {
	info, err := statSize(t.pipe.sourcePath)
	if err != nil {
		return uint64(len(t.TrailingTag()))
	}
	return info + uint64(len(t.TrailingTag()))
}

func (t *flacMp3) OpenOutput(buf *buffer.Buffer) { t.pipe.openOutput(buf) }

func (t *flacMp3) Step() (StepOutcome, error) { return t.pipe.step() }

func (t *flacMp3) Finish() error {
	if err := t.pipe.finish(); err != nil {
		return err
	}
	t.tag = BuildID3v1Tag(tagFieldsFromPath(t.pipe.sourcePath))
	return t.pipe.buf.Splice(t.tag, t.pipe.buf.Watermark())
}

func (t *flacMp3) TrailingTag() []byte {
	if t.tag == nil {
		t.tag = BuildID3v1Tag(tagFieldsFromPath(t.pipe.sourcePath))
	}
	return t.tag
}

// lameArgsFor renders a TargetRecipe into lame CLI flags.
func lameArgsFor(r recipe.TargetRecipe) []string {
	var args []string
	switch {
	case r.VBR:
		q := r.EncoderQuality
		if q == 0 {
			q = 2
		}
		args = append(args, "-V", strconv.Itoa(q))
	case r.BitrateKbps > 0:
		args = append(args, "-b", strconv.Itoa(r.BitrateKbps))
	default:
		args = append(args, "-b", "192")
	}
	if r.SampleRateCap > 0 {
		args = append(args, "--resample", strconv.Itoa(r.SampleRateCap))
	}
	if !r.ReplayGain {
		args = append(args, "--noreplaygain")
	}
	return args
}
