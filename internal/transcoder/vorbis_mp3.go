package transcoder

import (
	"time"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/recipe"
)

// vorbisMp3 decodes an Ogg Vorbis source via oggdec and encodes to MP3 via
// lame, mirroring flacMp3's pipeline shape with a different decoder leg.
type vorbisMp3 struct {
	recipe recipe.TargetRecipe
	pipe   *execPipeline
	tag    []byte
}

func newVorbisMp3(r recipe.TargetRecipe) *vorbisMp3 {
	return &vorbisMp3{recipe: r}
}

func (t *vorbisMp3) OpenInput(sourcePath string) error {
	p, err := newExecPipeline(sourcePath)
	if err != nil {
		return err
	}
	t.pipe = p
	lameArgs := lameArgsFor(t.recipe)
	argv := [][]string{
		{"oggdec", "--quiet", "--output=-", sourcePath},
		append([]string{"lame", "--silent"}, append(lameArgs, "-", "-")...),
	}
	return t.pipe.build(argv)
}

func (t *vorbisMp3) SourceMtime() time.Time { return t.pipe.sourceMtime() }

func (t *vorbisMp3) PredictSize() uint64 {
	info, err := statSize(t.pipe.sourcePath)
	if err != nil {
		return uint64(len(t.TrailingTag()))
	}
	return info + uint64(len(t.TrailingTag()))
}

func (t *vorbisMp3) OpenOutput(buf *buffer.Buffer) { t.pipe.openOutput(buf) }

func (t *vorbisMp3) Step() (StepOutcome, error) { return t.pipe.step() }

func (t *vorbisMp3) Finish() error {
	if err := t.pipe.finish(); err != nil {
		return err
	}
	t.tag = BuildID3v1Tag(tagFieldsFromPath(t.pipe.sourcePath))
	return t.pipe.buf.Splice(t.tag, t.pipe.buf.Watermark())
}

func (t *vorbisMp3) TrailingTag() []byte {
	if t.tag == nil {
		t.tag = BuildID3v1Tag(tagFieldsFromPath(t.pipe.sourcePath))
	}
	return t.tag
}
