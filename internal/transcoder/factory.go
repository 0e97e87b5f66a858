package transcoder

import (
	"strings"

	"github.com/castfs/castfs/internal/recipe"
)

// mp3CompatibleExts lists source extensions auto_copy treats as already
// compatible with recipe.FormatMP3 (no transcode needed).
var mp3CompatibleExts = map[string]bool{"mp3": true}

// mp4CompatibleExts lists source extensions auto_copy treats as already
// compatible with recipe.FormatMP4.
var mp4CompatibleExts = map[string]bool{"mp4": true, "m4a": true}

// New selects the Transcoder for sourceExt (with or without a leading dot,
// lowercase comparison) and r, per spec §4.2's (source_ext, recipe) -> Transcoder
// mapping. Returns ErrUnsupportedCodec for combinations with no known
// implementation.
func New(sourceExt string, r recipe.TargetRecipe) (Transcoder, error) {
	ext := strings.ToLower(strings.TrimPrefix(sourceExt, "."))

	if r.AutoCopy {
		compatible := mp3CompatibleExts
		if r.Format == recipe.FormatMP4 {
			compatible = mp4CompatibleExts
		}
		if compatible[ext] {
			return newPassthrough(), nil
		}
		// Falls through to a real transcode: the source isn't actually
		// compatible, so auto_copy cannot apply.
	}

	switch r.Format {
	case recipe.FormatMP3:
		switch ext {
		case "flac":
			return newFlacMp3(r), nil
		case "ogg", "oga":
			return newVorbisMp3(r), nil
		default:
			return nil, ErrUnsupportedCodec
		}
	case recipe.FormatMP4:
		switch ext {
		case "flac", "ogg", "oga", "wav", "m4a", "aac", "wma", "opus":
			return newContainerToMp4(r), nil
		default:
			return nil, ErrUnsupportedCodec
		}
	default:
		return nil, ErrUnsupportedCodec
	}
}

// Supported reports whether New would return a usable Transcoder for
// sourceExt and r, without constructing one. internal/fsview uses this to
// decide, per name, whether readdir/lookup should rewrite the extension
// (spec §6: "names ... with decodable source extensions are rewritten to
// carry the target extension; all other names pass through unchanged").
func Supported(sourceExt string, r recipe.TargetRecipe) bool {
	_, err := New(sourceExt, r)
	return err == nil
}
