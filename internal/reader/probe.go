package reader

import (
	"path/filepath"

	"github.com/castfs/castfs/internal/recipe"
	"github.com/castfs/castfs/internal/transcoder"
)

// ProbeSize answers getattr's last-resort case (spec §6: "otherwise a
// one-shot probe of the Transcoder to compute one"): a source path has
// never been opened and carries no predicted_size yet, so a throwaway
// Transcoder is constructed purely to read PredictSize. It never advances
// watermark and is discarded immediately after.
func ProbeSize(sourcePath string, r recipe.TargetRecipe) (uint64, error) {
	tc, err := transcoder.New(filepath.Ext(sourcePath), r)
	if err != nil {
		return 0, err
	}
	if err := tc.OpenInput(sourcePath); err != nil {
		return 0, err
	}
	return tc.PredictSize(), nil
}
