package fsview

import (
	"path/filepath"
	"strings"

	"github.com/castfs/castfs/internal/recipe"
	"github.com/castfs/castfs/internal/transcoder"
)

// virtualName returns the name a real directory entry should carry in the
// mounted view: a decodable file's extension is rewritten to the target
// recipe's extension (spec §6 readdir rule); directories and everything
// else pass through unchanged.
func virtualName(realName string, isDir bool, r recipe.TargetRecipe) (name string, decodable bool) {
	if isDir {
		return realName, false
	}
	ext := filepath.Ext(realName)
	if ext == "" || !transcoder.Supported(ext, r) {
		return realName, false
	}
	base := strings.TrimSuffix(realName, ext)
	return base + "." + r.Ext(), true
}
