package cachepath

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/castfs/castfs/internal/recipe"
)

func testLayout() Layout {
	return Layout{CacheRoot: "/cache", MountID: "build-1"}
}

func testKey() recipe.CacheKey {
	return recipe.CacheKey{SourcePath: "/music/a.flac", Recipe: recipe.TargetRecipe{Format: recipe.FormatMP3, BitrateKbps: 256}}
}

func TestLayout_stable(t *testing.T) {
	l := testLayout()
	k := testKey()
	if l.Artifact(k) != l.Artifact(k) {
		t.Fatal("Artifact should be stable for the same key")
	}
}

func TestLayout_infoIsArtifactPlusSuffix(t *testing.T) {
	l := testLayout()
	k := testKey()
	if l.Info(k) != l.Artifact(k)+InfoSuffix {
		t.Errorf("Info should be Artifact+%s, got %q vs %q", InfoSuffix, l.Info(k), l.Artifact(k))
	}
}

func TestLayout_underCacheRootAndMountID(t *testing.T) {
	l := testLayout()
	k := testKey()
	p := l.Artifact(k)
	if !strings.HasPrefix(p, filepath.Join(l.CacheRoot, l.MountID)+string(filepath.Separator)) {
		t.Errorf("artifact path %q should live under cache_root/mount_id", p)
	}
	if filepath.Ext(p) != "."+k.Recipe.Ext() {
		t.Errorf("artifact ext: %s", filepath.Ext(p))
	}
}

func TestLayout_differentRecipesDoNotCollide(t *testing.T) {
	l := testLayout()
	a := recipe.CacheKey{SourcePath: "/music/a.flac", Recipe: recipe.TargetRecipe{Format: recipe.FormatMP3, BitrateKbps: 128}}
	b := recipe.CacheKey{SourcePath: "/music/a.flac", Recipe: recipe.TargetRecipe{Format: recipe.FormatMP3, BitrateKbps: 320}}
	if l.Artifact(a) == l.Artifact(b) {
		t.Fatal("distinct recipes for the same source must not share a path")
	}
}

func TestLayout_pathTraversalSanitized(t *testing.T) {
	l := testLayout()
	k := recipe.CacheKey{SourcePath: "../../etc/passwd", Recipe: recipe.TargetRecipe{Format: recipe.FormatMP3}}
	p := l.Artifact(k)
	if strings.Contains(p, "..") {
		t.Errorf("path traversal sequences must be stripped: %q", p)
	}
}
