package fsview

import (
	"testing"

	"github.com/castfs/castfs/internal/recipe"
)

func TestVirtualName_rewritesDecodableExtension(t *testing.T) {
	r := recipe.TargetRecipe{Format: recipe.FormatMP3}
	name, decodable := virtualName("track.flac", false, r)
	if !decodable {
		t.Fatal("expected flac to be decodable for an mp3 recipe")
	}
	if name != "track.mp3" {
		t.Errorf("got %q, want track.mp3", name)
	}
}

func TestVirtualName_passesThroughUnsupportedExtension(t *testing.T) {
	r := recipe.TargetRecipe{Format: recipe.FormatMP3}
	name, decodable := virtualName("cover.jpg", false, r)
	if decodable {
		t.Fatal("jpg should not be decodable")
	}
	if name != "cover.jpg" {
		t.Errorf("got %q, want cover.jpg unchanged", name)
	}
}

func TestVirtualName_directoriesNeverRewritten(t *testing.T) {
	r := recipe.TargetRecipe{Format: recipe.FormatMP3}
	name, decodable := virtualName("Disc 1.flac", true, r)
	if decodable {
		t.Fatal("directories are never decodable")
	}
	if name != "Disc 1.flac" {
		t.Errorf("directory name must pass through unchanged, got %q", name)
	}
}

func TestVirtualName_autoCopyKeepsSameExtension(t *testing.T) {
	r := recipe.TargetRecipe{Format: recipe.FormatMP3, AutoCopy: true}
	name, decodable := virtualName("already.mp3", false, r)
	if !decodable {
		t.Fatal("an mp3 source under auto_copy is still a recognized, rewritten name")
	}
	if name != "already.mp3" {
		t.Errorf("got %q, want already.mp3", name)
	}
}

func TestInoFromString_stableAndDistinct(t *testing.T) {
	a := inoFromString("/media/a.flac")
	b := inoFromString("/media/a.flac")
	c := inoFromString("/media/b.flac")
	if a != b {
		t.Error("same path must yield the same inode")
	}
	if a == c {
		t.Error("distinct paths should (almost always) yield distinct inodes")
	}
}
