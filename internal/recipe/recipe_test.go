package recipe

import "testing"

func TestCacheKey_equalRecipesEqualKeys(t *testing.T) {
	k1 := CacheKey{SourcePath: "/music/a.flac", Recipe: TargetRecipe{Format: FormatMP3, BitrateKbps: 256}}
	k2 := CacheKey{SourcePath: "/music/a.flac", Recipe: TargetRecipe{Format: FormatMP3, BitrateKbps: 256}}
	if k1 != k2 {
		t.Fatal("identical recipes should compare equal")
	}
	if k1.Hash() != k2.Hash() {
		t.Fatal("identical recipes should hash equal")
	}
}

func TestCacheKey_differingRecipesDiffer(t *testing.T) {
	base := CacheKey{SourcePath: "/music/a.flac", Recipe: TargetRecipe{Format: FormatMP3, BitrateKbps: 256}}
	variants := []CacheKey{
		{SourcePath: "/music/a.flac", Recipe: TargetRecipe{Format: FormatMP3, BitrateKbps: 128}},
		{SourcePath: "/music/a.flac", Recipe: TargetRecipe{Format: FormatMP3, BitrateKbps: 256, VBR: true}},
		{SourcePath: "/music/a.flac", Recipe: TargetRecipe{Format: FormatMP4, BitrateKbps: 256}},
		{SourcePath: "/music/b.flac", Recipe: TargetRecipe{Format: FormatMP3, BitrateKbps: 256}},
	}
	for _, v := range variants {
		if base == v {
			t.Errorf("expected %+v to differ from base", v)
		}
		if base.Hash() == v.Hash() {
			t.Errorf("expected %+v hash to differ from base hash", v)
		}
	}
}

func TestTargetRecipe_ext(t *testing.T) {
	if (TargetRecipe{Format: FormatMP3}).Ext() != "mp3" {
		t.Fatal("mp3 ext")
	}
	if (TargetRecipe{Format: FormatMP4}).Ext() != "mp4" {
		t.Fatal("mp4 ext")
	}
}
