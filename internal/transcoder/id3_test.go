package transcoder

import "testing"

func TestBuildID3v1Tag_fixedSize(t *testing.T) {
	tag := BuildID3v1Tag(tagFields{Title: "a song"})
	if len(tag) != id3v1TagSize {
		t.Fatalf("len=%d, want %d", len(tag), id3v1TagSize)
	}
	if string(tag[0:3]) != "TAG" {
		t.Fatalf("missing TAG marker: %q", tag[0:3])
	}
}

func TestBuildID3v1Tag_truncatesLongTitle(t *testing.T) {
	long := "this title is definitely longer than thirty bytes of space"
	tag := BuildID3v1Tag(tagFields{Title: long})
	if len(tag) != id3v1TagSize {
		t.Fatalf("len=%d", len(tag))
	}
	title := tag[3:33]
	if len(title) != 30 {
		t.Fatalf("title field len=%d", len(title))
	}
}
