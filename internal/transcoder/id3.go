package transcoder

// id3v1TagSize is the fixed size of an ID3v1 trailing tag, the simplest of
// the two tag formats the spec mentions and the only one the core actually
// needs rendered: a tag whose size and offset are knowable before any byte
// of audio is encoded. Full ID3v1/ID3v2 metadata rendering (genre tables,
// extended frames, unicode) is explicitly out of scope for the cache core
// (spec §7); this builds just enough of a tag to exercise the splice path.
const id3v1TagSize = 128

// BuildID3v1Tag renders a minimal, fixed-size ID3v1 tag. The returned slice
// is always exactly id3v1TagSize bytes, satisfying the "fixed-size trailing
// tag" contract the GrowableBuffer splice region depends on.
func BuildID3v1Tag(f tagFields) []byte {
	tag := make([]byte, id3v1TagSize)
	copy(tag[0:3], "TAG")
	copy(tag[3:33], padField(f.Title, 30))
	// Artist, album, year, comment left zero-filled; genre 255 = "unknown".
	tag[127] = 255
	return tag
}

func padField(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}
