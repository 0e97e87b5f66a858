package cacheentry

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func TestInfoRecord_encodeDecodeRoundTrip(t *testing.T) {
	rec := InfoRecord{
		EncodedSize: 123456,
		Finished:    true,
		Errored:     false,
		CreatedAt:   time.Unix(1700000000, 0),
		AccessedAt:  time.Unix(1700000100, 0),
		SourceMtime: time.Unix(1699999999, 0),
		TrailingTag: bytes.Repeat([]byte{0xAB}, 128),
	}
	got, err := DecodeInfo(rec.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.EncodedSize != rec.EncodedSize || got.Finished != rec.Finished || got.Errored != rec.Errored {
		t.Fatalf("mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) || !got.AccessedAt.Equal(rec.AccessedAt) || !got.SourceMtime.Equal(rec.SourceMtime) {
		t.Fatalf("timestamp mismatch: %+v", got)
	}
	if !bytes.Equal(got.TrailingTag, rec.TrailingTag) {
		t.Fatalf("trailing tag mismatch")
	}
}

func TestDecodeInfo_rejectsCorruptHeader(t *testing.T) {
	if _, err := DecodeInfo([]byte("not a valid record")); err == nil {
		t.Fatal("expected error for corrupt header")
	}
}

func TestWriteReadInfo_roundTripsThroughDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp3.info")
	rec := InfoRecord{EncodedSize: 42, Finished: true, TrailingTag: []byte("TAG")}
	if err := WriteInfo(path, rec); err != nil {
		t.Fatal(err)
	}
	got, err := ReadInfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.EncodedSize != 42 || !bytes.Equal(got.TrailingTag, []byte("TAG")) {
		t.Fatalf("got %+v", got)
	}
}
