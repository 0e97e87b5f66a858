package cacheentry

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/recipe"
	"github.com/castfs/castfs/internal/transcoder"
)

func testKey() recipe.CacheKey {
	return recipe.CacheKey{SourcePath: "/music/a.flac", Recipe: recipe.TargetRecipe{Format: recipe.FormatMP3}}
}

func TestOpen_runsToFinished(t *testing.T) {
	buf := buffer.New(0)
	var shutdown atomic.Bool
	e := New(testKey(), buf, time.Hour, 2*time.Hour, &shutdown)
	ft := &fakeTranscoder{chunks: [][]byte{[]byte("abc"), []byte("def")}, tag: []byte("TAG")}
	e.Open("/music/a.flac", func() (transcoder.Transcoder, error) { return ft, nil })

	deadline := time.Now().Add(2 * time.Second)
	for e.State() != Finished {
		if time.Now().After(deadline) {
			t.Fatalf("entry never reached Finished, state=%s", e.State())
		}
		time.Sleep(time.Millisecond)
	}
	// The spliced tag sits past the appended payload's watermark and must
	// survive Finalize: encoded_size is payload + tag, not payload alone.
	if e.EncodedSize() != 9 {
		t.Fatalf("encodedSize=%d, want 9 (6 payload + 3 tag)", e.EncodedSize())
	}
	got := make([]byte, 9)
	n, _ := e.Read(got, 0)
	if n != 9 || !bytes.Equal(got, []byte("abcdefTAG")) {
		t.Fatalf("read mismatch: %q", got[:n])
	}
}

func TestOpen_openInputFailureErrors(t *testing.T) {
	buf := buffer.New(0)
	var shutdown atomic.Bool
	e := New(testKey(), buf, time.Hour, 2*time.Hour, &shutdown)
	ft := &fakeTranscoder{openErr: transcoder.ErrSourceMissing}
	e.Open("/music/a.flac", func() (transcoder.Transcoder, error) { return ft, nil })

	deadline := time.Now().Add(time.Second)
	for e.State() != Errored {
		if time.Now().After(deadline) {
			t.Fatalf("entry never reached Errored, state=%s", e.State())
		}
		time.Sleep(time.Millisecond)
	}
	errored, err := e.LastError()
	if !errored || err != transcoder.ErrSourceMissing {
		t.Fatalf("errored=%v err=%v", errored, err)
	}
}

func TestWaitFor_unblocksWhenWatermarkReached(t *testing.T) {
	buf := buffer.New(0)
	var shutdown atomic.Bool
	e := New(testKey(), buf, time.Hour, 2*time.Hour, &shutdown)
	ft := &fakeTranscoder{chunks: [][]byte{[]byte("hello world")}}
	e.Open("/music/a.flac", func() (transcoder.Transcoder, error) { return ft, nil })

	w, finished, errored, err := e.WaitFor(5)
	if err != nil {
		t.Fatal(err)
	}
	if w < 5 || errored {
		t.Fatalf("w=%d finished=%v errored=%v", w, finished, errored)
	}
}

func TestIdleSuspendThenAbort(t *testing.T) {
	buf := buffer.New(0)
	var shutdown atomic.Bool
	e := New(testKey(), buf, 20*time.Millisecond, 80*time.Millisecond, &shutdown)
	ft := &fakeTranscoder{infinite: true}
	e.Open("/music/a.flac", func() (transcoder.Transcoder, error) { return ft, nil })

	deadline := time.Now().Add(2 * time.Second)
	for e.State() != Errored {
		if time.Now().After(deadline) {
			t.Fatalf("entry never aborted, state=%s", e.State())
		}
		time.Sleep(time.Millisecond)
	}
	errored, err := e.LastError()
	if !errored || err != ErrAbortedIdle {
		t.Fatalf("errored=%v err=%v", errored, err)
	}
}

func TestAttach_resumesSuspendedProducer(t *testing.T) {
	buf := buffer.New(0)
	var shutdown atomic.Bool
	e := New(testKey(), buf, 20*time.Millisecond, 5*time.Second, &shutdown)
	gate := make(chan struct{})
	ft := &fakeTranscoder{chunks: [][]byte{[]byte("a"), []byte("b"), []byte("c")}, gate: gate}
	e.Open("/music/a.flac", func() (transcoder.Transcoder, error) { return ft, nil })

	// Wait for it to suspend.
	deadline := time.Now().Add(time.Second)
	for e.State() != Suspended {
		if time.Now().After(deadline) {
			t.Fatalf("entry never suspended, state=%s", e.State())
		}
		time.Sleep(time.Millisecond)
	}
	close(gate)
	e.Attach()

	deadline = time.Now().Add(time.Second)
	for e.State() != Finished {
		if time.Now().After(deadline) {
			t.Fatalf("entry never resumed to Finished, state=%s", e.State())
		}
		time.Sleep(time.Millisecond)
	}
}
