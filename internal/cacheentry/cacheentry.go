// Package cacheentry implements the per-source cache unit (spec §4.3): a
// GrowableBuffer, an injected Transcoder, and the mutex/condvar-guarded
// state machine (Fresh/Opening/Producing/Suspended/Finished/Errored/Closing)
// that a single producer goroutine drives while any number of reader
// goroutines wait for bytes to appear.
package cacheentry

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/castfs/castfs/internal/buffer"
	"github.com/castfs/castfs/internal/recipe"
	"github.com/castfs/castfs/internal/transcoder"
)

// suspendPollGranularity bounds how often a Suspended producer re-checks
// its abort deadline, per spec's "1-second wake granularity."
const suspendPollGranularity = time.Second

// Factory constructs the Transcoder for an entry's key. Supplied by the
// registry, which knows how to derive a source extension from the key.
type Factory func() (transcoder.Transcoder, error)

// CacheEntry is the per-(source, recipe) cache unit.
type CacheEntry struct {
	mu   sync.Mutex
	cond *sync.Cond

	key recipe.CacheKey
	buf *buffer.Buffer

	state State

	predictedSize uint64
	encodedSize   uint64
	finished      bool
	errored       bool
	lastErr       error
	trailingTag   []byte

	createdAt   time.Time
	accessedAt  time.Time
	sourceMtime time.Time

	refCount int

	suspendAfter time.Duration
	abortAfter   time.Duration

	shuttingDown *atomic.Bool

	// limiter, when set, caps the producer's encoded-byte throughput
	// (SPEC_FULL §"Domain Stack" transcode throughput cap). Nil means
	// unlimited.
	limiter *rate.Limiter
}

// SetRateLimiter installs an optional throughput cap on this entry's
// producer. Must be called before Open to take effect from the first step.
func (e *CacheEntry) SetRateLimiter(l *rate.Limiter) {
	e.mu.Lock()
	e.limiter = l
	e.mu.Unlock()
}

// New constructs a Fresh CacheEntry over buf. shuttingDown is a
// process-wide flag the producer loop observes each iteration.
func New(key recipe.CacheKey, buf *buffer.Buffer, suspendAfter, abortAfter time.Duration, shuttingDown *atomic.Bool) *CacheEntry {
	e := &CacheEntry{
		key:          key,
		buf:          buf,
		state:        Fresh,
		createdAt:    time.Now(),
		accessedAt:   time.Now(),
		suspendAfter: suspendAfter,
		abortAfter:   abortAfter,
		shuttingDown: shuttingDown,
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Key returns the entry's immutable cache key.
func (e *CacheEntry) Key() recipe.CacheKey { return e.key }

// Open transitions Fresh → Opening and spawns the producer goroutine. Only
// the first call on a given entry has effect (spec I2: singleton producer).
func (e *CacheEntry) Open(sourcePath string, newTranscoder Factory) {
	e.mu.Lock()
	if e.state != Fresh {
		e.mu.Unlock()
		return
	}
	e.state = Opening
	e.refCount++
	e.mu.Unlock()
	go e.runProducer(sourcePath, newTranscoder)
}

// Attach registers a reader against the entry: increments ref_count,
// refreshes accessed_at, and resumes a Suspended producer (spec §4.3
// "Suspended → Producing when a reader attaches").
func (e *CacheEntry) Attach() {
	e.mu.Lock()
	e.refCount++
	e.accessedAt = time.Now()
	if e.state == Suspended {
		e.state = Producing
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Release drops a reader's reference.
func (e *CacheEntry) Release() {
	e.mu.Lock()
	e.refCount--
	e.mu.Unlock()
}

// Touch refreshes accessed_at without changing ref_count, used by the
// ReaderCoordinator on every read against an already-attached entry.
func (e *CacheEntry) Touch() {
	e.mu.Lock()
	e.accessedAt = time.Now()
	if e.state == Suspended {
		e.state = Producing
	}
	e.cond.Broadcast()
	e.mu.Unlock()
}

// RefCount returns the current reference count.
func (e *CacheEntry) RefCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refCount
}

// State returns the current lifecycle state.
func (e *CacheEntry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WaitFor blocks until the buffer's watermark reaches target, or the entry
// becomes Finished or Errored, per spec §4.4 step 4.
func (e *CacheEntry) WaitFor(target uint64) (watermark uint64, finished, errored bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		w := e.buf.Watermark()
		if w >= target || e.finished || e.errored {
			return w, e.finished, e.errored, e.lastErr
		}
		e.cond.Wait()
	}
}

// Read copies bytes from the underlying buffer; callers typically call
// WaitFor first to ensure enough bytes are available.
func (e *CacheEntry) Read(dst []byte, at uint64) (int, error) {
	return e.buf.Read(dst, at)
}

// PredictedSize returns the producer's best estimate of final encoded size.
func (e *CacheEntry) PredictedSize() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictedSize
}

// EncodedSize returns the final byte count, valid once Finished.
func (e *CacheEntry) EncodedSize() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodedSize
}

// Finished reports whether the entry reached the Finished state.
func (e *CacheEntry) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// LastError returns the terminal error, if any.
func (e *CacheEntry) LastError() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errored, e.lastErr
}

// TrailingTag returns the fixed-size tag known since Opening, used by the
// ReaderCoordinator's tail-read shortcut (spec §4.4 step 3).
func (e *CacheEntry) TrailingTag() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trailingTag
}

// SourceMtime returns the mtime observed at open time (spec I6 freshness).
func (e *CacheEntry) SourceMtime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sourceMtime
}

// CreatedAt returns the wall-clock time of first successful open.
func (e *CacheEntry) CreatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createdAt
}

// AccessedAt returns the wall-clock time of the last reader activity.
func (e *CacheEntry) AccessedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accessedAt
}

// Watermark returns the buffer's current high-water mark.
func (e *CacheEntry) Watermark() uint64 { return e.buf.Watermark() }

// Close releases the backing buffer's OS resources (file descriptor,
// mapping). Callers must ensure no producer or reader is still using the
// entry; the registry only calls this once ref_count has reached zero.
func (e *CacheEntry) Close() error { return e.buf.Close() }

// Hydrate resurrects an entry directly into Finished state from a
// previously persisted InfoRecord, without spawning a producer (spec §4.6
// hydration). Caller must have already restored the buffer's watermark to
// encodedSize.
func Hydrate(key recipe.CacheKey, buf *buffer.Buffer, rec InfoRecord) *CacheEntry {
	e := &CacheEntry{
		key:         key,
		buf:         buf,
		state:       Finished,
		predictedSize: rec.EncodedSize,
		encodedSize: rec.EncodedSize,
		finished:    true,
		createdAt:   rec.CreatedAt,
		accessedAt:  rec.AccessedAt,
		sourceMtime: rec.SourceMtime,
		trailingTag: rec.TrailingTag,
		suspendAfter: time.Hour, // irrelevant: no producer will ever run
		abortAfter:   time.Hour,
		shuttingDown: new(atomic.Bool),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// InfoSnapshot renders the current state as a persistable InfoRecord.
func (e *CacheEntry) InfoSnapshot() InfoRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return InfoRecord{
		EncodedSize: e.encodedSize,
		Finished:    e.finished,
		Errored:     e.errored,
		CreatedAt:   e.createdAt,
		AccessedAt:  e.accessedAt,
		SourceMtime: e.sourceMtime,
		TrailingTag: e.trailingTag,
	}
}

// runProducer is the single goroutine ever allowed to advance e.buf's
// watermark for this entry (spec I2). It implements every transition in
// §4.3 except hydration (handled by Hydrate) and Closing (handled by the
// registry once ref_count reaches zero).
func (e *CacheEntry) runProducer(sourcePath string, newTranscoder Factory) {
	tc, err := newTranscoder()
	if err != nil {
		e.fail(err)
		return
	}
	if err := tc.OpenInput(sourcePath); err != nil {
		e.fail(err)
		return
	}
	mtime := tc.SourceMtime()
	predicted := tc.PredictSize()
	tag := tc.TrailingTag()
	tc.OpenOutput(e.buf)

	e.mu.Lock()
	e.sourceMtime = mtime
	e.predictedSize = predicted
	e.trailingTag = tag
	e.state = Producing
	e.mu.Unlock()

	for {
		if e.shuttingDown != nil && e.shuttingDown.Load() {
			e.fail(ErrShutdownAborted)
			return
		}

		if aborted := e.maybeSuspend(); aborted {
			return
		}

		before := e.buf.Watermark()
		outcome, err := tc.Step()
		if err != nil {
			e.fail(err)
			return
		}
		switch outcome {
		case transcoder.Progress:
			e.throttle(e.buf.Watermark() - before)
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		case transcoder.EndOfStream:
			e.finish(tc)
			return
		}
	}
}

// throttle blocks the producer long enough to respect the configured
// transcode-throughput cap, if any.
func (e *CacheEntry) throttle(n uint64) {
	e.mu.Lock()
	l := e.limiter
	e.mu.Unlock()
	if l == nil || n == 0 {
		return
	}
	_ = l.WaitN(context.Background(), int(n))
}

// maybeSuspend implements the Producing ⇄ Suspended transitions. It returns
// true if the entry was aborted (the caller must stop producing).
func (e *CacheEntry) maybeSuspend() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !(e.refCount <= 1 && time.Since(e.accessedAt) > e.suspendAfter) {
		return false
	}
	e.state = Suspended
	for e.state == Suspended {
		deadline := e.accessedAt.Add(e.abortAfter)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.state = Errored
			e.errored = true
			e.lastErr = ErrAbortedIdle
			e.refCount-- // release the producer's implicit hold
			e.cond.Broadcast()
			log.Printf("cacheentry: producer aborted idle key=%q", e.key)
			return true
		}
		wait := remaining
		if wait > suspendPollGranularity {
			wait = suspendPollGranularity
		}
		e.waitLocked(wait)
		if e.state != Suspended {
			break
		}
		if e.refCount > 1 || time.Since(e.accessedAt) <= e.suspendAfter {
			e.state = Producing
		}
	}
	return false
}

// waitLocked blocks the caller (which must hold e.mu) for up to d or until
// the next Broadcast, whichever comes first. sync.Cond has no native timed
// wait, so this bridges to a timer via a helper goroutine — the same
// technique TorrX's bufferedStreamReader.Read uses to bound cond.Wait.
func (e *CacheEntry) waitLocked(d time.Duration) {
	done := make(chan struct{})
	go func() {
		e.mu.Lock()
		e.cond.Wait()
		e.mu.Unlock()
		close(done)
	}()
	e.mu.Unlock()
	timer := time.NewTimer(d)
	select {
	case <-done:
		timer.Stop()
	case <-timer.C:
		e.mu.Lock()
		e.cond.Broadcast() // releases our own helper goroutine's Wait
		e.mu.Unlock()
		<-done
	}
	e.mu.Lock()
}

// finish implements Producing → Finished.
func (e *CacheEntry) finish(tc transcoder.Transcoder) {
	if err := tc.Finish(); err != nil {
		e.fail(err)
		return
	}
	// tc.Finish() has already Spliced the trailing tag at the pre-tag
	// watermark, but Splice never advances the watermark itself (it writes
	// outside the appended region on purpose, so a concurrent reader never
	// sees a torn tag). The buffer's true final length is therefore the
	// pre-tag watermark plus the tag, not the watermark alone — Finalize
	// must be called with that length or it truncates the just-spliced
	// tag bytes right back off the backing store.
	tag := tc.TrailingTag()
	encodedSize := e.buf.Watermark() + uint64(len(tag))
	if err := e.buf.Finalize(encodedSize); err != nil {
		e.fail(err)
		return
	}
	e.mu.Lock()
	e.encodedSize = encodedSize
	e.finished = true
	e.trailingTag = tag
	e.state = Finished
	e.refCount-- // release the producer's implicit hold
	e.cond.Broadcast()
	e.mu.Unlock()
}

// fail implements any → Errored.
func (e *CacheEntry) fail(err error) {
	e.mu.Lock()
	e.state = Errored
	e.errored = true
	e.lastErr = err
	e.refCount-- // release the producer's implicit hold
	e.cond.Broadcast()
	e.mu.Unlock()
	log.Printf("cacheentry: producer failed key=%q err=%v", e.key, err)
}
