// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package writer implements the Log Writer (C4): the dedicated consumer
// thread that drains the entry ring into rolling, bucket-sized files and
// triggers the archiver on day boundaries.
package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/rt-labs/pnlogger/internal/archiver"
	"github.com/rt-labs/pnlogger/internal/entry"
	"github.com/rt-labs/pnlogger/internal/paramstore"
	"github.com/rt-labs/pnlogger/internal/ring"
	"github.com/rt-labs/pnlogger/internal/storage"
	"github.com/rt-labs/pnlogger/pkg/log"
)

const (
	// FileBufferSize is FILE_BUFFER_SIZE: the writer's write-side byte buffer.
	FileBufferSize = 32768
	// FileMinWrite is FILE_MIN_WRITE: the minimum chunk drained to disk per write.
	FileMinWrite = 4096
	// DefaultTick is the ~2ms per-iteration sleep from §4.4.
	DefaultTick = 2 * time.Millisecond
	// maxCollisionSuffix bounds the _2..._9 collision-avoidance scheme: nine
	// attempts total (the bare name plus eight suffixes) before giving up.
	maxCollisionSuffix = 9
)

// State mirrors the writer's state machine from §4.4.3.
type State int32

const (
	Idle State = iota
	Writing
	BufferPressure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Writing:
		return "writing"
	case BufferPressure:
		return "buffer-pressure"
	default:
		return "unknown"
	}
}

// EventObserver lets callers wire telemetry onto writer lifecycle events.
type EventObserver interface {
	OnFileOpened(year int, month, day uint8, name string)
	OnFileClosed(year int, month, day uint8, name string, bytesWritten int64)
}

type noopObserver struct{}

func (noopObserver) OnFileOpened(int, uint8, uint8, string)        {}
func (noopObserver) OnFileClosed(int, uint8, uint8, string, int64) {}

// Writer owns the current open file and its write buffer. Run must be
// called from a single goroutine; State is safe to read concurrently (the
// ops surface polls it for liveness).
type Writer struct {
	ring     *ring.Ring
	params   *paramstore.Store
	archiver *archiver.Archiver
	root     string
	bigEndian bool
	tick     time.Duration
	observer EventObserver
	limiter  *rate.Limiter

	state atomic.Int32

	file         *os.File
	fileBuf      []byte
	fileStart    entry.Ts
	hasFile      bool
	bytesWritten int64
}

// New builds a Writer. observer may be nil; tick <= 0 uses DefaultTick.
func New(r *ring.Ring, params *paramstore.Store, arch *archiver.Archiver, root string, bigEndian bool, tick time.Duration, observer EventObserver) *Writer {
	if observer == nil {
		observer = noopObserver{}
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Writer{
		ring:      r,
		params:    params,
		archiver:  arch,
		root:      root,
		bigEndian: bigEndian,
		tick:      tick,
		observer:  observer,
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		fileBuf:   make([]byte, 0, FileBufferSize),
	}
}

// State reports the writer's current state machine position.
func (w *Writer) State() State {
	return State(w.state.Load())
}

// Run drives the consumer loop until ctx is cancelled, then finishes any
// open file before returning.
func (w *Writer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		w.iterate(ctx)
		select {
		case <-ctx.Done():
		case <-time.After(w.tick):
		}
	}
	if w.hasFile {
		w.closeCurrentFile()
	}
}

// iterate is one pass of the per-iteration loop from §4.4: consume entries
// until the ring is empty, the file for a new bucket cannot be opened, or
// the write buffer cannot hold another framed entry, then drain to disk.
func (w *Writer) iterate(ctx context.Context) {
	var head [8]byte
	var raw [entry.Size]byte

loop:
	for {
		if !w.ring.PeekTimestamp(head[:]) {
			break
		}
		ts := entry.PeekTs(head[:], true)

		if !w.hasFile || !ts.SameBucket(w.fileStart) {
			oldStart := w.fileStart
			hadFile := w.hasFile
			if hadFile {
				w.closeCurrentFile()
				if !ts.SameDay(oldStart) {
					w.archiver.RunAsync(ctx, int(oldStart.Year), oldStart.Month, oldStart.Day)
				}
			}
			if !w.openFileFor(ts) {
				break loop
			}
		}

		if len(w.fileBuf)+entry.Size+1 > FileBufferSize {
			w.state.Store(int32(BufferPressure))
			break loop
		}

		if !w.ring.TryPop(raw[:]) {
			break loop
		}

		var frame [storage.FrameSize]byte
		storage.EncodeFrame(frame[:], entry.Unmarshal(raw[:], true), w.bigEndian)
		w.fileBuf = append(w.fileBuf, frame[:]...)
	}

	w.drain()
}

// openFileFor is startLogFile + writeLogHeader (§4.4.1): create the bucket
// file exclusively, trying the _2..._9 collision suffixes in order, then
// snapshot the installation id and write the header.
func (w *Writer) openFileFor(ts entry.Ts) bool {
	dirPath := storage.DayDirPath(w.root, int(ts.Year), ts.Month, ts.Day)
	if err := os.MkdirAll(dirPath, 0o750); err != nil {
		log.Errorf("writer: mkdir %s: %v", dirPath, err)
		return false
	}

	bucketMinute := ts.BucketMinute()
	var f *os.File
	var name string
	var err error
	for suffix := 0; suffix <= maxCollisionSuffix; suffix++ {
		if suffix == 1 {
			continue // slot 0 is the unsuffixed name; suffixes start at 2
		}
		name = storage.BucketFileName(ts.Hour, bucketMinute, suffix)
		f, err = os.OpenFile(filepath.Join(dirPath, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			log.Errorf("writer: open %s: %v", name, err)
			return false
		}
	}
	if f == nil {
		log.Errorf("writer: could not start a log for %s/%s (all collision suffixes taken)",
			filepath.Base(dirPath), storage.BucketFileName(ts.Hour, bucketMinute, 0))
		return false
	}

	id := w.params.InstallationIDSnapshot()
	header := storage.EncodeHeader(id, w.bigEndian)
	if _, err := f.Write(header); err != nil {
		log.Errorf("writer: write header for %s: %v", name, err)
		f.Close()
		os.Remove(filepath.Join(dirPath, name))
		return false
	}
	if err := f.Sync(); err != nil {
		log.Warnf("writer: fsync header for %s: %v", name, err)
	}

	w.file = f
	w.fileBuf = w.fileBuf[:0]
	w.fileStart = ts
	w.hasFile = true
	w.bytesWritten = int64(len(header))
	w.state.Store(int32(Writing))
	w.observer.OnFileOpened(int(ts.Year), ts.Month, ts.Day, name)
	log.Infof("writer: started %s/%s", storage.DayDirName(int(ts.Year), ts.Month, ts.Day), name)
	return true
}

// drain writes the buffer to disk in chunks of at least FileMinWrite bytes,
// keeping any residue for the next iteration (§4.4 step 2).
func (w *Writer) drain() {
	if !w.hasFile {
		return
	}

	start := 0
	for len(w.fileBuf)-start >= FileMinWrite {
		n, err := w.file.Write(w.fileBuf[start:])
		if err != nil {
			if isSpaceError(err) {
				w.reclaimSpaceAndRetry()
				continue
			}
			log.Errorf("writer: write failed, abandoning file: %v", err)
			w.abandonFile()
			return
		}
		start += n
		w.bytesWritten += int64(n)
	}

	w.fileBuf = append(w.fileBuf[:0], w.fileBuf[start:]...)
	if len(w.fileBuf)+entry.Size+1 <= FileBufferSize {
		w.state.Store(int32(Writing))
	}
}

// closeCurrentFile is finishLogFile (§4.4.2): fully drain the buffer,
// append the trailer byte, fsync, and close.
func (w *Writer) closeCurrentFile() {
	start := 0
	for start < len(w.fileBuf) {
		n, err := w.file.Write(w.fileBuf[start:])
		if err != nil {
			if isSpaceError(err) {
				w.reclaimSpaceAndRetry()
				continue
			}
			log.Errorf("writer: write failed while closing: %v", err)
			w.abandonFile()
			return
		}
		start += n
		w.bytesWritten += int64(n)
	}
	w.fileBuf = w.fileBuf[:0]

	trailer := [1]byte{storage.TrailerByte}
	for {
		if _, err := w.file.Write(trailer[:]); err != nil {
			if isSpaceError(err) {
				w.reclaimSpaceAndRetry()
				continue
			}
			log.Errorf("writer: write trailer failed: %v", err)
			w.abandonFile()
			return
		}
		break
	}
	w.bytesWritten++

	for {
		if err := w.file.Sync(); err != nil {
			if isSpaceError(err) {
				w.reclaimSpaceAndRetry()
				continue
			}
			log.Errorf("writer: fsync failed while closing: %v", err)
			w.abandonFile()
			return
		}
		break
	}

	name := filepath.Base(w.file.Name())
	if err := w.file.Close(); err != nil {
		log.Errorf("writer: close failed: %v", err)
	}
	log.Infof("writer: saved %s successfully", name)
	w.observer.OnFileClosed(int(w.fileStart.Year), w.fileStart.Month, w.fileStart.Day, name, w.bytesWritten)

	w.file = nil
	w.hasFile = false
	w.state.Store(int32(Idle))
}

// abandonFile is the EBADF/persistent-I/O-error disposition from §7: the
// file descriptor is dropped and the writer resets to Idle; the next entry
// starts a fresh file.
func (w *Writer) abandonFile() {
	if w.file != nil {
		w.file.Close()
	}
	w.file = nil
	w.fileBuf = w.fileBuf[:0]
	w.hasFile = false
	w.state.Store(int32(Idle))
}

// reclaimSpaceAndRetry is the ENOSPC/EDQUOT write-error policy: invoke the
// archiver's delete-oldest synchronously and let the caller retry the same
// write. Repeated invocations during sustained pressure are throttled.
func (w *Writer) reclaimSpaceAndRetry() {
	if err := w.limiter.Wait(context.Background()); err != nil {
		return
	}
	log.Warnf("writer: write failed, clearing space...")
	if _, err := w.archiver.DeleteOldest(); err != nil {
		log.Warnf("writer: space pressure but nothing to delete: %v", err)
	}
}

func isSpaceError(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}
