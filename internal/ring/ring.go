// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ring implements the single-producer/single-consumer entry
// buffer between the field-bus callback and the log writer thread.
package ring

import (
	"sync/atomic"

	"github.com/rt-labs/pnlogger/internal/entry"
	"github.com/rt-labs/pnlogger/pkg/log"
)

// Slots is the ring's capacity in entries (256*ENTRY_SIZE bytes, one slot
// reserved to disambiguate full from empty).
const Slots = 256

// Ring is a fixed-capacity circular byte buffer of entry.Size-byte
// records. start is owned by the consumer, end by the producer; both are
// always multiples of entry.Size. Go's atomic load/store give
// sequentially-consistent ordering, which is strictly stronger than the
// release/acquire pairing the design requires.
type Ring struct {
	buf   []byte
	start atomic.Uint64 // consumer-owned
	end   atomic.Uint64 // producer-owned
}

// New allocates a ring sized for Slots entries of entry.Size bytes each.
func New() *Ring {
	return &Ring{buf: make([]byte, Slots*entry.Size)}
}

func (r *Ring) cap() uint64 { return uint64(len(r.buf)) }

// TryPush copies a single entry.Size-byte record into the ring. It never
// blocks: it fails (returns false) if the ring is full.
func (r *Ring) TryPush(entryBytes []byte) bool {
	if len(entryBytes) != entry.Size {
		log.Errorf("ring: TryPush called with %d bytes, want %d", len(entryBytes), entry.Size)
		return false
	}

	end := r.end.Load()
	start := r.start.Load()
	next := (end + uint64(entry.Size)) % r.cap()
	if next == start {
		// One more would fit, but would make the ring look empty.
		return false
	}

	copy(r.buf[end:end+uint64(entry.Size)], entryBytes)
	r.end.Store(next)
	return true
}

// TryPop copies the head entry into out (which must be at least
// entry.Size bytes). It never blocks: it fails if the ring is empty.
func (r *Ring) TryPop(out []byte) bool {
	if len(out) < entry.Size {
		log.Errorf("ring: TryPop called with a %d byte buffer, want >= %d", len(out), entry.Size)
		return false
	}

	start := r.alignedStart()
	end := r.end.Load()
	if start == end {
		return false
	}

	copy(out[:entry.Size], r.buf[start:start+uint64(entry.Size)])
	r.start.Store((start + uint64(entry.Size)) % r.cap())
	return true
}

// PeekTimestamp copies the first 8 bytes of the head entry without
// advancing start. It fails if the ring is empty.
func (r *Ring) PeekTimestamp(out []byte) bool {
	if len(out) < 8 {
		log.Errorf("ring: PeekTimestamp called with a %d byte buffer, want >= 8", len(out))
		return false
	}

	start := r.alignedStart()
	end := r.end.Load()
	if start == end {
		return false
	}

	copy(out[:8], r.buf[start:start+8])
	return true
}

// Len returns the number of whole entries currently queued.
func (r *Ring) Len() int {
	start := r.start.Load()
	end := r.end.Load()
	return int(((end + r.cap() - start) % r.cap()) / uint64(entry.Size))
}

// alignedStart is the defensive realignment required on dequeue: should
// never trigger in practice, but if start has drifted off an entry
// boundary it is logged and snapped back to one.
func (r *Ring) alignedStart() uint64 {
	start := r.start.Load()
	if start%uint64(entry.Size) != 0 {
		log.Errorf("ring: start %d is not a multiple of entry size %d, realigning", start, entry.Size)
		aligned := (start / uint64(entry.Size)) * uint64(entry.Size)
		r.start.Store(aligned)
		return aligned
	}
	return start
}
