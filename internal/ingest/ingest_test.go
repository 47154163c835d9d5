// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"testing"

	"github.com/rt-labs/pnlogger/internal/entry"
	"github.com/rt-labs/pnlogger/internal/ring"
)

type recordingObserver struct {
	enqueued  int
	drops     []uint64
	recovered []uint64
}

func (o *recordingObserver) OnEnqueued()              { o.enqueued++ }
func (o *recordingObserver) OnDropped(n uint64)        { o.drops = append(o.drops, n) }
func (o *recordingObserver) OnRecovered(n uint64)      { o.recovered = append(o.recovered, n) }

func tsAt(minute uint8) entry.Ts {
	return entry.Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: minute, Second: 0}
}

func TestIngestDropsUninitializedTimestamp(t *testing.T) {
	r := ring.New()
	obs := &recordingObserver{}
	e := New(r, obs)

	if e.Ingest(entry.Ts{}, [entry.VariableWidth]byte{}) {
		t.Fatalf("ingest of a zero-year timestamp should be dropped")
	}
	if r.Len() != 0 {
		t.Fatalf("nothing should have been enqueued")
	}
}

func TestIngestSuccessResetsDropCounter(t *testing.T) {
	r := ring.New()
	e := New(r, nil)

	n := ring.Slots - 1
	for i := 0; i < n; i++ {
		if !e.Ingest(tsAt(0), [entry.VariableWidth]byte{}) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	// ring is now full; one more drops
	if e.Ingest(tsAt(0), [entry.VariableWidth]byte{}) {
		t.Fatalf("push into a full ring should fail")
	}
	if e.DropCount() != 1 {
		t.Fatalf("DropCount() = %d, want 1", e.DropCount())
	}

	// drain one slot, then the next push should succeed and reset the counter
	out := make([]byte, entry.Size)
	r.TryPop(out)
	if !e.Ingest(tsAt(1), [entry.VariableWidth]byte{}) {
		t.Fatalf("push after drain should have succeeded")
	}
	if e.DropCount() != 0 {
		t.Fatalf("DropCount() = %d, want 0 after recovery", e.DropCount())
	}
}

// TestOverflowAndRecovery reproduces spec.md §8 scenario 4: 1000 pushes
// into a ring with capacity 255 (writer paused) drop exactly 745 entries,
// with "dropped N" reports at N = 2, 10, 50, 250, 1250 (capped by actual
// drops), followed by a single "recovered after N dropped" on the first
// successful push once the writer resumes.
func TestOverflowAndRecovery(t *testing.T) {
	r := ring.New()
	obs := &recordingObserver{}
	e := New(r, obs)

	capEntries := ring.Slots - 1 // 255
	succeeded := 0
	for i := 0; i < 1000; i++ {
		if e.Ingest(tsAt(uint8(i%60)), [entry.VariableWidth]byte{}) {
			succeeded++
		}
	}

	wantDrops := 1000 - capEntries
	if int(e.DropCount()) != wantDrops {
		t.Fatalf("DropCount() = %d, want %d", e.DropCount(), wantDrops)
	}
	if succeeded != capEntries {
		t.Fatalf("succeeded = %d, want %d", succeeded, capEntries)
	}

	wantThresholds := []uint64{2, 10, 50, 250}
	if len(obs.drops) != len(wantThresholds) {
		t.Fatalf("got %d drop reports %v, want %d reports at %v", len(obs.drops), obs.drops, len(wantThresholds), wantThresholds)
	}
	for i, want := range wantThresholds {
		if obs.drops[i] != want {
			t.Fatalf("drop report %d = %d, want %d", i, obs.drops[i], want)
		}
	}

	// drain the ring and push once more: exactly one recovery report
	out := make([]byte, entry.Size)
	for r.Len() > 0 {
		r.TryPop(out)
	}
	if !e.Ingest(tsAt(0), [entry.VariableWidth]byte{}) {
		t.Fatalf("push after drain should succeed")
	}
	if len(obs.recovered) != 1 || obs.recovered[0] != uint64(wantDrops) {
		t.Fatalf("recovered reports = %v, want exactly one report of %d", obs.recovered, wantDrops)
	}
	if e.DropCount() != 0 {
		t.Fatalf("DropCount() = %d, want 0 after recovery", e.DropCount())
	}
}
