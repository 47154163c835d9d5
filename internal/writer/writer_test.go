// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package writer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rt-labs/pnlogger/internal/archiver"
	"github.com/rt-labs/pnlogger/internal/entry"
	"github.com/rt-labs/pnlogger/internal/paramstore"
	"github.com/rt-labs/pnlogger/internal/ring"
	"github.com/rt-labs/pnlogger/internal/storage"
)

func newTestWriter(t *testing.T, root string) (*Writer, *ring.Ring, *paramstore.Store) {
	t.Helper()
	r := ring.New()
	params := paramstore.New()
	if err := params.Write(paramstore.InstallationID, make([]byte, paramstore.InstallationIDLength)); err != nil {
		t.Fatalf("params.Write: %v", err)
	}
	arch := archiver.New(root, 0, nil, nil)
	w := New(r, params, arch, root, true, time.Millisecond, nil)
	return w, r, params
}

func pushEntry(t *testing.T, r *ring.Ring, ts entry.Ts) {
	t.Helper()
	var words [entry.VariableWidth]byte
	for i := range words {
		words[i] = byte(i + 1)
	}
	e := entry.Entry{Ts: ts, Words: words}
	var buf [entry.Size]byte
	e.Marshal(buf[:], true)
	if !r.TryPush(buf[:]) {
		t.Fatalf("ring full, could not push test entry")
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return b
}

// TestSingleEntryFile reproduces spec.md §8 end-to-end scenario 1.
func TestSingleEntryFile(t *testing.T) {
	root := t.TempDir()
	w, r, _ := newTestWriter(t, root)

	ts := entry.Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 27, Second: 33}
	pushEntry(t, r, ts)

	w.iterate(context.Background())
	if w.State() != Writing {
		t.Fatalf("state = %v, want Writing", w.State())
	}
	w.closeCurrentFile()
	if w.State() != Idle {
		t.Fatalf("state = %v, want Idle after close", w.State())
	}

	path := filepath.Join(root, "20240315", "10-20.bin")
	data := readFile(t, path)

	if len(data) != storage.HeaderSize+storage.FrameSize+1 {
		t.Fatalf("file length = %d, want %d", len(data), storage.HeaderSize+storage.FrameSize+1)
	}
	if !bytesEqual(data[0:4], []byte{0x61, 0x0B, 0xE7, 0xEC}) {
		t.Fatalf("bad magic: %x", data[0:4])
	}
	if !bytesEqual(data[4:7], []byte{0x50, 0x4E, 0x4C}) {
		t.Fatalf("bad endian tag: %x", data[4:7])
	}
	if data[7] != 0 {
		t.Fatalf("bad version byte: %d", data[7])
	}
	if data[8+paramstore.InstallationIDLength] != entry.WordCount {
		t.Fatalf("bad word count: %d", data[8+paramstore.InstallationIDLength])
	}
	if data[storage.HeaderSize] != storage.FramingByte {
		t.Fatalf("first body byte = %x, want framing byte", data[storage.HeaderSize])
	}
	if data[len(data)-1] != storage.TrailerByte {
		t.Fatalf("last byte = %x, want trailer byte", data[len(data)-1])
	}

	decoded := entry.Unmarshal(data[storage.HeaderSize+1:storage.HeaderSize+1+entry.Size], true)
	if decoded.Ts != ts {
		t.Fatalf("decoded timestamp = %+v, want %+v", decoded.Ts, ts)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestBucketRollover reproduces spec.md §8 end-to-end scenario 2: the first
// file is closed (with its trailer) before the second is opened.
func TestBucketRollover(t *testing.T) {
	root := t.TempDir()
	w, r, _ := newTestWriter(t, root)

	pushEntry(t, r, entry.Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 29, Second: 59})
	w.iterate(context.Background())

	pushEntry(t, r, entry.Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 30, Second: 0})
	w.iterate(context.Background())
	w.closeCurrentFile()

	first := readFile(t, filepath.Join(root, "20240315", "10-20.bin"))
	if first[len(first)-1] != storage.TrailerByte {
		t.Fatalf("first file should already be closed with a trailer")
	}

	second := readFile(t, filepath.Join(root, "20240315", "10-30.bin"))
	if second[len(second)-1] != storage.TrailerByte {
		t.Fatalf("second file should be closed with a trailer")
	}
}

type capturingObserver struct {
	archived chan [3]int
}

func (o *capturingObserver) OnDayArchived(year int, month, day uint8) {
	o.archived <- [3]int{year, int(month), int(day)}
}
func (*capturingObserver) OnSpaceReclaimed(string)          {}
func (*capturingObserver) OnArchiverError(string, error)    {}

// TestDayRollover reproduces spec.md §8 end-to-end scenario 3: the archiver
// is spawned exactly once for the completed day, which ends up archived.
func TestDayRollover(t *testing.T) {
	root := t.TempDir()
	r := ring.New()
	params := paramstore.New()
	params.Write(paramstore.InstallationID, make([]byte, paramstore.InstallationIDLength))

	obs := &capturingObserver{archived: make(chan [3]int, 4)}
	arch := archiver.New(root, 0, obs, nil)
	w := New(r, params, arch, root, true, time.Millisecond, nil)

	pushEntry(t, r, entry.Ts{Year: 2024, Month: 3, Day: 15, Hour: 23, Minute: 59, Second: 0})
	w.iterate(context.Background())

	pushEntry(t, r, entry.Ts{Year: 2024, Month: 3, Day: 16, Hour: 0, Minute: 0, Second: 0})
	w.iterate(context.Background())
	w.closeCurrentFile()

	select {
	case day := <-obs.archived:
		if day != [3]int{2024, 3, 15} {
			t.Fatalf("archived day = %v, want [2024 3 15]", day)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("archiver was not spawned for the completed day")
	}

	if _, err := os.Stat(filepath.Join(root, "20240315.tgz")); err != nil {
		t.Fatalf("expected 20240315.tgz to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "20240315")); !os.IsNotExist(err) {
		t.Fatalf("20240315/ should have been removed")
	}
}

// TestCollisionSuffixesExhausted reproduces the file-open-collision error
// disposition from spec.md §7: after nine names are taken, the writer gives
// up and the entry stays in the ring for the next iteration.
func TestCollisionSuffixesExhausted(t *testing.T) {
	root := t.TempDir()
	w, r, _ := newTestWriter(t, root)

	ts := entry.Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 20, Second: 0}
	dir := filepath.Join(root, "20240315")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	names := []string{"10-20.bin"}
	for i := 2; i <= 9; i++ {
		names = append(names, storage.BucketFileName(10, 20, i))
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o640); err != nil {
			t.Fatalf("seed collision file %s: %v", n, err)
		}
	}

	pushEntry(t, r, ts)
	w.iterate(context.Background())

	if w.hasFile {
		t.Fatalf("writer should not have a file open when all collision suffixes are taken")
	}
	if r.Len() != 1 {
		t.Fatalf("ring should still hold the un-consumed entry, Len() = %d", r.Len())
	}
}
