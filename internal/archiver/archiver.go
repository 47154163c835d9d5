// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package archiver implements the background archiving worker (C5): it compresses
// completed day directories into .tgz archives and enforces the free-space
// retention policy by deleting the oldest archives first.
package archiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/rt-labs/pnlogger/internal/storage"
	"github.com/rt-labs/pnlogger/pkg/log"
)

var errNothingToDelete = errors.New("archiver: no archive found to delete")

// EventObserver lets callers wire telemetry onto archiver lifecycle events
// without the archiver itself depending on anything that could block its
// own run. Implementations must return promptly.
type EventObserver interface {
	OnDayArchived(year int, month, day uint8)
	OnSpaceReclaimed(archiveName string)
	OnArchiverError(context string, err error)
}

type noopObserver struct{}

func (noopObserver) OnDayArchived(int, uint8, uint8) {}
func (noopObserver) OnSpaceReclaimed(string)          {}
func (noopObserver) OnArchiverError(string, error)    {}

// Offsite is implemented by an optional backend (C11) that receives copies
// of completed archives. A nil Offsite disables offsite archiving.
type Offsite interface {
	Upload(ctx context.Context, archivePath, digestPath string) error
}

// Archiver owns the storage root and the retention policy; it is invoked by
// the writer on every day boundary and may also be asked, synchronously, to
// free space on the writer's behalf.
type Archiver struct {
	root             string
	freeSpacePercent int
	observer         EventObserver
	offsite          Offsite
}

// New builds an Archiver rooted at root. observer and offsite may be nil.
func New(root string, freeSpacePercent int, observer EventObserver, offsite Offsite) *Archiver {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Archiver{
		root:             root,
		freeSpacePercent: freeSpacePercent,
		observer:         observer,
		offsite:          offsite,
	}
}

// RunAsync is finishLogGroup from the original source: it spawns the
// archiver for a completed day and blocks the caller only until the
// argument has been captured by value on the archiver's own goroutine,
// mirroring the os_sem_create/os_sem_signal/os_sem_wait handoff. The
// archiver itself continues running on its own goroutine after this call
// returns; its scheduling priority is not changed, so it runs at the same
// OS priority as the rest of the process.
func (a *Archiver) RunAsync(ctx context.Context, year int, month, day uint8) {
	handoff := semaphore.NewWeighted(1)
	_ = handoff.Acquire(context.Background(), 1)

	go func(year int, month, day uint8) {
		handoff.Release(1)
		a.run(ctx, year, month, day)
	}(year, month, day)

	_ = handoff.Acquire(context.Background(), 1)
}

// run is archive_thread_main: reclaim space first, then compress every day
// directory dated on or before (year, month, day).
func (a *Archiver) run(ctx context.Context, year int, month, day uint8) {
	a.reclaimSpace(ctx)
	a.compressPendingDays(ctx, storage.DateKey(year, month, day))
	a.observer.OnDayArchived(year, month, day)
}

// ReclaimSpace runs the free-space retention loop on demand. It is the
// target of the telemetry package's defense-in-depth periodic recheck,
// independent of the day-rollover trigger that also calls it via run.
func (a *Archiver) ReclaimSpace(ctx context.Context) {
	a.reclaimSpace(ctx)
}

// reclaimSpace is the "space reclamation" step of §4.5: while free blocks
// on the storage root are below freeSpacePercent, delete the oldest
// archive and recheck.
func (a *Archiver) reclaimSpace(ctx context.Context) {
	for {
		pct, err := a.freeSpacePercentNow()
		if err != nil {
			log.Errorf("archiver: statfs %s: %v", a.root, err)
			return
		}
		if pct >= a.freeSpacePercent {
			return
		}
		log.Infof("archiver: %d%% free (want %d%%), clearing space...", pct, a.freeSpacePercent)
		name, err := a.DeleteOldest()
		if err != nil {
			log.Warnf("archiver: space pressure but nothing to delete: %v", err)
			return
		}
		a.observer.OnSpaceReclaimed(name)
	}
}

func (a *Archiver) freeSpacePercentNow() (int, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(a.root, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 100, nil
	}
	return int(st.Bfree * 100 / st.Blocks), nil
}

// compressPendingDays enumerates day directories under the root and
// compresses every one whose date is <= cutoff.
func (a *Archiver) compressPendingDays(ctx context.Context, cutoff int) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		log.Errorf("archiver: read %s: %v", a.root, err)
		return
	}

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		year, month, day, ok := storage.ParseDayDir(ent.Name())
		if !ok {
			continue
		}
		if storage.DateKey(year, month, day) > cutoff {
			continue
		}
		a.compressDay(ctx, year, month, day)
	}
}

// compressDay is compressDirectory: tar+gzip the day directory in process,
// write a blake2b digest sidecar, and on success remove the source
// directory. On failure the directory is left intact for the next run.
func (a *Archiver) compressDay(ctx context.Context, year int, month, day uint8) {
	dirPath := storage.DayDirPath(a.root, year, month, day)
	archivePath := storage.ArchivePath(a.root, year, month, day)
	dirName := storage.DayDirName(year, month, day)

	log.Infof("archiver: archiving %s...", dirName)

	digest, err := compressDirectory(dirPath, archivePath)
	if err != nil {
		log.Errorf("archiver: failed to archive %s: %v", dirName, err)
		a.observer.OnArchiverError("compress", err)
		return
	}

	digestPath := archivePath + ".b2"
	if err := os.WriteFile(digestPath, digest, 0o640); err != nil {
		log.Warnf("archiver: failed to write digest for %s: %v", dirName, err)
	}

	if err := removeDayDirectory(dirPath); err != nil {
		log.Warnf("archiver: failed to delete %s after archiving: %v", dirName, err)
	}

	log.Infof("archiver: archived %s as %s", dirName, filepath.Base(archivePath))

	if a.offsite != nil {
		if err := a.offsite.Upload(ctx, archivePath, digestPath); err != nil {
			log.Warnf("archiver: offsite upload of %s failed: %v", filepath.Base(archivePath), err)
			a.observer.OnArchiverError("offsite-upload", err)
		}
	}
}

// DeleteOldest is deleteOldest: find the chronologically earliest
// YYYYMMDD.tgz under the root (lexicographic order coincides with
// chronological order because components are fixed-width zero-padded) and
// remove it, along with its digest sidecar if present. Callable
// synchronously from the writer under ENOSPC/EDQUOT.
func (a *Archiver) DeleteOldest() (string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return "", err
	}

	oldestName := ""
	oldestKey := -1
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		year, month, day, ok := storage.ParseArchiveName(ent.Name())
		if !ok {
			continue
		}
		key := storage.DateKey(year, month, day)
		if oldestKey == -1 || key < oldestKey {
			oldestKey = key
			oldestName = ent.Name()
		}
	}

	if oldestName == "" {
		return "", errNothingToDelete
	}

	path := filepath.Join(a.root, oldestName)
	if err := os.Remove(path); err != nil {
		log.Errorf("archiver: failed to delete %s: %v", oldestName, err)
		return "", err
	}
	_ = os.Remove(path + ".b2")

	log.Infof("archiver: deleted %s", oldestName)
	return oldestName, nil
}

func removeDayDirectory(dirPath string) error {
	ents, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dirPath, ent.Name())); err != nil {
			log.Warnf("archiver: failed to delete %s: %v", ent.Name(), err)
		}
	}
	return os.Remove(dirPath)
}
