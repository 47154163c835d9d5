// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package paramstore holds the controller-written parameters (currently
// the installation id and the optional datatype list) that the writer
// snapshots when it opens a new log file.
package paramstore

import (
	"fmt"
	"sync/atomic"
)

// InstallationIDLength is L_ID from the format: 16 raw bytes.
const InstallationIDLength = 16

// Index identifies a recognized parameter.
type Index int

const (
	// InstallationID selects the 16-byte installation identifier.
	InstallationID Index = iota
	// DatatypeList selects the controller-supplied datatype list.
	DatatypeList
)

// Store is a process-wide record of controller-written parameters. Each
// field is replaced atomically as a whole; a reader observes either the
// old or the new value, never a torn mix, and the returned slice is an
// independent snapshot copy safe to retain past the next write.
type Store struct {
	installationID atomic.Pointer[[InstallationIDLength]byte]
	datatypeList   atomic.Pointer[[]byte]
}

// New returns an initialized, zero-valued Store.
func New() *Store {
	s := &Store{}
	var zeroID [InstallationIDLength]byte
	s.installationID.Store(&zeroID)
	zeroList := []byte{}
	s.datatypeList.Store(&zeroList)
	return s
}

// Write replaces the named parameter. It fails if data has the wrong
// length for the selected index.
func (s *Store) Write(index Index, data []byte) error {
	switch index {
	case InstallationID:
		if len(data) != InstallationIDLength {
			return fmt.Errorf("paramstore: installation id must be %d bytes, got %d", InstallationIDLength, len(data))
		}
		var id [InstallationIDLength]byte
		copy(id[:], data)
		s.installationID.Store(&id)
		return nil
	case DatatypeList:
		list := make([]byte, len(data))
		copy(list, data)
		s.datatypeList.Store(&list)
		return nil
	default:
		return fmt.Errorf("paramstore: unrecognized index %d", index)
	}
}

// Read returns a snapshot copy of the named parameter.
func (s *Store) Read(index Index) ([]byte, error) {
	switch index {
	case InstallationID:
		id := *s.installationID.Load()
		out := make([]byte, InstallationIDLength)
		copy(out, id[:])
		return out, nil
	case DatatypeList:
		list := *s.datatypeList.Load()
		out := make([]byte, len(list))
		copy(out, list)
		return out, nil
	default:
		return nil, fmt.Errorf("paramstore: unrecognized index %d", index)
	}
}

// InstallationIDSnapshot is a convenience wrapper around
// Read(InstallationID) for callers (the writer) that want a fixed-size
// array rather than a slice.
func (s *Store) InstallationIDSnapshot() [InstallationIDLength]byte {
	return *s.installationID.Load()
}
