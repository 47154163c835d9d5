// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storage defines the on-disk directory/filename conventions and
// binary file format (C6): one file per bucket, framed entries, a
// truncation-detecting trailer.
package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rt-labs/pnlogger/internal/entry"
	"github.com/rt-labs/pnlogger/internal/paramstore"
)

// Magic identifies a pnlogger data file.
var Magic = [4]byte{0x61, 0x0B, 0xE7, 0xEC}

// EndianTagBE / EndianTagLE are the 3-byte endianness tags.
var (
	EndianTagBE = [3]byte{0x50, 0x4E, 0x4C} // "PNL"
	EndianTagLE = [3]byte{0x4C, 0x4E, 0x50} // "LNP"
)

// FormatVersion is the header's format-version byte.
const FormatVersion = 0

// HeaderSize is H = 4 + 3 + 1 + L_ID + 1.
const HeaderSize = 4 + 3 + 1 + paramstore.InstallationIDLength + 1

// FramingByte precedes every entry in the body.
const FramingByte = 0x00

// TrailerByte marks a cleanly closed file; its absence implies a crash.
const TrailerByte = 0xFF

// FrameSize is the per-entry on-disk footprint: one framing byte plus the
// entry itself.
const FrameSize = 1 + entry.Size

// DayDirPattern matches a day-group directory name, YYYYMMDD.
var DayDirPattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)

// ArchivePattern matches a completed archive name, YYYYMMDD.tgz.
var ArchivePattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})\.tgz$`)

// EncodeHeader builds the H-byte file header.
func EncodeHeader(installationID [paramstore.InstallationIDLength]byte, bigEndian bool) []byte {
	h := make([]byte, HeaderSize)
	copy(h[0:4], Magic[:])
	if bigEndian {
		copy(h[4:7], EndianTagBE[:])
	} else {
		copy(h[4:7], EndianTagLE[:])
	}
	h[7] = FormatVersion
	copy(h[8:8+paramstore.InstallationIDLength], installationID[:])
	h[8+paramstore.InstallationIDLength] = entry.WordCount
	return h
}

// DecodedHeader is a parsed file header.
type DecodedHeader struct {
	BigEndian      bool
	Version        byte
	InstallationID [paramstore.InstallationIDLength]byte
	WordCount      byte
}

// DecodeHeader parses an H-byte header, validating the magic.
func DecodeHeader(h []byte) (DecodedHeader, error) {
	var d DecodedHeader
	if len(h) < HeaderSize {
		return d, fmt.Errorf("storage: header too short: %d bytes, want %d", len(h), HeaderSize)
	}
	if [4]byte(h[0:4]) != Magic {
		return d, fmt.Errorf("storage: bad magic %x", h[0:4])
	}
	tag := [3]byte(h[4:7])
	switch tag {
	case EndianTagBE:
		d.BigEndian = true
	case EndianTagLE:
		d.BigEndian = false
	default:
		return d, fmt.Errorf("storage: unrecognized endian tag %x", tag)
	}
	d.Version = h[7]
	copy(d.InstallationID[:], h[8:8+paramstore.InstallationIDLength])
	d.WordCount = h[8+paramstore.InstallationIDLength]
	return d, nil
}

// EncodeFrame writes the framing byte followed by the marshaled entry
// into buf, which must be at least FrameSize bytes.
func EncodeFrame(buf []byte, e entry.Entry, bigEndian bool) {
	_ = buf[FrameSize-1]
	buf[0] = FramingByte
	e.Marshal(buf[1:1+entry.Size], bigEndian)
}

// DayDirName formats the YYYYMMDD directory name for a day.
func DayDirName(year int, month, day uint8) string {
	return fmt.Sprintf("%04d%02d%02d", year, month, day)
}

// ArchiveName formats the YYYYMMDD.tgz archive name for a day.
func ArchiveName(year int, month, day uint8) string {
	return DayDirName(year, month, day) + ".tgz"
}

// BucketFileName formats the HH-MM[_N].bin filename for a bucket, where
// suffix 0 means no suffix and 2..9 are the collision-avoidance suffixes.
func BucketFileName(hour, bucketMinute uint8, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("%02d-%02d.bin", hour, bucketMinute)
	}
	return fmt.Sprintf("%02d-%02d_%d.bin", hour, bucketMinute, suffix)
}

// DayDirPath joins root and the day directory name.
func DayDirPath(root string, year int, month, day uint8) string {
	return filepath.Join(root, DayDirName(year, month, day))
}

// ArchivePath joins root and the archive file name.
func ArchivePath(root string, year int, month, day uint8) string {
	return filepath.Join(root, ArchiveName(year, month, day))
}

// ParseDayDir extracts (year, month, day) from a YYYYMMDD directory name.
// ok is false if name does not match the pattern.
func ParseDayDir(name string) (year int, month, day uint8, ok bool) {
	m := DayDirPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, 0, false
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	return y, uint8(mo), uint8(d), true
}

// ParseArchiveName extracts (year, month, day) from a YYYYMMDD.tgz name.
func ParseArchiveName(name string) (year int, month, day uint8, ok bool) {
	m := ArchivePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, 0, false
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	return y, uint8(mo), uint8(d), true
}

// DateKey packs (year, month, day) into a single comparable integer,
// ordering chronologically the same way the fixed-width, zero-padded
// string names do.
func DateKey(year int, month, day uint8) int {
	return year*10000 + int(month)*100 + int(day)
}
