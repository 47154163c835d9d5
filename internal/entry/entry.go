// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package entry defines the wire layout shared by the ring, the writer and
// the on-disk format: the timestamped, fixed-size record produced once per
// cyclic field-bus update.
package entry

import "encoding/binary"

// VariableWidth is V from the format: the number of variable-data bytes
// carried by every entry. Configured once, at build time.
const VariableWidth = 128

// HeaderFieldSize is the fixed (non-variable) part of an entry: year(2) +
// month(1) + day(1) + weekday(1) + hour(1) + minute(1) + second(1) +
// nanosecond(4).
const HeaderFieldSize = 12

// Size is ENTRY_SIZE: the number of bytes a single entry occupies, both in
// the ring and on disk.
const Size = HeaderFieldSize + VariableWidth

// WordCount is the word-count field written into the file header: variable
// bytes are always a whole number of 2-byte words.
const WordCount = VariableWidth / 2

// Ts is the structured wall-clock timestamp attached to every entry.
type Ts struct {
	Year       uint16
	Month      uint8
	Day        uint8
	Weekday    uint8
	Hour       uint8
	Minute     uint8
	Second     uint8
	Nanosecond uint32
}

// Uninitialized reports whether the controller has not yet set its clock.
func (t Ts) Uninitialized() bool {
	return t.Year == 0
}

// BucketMinute returns the 10-minute bucket start this timestamp falls in,
// e.g. minute 47 -> 40.
func (t Ts) BucketMinute() uint8 {
	return (t.Minute / 10) * 10
}

// SameBucket reports whether two timestamps share (year, month, day, hour,
// floor(minute/10)) and therefore belong in the same file.
func (t Ts) SameBucket(o Ts) bool {
	return t.Year == o.Year &&
		t.Month == o.Month &&
		t.Day == o.Day &&
		t.Hour == o.Hour &&
		t.Minute/10 == o.Minute/10
}

// SameDay reports whether two timestamps share (year, month, day).
func (t Ts) SameDay(o Ts) bool {
	return t.Year == o.Year && t.Month == o.Month && t.Day == o.Day
}

// Entry is one cyclic update: a timestamp plus its variable payload.
type Entry struct {
	Ts    Ts
	Words [VariableWidth]byte
}

var byteOrderBE = binary.BigEndian
var byteOrderLE = binary.LittleEndian

func byteOrder(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return byteOrderBE
	}
	return byteOrderLE
}

// Marshal encodes the entry into buf (which must be at least Size bytes
// long) using the given endianness, per the §3 wire layout.
func (e Entry) Marshal(buf []byte, bigEndian bool) {
	_ = buf[Size-1]
	bo := byteOrder(bigEndian)
	bo.PutUint16(buf[0:2], e.Ts.Year)
	buf[2] = e.Ts.Month
	buf[3] = e.Ts.Day
	buf[4] = e.Ts.Weekday
	buf[5] = e.Ts.Hour
	buf[6] = e.Ts.Minute
	buf[7] = e.Ts.Second
	bo.PutUint32(buf[8:12], e.Ts.Nanosecond)
	copy(buf[12:Size], e.Words[:])
}

// Unmarshal decodes an entry previously written with Marshal.
func Unmarshal(buf []byte, bigEndian bool) Entry {
	_ = buf[Size-1]
	bo := byteOrder(bigEndian)
	var e Entry
	e.Ts.Year = bo.Uint16(buf[0:2])
	e.Ts.Month = buf[2]
	e.Ts.Day = buf[3]
	e.Ts.Weekday = buf[4]
	e.Ts.Hour = buf[5]
	e.Ts.Minute = buf[6]
	e.Ts.Second = buf[7]
	e.Ts.Nanosecond = bo.Uint32(buf[8:12])
	copy(e.Words[:], buf[12:Size])
	return e
}

// PeekTs decodes the Ts fields held in the first 8 bytes of an entry (buf
// needs only those 8 bytes); Nanosecond is left zero and the variable
// payload is not touched. Mirrors the ring's
// peek_timestamp(), which copies the first 8 bytes of the head entry.
func PeekTs(buf []byte, bigEndian bool) Ts {
	_ = buf[7]
	bo := byteOrder(bigEndian)
	return Ts{
		Year:    bo.Uint16(buf[0:2]),
		Month:   buf[2],
		Day:     buf[3],
		Weekday: buf[4],
		Hour:    buf[5],
		Minute:  buf[6],
		Second:  buf[7],
	}
}
