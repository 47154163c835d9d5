// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package entry

import "testing"

func sampleEntry() Entry {
	var e Entry
	e.Ts = Ts{Year: 2024, Month: 3, Day: 15, Weekday: 5, Hour: 10, Minute: 27, Second: 33, Nanosecond: 123456789}
	for i := range e.Words {
		e.Words[i] = byte(i + 1)
	}
	return e
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	e := sampleEntry()
	for _, bigEndian := range []bool{true, false} {
		buf := make([]byte, Size)
		e.Marshal(buf, bigEndian)
		got := Unmarshal(buf, bigEndian)
		if got != e {
			t.Fatalf("round-trip mismatch (bigEndian=%v): got %+v, want %+v", bigEndian, got, e)
		}
	}
}

func TestPeekTsMatchesMarshaledHeader(t *testing.T) {
	e := sampleEntry()
	buf := make([]byte, Size)
	e.Marshal(buf, true)

	peeked := PeekTs(buf, true)
	if peeked.Year != e.Ts.Year || peeked.Month != e.Ts.Month || peeked.Day != e.Ts.Day ||
		peeked.Hour != e.Ts.Hour || peeked.Minute != e.Ts.Minute || peeked.Second != e.Ts.Second {
		t.Fatalf("peeked ts mismatch: got %+v, want %+v", peeked, e.Ts)
	}
}

func TestSameBucket(t *testing.T) {
	a := Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 27}
	b := Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 29}
	c := Ts{Year: 2024, Month: 3, Day: 15, Hour: 10, Minute: 30}

	if !a.SameBucket(b) {
		t.Fatalf("expected %+v and %+v to share a bucket", a, b)
	}
	if a.SameBucket(c) {
		t.Fatalf("expected %+v and %+v to be in different buckets", a, c)
	}
	if a.BucketMinute() != 20 || c.BucketMinute() != 30 {
		t.Fatalf("unexpected bucket minutes: %d, %d", a.BucketMinute(), c.BucketMinute())
	}
}

func TestSameDay(t *testing.T) {
	a := Ts{Year: 2024, Month: 3, Day: 15, Hour: 23, Minute: 59}
	b := Ts{Year: 2024, Month: 3, Day: 16, Hour: 0, Minute: 0}
	if a.SameDay(b) {
		t.Fatalf("expected different days")
	}
	if !a.SameDay(a) {
		t.Fatalf("expected same day to compare equal")
	}
}

func TestUninitialized(t *testing.T) {
	var zero Ts
	if !zero.Uninitialized() {
		t.Fatalf("zero-year timestamp should be uninitialized")
	}
	ts := Ts{Year: 2024}
	if ts.Uninitialized() {
		t.Fatalf("non-zero year should not be uninitialized")
	}
}
