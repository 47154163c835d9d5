// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWriterObserverIncrementsMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewWriterObserver(m, nil)

	o.OnFileOpened(2024, 3, 15, "10-20.bin")
	o.OnFileClosed(2024, 3, 15, "10-20.bin", 4096)

	if got := testutil.ToFloat64(m.BucketFilesOpened); got != 1 {
		t.Fatalf("BucketFilesOpened = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BucketFilesClosed); got != 1 {
		t.Fatalf("BucketFilesClosed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesWritten); got != 4096 {
		t.Fatalf("BytesWritten = %v, want 4096", got)
	}
}

func TestArchiverObserverIncrementsMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewArchiverObserver(m, nil)

	o.OnDayArchived(2024, 3, 15)
	o.OnSpaceReclaimed("20240314.tgz")

	if got := testutil.ToFloat64(m.ArchiverRuns); got != 1 {
		t.Fatalf("ArchiverRuns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ArchivesReclaimed); got != 1 {
		t.Fatalf("ArchivesReclaimed = %v, want 1", got)
	}
}

func TestNilPublisherMethodsAreNoops(t *testing.T) {
	var p *Publisher
	// None of these should panic on a nil Publisher.
	p.PublishStats(0, 0, "00-00.bin", time.Now())
	p.Close()
}
