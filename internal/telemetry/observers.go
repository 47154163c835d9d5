// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"fmt"
	"time"

	"github.com/rt-labs/pnlogger/pkg/log"
)

// WriterObserver bridges writer lifecycle events (C4) into Prometheus
// metrics and, if configured, a NATS event stream. It implements
// writer.EventObserver without importing that package.
type WriterObserver struct {
	metrics *Metrics
	pub     *Publisher
}

// NewWriterObserver builds a WriterObserver. pub may be nil.
func NewWriterObserver(m *Metrics, pub *Publisher) *WriterObserver {
	return &WriterObserver{metrics: m, pub: pub}
}

func (o *WriterObserver) OnFileOpened(year int, month, day uint8, name string) {
	o.metrics.BucketFilesOpened.Inc()
	o.pub.publishEvent("file_opened", map[string]interface{}{
		"day":  dayString(year, month, day),
		"name": name,
	}, time.Now())
}

func (o *WriterObserver) OnFileClosed(year int, month, day uint8, name string, bytesWritten int64) {
	o.metrics.BucketFilesClosed.Inc()
	o.metrics.BytesWritten.Add(float64(bytesWritten))
	o.pub.publishEvent("file_closed", map[string]interface{}{
		"day":           dayString(year, month, day),
		"name":          name,
		"bytes_written": bytesWritten,
	}, time.Now())
}

// ArchiverObserver bridges archiver lifecycle events (C5) into Prometheus
// metrics and, if configured, a NATS event stream. It implements
// archiver.EventObserver.
type ArchiverObserver struct {
	metrics *Metrics
	pub     *Publisher
}

// NewArchiverObserver builds an ArchiverObserver. pub may be nil.
func NewArchiverObserver(m *Metrics, pub *Publisher) *ArchiverObserver {
	return &ArchiverObserver{metrics: m, pub: pub}
}

func (o *ArchiverObserver) OnDayArchived(year int, month, day uint8) {
	o.metrics.ArchiverRuns.Inc()
	o.pub.publishEvent("day_archived", map[string]interface{}{
		"day": dayString(year, month, day),
	}, time.Now())
}

func (o *ArchiverObserver) OnSpaceReclaimed(archiveName string) {
	o.metrics.ArchivesReclaimed.Inc()
	o.pub.publishEvent("space_reclaimed", map[string]interface{}{
		"archive": archiveName,
	}, time.Now())
}

func (o *ArchiverObserver) OnArchiverError(ctx string, err error) {
	o.metrics.ArchiverFailures.Inc()
	log.Errorf("telemetry: archiver error during %s: %v", ctx, err)
	o.pub.publishEvent("archiver_error", map[string]interface{}{
		"context": ctx,
		"error":   err.Error(),
	}, time.Now())
}

func dayString(year int, month, day uint8) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// IngestObserver bridges the fieldbus-thread ingest endpoint's drop
// accounting (C3) into a Prometheus counter. It implements
// ingest.DropObserver. OnEnqueued is intentionally a no-op: ring depth is
// sampled by the scheduler rather than counted per push, to avoid adding
// any per-call cost to the ingest hot path. Calls all happen on the
// single fieldbus thread, so reportedTotal needs no synchronization.
type IngestObserver struct {
	metrics       *Metrics
	reportedTotal uint64
}

// NewIngestObserver builds an IngestObserver.
func NewIngestObserver(m *Metrics) *IngestObserver {
	return &IngestObserver{metrics: m}
}

func (o *IngestObserver) OnEnqueued() {}

func (o *IngestObserver) OnDropped(totalDropped uint64) {
	o.metrics.DroppedEntries.Add(float64(totalDropped - o.reportedTotal))
	o.reportedTotal = totalDropped
}

func (o *IngestObserver) OnRecovered(totalDropped uint64) {
	o.metrics.DroppedEntries.Add(float64(totalDropped - o.reportedTotal))
	o.reportedTotal = 0
}
