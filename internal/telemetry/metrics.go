// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry implements operational telemetry (C9): Prometheus
// metrics and an optional NATS-published stats/event stream. Nothing in
// this package may block or perturb the ingest/writer path; every
// publication failure is logged and dropped.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the process's Prometheus collectors. All fields are safe
// for concurrent use and are registered against a private registry so
// that tests can construct independent instances.
type Metrics struct {
	Registry *prometheus.Registry

	RingDepth         prometheus.Gauge
	DroppedEntries    prometheus.Counter
	BucketFilesOpened prometheus.Counter
	BucketFilesClosed prometheus.Counter
	BytesWritten      prometheus.Counter
	ArchiverRuns      prometheus.Counter
	ArchiverFailures  prometheus.Counter
	ArchivesReclaimed prometheus.Counter
}

// NewMetrics builds and registers a fresh set of collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pnlogger",
			Name:      "ring_depth",
			Help:      "Number of entries currently queued in the ingest ring.",
		}),
		DroppedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pnlogger",
			Name:      "dropped_entries_total",
			Help:      "Entries dropped because the ring was full.",
		}),
		BucketFilesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pnlogger",
			Name:      "bucket_files_opened_total",
			Help:      "Bucket log files opened by the writer.",
		}),
		BucketFilesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pnlogger",
			Name:      "bucket_files_closed_total",
			Help:      "Bucket log files closed by the writer.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pnlogger",
			Name:      "bytes_written_total",
			Help:      "Bytes written to bucket log files.",
		}),
		ArchiverRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pnlogger",
			Name:      "archiver_runs_total",
			Help:      "Archiver runs triggered by day rollover.",
		}),
		ArchiverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pnlogger",
			Name:      "archiver_failures_total",
			Help:      "Archiver runs that failed to compress or upload a day.",
		}),
		ArchivesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pnlogger",
			Name:      "archives_reclaimed_total",
			Help:      "Archives deleted to free space, from either trigger.",
		}),
	}

	reg.MustRegister(
		m.RingDepth,
		m.DroppedEntries,
		m.BucketFilesOpened,
		m.BucketFilesClosed,
		m.BytesWritten,
		m.ArchiverRuns,
		m.ArchiverFailures,
		m.ArchivesReclaimed,
	)
	return m
}
