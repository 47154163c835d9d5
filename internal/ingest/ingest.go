// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest implements the field-bus callback endpoint: it is called
// on the fieldbus thread after every cyclic update and must never block on
// I/O or allocate on its fast path.
package ingest

import (
	"github.com/rt-labs/pnlogger/internal/entry"
	"github.com/rt-labs/pnlogger/internal/ring"
	"github.com/rt-labs/pnlogger/pkg/log"
)

// initialReportThreshold is the drop count at which the first "dropped N"
// diagnostic fires; it is then multiplied by 5 on every subsequent report.
const initialReportThreshold = 2
const reportBackoffFactor = 5

// DropObserver is notified of every enqueue outcome, letting callers wire
// up telemetry (Prometheus counters, event publication) without the
// ingest endpoint itself depending on anything that could block or
// allocate unpredictably. Implementations must return promptly.
type DropObserver interface {
	OnEnqueued()
	OnDropped(totalDropped uint64)
	OnRecovered(totalDropped uint64)
}

type noopObserver struct{}

func (noopObserver) OnEnqueued()       {}
func (noopObserver) OnDropped(uint64)  {}
func (noopObserver) OnRecovered(uint64) {}

// Endpoint is the fieldbus-thread entry point. It owns the drop counter
// (monotone during a burst, reset on the first successful enqueue after
// one) and pushes entries into the ring.
type Endpoint struct {
	ring     *ring.Ring
	observer DropObserver

	dropCount     uint64
	nextThreshold uint64
}

// New builds an Endpoint pushing into r. obs may be nil.
func New(r *ring.Ring, obs DropObserver) *Endpoint {
	if obs == nil {
		obs = noopObserver{}
	}
	return &Endpoint{ring: r, observer: obs, nextThreshold: initialReportThreshold}
}

// Ingest is ingest(ts, words) from §4.3. It must be called on the
// fieldbus thread, once per cyclic update.
func (e *Endpoint) Ingest(ts entry.Ts, words [entry.VariableWidth]byte) bool {
	if ts.Uninitialized() {
		log.Warn("ingest: timestamp looks uninitialized (year=0), dropping entry")
		return false
	}

	var buf [entry.Size]byte
	en := entry.Entry{Ts: ts, Words: words}
	en.Marshal(buf[:], true)

	if !e.ring.TryPush(buf[:]) {
		e.dropCount++
		if e.dropCount >= e.nextThreshold {
			log.Warnf("ingest: dropped %d entries (ring full)", e.dropCount)
			e.observer.OnDropped(e.dropCount)
			e.nextThreshold *= reportBackoffFactor
		}
		return false
	}

	if e.dropCount != 0 {
		log.Warnf("ingest: [%02d:%02d] recovered after %d dropped", ts.Hour, ts.Minute, e.dropCount)
		e.observer.OnRecovered(e.dropCount)
		e.dropCount = 0
		e.nextThreshold = initialReportThreshold
	}

	e.observer.OnEnqueued()
	return true
}

// DropCount reports the current burst's drop count (0 outside a burst).
// Exposed for diagnostics only; never consulted by the hot path.
func (e *Endpoint) DropCount() uint64 {
	return e.dropCount
}
