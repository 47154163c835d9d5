// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"fmt"
	"time"

	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/nats-io/nats.go"

	"github.com/rt-labs/pnlogger/pkg/log"
)

const (
	// DefaultEventsSubject is where discrete lifecycle events are published.
	DefaultEventsSubject = "pnlogger.events"
	// DefaultStatsSubject is where periodic stats snapshots are published.
	DefaultStatsSubject = "pnlogger.stats"
)

// Publisher wraps a NATS connection used to publish operational telemetry.
// A nil *Publisher (returned when no URL is configured) makes every method
// a no-op, so callers never need to nil-check before use.
type Publisher struct {
	conn          *nats.Conn
	eventsSubject string
	statsSubject  string
}

// Connect dials url and returns a Publisher. An empty url returns a nil
// Publisher, disabling telemetry publication entirely.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("telemetry: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("telemetry: NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warnf("telemetry: NATS error: %v", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: NATS connect to %s failed: %w", url, err)
	}

	log.Infof("telemetry: NATS connected to %s", url)
	return &Publisher{conn: nc, eventsSubject: DefaultEventsSubject, statsSubject: DefaultStatsSubject}, nil
}

// Close flushes and closes the underlying connection. Safe to call on a
// nil Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

func (p *Publisher) publishLine(subject string, line []byte) {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Publish(subject, line); err != nil {
		log.Warnf("telemetry: publish to %s failed: %v", subject, err)
	}
}

func encodeLine(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Nanosecond)
	enc.StartLine(measurement)
	for k, v := range tags {
		enc.AddTag(k, v)
	}
	for k, v := range fields {
		val, ok := influx.NewValue(v)
		if !ok {
			return nil, fmt.Errorf("telemetry: unsupported field value type for %q: %T", k, v)
		}
		enc.AddField(k, val)
	}
	enc.EndLine(ts)
	if err := enc.Err(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

// PublishStats publishes a ring-depth/drop-count/bucket snapshot.
func (p *Publisher) PublishStats(ringDepth int, droppedTotal uint64, bucketName string, at time.Time) {
	if p == nil {
		return
	}
	line, err := encodeLine("stats",
		map[string]string{"bucket": bucketName},
		map[string]interface{}{
			"ring_depth":    int64(ringDepth),
			"dropped_total": int64(droppedTotal),
		},
		at,
	)
	if err != nil {
		log.Warnf("telemetry: encode stats snapshot: %v", err)
		return
	}
	p.publishLine(p.statsSubject, line)
}

func (p *Publisher) publishEvent(kind string, fields map[string]interface{}, at time.Time) {
	if p == nil {
		return
	}
	line, err := encodeLine("event", map[string]string{"kind": kind}, fields, at)
	if err != nil {
		log.Warnf("telemetry: encode event %s: %v", kind, err)
		return
	}
	p.publishLine(p.eventsSubject, line)
}
