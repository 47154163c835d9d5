// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package telemetry

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/rt-labs/pnlogger/internal/ingest"
	"github.com/rt-labs/pnlogger/internal/ring"
	"github.com/rt-labs/pnlogger/pkg/log"
)

// RingStats is queried once per scheduled tick to build a stats snapshot.
type RingStats struct {
	Ring     *ring.Ring
	Endpoint *ingest.Endpoint
}

func (s RingStats) depth() int      { return s.Ring.Len() }
func (s RingStats) dropped() uint64 { return s.Endpoint.DropCount() }

// SpaceChecker is the defense-in-depth free-space recheck target,
// independent of the day-rollover trigger. Implemented by *archiver.Archiver.
type SpaceChecker interface {
	ReclaimSpace(ctx context.Context)
}

// Scheduler drives the periodic stats publish and free-space recheck jobs
// on top of gocron. NewScheduler starts it; callers shut it down with Stop.
type Scheduler struct {
	sched gocron.Scheduler
}

// NewScheduler builds and starts a Scheduler. statsInterval/spaceCheckInterval
// <= 0 disable the corresponding job.
func NewScheduler(ctx context.Context, m *Metrics, pub *Publisher, stats RingStats, bucketName func() string, statsInterval time.Duration, space SpaceChecker, spaceCheckInterval time.Duration) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if statsInterval > 0 {
		if _, err := s.NewJob(
			gocron.DurationJob(statsInterval),
			gocron.NewTask(func() {
				depth, dropped := stats.depth(), stats.dropped()
				m.RingDepth.Set(float64(depth))
				pub.PublishStats(depth, dropped, bucketName(), time.Now())
			}),
		); err != nil {
			return nil, err
		}
	}

	if spaceCheckInterval > 0 && space != nil {
		if _, err := s.NewJob(
			gocron.DurationJob(spaceCheckInterval),
			gocron.NewTask(func() {
				log.Debugf("telemetry: running defense-in-depth free-space recheck")
				space.ReclaimSpace(ctx)
			}),
		); err != nil {
			return nil, err
		}
	}

	s.Start()
	return &Scheduler{sched: s}, nil
}

// Stop shuts the scheduler down, waiting for any in-flight job.
func (s *Scheduler) Stop() error {
	if s == nil {
		return nil
	}
	return s.sched.Shutdown()
}
