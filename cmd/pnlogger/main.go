// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"golang.org/x/sync/errgroup"

	"github.com/rt-labs/pnlogger/internal/archiver"
	"github.com/rt-labs/pnlogger/internal/config"
	"github.com/rt-labs/pnlogger/internal/ingest"
	"github.com/rt-labs/pnlogger/internal/opsserver"
	"github.com/rt-labs/pnlogger/internal/paramstore"
	"github.com/rt-labs/pnlogger/internal/ring"
	"github.com/rt-labs/pnlogger/internal/runtimeEnv"
	"github.com/rt-labs/pnlogger/internal/telemetry"
	"github.com/rt-labs/pnlogger/internal/writer"
	"github.com/rt-labs/pnlogger/pkg/log"
)

func main() {
	var flagConfigFile, flagLogLevel string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "", "Path to the JSON configuration file")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Minimum log level: debug, info, notice, warn, err, crit")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	if err := os.MkdirAll(cfg.StorageRoot, 0o750); err != nil {
		log.Fatalf("creating storage root %s failed: %s", cfg.StorageRoot, err.Error())
	}

	params := paramstore.New()

	metrics := telemetry.NewMetrics()

	var pub *telemetry.Publisher
	if cfg.NatsURL != "" {
		pub, err = telemetry.Connect(cfg.NatsURL)
		if err != nil {
			log.Warnf("telemetry: NATS unavailable, continuing without it: %s", err.Error())
		}
	}

	var offsite archiver.Offsite
	if cfg.S3 != nil {
		s3, err := archiver.NewS3Offsite(context.Background(), *cfg.S3)
		if err != nil {
			log.Fatalf("offsite archive setup failed: %s", err.Error())
		}
		offsite = s3
	}

	arch := archiver.New(cfg.StorageRoot, cfg.FreeSpacePercent, telemetry.NewArchiverObserver(metrics, pub), offsite)

	entryRing := ring.New()
	w := writer.New(entryRing, params, arch, cfg.StorageRoot, cfg.BigEndian, cfg.WriterTick(), telemetry.NewWriterObserver(metrics, pub))

	// endpoint.Ingest is the fieldbus-thread entry point; the stack that
	// drives the cyclic IO loop calls it directly, once per update.
	endpoint := ingest.New(entryRing, telemetry.NewIngestObserver(metrics))

	sched, err := telemetry.NewScheduler(
		context.Background(),
		metrics,
		pub,
		telemetry.RingStats{Ring: entryRing, Endpoint: endpoint},
		func() string { return w.State().String() },
		cfg.StatsInterval(),
		arch,
		cfg.SpaceCheckInterval(),
	)
	if err != nil {
		log.Fatalf("telemetry scheduler setup failed: %s", err.Error())
	}

	opsHandler := opsserver.New(func() string { return w.State().String() }, metrics.Registry)
	listener, err := net.Listen("tcp", cfg.OpsAddr)
	if err != nil {
		log.Fatalf("ops listener bind on %s failed: %s", cfg.OpsAddr, err.Error())
	}
	opsHTTP := &http.Server{
		Handler:      opsHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := runtimeEnv.DropPrivileges(cfg.DropUser, cfg.DropGroup); err != nil {
		log.Fatalf("dropping privileges failed: %s", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group

	eg.Go(func() error {
		w.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		if err := opsHTTP.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		cancel()
		opsHTTP.Shutdown(context.Background())
		sched.Stop()
		pub.Close()
	}()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}
	runtimeEnv.SystemdNotifiy(true, "running")

	wg.Wait()
	if err := eg.Wait(); err != nil {
		log.Errorf("a supervised goroutine failed: %s", err.Error())
	}
	log.Print("Gracefull shutdown completed!")
}
