// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package opsserver implements the ops HTTP surface (C10): process
// introspection only, never a way to browse or query logged data.
package opsserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rt-labs/pnlogger/pkg/log"
)

// healthResponse is the /healthz JSON body.
type healthResponse struct {
	Status      string `json:"status"`
	WriterState string `json:"writerState"`
}

// New builds the ops router. writerState reports the writer's current
// state (writer.Writer.State().String, typically) for /healthz; registry
// is the Prometheus registry exposed at /metrics.
func New(writerState func() string, registry *prometheus.Registry) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusOK)
		json.NewEncoder(rw).Encode(healthResponse{Status: "ok", WriterState: writerState()})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	return handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("opsserver: %s %s (%d, %dms)",
			params.Request.Method, params.URL.RequestURI(), params.StatusCode,
			time.Since(params.TimeStamp).Milliseconds())
	})
}
