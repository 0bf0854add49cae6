// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statusapi serves live run progress and metrics over HTTP.
package statusapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/rugen/pkg/logging"
	"github.com/AleutianAI/rugen/services/rugen/observe"
	"github.com/AleutianAI/rugen/services/rugen/telemetry"
)

// CrateStatus is the progress of one crate.
type CrateStatus struct {
	Crate    string           `json:"crate"`
	Running  bool             `json:"running"`
	Stats    observe.Snapshot `json:"stats"`
	Commits  int              `json:"commits"`
	Finished *time.Time       `json:"finished_at,omitempty"`
}

// Tracker follows the crates of a run.
//
// Thread Safety: Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	crate    string
	rec      *observe.Recorder
	finished []CrateStatus
	now      func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Start makes rec the running crate. A crate still running is finished
// first.
func (t *Tracker) Start(crate string, rec *observe.Recorder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishLocked()
	t.crate, t.rec = crate, rec
}

// Finish marks the running crate done.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishLocked()
}

func (t *Tracker) finishLocked() {
	if t.rec == nil {
		return
	}
	at := t.now()
	t.finished = append(t.finished, CrateStatus{
		Crate:    t.crate,
		Stats:    t.rec.Stats(),
		Commits:  t.rec.Commits(),
		Finished: &at,
	})
	t.crate, t.rec = "", nil
}

// Status returns the finished crates followed by the running one, if any.
func (t *Tracker) Status() []CrateStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CrateStatus, 0, len(t.finished)+1)
	out = append(out, t.finished...)
	if t.rec != nil {
		out = append(out, CrateStatus{
			Crate:   t.crate,
			Running: true,
			Stats:   t.rec.Stats(),
			Commits: t.rec.Commits(),
		})
	}
	return out
}

// NewRouter builds the status engine:
//
//	GET /healthz    liveness
//	GET /metrics    Prometheus exposition
//	GET /v1/stats   crate progress as JSON
func NewRouter(t *Tracker, service string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metricsHandler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"crates": t.Status()})
		})
	}
	return router
}

// metricsHandler prefers the otel prometheus exporter's registry and falls
// back to the default registry.
func metricsHandler() http.Handler {
	if h := telemetry.MetricsHandler(); h != nil {
		return h
	}
	return promhttp.Handler()
}

// Serve runs handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
