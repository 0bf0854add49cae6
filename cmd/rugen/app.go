// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/rugen/services/rugen/artifacts"
	"github.com/AleutianAI/rugen/services/rugen/config"
	"github.com/AleutianAI/rugen/services/rugen/oracle"
	"github.com/AleutianAI/rugen/services/rugen/retry"
	"github.com/AleutianAI/rugen/services/rugen/statusapi"
	"github.com/AleutianAI/rugen/services/rugen/synth"
	"github.com/AleutianAI/rugen/services/rugen/telemetry"
)

// app owns the process-wide services of one invocation.
type app struct {
	runner  *synth.Runner
	tracker *statusapi.Tracker

	closers []func() error
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, runsDir string, logger *slog.Logger) (*app, error) {
	a := &app{tracker: statusapi.NewTracker(), logger: logger}

	tcfg := telemetry.DefaultConfig()
	tcfg.RunID = uuid.NewString()
	tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	client, err := newOracle(cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	opts := synth.RunnerOptions{
		Config:  cfg,
		Oracle:  client,
		RunsDir: runsDir,
		OnStart: a.tracker.Start,
		Logger:  logger,
	}

	if cfg.Artifacts.Bucket != "" {
		up, err := artifacts.NewGCSUploader(ctx, cfg.Artifacts.Project, cfg.Artifacts.Bucket, cfg.Artifacts.Credentials, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts.Uploader = up
		a.closers = append(a.closers, up.Close)
	}

	if cfg.MetricsAddr != "" {
		sctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- statusapi.Serve(sctx, cfg.MetricsAddr, statusapi.NewRouter(a.tracker, "rugen"), logger)
		}()
		a.closers = append(a.closers, func() error {
			cancel()
			return <-done
		})
	}

	a.runner = synth.NewRunner(opts)
	return a, nil
}

// newOracle builds the retrying oracle client from cfg.Oracle.
func newOracle(cfg config.Config, logger *slog.Logger) (*oracle.Client, error) {
	oc := cfg.Oracle
	factory, err := oracle.NewFactory(oc.Backend, oc.Model, oc.BaseURL, oracle.NewSecret(oc.APIKey))
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = oc.MaxAttempts
	policy.InitialBackoff = oc.BackoffBase
	policy.MaxBackoff = oc.BackoffMax

	client, err := oracle.NewClient(factory, oracle.Options{
		Model:             oc.Model,
		MaxTokens:         oc.MaxResponseTokens,
		CallTimeout:       oc.CallTimeout,
		Policy:            policy,
		RequestsPerSecond: oc.RequestsPerSecond,
		Tokens:            oracle.NewTokenCounter(oc.Model),
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	return client, nil
}

// Close stops the services in reverse start order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown", "error", err)
		return err
	}
	return nil
}
