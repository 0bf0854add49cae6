// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("rugen.sandbox")
	meter  = otel.Meter("rugen.sandbox")
)

var (
	probeLatency metric.Float64Histogram
	probeTotal   metric.Int64Counter
	commitTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		probeLatency, err = meter.Float64Histogram(
			"rugen_probe_duration_seconds",
			metric.WithDescription("Duration of build tool runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		probeTotal, err = meter.Int64Counter(
			"rugen_probes_total",
			metric.WithDescription("Probes by mode and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"rugen_commits_total",
			metric.WithDescription("Code blocks committed to the workspace"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startProbeSpan(ctx context.Context, file string, mode Mode) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Sandbox.Probe",
		trace.WithAttributes(
			attribute.String("sandbox.file", file),
			attribute.String("sandbox.mode", mode.String()),
		),
	)
}

func setProbeSpanResult(span trace.Span, ok bool) {
	span.SetAttributes(attribute.Bool("sandbox.ok", ok))
}

func recordProbe(ctx context.Context, mode Mode, outcome string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode.String()),
		attribute.String("outcome", outcome),
	)
	probeLatency.Record(ctx, d.Seconds(), attrs)
	probeTotal.Add(ctx, 1, attrs)
}

func recordCommit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	commitTotal.Add(ctx, 1)
}
