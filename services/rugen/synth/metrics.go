// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("rugen.synth")
	meter  = otel.Meter("rugen.synth")
)

var (
	functionsTotal metric.Int64Counter
	crateDuration  metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		functionsTotal, err = meter.Int64Counter(
			"rugen_functions_total",
			metric.WithDescription("Target functions by final state"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		crateDuration, err = meter.Float64Histogram(
			"rugen_crate_duration_seconds",
			metric.WithDescription("Wall time of one crate run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordFunction(ctx context.Context, s State) {
	if err := initMetrics(); err != nil {
		return
	}
	functionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", s.String())))
}

func recordCrate(ctx context.Context, crate string, seconds float64) {
	if err := initMetrics(); err != nil {
		return
	}
	crateDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("crate", crate)))
}
