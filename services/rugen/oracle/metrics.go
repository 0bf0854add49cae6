// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

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
	tracer = otel.Tracer("rugen.oracle")
	meter  = otel.Meter("rugen.oracle")
)

var (
	callLatency     metric.Float64Histogram
	callTotal       metric.Int64Counter
	reconstructions metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		callLatency, err = meter.Float64Histogram(
			"rugen_oracle_call_duration_seconds",
			metric.WithDescription("Duration of single oracle calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callTotal, err = meter.Int64Counter(
			"rugen_oracle_calls_total",
			metric.WithDescription("Oracle calls by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reconstructions, err = meter.Int64Counter(
			"rugen_oracle_client_rebuilds_total",
			metric.WithDescription("Oracle client reconstructions after transient failures"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startAskSpan(ctx context.Context, model string, approxTokens int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Oracle.Ask",
		trace.WithAttributes(
			attribute.String("oracle.model", model),
			attribute.Int("oracle.prompt_tokens", approxTokens),
		),
	)
}

func recordCall(ctx context.Context, d time.Duration, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	callLatency.Record(ctx, d.Seconds(), attrs)
	callTotal.Add(ctx, 1, attrs)
}

func recordRebuild(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	reconstructions.Add(ctx, 1)
}
