// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("rugen.resolve")
	meter  = otel.Meter("rugen.resolve")
)

var (
	resolutionsTotal metric.Int64Counter
	memoHitsTotal    metric.Int64Counter
	chainDepth       metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		resolutionsTotal, err = meter.Int64Counter(
			"rugen_resolutions_total",
			metric.WithDescription("Oracle-backed resolutions by phase and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		memoHitsTotal, err = meter.Int64Counter(
			"rugen_memo_hits_total",
			metric.WithDescription("Resolutions served from the memo table"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		chainDepth, err = meter.Int64Histogram(
			"rugen_resolution_depth",
			metric.WithDescription("Depth of the in-progress chain at each resolve call"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startResolveSpan(ctx context.Context, parent, typeVar string, depth int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(
			attribute.String("resolve.parent", parent),
			attribute.String("resolve.type_var", typeVar),
			attribute.Int("resolve.depth", depth),
		),
	)
}

func recordResolution(ctx context.Context, phase string, resolved bool) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := "unresolved"
	if resolved {
		outcome = "resolved"
	}
	resolutionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	))
}

func recordMemoHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	memoHitsTotal.Add(ctx, 1)
}

func recordDepth(ctx context.Context, depth int) {
	if err := initMetrics(); err != nil {
		return
	}
	chainDepth.Record(ctx, int64(depth))
}
