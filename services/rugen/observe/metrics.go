// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("rugen.observe")

var (
	runEvents   metric.Int64Counter
	sinkErrors  metric.Int64Counter
	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runEvents, err = meter.Int64Counter(
			"rugen_run_events_total",
			metric.WithDescription("Run statistics by counter name"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		sinkErrors, err = meter.Int64Counter(
			"rugen_sink_errors_total",
			metric.WithDescription("Attempt records a sink failed to persist"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordEvent(c Counter, delta int) {
	if err := initMetrics(); err != nil {
		return
	}
	runEvents.Add(context.Background(), int64(delta),
		metric.WithAttributes(attribute.String("counter", c.String())))
}

func recordSinkError() {
	if err := initMetrics(); err != nil {
		return
	}
	sinkErrors.Add(context.Background(), 1)
}
