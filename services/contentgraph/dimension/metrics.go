// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dimension

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("contentgraph.dimension")
	meter  = otel.Meter("contentgraph.dimension")
)

var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	legalPoints  metric.Int64Gauge
	reloadTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"contentgraph_dimension_build_duration_seconds",
			metric.WithDescription("Duration of dimension space and variation graph builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"contentgraph_dimension_build_total",
			metric.WithDescription("Total number of dimension space builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		legalPoints, err = meter.Int64Gauge(
			"contentgraph_dimension_legal_points",
			metric.WithDescription("Number of legal dimension space points in the current snapshot"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reloadTotal, err = meter.Int64Counter(
			"contentgraph_dimension_reload_total",
			metric.WithDescription("Dimension configuration reloads triggered by file changes"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuild(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
}

func recordSwap(ctx context.Context, points int) {
	if err := initMetrics(); err != nil {
		return
	}
	legalPoints.Record(ctx, int64(points))
}

func recordReload(ctx context.Context, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	reloadTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
