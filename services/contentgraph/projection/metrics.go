// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package projection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("contentgraph.projection")

var (
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_projection_events_applied_total",
		Help: "Total number of events applied to stream graphs, by event type",
	}, []string{"event_type"})

	consistencyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentgraph_projection_consistency_failures_total",
		Help: "Total number of streams halted by a consistency violation",
	})

	appliedVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "contentgraph_projection_applied_version",
		Help: "Last applied event version per stream",
	}, []string{"stream"})

	forkInits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_projection_fork_inits_total",
		Help: "Fork graph initializations, by method (clone or replay)",
	}, []string{"method"})

	rebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentgraph_projection_rebuilds_total",
		Help: "Total number of completed stream rebuilds",
	})

	catchupTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentgraph_projection_catchup_timeouts_total",
		Help: "Total number of WaitFor calls that timed out",
	})

	waitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contentgraph_projection_wait_duration_seconds",
		Help:    "Time readers spent waiting for catch-up",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
	})
)
