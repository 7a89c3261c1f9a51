// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eventstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("contentgraph.eventstore")

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	appendedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_eventstore_appended_events_total",
		Help: "Total number of events committed to content streams",
	}, []string{"backend"})

	appendConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_eventstore_append_conflicts_total",
		Help: "Total number of appends rejected by the expected version check",
	}, []string{"backend"})

	appendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contentgraph_eventstore_append_duration_seconds",
		Help:    "Append latency in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"backend"})

	streamsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_eventstore_streams_created_total",
		Help: "Total number of content streams created, by kind",
	}, []string{"backend", "kind"})
)

func observeAppend(backend string, start time.Time, count int, err error) {
	appendDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err == nil {
		appendedEvents.WithLabelValues(backend).Add(float64(count))
	}
}
