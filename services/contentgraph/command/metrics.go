// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("contentgraph.command")

var (
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_command_outcomes_total",
		Help: "Handled commands by type and outcome (success or error kind)",
	}, []string{"command", "outcome"})

	handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contentgraph_command_duration_seconds",
		Help:    "Command handling latency including the catch-up wait",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"command"})
)

func recordOutcome(t Type, start time.Time, err error) {
	handleDuration.WithLabelValues(string(t)).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = string(Classify(err))
	}
	outcomes.WithLabelValues(string(t), outcome).Inc()
}
