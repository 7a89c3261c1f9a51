// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_workspace_operations_total",
		Help: "Workspace operations by kind and outcome",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contentgraph_workspace_operation_duration_seconds",
		Help:    "Workspace operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	rerunCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_workspace_rerun_commands_total",
		Help: "Commands re-run on another stream during rebase or publish",
	}, []string{"operation"})

	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentgraph_workspace_published_events_total",
		Help: "Events published into target streams, by path",
	}, []string{"path"})
)
