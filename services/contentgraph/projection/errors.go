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
	"errors"
	"fmt"

	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
)

var (
	// ErrProjectionConsistency is returned when applying an event would
	// leave the graph violating its structural invariants. It indicates a
	// bug or a corrupted log, never bad input.
	ErrProjectionConsistency = errors.New("projection consistency violation")

	// ErrProjectionHalted is returned by queries on a stream whose
	// projection stopped after a consistency violation. Rebuild recovers.
	ErrProjectionHalted = errors.New("projection halted")

	// ErrProjectionCatchupTimeout is returned when WaitFor gives up.
	ErrProjectionCatchupTimeout = errors.New("projection catch-up timeout")

	// ErrUnknownContentStream is the event store's error, re-exported for
	// query callers.
	ErrUnknownContentStream = eventstore.ErrUnknownContentStream
)

// ConsistencyError locates a consistency violation.
type ConsistencyError struct {
	Stream    eventstore.StreamID
	Version   uint64
	EventType events.Type
	Aggregate events.NodeAggregateID
	Reason    string
}

func (e *ConsistencyError) Error() string {
	if e.Aggregate != "" {
		return fmt.Sprintf("%s: stream %s version %d (%s): aggregate %s: %s",
			ErrProjectionConsistency, e.Stream, e.Version, e.EventType, e.Aggregate, e.Reason)
	}
	return fmt.Sprintf("%s: stream %s version %d (%s): %s",
		ErrProjectionConsistency, e.Stream, e.Version, e.EventType, e.Reason)
}

// Unwrap returns ErrProjectionConsistency.
func (e *ConsistencyError) Unwrap() error {
	return ErrProjectionConsistency
}

// violation is an invariant failure before it is located in the log.
type violation struct {
	aggregate events.NodeAggregateID
	reason    string
}

func (v *violation) Error() string {
	return string(v.aggregate) + ": " + v.reason
}

func violationf(agg events.NodeAggregateID, format string, args ...any) error {
	return &violation{aggregate: agg, reason: fmt.Sprintf(format, args...)}
}
