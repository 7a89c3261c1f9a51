// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eventstore persists content streams: append-only, forkable
// event logs with optimistic concurrency.
//
// A stream's read view is numbered from 1. A fork taken at parent version N
// reads the parent's events 1..N by reference and numbers its own events
// from N+1. Streams are never modified in place; they can only be archived.
//
// Two backends implement Store: MemoryStore for tests and embedded use,
// and BadgerStore for durable storage.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"time"

	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownContentStream is returned for streams that were never created.
	ErrUnknownContentStream = errors.New("unknown content stream")

	// ErrContentStreamExists is returned when creating a stream id twice.
	ErrContentStreamExists = errors.New("content stream already exists")

	// ErrContentStreamArchived is returned when writing to or forking an
	// archived stream.
	ErrContentStreamArchived = errors.New("content stream is archived")

	// ErrConcurrencyConflict is returned when the stream head differs from
	// the expected version.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvalidStreamID is returned for stream ids that cannot be stored.
	ErrInvalidStreamID = errors.New("invalid content stream id")

	// ErrNoEvents is returned when appending an empty batch.
	ErrNoEvents = errors.New("no events to append")

	// ErrEventCorrupted is returned when a stored event fails its checksum.
	ErrEventCorrupted = errors.New("stored event corrupted (CRC mismatch)")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("event store is closed")
)

// ConflictError describes a lost optimistic append.
type ConflictError struct {
	Stream   StreamID
	Expected uint64
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: stream %s expected version %d, current version %d",
		ErrConcurrencyConflict, e.Stream, e.Expected, e.Actual)
}

// Unwrap returns ErrConcurrencyConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConcurrencyConflict
}

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

var streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// StreamID identifies a content stream.
type StreamID string

// NewStreamID returns a random stream id.
func NewStreamID() StreamID {
	return StreamID(uuid.NewString())
}

// Validate checks that the id can be used as a storage key.
func (id StreamID) Validate() error {
	if !streamIDPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidStreamID, string(id))
	}
	return nil
}

// String implements fmt.Stringer.
func (id StreamID) String() string { return string(id) }

// Metadata travels with each committed event. Commands record themselves
// here so that workspaces can re-run them on another stream.
type Metadata struct {
	CommandID      string          `json:"commandId,omitempty"`
	CommandType    string          `json:"commandType,omitempty"`
	CommandPayload json.RawMessage `json:"commandPayload,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Initiator      string          `json:"initiator,omitempty"`
}

// Envelope is one committed event as persisted. Field names are stable.
type Envelope struct {
	// ID is a uuid unique across all streams.
	ID string `json:"id"`

	// Stream is the stream that committed the event. Events read through
	// a fork carry the ancestor's id.
	Stream StreamID `json:"stream"`

	// Version is the event's position in the read view, starting at 1.
	Version uint64 `json:"version"`

	Type       events.Type     `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   Metadata        `json:"metadata"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Event decodes the payload.
func (e Envelope) Event() (events.Event, error) {
	return events.Decode(e.Type, e.Payload)
}

// Pending is an event waiting to be appended.
type Pending struct {
	Event    events.Event
	Metadata Metadata
}

// Position identifies a committed event by stream and version.
type Position struct {
	Stream  StreamID `json:"stream"`
	Version uint64   `json:"version"`
}

// StreamInfo describes a stream.
type StreamInfo struct {
	ID StreamID `json:"id"`

	// Parent is the stream this one was forked from, empty for fresh streams.
	Parent StreamID `json:"parent,omitempty"`

	// ForkVersion is the parent's version at the fork, 0 for fresh streams.
	ForkVersion uint64 `json:"forkVersion"`

	// Version is the head of the read view.
	Version uint64 `json:"version"`

	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
}

// Head returns the position of the latest event in the read view.
func (i StreamInfo) Head() Position {
	return Position{Stream: i.ID, Version: i.Version}
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is the persistence contract for content streams.
//
// Thread Safety: Implementations are safe for concurrent use. Appends to
// one stream are serialized by the expected version check; appends to
// different streams do not contend.
type Store interface {
	// Create registers a fresh, empty stream.
	Create(ctx context.Context, id StreamID) (StreamInfo, error)

	// Fork creates id as a fork of parent at parent's current head.
	Fork(ctx context.Context, parent, id StreamID) (StreamInfo, error)

	// Append commits records atomically if the head equals expected.
	Append(ctx context.Context, id StreamID, expected uint64, records []Pending) (Position, error)

	// ReadFrom yields the read view from version from (inclusive) up to the
	// head at the time of the call. The sequence can be iterated again.
	ReadFrom(ctx context.Context, id StreamID, from uint64) iter.Seq2[Envelope, error]

	// Info describes one stream.
	Info(ctx context.Context, id StreamID) (StreamInfo, error)

	// Streams lists all streams sorted by id.
	Streams(ctx context.Context) ([]StreamInfo, error)

	// Archive marks a stream read-only.
	Archive(ctx context.Context, id StreamID) error

	// Unarchive makes an archived stream writable again.
	Unarchive(ctx context.Context, id StreamID) error

	// Subscribe returns a subscription to commit notifications.
	Subscribe() *Subscription

	// Close releases resources.
	Close() error
}

// newEnvelopes encodes records into envelopes numbered from first.
func newEnvelopes(stream StreamID, first uint64, records []Pending, now time.Time) ([]Envelope, error) {
	out := make([]Envelope, 0, len(records))
	for i, r := range records {
		typ, payload, err := events.Encode(r.Event)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, Envelope{
			ID:         uuid.NewString(),
			Stream:     stream,
			Version:    first + uint64(i),
			Type:       typ,
			Payload:    payload,
			Metadata:   r.Metadata,
			RecordedAt: now,
		})
	}
	return out, nil
}

// segment is the part of a read view committed by one stream.
type segment struct {
	stream   StreamID
	from, to uint64 // inclusive
}

// lineage is the chain of streams from the oldest ancestor to the stream
// itself, with the fork version at which each one starts.
type lineage []StreamInfo

// segments splits the view [from, head] into per-stream ranges.
func (l lineage) segments(from, head uint64) []segment {
	if from == 0 {
		from = 1
	}
	var out []segment
	for i, info := range l {
		start := info.ForkVersion + 1
		end := head
		if i+1 < len(l) {
			end = l[i+1].ForkVersion
		}
		if end > head {
			end = head
		}
		if start < from {
			start = from
		}
		if start > end {
			continue
		}
		out = append(out, segment{stream: info.ID, from: start, to: end})
	}
	return out
}

// errorSeq yields a single error.
func errorSeq(err error) iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		yield(Envelope{}, err)
	}
}

// Collect drains a read sequence into a slice.
func Collect(seq iter.Seq2[Envelope, error]) ([]Envelope, error) {
	var out []Envelope
	for env, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
	return out, nil
}
