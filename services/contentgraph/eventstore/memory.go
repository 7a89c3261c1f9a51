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
	"context"
	"errors"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const memoryBackend = "memory"

// memStream holds one stream's own events.
type memStream struct {
	mu     sync.RWMutex
	info   StreamInfo
	events []Envelope // versions info.ForkVersion+1 .. info.Version
}

func (s *memStream) snapshot() StreamInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// MemoryStore keeps streams in process memory.
//
// Thread Safety: Safe for concurrent use. Each stream has its own lock;
// the stream table is a sync.Map so appends to different streams share
// no lock.
type MemoryStore struct {
	streams  sync.Map // StreamID -> *memStream
	notifier *notifier
	logger   *slog.Logger
	closed   atomic.Bool
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		notifier: newNotifier(),
		logger:   logging.Component(logger, "eventstore"),
		now:      time.Now,
	}
}

func (m *MemoryStore) stream(id StreamID) (*memStream, error) {
	v, ok := m.streams.Load(id)
	if !ok {
		return nil, ErrUnknownContentStream
	}
	return v.(*memStream), nil
}

// Create registers a fresh stream.
func (m *MemoryStore) Create(ctx context.Context, id StreamID) (StreamInfo, error) {
	if err := m.check(ctx, id); err != nil {
		return StreamInfo{}, err
	}
	s := &memStream{info: StreamInfo{ID: id, CreatedAt: m.now().UTC()}}
	if _, loaded := m.streams.LoadOrStore(id, s); loaded {
		return StreamInfo{}, ErrContentStreamExists
	}
	streamsCreated.WithLabelValues(memoryBackend, "fresh").Inc()
	m.logger.Debug("content stream created", slog.String("stream", string(id)))
	m.notifier.publish(s.info.Head())
	return s.info, nil
}

// Fork creates id as a fork of parent at parent's head.
func (m *MemoryStore) Fork(ctx context.Context, parent, id StreamID) (StreamInfo, error) {
	if err := m.check(ctx, id); err != nil {
		return StreamInfo{}, err
	}
	p, err := m.stream(parent)
	if err != nil {
		return StreamInfo{}, err
	}
	pi := p.snapshot()
	if pi.Archived {
		return StreamInfo{}, ErrContentStreamArchived
	}

	s := &memStream{info: StreamInfo{
		ID:          id,
		Parent:      parent,
		ForkVersion: pi.Version,
		Version:     pi.Version,
		CreatedAt:   m.now().UTC(),
	}}
	if _, loaded := m.streams.LoadOrStore(id, s); loaded {
		return StreamInfo{}, ErrContentStreamExists
	}
	streamsCreated.WithLabelValues(memoryBackend, "fork").Inc()
	m.logger.Debug("content stream forked",
		slog.String("stream", string(id)),
		slog.String("parent", string(parent)),
		slog.Uint64("fork_version", pi.Version))
	m.notifier.publish(s.info.Head())
	return s.info, nil
}

// Append commits records if the head equals expected.
func (m *MemoryStore) Append(ctx context.Context, id StreamID, expected uint64, records []Pending) (Position, error) {
	if m.closed.Load() {
		return Position{}, ErrStoreClosed
	}
	if len(records) == 0 {
		return Position{}, ErrNoEvents
	}

	ctx, span := tracer.Start(ctx, "eventstore.Append",
		trace.WithAttributes(
			attribute.String("backend", memoryBackend),
			attribute.String("stream", string(id)),
			attribute.Int64("expected_version", int64(expected)),
			attribute.Int("count", len(records)),
		),
	)
	defer span.End()

	start := time.Now()
	pos, err := m.append(ctx, id, expected, records)
	observeAppend(memoryBackend, start, len(records), err)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			appendConflicts.WithLabelValues(memoryBackend).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return Position{}, err
	}

	span.SetAttributes(attribute.Int64("version", int64(pos.Version)))
	m.notifier.publish(pos)
	return pos, nil
}

func (m *MemoryStore) append(ctx context.Context, id StreamID, expected uint64, records []Pending) (Position, error) {
	s, err := m.stream(id)
	if err != nil {
		return Position{}, err
	}

	// Encoding happens outside the lock; only the version check and the
	// slice append are serialized.
	envs, err := newEnvelopes(id, expected+1, records, m.now().UTC())
	if err != nil {
		return Position{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.Archived {
		return Position{}, ErrContentStreamArchived
	}
	if s.info.Version != expected {
		return Position{}, &ConflictError{Stream: id, Expected: expected, Actual: s.info.Version}
	}
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}

	s.events = append(s.events, envs...)
	s.info.Version += uint64(len(envs))
	return s.info.Head(), nil
}

// ReadFrom yields the read view starting at from.
func (m *MemoryStore) ReadFrom(ctx context.Context, id StreamID, from uint64) iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		chain, head, err := m.lineage(id)
		if err != nil {
			yield(Envelope{}, err)
			return
		}
		for _, seg := range chain.segments(from, head) {
			s, err := m.stream(seg.stream)
			if err != nil {
				yield(Envelope{}, err)
				return
			}
			s.mu.RLock()
			base := s.info.ForkVersion + 1
			batch := append([]Envelope(nil), s.events[seg.from-base:seg.to-base+1]...)
			s.mu.RUnlock()

			for _, env := range batch {
				if err := ctx.Err(); err != nil {
					yield(Envelope{}, err)
					return
				}
				if !yield(env, nil) {
					return
				}
			}
		}
	}
}

// lineage walks parent links up to the root stream.
func (m *MemoryStore) lineage(id StreamID) (lineage, uint64, error) {
	s, err := m.stream(id)
	if err != nil {
		return nil, 0, err
	}
	info := s.snapshot()
	head := info.Version
	chain := lineage{info}
	for info.Parent != "" {
		p, err := m.stream(info.Parent)
		if err != nil {
			return nil, 0, err
		}
		info = p.snapshot()
		chain = append(chain, info)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, head, nil
}

// Info describes one stream.
func (m *MemoryStore) Info(ctx context.Context, id StreamID) (StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return StreamInfo{}, err
	}
	s, err := m.stream(id)
	if err != nil {
		return StreamInfo{}, err
	}
	return s.snapshot(), nil
}

// Streams lists all streams sorted by id.
func (m *MemoryStore) Streams(ctx context.Context) ([]StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []StreamInfo
	m.streams.Range(func(_, v any) bool {
		out = append(out, v.(*memStream).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Archive marks a stream read-only.
func (m *MemoryStore) Archive(ctx context.Context, id StreamID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := m.stream(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.info.Archived = true
	s.mu.Unlock()
	m.logger.Debug("content stream archived", slog.String("stream", string(id)))
	return nil
}

// Unarchive makes an archived stream writable again.
func (m *MemoryStore) Unarchive(ctx context.Context, id StreamID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := m.stream(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.info.Archived = false
	s.mu.Unlock()
	m.logger.Debug("content stream unarchived", slog.String("stream", string(id)))
	return nil
}

// Subscribe returns a commit notification subscription.
func (m *MemoryStore) Subscribe() *Subscription {
	return m.notifier.subscribe()
}

// Close marks the store closed. Data is dropped with the store.
func (m *MemoryStore) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *MemoryStore) check(ctx context.Context, id StreamID) error {
	if m.closed.Load() {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return id.Validate()
}
