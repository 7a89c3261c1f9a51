// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package projection maintains the queryable content graph of every
// content stream by consuming committed events.
//
// The projection is the only writer of the graph. It is eventually
// consistent: a committed position becomes visible after the consumer
// applied it, and WaitFor blocks a reader (never a writer) until then.
// A stream whose events break the covering-set invariants is halted
// rather than served; Rebuild replays it from the log.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/contentgraph/pkg/logging"
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCatchupTimeout bounds WaitFor when Options leave it unset.
	DefaultCatchupTimeout = 5 * time.Second

	// DefaultRebuildConcurrency bounds parallel stream rebuilds.
	DefaultRebuildConcurrency = 4

	applyBatchSize = 256
)

// TypeHierarchy answers node type inheritance questions for type filters.
type TypeHierarchy interface {
	IsOfType(name, super string) bool
}

// Options configures a Projection.
type Options struct {
	// Dimensions supplies the variation graph for the origin invariant.
	// Nil skips that check.
	Dimensions *dimension.Registry

	// NodeTypes resolves inheritance in node type filters. Nil matches
	// type names exactly.
	NodeTypes TypeHierarchy

	// CatchupTimeout bounds WaitFor. Zero uses DefaultCatchupTimeout;
	// negative waits for the caller's context only.
	CatchupTimeout time.Duration

	// RebuildConcurrency bounds RebuildAll. Zero uses the default.
	RebuildConcurrency int

	Logger *slog.Logger
}

// streamState owns one stream's graph.
type streamState struct {
	id eventstore.StreamID

	// applyMu serializes writers: catch-up, rebuild and reset.
	applyMu sync.Mutex

	// mu guards the fields below. Readers hold it shared for one query.
	mu       sync.RWMutex
	graph    *Graph // nil until initialized
	halted   error
	advanced chan struct{} // closed and replaced whenever state changes
}

// broadcast wakes waiters. Caller holds st.mu.
func (st *streamState) broadcast() {
	close(st.advanced)
	st.advanced = make(chan struct{})
}

// Projection projects every stream of a store.
//
// Thread Safety: Safe for concurrent use. Each stream has its own locks;
// streams never wait on each other.
type Projection struct {
	store  eventstore.Store
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	streams map[eventstore.StreamID]*streamState

	queue *workQueue
}

// New creates a projection over store. Call Run to start consuming.
func New(store eventstore.Store, opts Options) *Projection {
	if opts.CatchupTimeout == 0 {
		opts.CatchupTimeout = DefaultCatchupTimeout
	}
	if opts.RebuildConcurrency <= 0 {
		opts.RebuildConcurrency = DefaultRebuildConcurrency
	}
	return &Projection{
		store:   store,
		opts:    opts,
		logger:  logging.Component(opts.Logger, "projection"),
		streams: make(map[eventstore.StreamID]*streamState),
		queue:   newWorkQueue(),
	}
}

func (p *Projection) state(id eventstore.StreamID) *streamState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.streams[id]
	if !ok {
		st = &streamState{id: id, advanced: make(chan struct{})}
		p.streams[id] = st
	}
	return st
}

// known returns the state of a stream, creating it when the store has the
// stream.
func (p *Projection) known(ctx context.Context, id eventstore.StreamID) (*streamState, error) {
	p.mu.Lock()
	st, ok := p.streams[id]
	p.mu.Unlock()
	if ok {
		return st, nil
	}
	if _, err := p.store.Info(ctx, id); err != nil {
		return nil, err
	}
	return p.state(id), nil
}

func (p *Projection) variationGraph() *dimension.VariationGraph {
	if p.opts.Dimensions == nil {
		return nil
	}
	return p.opts.Dimensions.Current().Graph()
}

// -----------------------------------------------------------------------------
// Consumer
// -----------------------------------------------------------------------------

// Run consumes commit notifications until ctx is done.
//
// Description:
//
//	Subscribes to the store, catches up every existing stream, then
//	applies new events as notifications arrive. Errors of one stream are
//	logged and do not stop the loop.
//
// Outputs:
//
//	error - Always nil after ctx is done; a store listing error at start.
func (p *Projection) Run(ctx context.Context) error {
	sub := p.store.Subscribe()
	defer sub.Close()

	infos, err := p.store.Streams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}
	for _, info := range infos {
		p.catchUpLogged(ctx, info.ID)
	}
	p.logger.Info("projection consumer started", slog.Int("streams", len(infos)))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("projection consumer stopped")
			return nil
		case <-sub.C():
			for _, pos := range sub.Drain() {
				p.catchUpLogged(ctx, pos.Stream)
			}
		case <-p.queue.signal:
			for _, id := range p.queue.drain() {
				p.catchUpLogged(ctx, id)
			}
		}
	}
}

func (p *Projection) catchUpLogged(ctx context.Context, id eventstore.StreamID) {
	err := p.CatchUp(ctx, id)
	switch {
	case err == nil, errors.Is(err, ErrProjectionHalted), ctx.Err() != nil:
	default:
		p.logger.Warn("catch-up failed",
			slog.String("stream", string(id)),
			slog.String("error", err.Error()))
	}
}

// CatchUp applies all events of a stream committed since the last
// applied version. Run calls it; tests and tools may call it directly.
func (p *Projection) CatchUp(ctx context.Context, id eventstore.StreamID) error {
	st := p.state(id)
	st.applyMu.Lock()
	defer st.applyMu.Unlock()

	st.mu.RLock()
	graph, halted := st.graph, st.halted
	st.mu.RUnlock()
	if halted != nil {
		return fmt.Errorf("%w: %v", ErrProjectionHalted, halted)
	}

	if graph == nil {
		g, err := p.initial(ctx, id)
		if err != nil {
			return err
		}
		st.mu.Lock()
		st.graph = g
		st.broadcast()
		st.mu.Unlock()
		graph = g
	}

	vg := p.variationGraph()
	batch := make([]eventstore.Envelope, 0, applyBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		defer st.broadcast()
		for _, env := range batch {
			if err := graph.applyEnvelope(env, vg); err != nil {
				p.halt(st, err)
				return err
			}
			eventsApplied.WithLabelValues(string(env.Type)).Inc()
		}
		appliedVersion.WithLabelValues(string(id)).Set(float64(graph.version))
		batch = batch[:0]
		return nil
	}

	for env, err := range p.store.ReadFrom(ctx, id, graph.Version()+1) {
		if err != nil {
			return err
		}
		batch = append(batch, env)
		if len(batch) == applyBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// initial starts a stream's graph: a clone of the parent's graph when the
// parent sits exactly at the fork version, otherwise empty for replay.
func (p *Projection) initial(ctx context.Context, id eventstore.StreamID) (*Graph, error) {
	info, err := p.store.Info(ctx, id)
	if err != nil {
		return nil, err
	}
	if info.Parent != "" {
		p.mu.Lock()
		parent, ok := p.streams[info.Parent]
		p.mu.Unlock()
		if ok {
			parent.mu.RLock()
			var g *Graph
			if parent.graph != nil && parent.halted == nil && parent.graph.version == info.ForkVersion {
				g = parent.graph.clone(id)
			}
			parent.mu.RUnlock()
			if g != nil {
				forkInits.WithLabelValues("clone").Inc()
				return g, nil
			}
		}
		forkInits.WithLabelValues("replay").Inc()
	}
	return newGraph(id), nil
}

// halt stops a stream after a consistency violation. Caller holds st.mu.
func (p *Projection) halt(st *streamState, err error) {
	st.halted = err
	consistencyFailures.Inc()
	attrs := []any{
		slog.String("stream", string(st.id)),
		slog.String("error", err.Error()),
	}
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		attrs = append(attrs,
			slog.Uint64("version", ce.Version),
			slog.String("event_type", string(ce.EventType)),
			slog.String("aggregate", string(ce.Aggregate)))
	}
	p.logger.Error("projection halted", attrs...)
}

// -----------------------------------------------------------------------------
// Catch-up wait
// -----------------------------------------------------------------------------

// WaitFor blocks until the stream's applied version reaches pos.
//
// Description:
//
//	Waiters sleep on a per-stream channel that the consumer closes after
//	each applied batch. Cancelling the wait leaves the consumer untouched.
//
// Inputs:
//
//	ctx - Caller context; its cancellation is returned as is.
//	pos - Position to wait for.
//
// Outputs:
//
//	error - ErrProjectionCatchupTimeout after the configured timeout,
//	ErrProjectionHalted, ErrUnknownContentStream, or ctx.Err().
func (p *Projection) WaitFor(ctx context.Context, pos eventstore.Position) error {
	st, err := p.known(ctx, pos.Stream)
	if err != nil {
		return err
	}

	wctx := ctx
	if p.opts.CatchupTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, p.opts.CatchupTimeout)
		defer cancel()
	}

	p.queue.push(pos.Stream)
	start := time.Now()
	for {
		st.mu.RLock()
		ready := st.graph != nil && st.graph.version >= pos.Version
		halted := st.halted
		ch := st.advanced
		st.mu.RUnlock()

		if halted != nil {
			return fmt.Errorf("%w: %v", ErrProjectionHalted, halted)
		}
		if ready {
			waitDuration.Observe(time.Since(start).Seconds())
			return nil
		}

		select {
		case <-ch:
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			catchupTimeouts.Inc()
			return fmt.Errorf("%w: stream %s, waiting for version %d after %s",
				ErrProjectionCatchupTimeout, pos.Stream, pos.Version, p.opts.CatchupTimeout)
		}
	}
}

// AppliedVersion returns the last applied version of a stream and whether
// the stream has been initialized.
func (p *Projection) AppliedVersion(id eventstore.StreamID) (uint64, bool) {
	p.mu.Lock()
	st, ok := p.streams[id]
	p.mu.Unlock()
	if !ok {
		return 0, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.graph == nil {
		return 0, false
	}
	return st.graph.version, true
}

// Read runs fn against the stream's graph under a shared lock. fn must
// not retain the graph.
func (p *Projection) Read(ctx context.Context, id eventstore.StreamID, fn func(g *Graph) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := p.known(ctx, id)
	if err != nil {
		return err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.halted != nil {
		return fmt.Errorf("%w: %v", ErrProjectionHalted, st.halted)
	}
	g := st.graph
	if g == nil {
		g = newGraph(id)
	}
	return fn(g)
}

// -----------------------------------------------------------------------------
// Rebuild
// -----------------------------------------------------------------------------

// Rebuild replays a stream from its first event into a fresh graph and
// swaps it in. Queries keep using the old graph until the swap. A
// successful rebuild clears a halt.
func (p *Projection) Rebuild(ctx context.Context, id eventstore.StreamID) error {
	ctx, span := tracer.Start(ctx, "projection.Rebuild",
		trace.WithAttributes(attribute.String("stream", string(id))),
	)
	defer span.End()

	st, err := p.known(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown stream")
		return err
	}
	st.applyMu.Lock()
	defer st.applyMu.Unlock()

	start := time.Now()
	g := newGraph(id)
	vg := p.variationGraph()
	for env, err := range p.store.ReadFrom(ctx, id, 1) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			return err
		}
		if err := g.applyEnvelope(env, vg); err != nil {
			st.mu.Lock()
			p.halt(st, err)
			st.broadcast()
			st.mu.Unlock()
			span.RecordError(err)
			span.SetStatus(codes.Error, "consistency violation")
			return err
		}
	}

	st.mu.Lock()
	st.graph = g
	st.halted = nil
	st.broadcast()
	st.mu.Unlock()

	appliedVersion.WithLabelValues(string(id)).Set(float64(g.version))
	rebuilds.Inc()
	span.SetAttributes(attribute.Int64("version", int64(g.version)))
	p.logger.Info("stream rebuilt",
		slog.String("stream", string(id)),
		slog.Uint64("version", g.version),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// RebuildAll rebuilds every stream of the store in parallel and returns
// the first error.
func (p *Projection) RebuildAll(ctx context.Context) error {
	infos, err := p.store.Streams(ctx)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.RebuildConcurrency)
	for _, info := range infos {
		eg.Go(func() error {
			return p.Rebuild(ctx, info.ID)
		})
	}
	return eg.Wait()
}

// ResetCache drops every projected graph. Streams are re-projected from
// their logs by the consumer; until then they read as empty.
func (p *Projection) ResetCache() {
	p.mu.Lock()
	states := make([]*streamState, 0, len(p.streams))
	for _, st := range p.streams {
		states = append(states, st)
	}
	p.mu.Unlock()

	for _, st := range states {
		st.applyMu.Lock()
		st.mu.Lock()
		st.graph = nil
		st.halted = nil
		st.broadcast()
		st.mu.Unlock()
		st.applyMu.Unlock()
		p.queue.push(st.id)
	}
	p.logger.Info("projection cache reset", slog.Int("streams", len(states)))
}

// Fingerprint returns the blake3 digest of the stream's canonical graph.
func (p *Projection) Fingerprint(ctx context.Context, id eventstore.StreamID) (string, error) {
	var out string
	err := p.Read(ctx, id, func(g *Graph) error {
		out = g.Fingerprint()
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Work queue
// -----------------------------------------------------------------------------

// workQueue is a coalescing set of streams awaiting catch-up.
type workQueue struct {
	mu      sync.Mutex
	pending map[eventstore.StreamID]struct{}
	signal  chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{
		pending: make(map[eventstore.StreamID]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

func (q *workQueue) push(id eventstore.StreamID) {
	q.mu.Lock()
	q.pending[id] = struct{}{}
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *workQueue) drain() []eventstore.StreamID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]eventstore.StreamID, 0, len(q.pending))
	for id := range q.pending {
		out = append(out, id)
	}
	clear(q.pending)
	return out
}
