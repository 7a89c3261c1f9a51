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
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"lukechampine.com/blake3"

	"github.com/AleutianAI/contentgraph/pkg/logging"
)

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// Snapshot bundles everything derived from one dimension configuration.
//
// Thread Safety: Immutable; safe for concurrent reads. The PointSet
// returned by Legal is shared and must not be modified.
type Snapshot struct {
	hash       string
	dimensions []Dimension
	names      []string
	legal      PointSet
	graph      *VariationGraph
	builtAt    time.Time
}

// Build validates dims and computes the legal points and variation graph.
func Build(dims []Dimension) (*Snapshot, error) {
	compiled, err := compile(dims)
	if err != nil {
		return nil, err
	}
	legal := legalCombinations(compiled)

	names := make([]string, len(compiled))
	for i, d := range compiled {
		names[i] = d.Name
	}

	copied := make([]Dimension, len(dims))
	copy(copied, dims)

	return &Snapshot{
		hash:       ConfigHash(dims),
		dimensions: copied,
		names:      names,
		legal:      legal,
		graph:      buildVariationGraph(compiled, legal),
		builtAt:    time.Now(),
	}, nil
}

// ConfigHash returns the blake3 digest of the canonical JSON form of dims.
// Map keys are sorted by encoding/json, so the digest is stable.
func ConfigHash(dims []Dimension) string {
	data, err := json.Marshal(dims)
	if err != nil {
		// Dimension holds only strings, slices and maps of those.
		panic("dimension: marshal configuration: " + err.Error())
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash returns the configuration hash the snapshot was built from.
func (s *Snapshot) Hash() string { return s.hash }

// BuiltAt returns when the snapshot was computed.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Dimensions returns a copy of the configuration.
func (s *Snapshot) Dimensions() []Dimension {
	out := make([]Dimension, len(s.dimensions))
	copy(out, s.dimensions)
	return out
}

// DimensionNames returns the names of valued dimensions in declaration order.
func (s *Snapshot) DimensionNames() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Legal returns the legal points. Shared; do not modify.
func (s *Snapshot) Legal() PointSet { return s.legal }

// IsLegal reports whether p is a legal dimension space point.
func (s *Snapshot) IsLegal(p Point) bool { return s.legal.Contains(p) }

// Graph returns the variation graph.
func (s *Snapshot) Graph() *VariationGraph { return s.graph }

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry holds the process-wide current Snapshot.
//
// Description:
//
//	Configure builds a Snapshot (or reuses one built earlier for the same
//	configuration hash) and swaps it in atomically. Concurrent Configure
//	calls for the same configuration share one build.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	current atomic.Pointer[Snapshot]
	flight  singleflight.Group
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*Snapshot
}

// NewRegistry returns a registry holding the snapshot of an empty
// configuration (a single empty point).
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger: logging.Component(logger, "dimension"),
		cache:  make(map[string]*Snapshot),
	}
	empty, err := Build(nil)
	if err != nil {
		panic("dimension: empty configuration rejected: " + err.Error())
	}
	r.cache[empty.hash] = empty
	r.current.Store(empty)
	return r
}

// Current returns the active snapshot. Never nil.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Configure builds or reuses the snapshot for dims and makes it current.
//
// Inputs:
//
//	ctx - Used for tracing and metrics only; the build itself is CPU bound.
//	dims - The new configuration.
//
// Outputs:
//
//	*Snapshot - The now current snapshot.
//	error - ErrInvalidDimensionConfiguration; the current snapshot is kept.
func (r *Registry) Configure(ctx context.Context, dims []Dimension) (*Snapshot, error) {
	hash := ConfigHash(dims)

	ctx, span := tracer.Start(ctx, "Registry.Configure",
		trace.WithAttributes(attribute.String("dimension.config_hash", hash)),
	)
	defer span.End()

	r.mu.Lock()
	cached, ok := r.cache[hash]
	r.mu.Unlock()

	if !ok {
		result, err, _ := r.flight.Do(hash, func() (interface{}, error) {
			start := time.Now()
			snap, err := Build(dims)
			recordBuild(ctx, time.Since(start), err == nil)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.cache[hash] = snap
			r.mu.Unlock()
			return snap, nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "build failed")
			r.logger.Warn("dimension configuration rejected",
				slog.String("config_hash", hash),
				slog.String("error", err.Error()))
			return nil, err
		}
		cached = result.(*Snapshot)
	}

	previous := r.current.Swap(cached)
	recordSwap(ctx, len(cached.legal))
	span.SetAttributes(
		attribute.Int("dimension.legal_points", len(cached.legal)),
		attribute.Bool("dimension.cache_hit", ok),
	)

	if previous == nil || previous.hash != cached.hash {
		r.logger.Info("dimension configuration applied",
			slog.String("config_hash", hash),
			slog.Int("dimensions", len(cached.names)),
			slog.Int("legal_points", len(cached.legal)),
			slog.Bool("cache_hit", ok))
	}
	return cached, nil
}

// ResetCache drops every cached snapshot except the current one.
func (r *Registry) ResetCache() {
	cur := r.current.Load()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[string]*Snapshot{cur.hash: cur}
}

// CachedSnapshots returns how many snapshots are cached.
func (r *Registry) CachedSnapshots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
