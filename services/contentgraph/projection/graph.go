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
	"maps"
	"sort"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
)

// edgeKey scopes a hierarchy relation to one aggregate at one point.
type edgeKey struct {
	agg   events.NodeAggregateID
	point string // dimension.Point hash
}

// aggregate is the arena row of a node aggregate.
type aggregate struct {
	id             events.NodeAggregateID
	typeName       string
	name           events.NodeName
	classification events.Classification
	origins        map[string]events.NodeID // origin hash -> occurrence
	coverage       map[string]events.NodeID // covered point hash -> occurrence
	disabled       dimension.PointSet
}

// occurrence is the arena row of one node occurrence.
//
// properties and references are replaced, never mutated, so clones may
// share them.
type occurrence struct {
	id         events.NodeID
	aggregate  events.NodeAggregateID
	origin     dimension.Point
	covered    dimension.PointSet
	properties map[string]any
	references map[string][]events.NodeAggregateID
}

// Graph is the projected state of one content stream.
//
// Description:
//
//	Flat tables keyed by identifier. Hierarchy edges are scoped by
//	aggregate and point: parents maps (child, point) to the parent
//	aggregate, children maps (parent, point) to the ordered child list.
//	The node visible for an aggregate at a point is the occurrence whose
//	covered set contains the point.
//
// Thread Safety: Not safe for concurrent mutation. The Projection guards
// each stream's graph; callers only see it inside Projection.Read.
type Graph struct {
	stream      eventstore.StreamID
	version     uint64
	aggregates  map[events.NodeAggregateID]*aggregate
	occurrences map[events.NodeID]*occurrence
	parents     map[edgeKey]events.NodeAggregateID
	children    map[edgeKey][]events.NodeAggregateID
}

func newGraph(stream eventstore.StreamID) *Graph {
	return &Graph{
		stream:      stream,
		aggregates:  make(map[events.NodeAggregateID]*aggregate),
		occurrences: make(map[events.NodeID]*occurrence),
		parents:     make(map[edgeKey]events.NodeAggregateID),
		children:    make(map[edgeKey][]events.NodeAggregateID),
	}
}

// clone copies the graph for another stream.
func (g *Graph) clone(stream eventstore.StreamID) *Graph {
	out := newGraph(stream)
	out.version = g.version
	for id, a := range g.aggregates {
		out.aggregates[id] = &aggregate{
			id:             a.id,
			typeName:       a.typeName,
			name:           a.name,
			classification: a.classification,
			origins:        maps.Clone(a.origins),
			coverage:       maps.Clone(a.coverage),
			disabled:       a.disabled.Clone(),
		}
	}
	for id, o := range g.occurrences {
		out.occurrences[id] = &occurrence{
			id:         o.id,
			aggregate:  o.aggregate,
			origin:     o.origin,
			covered:    o.covered.Clone(),
			properties: o.properties,
			references: o.references,
		}
	}
	maps.Copy(out.parents, g.parents)
	for k, v := range g.children {
		out.children[k] = append([]events.NodeAggregateID(nil), v...)
	}
	return out
}

// -----------------------------------------------------------------------------
// Read model
// -----------------------------------------------------------------------------

// AggregateInfo summarizes an aggregate across all points.
type AggregateInfo struct {
	ID             events.NodeAggregateID
	TypeName       string
	Name           events.NodeName
	Classification events.Classification
	Origins        dimension.PointSet
	Covered        dimension.PointSet
	Disabled       dimension.PointSet
}

// Occurrence is a copy of one node occurrence.
type Occurrence struct {
	NodeID     events.NodeID
	Aggregate  events.NodeAggregateID
	Origin     dimension.Point
	Covered    dimension.PointSet
	Properties map[string]any
	References map[string][]events.NodeAggregateID
}

// Stream returns the stream the graph projects.
func (g *Graph) Stream() eventstore.StreamID { return g.stream }

// Version returns the last applied event version.
func (g *Graph) Version() uint64 { return g.version }

// HasAggregate reports whether the aggregate exists at any point.
func (g *Graph) HasAggregate(id events.NodeAggregateID) bool {
	_, ok := g.aggregates[id]
	return ok
}

// Aggregates returns all aggregate ids sorted.
func (g *Graph) Aggregates() []events.NodeAggregateID {
	out := make([]events.NodeAggregateID, 0, len(g.aggregates))
	for id := range g.aggregates {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// Aggregate describes an aggregate.
func (g *Graph) Aggregate(id events.NodeAggregateID) (AggregateInfo, bool) {
	a, ok := g.aggregates[id]
	if !ok {
		return AggregateInfo{}, false
	}
	info := AggregateInfo{
		ID:             a.id,
		TypeName:       a.typeName,
		Name:           a.name,
		Classification: a.classification,
		Origins:        dimension.PointSet{},
		Covered:        dimension.PointSet{},
		Disabled:       a.disabled.Clone(),
	}
	for _, nodeID := range a.origins {
		o := g.occurrences[nodeID]
		info.Origins.Add(o.origin)
		for h, p := range o.covered {
			info.Covered[h] = p
		}
	}
	return info, true
}

// OccurrenceAt returns the occurrence with the given origin.
func (g *Graph) OccurrenceAt(id events.NodeAggregateID, origin dimension.Point) (Occurrence, bool) {
	a, ok := g.aggregates[id]
	if !ok {
		return Occurrence{}, false
	}
	nodeID, ok := a.origins[origin.Hash()]
	if !ok {
		return Occurrence{}, false
	}
	return g.occurrenceCopy(g.occurrences[nodeID]), true
}

// CoveringOccurrence returns the occurrence visible at p.
func (g *Graph) CoveringOccurrence(id events.NodeAggregateID, p dimension.Point) (Occurrence, bool) {
	o := g.covering(id, p.Hash())
	if o == nil {
		return Occurrence{}, false
	}
	return g.occurrenceCopy(o), true
}

// Covers reports whether the aggregate is visible at p, ignoring
// restrictions.
func (g *Graph) Covers(id events.NodeAggregateID, p dimension.Point) bool {
	return g.covering(id, p.Hash()) != nil
}

// Parent returns the parent aggregate at p.
func (g *Graph) Parent(id events.NodeAggregateID, p dimension.Point) (events.NodeAggregateID, bool) {
	parent, ok := g.parents[edgeKey{agg: id, point: p.Hash()}]
	return parent, ok
}

// ParentAggregates returns the distinct parents of an aggregate across
// all points, sorted.
func (g *Graph) ParentAggregates(id events.NodeAggregateID) []events.NodeAggregateID {
	a, ok := g.aggregates[id]
	if !ok {
		return nil
	}
	seen := map[events.NodeAggregateID]bool{}
	var out []events.NodeAggregateID
	for h := range a.coverage {
		if parent, ok := g.parents[edgeKey{agg: id, point: h}]; ok && !seen[parent] {
			seen[parent] = true
			out = append(out, parent)
		}
	}
	sortIDs(out)
	return out
}

// Children returns the ordered children of an aggregate at p.
func (g *Graph) Children(id events.NodeAggregateID, p dimension.Point) []events.NodeAggregateID {
	return append([]events.NodeAggregateID(nil), g.children[edgeKey{agg: id, point: p.Hash()}]...)
}

// ChildAggregates returns the distinct children of an aggregate across all
// points, sorted.
func (g *Graph) ChildAggregates(id events.NodeAggregateID) []events.NodeAggregateID {
	a, ok := g.aggregates[id]
	if !ok {
		return nil
	}
	seen := map[events.NodeAggregateID]bool{}
	var out []events.NodeAggregateID
	for h := range a.coverage {
		for _, child := range g.children[edgeKey{agg: id, point: h}] {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	sortIDs(out)
	return out
}

// ChildByName finds the child of parent with the given name at any point.
func (g *Graph) ChildByName(parent events.NodeAggregateID, name events.NodeName) (events.NodeAggregateID, bool) {
	if name == "" {
		return "", false
	}
	for _, child := range g.ChildAggregates(parent) {
		if g.aggregates[child].name == name {
			return child, true
		}
	}
	return "", false
}

// TetheredChildren returns the tethered children of an aggregate, sorted.
func (g *Graph) TetheredChildren(id events.NodeAggregateID) []events.NodeAggregateID {
	var out []events.NodeAggregateID
	for _, child := range g.ChildAggregates(id) {
		if g.aggregates[child].classification == events.ClassificationTethered {
			out = append(out, child)
		}
	}
	return out
}

// Descendants enumerates the subtree below an aggregate across all
// points, sorted, excluding the aggregate itself.
func (g *Graph) Descendants(id events.NodeAggregateID) []events.NodeAggregateID {
	seen := map[events.NodeAggregateID]bool{id: true}
	var out []events.NodeAggregateID
	queue := []events.NodeAggregateID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range g.ChildAggregates(cur) {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
				queue = append(queue, child)
			}
		}
	}
	sortIDs(out)
	return out
}

// IsDescendant reports whether candidate is below ancestor at any point.
func (g *Graph) IsDescendant(candidate, ancestor events.NodeAggregateID) bool {
	for _, d := range g.Descendants(ancestor) {
		if d == candidate {
			return true
		}
	}
	return false
}

// IsDisabled reports whether the aggregate itself is disabled at p.
func (g *Graph) IsDisabled(id events.NodeAggregateID, p dimension.Point) bool {
	a, ok := g.aggregates[id]
	return ok && a.disabled.Contains(p)
}

func (g *Graph) covering(id events.NodeAggregateID, pointHash string) *occurrence {
	a, ok := g.aggregates[id]
	if !ok {
		return nil
	}
	nodeID, ok := a.coverage[pointHash]
	if !ok {
		return nil
	}
	return g.occurrences[nodeID]
}

func (g *Graph) occurrenceCopy(o *occurrence) Occurrence {
	refs := make(map[string][]events.NodeAggregateID, len(o.references))
	for k, v := range o.references {
		refs[k] = append([]events.NodeAggregateID(nil), v...)
	}
	return Occurrence{
		NodeID:     o.id,
		Aggregate:  o.aggregate,
		Origin:     o.origin.Clone(),
		Covered:    o.covered.Clone(),
		Properties: maps.Clone(o.properties),
		References: refs,
	}
}

func sortIDs(ids []events.NodeAggregateID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
