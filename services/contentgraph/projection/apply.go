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
	"maps"
	"slices"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
)

// touched collects the aggregates an event changed.
type touched map[events.NodeAggregateID]struct{}

func (t touched) add(id events.NodeAggregateID) { t[id] = struct{}{} }

// applyEnvelope applies one committed event and re-validates the
// aggregates it touched.
//
// Description:
//
//	Application is a pure function of the event and the graph: every event
//	carries the exact points it affects. The variation graph is consulted
//	only by the invariant check. On error the graph may be partially
//	mutated; the caller halts the stream.
func (g *Graph) applyEnvelope(env eventstore.Envelope, vg *dimension.VariationGraph) error {
	locate := func(err error) error {
		ce := &ConsistencyError{Stream: g.stream, Version: env.Version, EventType: env.Type, Reason: err.Error()}
		var v *violation
		if errors.As(err, &v) {
			ce.Aggregate = v.aggregate
			ce.Reason = v.reason
		}
		return ce
	}

	if env.Version != g.version+1 {
		return locate(violationf("", "expected version %d, got %d", g.version+1, env.Version))
	}

	e, err := env.Event()
	if err != nil {
		return locate(err)
	}

	t := touched{}
	if err := g.apply(e, t); err != nil {
		return locate(err)
	}
	g.version = env.Version
	if err := g.check(t, vg); err != nil {
		return locate(err)
	}
	return nil
}

// apply dispatches over the closed event set.
func (g *Graph) apply(e events.Event, t touched) error {
	switch ev := e.(type) {
	case *events.ContentStreamWasCreated, *events.ContentStreamWasForked:
		return nil
	case *events.RootNodeAggregateWithNodeWasCreated:
		return g.createRoot(ev, t)
	case *events.NodeAggregateWithNodeWasCreated:
		return g.createNode(ev, t)
	case *events.NodeSpecializationVariantWasCreated:
		return g.createVariant(ev.NodeAggregateID, ev.NodeID, ev.SourceOrigin, ev.TargetOrigin, ev.Coverage, ev.ParentID, t)
	case *events.NodeGeneralizationVariantWasCreated:
		return g.createVariant(ev.NodeAggregateID, ev.NodeID, ev.SourceOrigin, ev.TargetOrigin, ev.Coverage, ev.ParentID, t)
	case *events.NodePeerVariantWasCreated:
		return g.createVariant(ev.NodeAggregateID, ev.NodeID, ev.SourceOrigin, ev.TargetOrigin, ev.Coverage, ev.ParentID, t)
	case *events.NodePropertiesWereSet:
		return g.setProperties(ev, t)
	case *events.NodeReferencesWereSet:
		return g.setReferences(ev, t)
	case *events.NodeAggregateWasDisabled:
		return g.setDisabled(ev.NodeAggregateID, ev.AffectedPoints, true, t)
	case *events.NodeAggregateWasEnabled:
		return g.setDisabled(ev.NodeAggregateID, ev.AffectedPoints, false, t)
	case *events.NodeAggregateWasRemoved:
		return g.removeCoverage(ev.NodeAggregateID, ev.CoveredPoints, t)
	case *events.NodeAggregateCoverageWasRemoved:
		return g.removeCoverage(ev.NodeAggregateID, ev.CoveredPoints, t)
	case *events.NodeAggregateTypeWasChanged:
		return g.changeType(ev, t)
	case *events.NodeAggregateWasMoved:
		return g.move(ev, t)
	default:
		return violationf("", "no projection for event %T", e)
	}
}

func (g *Graph) createRoot(ev *events.RootNodeAggregateWithNodeWasCreated, t touched) error {
	if err := g.reserve(ev.NodeAggregateID, ev.NodeID); err != nil {
		return err
	}
	a := &aggregate{
		id:             ev.NodeAggregateID,
		typeName:       ev.NodeTypeName,
		classification: events.ClassificationRoot,
		origins:        map[string]events.NodeID{"": ev.NodeID},
		coverage:       make(map[string]events.NodeID, len(ev.CoveredPoints)),
		disabled:       dimension.PointSet{},
	}
	o := &occurrence{
		id:        ev.NodeID,
		aggregate: ev.NodeAggregateID,
		origin:    dimension.Point{},
		covered:   ev.CoveredPoints.Clone(),
	}
	for h := range o.covered {
		a.coverage[h] = o.id
	}
	g.aggregates[a.id] = a
	g.occurrences[o.id] = o
	t.add(a.id)
	return nil
}

func (g *Graph) createNode(ev *events.NodeAggregateWithNodeWasCreated, t touched) error {
	if err := g.reserve(ev.NodeAggregateID, ev.NodeID); err != nil {
		return err
	}
	if _, ok := g.aggregates[ev.ParentNodeAggregateID]; !ok {
		return violationf(ev.NodeAggregateID, "parent %s does not exist", ev.ParentNodeAggregateID)
	}
	classification := ev.Classification
	if classification == "" {
		classification = events.ClassificationRegular
	}
	origin := ev.OriginPoint
	if origin == nil {
		origin = dimension.Point{}
	}

	a := &aggregate{
		id:             ev.NodeAggregateID,
		typeName:       ev.NodeTypeName,
		name:           ev.NodeName,
		classification: classification,
		origins:        map[string]events.NodeID{origin.Hash(): ev.NodeID},
		coverage:       make(map[string]events.NodeID, len(ev.CoveredPoints)),
		disabled:       dimension.PointSet{},
	}
	o := &occurrence{
		id:         ev.NodeID,
		aggregate:  ev.NodeAggregateID,
		origin:     origin,
		covered:    ev.CoveredPoints.Clone(),
		properties: maps.Clone(ev.Properties),
	}
	g.aggregates[a.id] = a
	g.occurrences[o.id] = o
	for h := range o.covered {
		a.coverage[h] = o.id
		g.attach(a.id, ev.ParentNodeAggregateID, h, ev.SucceedingSiblingID)
	}
	t.add(a.id)
	return nil
}

func (g *Graph) reserve(id events.NodeAggregateID, nodeID events.NodeID) error {
	if _, ok := g.aggregates[id]; ok {
		return violationf(id, "aggregate already exists")
	}
	if _, ok := g.occurrences[nodeID]; ok {
		return violationf(id, "node %s already exists", nodeID)
	}
	return nil
}

// createVariant adds an occurrence at target that takes over coverage.
// Points the aggregate did not cover before are attached below parent.
func (g *Graph) createVariant(
	id events.NodeAggregateID,
	nodeID events.NodeID,
	source, target dimension.Point,
	coverage dimension.PointSet,
	parent events.NodeAggregateID,
	t touched,
) error {
	a, ok := g.aggregates[id]
	if !ok {
		return violationf(id, "aggregate does not exist")
	}
	srcID, ok := a.origins[source.Hash()]
	if !ok {
		return violationf(id, "no occurrence at source origin %s", source)
	}
	if _, ok := a.origins[target.Hash()]; ok {
		return violationf(id, "occurrence at %s already exists", target)
	}
	if _, ok := g.occurrences[nodeID]; ok {
		return violationf(id, "node %s already exists", nodeID)
	}
	src := g.occurrences[srcID]

	o := &occurrence{
		id:         nodeID,
		aggregate:  id,
		origin:     target,
		covered:    make(dimension.PointSet, len(coverage)),
		properties: src.properties,
		references: src.references,
	}
	for h, p := range coverage {
		if prevID, ok := a.coverage[h]; ok {
			delete(g.occurrences[prevID].covered, h)
		} else {
			if _, ok := g.aggregates[parent]; !ok {
				return violationf(id, "variant covers new point %s without a parent", p)
			}
			g.attach(id, parent, h, "")
		}
		a.coverage[h] = nodeID
		o.covered[h] = p
	}
	a.origins[target.Hash()] = nodeID
	g.occurrences[nodeID] = o
	g.dropEmpty(a)
	t.add(id)
	return nil
}

func (g *Graph) setProperties(ev *events.NodePropertiesWereSet, t touched) error {
	o, err := g.occurrenceAt(ev.NodeAggregateID, ev.OriginPoint)
	if err != nil {
		return err
	}
	props := maps.Clone(o.properties)
	if props == nil {
		props = make(map[string]any, len(ev.Properties))
	}
	maps.Copy(props, ev.Properties)
	for _, k := range ev.Unset {
		delete(props, k)
	}
	o.properties = props
	t.add(ev.NodeAggregateID)
	return nil
}

func (g *Graph) setReferences(ev *events.NodeReferencesWereSet, t touched) error {
	o, err := g.occurrenceAt(ev.NodeAggregateID, ev.OriginPoint)
	if err != nil {
		return err
	}
	refs := maps.Clone(o.references)
	if refs == nil {
		refs = make(map[string][]events.NodeAggregateID, 1)
	}
	if len(ev.Targets) == 0 {
		delete(refs, ev.ReferenceName)
	} else {
		refs[ev.ReferenceName] = slices.Clone(ev.Targets)
	}
	o.references = refs
	t.add(ev.NodeAggregateID)
	return nil
}

func (g *Graph) setDisabled(id events.NodeAggregateID, points dimension.PointSet, disabled bool, t touched) error {
	a, ok := g.aggregates[id]
	if !ok {
		return violationf(id, "aggregate does not exist")
	}
	for h, p := range points {
		if disabled {
			a.disabled[h] = p
		} else {
			delete(a.disabled, h)
		}
	}
	t.add(id)
	return nil
}

// removeCoverage removes the aggregate at the given points, cascading to
// its descendants there. Occurrences and aggregates left without coverage
// disappear.
func (g *Graph) removeCoverage(id events.NodeAggregateID, points dimension.PointSet, t touched) error {
	if _, ok := g.aggregates[id]; !ok {
		return violationf(id, "aggregate does not exist")
	}
	for _, h := range points.Hashes() {
		g.removeAt(id, h, t)
	}
	for agg := range t {
		if a, ok := g.aggregates[agg]; ok {
			g.dropEmpty(a)
		}
	}
	return nil
}

func (g *Graph) removeAt(id events.NodeAggregateID, h string, t touched) {
	a, ok := g.aggregates[id]
	if !ok {
		return
	}
	nodeID, ok := a.coverage[h]
	if !ok {
		return
	}
	key := edgeKey{agg: id, point: h}
	for _, child := range slices.Clone(g.children[key]) {
		g.removeAt(child, h, t)
	}
	delete(g.children, key)
	if parent, ok := g.parents[key]; ok {
		g.detach(id, parent, h)
	}
	delete(a.coverage, h)
	delete(a.disabled, h)
	delete(g.occurrences[nodeID].covered, h)
	t.add(id)
}

// dropEmpty deletes occurrences without coverage and the aggregate once
// none remain. Root occurrences keep their empty origin and go the same way.
func (g *Graph) dropEmpty(a *aggregate) {
	for originHash, nodeID := range a.origins {
		if len(g.occurrences[nodeID].covered) == 0 {
			delete(g.occurrences, nodeID)
			delete(a.origins, originHash)
		}
	}
	if len(a.origins) == 0 {
		delete(g.aggregates, a.id)
	}
}

func (g *Graph) changeType(ev *events.NodeAggregateTypeWasChanged, t touched) error {
	a, ok := g.aggregates[ev.NodeAggregateID]
	if !ok {
		return violationf(ev.NodeAggregateID, "aggregate does not exist")
	}
	a.typeName = ev.NewNodeTypeName
	t.add(a.id)
	return nil
}

func (g *Graph) move(ev *events.NodeAggregateWasMoved, t touched) error {
	a, ok := g.aggregates[ev.NodeAggregateID]
	if !ok {
		return violationf(ev.NodeAggregateID, "aggregate does not exist")
	}
	if _, ok := g.aggregates[ev.NewParentID]; !ok {
		return violationf(ev.NodeAggregateID, "new parent %s does not exist", ev.NewParentID)
	}
	for _, h := range ev.AffectedPoints.Hashes() {
		if _, ok := a.coverage[h]; !ok {
			return violationf(a.id, "move affects uncovered point %q", h)
		}
		if old, ok := g.parents[edgeKey{agg: a.id, point: h}]; ok {
			g.detach(a.id, old, h)
		}
		g.attach(a.id, ev.NewParentID, h, ev.SucceedingSiblingID)
	}
	t.add(a.id)
	return nil
}

// attach links child below parent at the point, before sibling when the
// sibling is a child there, otherwise last.
func (g *Graph) attach(child, parent events.NodeAggregateID, h string, sibling events.NodeAggregateID) {
	g.parents[edgeKey{agg: child, point: h}] = parent
	key := edgeKey{agg: parent, point: h}
	list := g.children[key]
	if sibling != "" {
		if i := slices.Index(list, sibling); i >= 0 {
			g.children[key] = slices.Insert(list, i, child)
			return
		}
	}
	g.children[key] = append(list, child)
}

func (g *Graph) detach(child, parent events.NodeAggregateID, h string) {
	delete(g.parents, edgeKey{agg: child, point: h})
	key := edgeKey{agg: parent, point: h}
	list := slices.DeleteFunc(g.children[key], func(id events.NodeAggregateID) bool { return id == child })
	if len(list) == 0 {
		delete(g.children, key)
		return
	}
	g.children[key] = list
}

func (g *Graph) occurrenceAt(id events.NodeAggregateID, origin dimension.Point) (*occurrence, error) {
	a, ok := g.aggregates[id]
	if !ok {
		return nil, violationf(id, "aggregate does not exist")
	}
	nodeID, ok := a.origins[origin.Hash()]
	if !ok {
		return nil, violationf(id, "no occurrence at %s", origin)
	}
	return g.occurrences[nodeID], nil
}
