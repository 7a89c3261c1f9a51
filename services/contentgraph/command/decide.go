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
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
)

// decider turns one command into events against one read of the graph.
// It never mutates the graph.
type decider struct {
	g     *projection.Graph
	snap  *dimension.Snapshot
	vg    *dimension.VariationGraph
	types NodeTypeProvider
}

// decide dispatches over the closed command set.
func (d *decider) decide(cmd Command) ([]events.Event, error) {
	switch c := cmd.(type) {
	case CreateRootNodeAggregateWithNode:
		return d.createRoot(c)
	case CreateNodeAggregateWithNode:
		return d.createNode(c)
	case CreateNodeSpecialization:
		return d.createVariant(c.NodeAggregateID, c.SourceOrigin, c.TargetOrigin, c.NodeID, c.TetheredNodeIDs, variantSpecialization)
	case CreateNodeGeneralization:
		return d.createVariant(c.NodeAggregateID, c.SourceOrigin, c.TargetOrigin, c.NodeID, c.TetheredNodeIDs, variantGeneralization)
	case CreateNodePeerVariant:
		return d.createVariant(c.NodeAggregateID, c.SourceOrigin, c.TargetOrigin, c.NodeID, c.TetheredNodeIDs, variantPeer)
	case SetNodeProperties:
		return d.setProperties(c)
	case SetNodeReferences:
		return d.setReferences(c)
	case DisableNodeAggregate:
		return d.disable(c)
	case EnableNodeAggregate:
		return d.enable(c)
	case RemoveNodeAggregate:
		return d.remove(c)
	case RemoveNodesFromAggregate:
		return d.removeFrom(c)
	case ChangeNodeAggregateType:
		return d.changeType(c)
	case MoveNodeAggregate:
		return d.move(c)
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", ErrInvalidCommandPayload, cmd)
	}
}

// -----------------------------------------------------------------------------
// Lookups
// -----------------------------------------------------------------------------

func (d *decider) aggregate(id events.NodeAggregateID) (projection.AggregateInfo, error) {
	info, ok := d.g.Aggregate(id)
	if !ok {
		return projection.AggregateInfo{}, fmt.Errorf("%w: %s", ErrNodeAggregateNotFound, id)
	}
	return info, nil
}

func (d *decider) requireAbsent(id events.NodeAggregateID) error {
	if d.g.HasAggregate(id) {
		return fmt.Errorf("%w: %s", ErrNodeAggregateAlreadyExists, id)
	}
	return nil
}

func (d *decider) requireLegal(p dimension.Point) error {
	if !d.snap.IsLegal(p) {
		return fmt.Errorf("%w: %s", ErrDimensionSpacePointNotLegal, p)
	}
	return nil
}

// requireConcreteType checks that nodes of the type may be created.
func (d *decider) requireConcreteType(name string) error {
	if !d.types.Has(name) {
		return fmt.Errorf("%w: %s", ErrNodeTypeNotFound, name)
	}
	if d.types.IsAbstract(name) {
		return fmt.Errorf("%w: %s", ErrNodeTypeIsAbstract, name)
	}
	return nil
}

// allowsChild applies the parent's constraints and, for tethered parents,
// the grandparents' constraints on the tethered child's children.
func (d *decider) allowsChild(parent projection.AggregateInfo, childType string) bool {
	if !d.types.AllowsChild(parent.TypeName, childType) {
		return false
	}
	if parent.Classification != events.ClassificationTethered {
		return true
	}
	for _, gp := range d.g.ParentAggregates(parent.ID) {
		gpInfo, ok := d.g.Aggregate(gp)
		if ok && !d.types.AllowsGrandchild(gpInfo.TypeName, string(parent.Name), childType) {
			return false
		}
	}
	return true
}

// scope returns p and its specializations among covered. Points unknown
// to the variation graph scope to themselves.
func (d *decider) scope(p dimension.Point, covered dimension.PointSet) dimension.PointSet {
	out := d.vg.SpecializationsOrSelf(p).Intersect(covered)
	if covered.Contains(p) {
		out.Add(p)
	}
	return out
}

func normalize(p dimension.Point) dimension.Point {
	if p == nil {
		return dimension.Point{}
	}
	return p
}

// -----------------------------------------------------------------------------
// Coverage
// -----------------------------------------------------------------------------

// part is one occurrence to create: an origin and the points it covers.
type part struct {
	origin  dimension.Point
	covered dimension.PointSet
}

// partition assigns every point of universe to its best origin. Origins
// are ordered most general first; parts without points are dropped.
func (d *decider) partition(origins []dimension.Point, universe dimension.PointSet) []part {
	sort.SliceStable(origins, func(i, j int) bool {
		wi, wj := d.vg.Weight(origins[i]), d.vg.Weight(origins[j])
		if wi != wj {
			return wi < wj
		}
		return origins[i].Hash() < origins[j].Hash()
	})
	candidates := dimension.NewPointSet(origins...)
	byOrigin := make(map[string]dimension.PointSet, len(origins))
	for h, p := range universe {
		best, ok := d.vg.BestOrigin(p, candidates)
		if !ok {
			continue
		}
		set, ok := byOrigin[best.Hash()]
		if !ok {
			set = dimension.PointSet{}
			byOrigin[best.Hash()] = set
		}
		set[h] = p
	}
	out := make([]part, 0, len(origins))
	for _, o := range origins {
		if set := byOrigin[o.Hash()]; len(set) > 0 {
			out = append(out, part{origin: o, covered: set})
		}
	}
	return out
}

// topPoints returns the points of set without a generalization in set.
func (d *decider) topPoints(set dimension.PointSet) []dimension.Point {
	var out []dimension.Point
	for _, p := range set.Points() {
		top := true
		for _, q := range d.vg.Generalizations(p) {
			if set.Contains(q) {
				top = false
				break
			}
		}
		if top {
			out = append(out, p)
		}
	}
	return out
}

// occurrenceParts describes an aggregate's occurrences as parts. A root
// aggregate is split along the most general points it covers.
func (d *decider) occurrenceParts(info projection.AggregateInfo) []part {
	if info.Classification == events.ClassificationRoot {
		return d.partition(d.topPoints(info.Covered), info.Covered)
	}
	return d.partition(info.Origins.Points(), info.Covered)
}

// variantCoverage computes the points an occurrence at target takes:
// every p in target's specializations-or-self where either the aggregate
// covers p and target precedes p's current origin in p's fallback order,
// or the aggregate does not cover p but parentCovered does.
func (d *decider) variantCoverage(id events.NodeAggregateID, target dimension.Point, parentCovered dimension.PointSet) dimension.PointSet {
	out := dimension.PointSet{}
	for h, p := range d.vg.SpecializationsOrSelf(target) {
		occ, covered := d.g.CoveringOccurrence(id, p)
		if !covered {
			if parentCovered.Contains(p) {
				out[h] = p
			}
			continue
		}
		best, ok := d.vg.BestOrigin(p, dimension.NewPointSet(target, occ.Origin))
		if ok && best.Equal(target) {
			out[h] = p
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Tethered descendants
// -----------------------------------------------------------------------------

// tetheredBuilder creates tethered descendants and fills in their ids.
type tetheredBuilder struct {
	d   *decider
	ids map[string]events.NodeID
	out []events.Event
}

func (b *tetheredBuilder) nodeID(path string) events.NodeID {
	if id, ok := b.ids[path]; ok && id != "" {
		return id
	}
	id := events.NewNodeID()
	b.ids[path] = id
	return id
}

// create adds the tethered children of typeName below parent, one
// occurrence per part, recursively.
func (b *tetheredBuilder) create(parent events.NodeAggregateID, typeName string, parts []part, prefix string) error {
	if len(parts) == 0 {
		return nil
	}
	for _, tc := range b.d.types.TetheredChildren(typeName) {
		name := events.NodeName(tc.Name)
		id := events.TetheredNodeAggregateID(parent, name)
		if err := b.d.requireAbsent(id); err != nil {
			return err
		}
		path := prefix + tc.Name
		first := parts[0]
		b.out = append(b.out, &events.NodeAggregateWithNodeWasCreated{
			NodeAggregateID:       id,
			NodeTypeName:          tc.Type,
			NodeID:                b.nodeID(path),
			OriginPoint:           first.origin.Clone(),
			CoveredPoints:         first.covered.Clone(),
			ParentNodeAggregateID: parent,
			NodeName:              name,
			Classification:        events.ClassificationTethered,
			Properties:            b.d.types.DefaultProperties(tc.Type),
		})
		for _, p := range parts[1:] {
			b.out = append(b.out, b.d.variantEvent(id, b.nodeID(path+"@"+p.origin.Hash()), first.origin, p.origin, p.covered, parent))
		}
		if err := b.create(id, tc.Type, parts, path+"/"); err != nil {
			return err
		}
	}
	return nil
}

// vary creates target variants of the existing tethered descendants of
// parent, whose coverage after this command is parentCovered.
func (b *tetheredBuilder) vary(parent events.NodeAggregateID, source, target dimension.Point, parentCovered dimension.PointSet, prefix string) {
	for _, child := range b.d.g.TetheredChildren(parent) {
		info, ok := b.d.g.Aggregate(child)
		if !ok || info.Origins.Contains(target) {
			continue
		}
		occ, ok := b.d.g.CoveringOccurrence(child, source)
		if !ok {
			continue
		}
		coverage := b.d.variantCoverage(child, target, parentCovered)
		if len(coverage) == 0 {
			continue
		}
		path := prefix + string(info.Name)
		b.out = append(b.out, b.d.variantEvent(child, b.nodeID(path), occ.Origin, target, coverage, parent))
		b.vary(child, source, target, info.Covered.Union(coverage), path+"/")
	}
}

// variantEvent picks the event kind from the relation of source and target.
func (d *decider) variantEvent(id events.NodeAggregateID, nodeID events.NodeID, source, target dimension.Point, coverage dimension.PointSet, parent events.NodeAggregateID) events.Event {
	switch {
	case d.vg.IsSpecializationOf(target, source):
		return &events.NodeSpecializationVariantWasCreated{
			NodeAggregateID: id, NodeID: nodeID,
			SourceOrigin: source.Clone(), TargetOrigin: target.Clone(),
			Coverage: coverage.Clone(), ParentID: parent,
		}
	case d.vg.IsGeneralizationOf(target, source):
		return &events.NodeGeneralizationVariantWasCreated{
			NodeAggregateID: id, NodeID: nodeID,
			SourceOrigin: source.Clone(), TargetOrigin: target.Clone(),
			Coverage: coverage.Clone(), ParentID: parent,
		}
	default:
		return &events.NodePeerVariantWasCreated{
			NodeAggregateID: id, NodeID: nodeID,
			SourceOrigin: source.Clone(), TargetOrigin: target.Clone(),
			Coverage: coverage.Clone(), ParentID: parent,
		}
	}
}

// -----------------------------------------------------------------------------
// Creation
// -----------------------------------------------------------------------------

func (d *decider) createRoot(c CreateRootNodeAggregateWithNode) ([]events.Event, error) {
	if err := d.requireAbsent(c.NodeAggregateID); err != nil {
		return nil, err
	}
	if err := d.requireConcreteType(c.NodeTypeName); err != nil {
		return nil, err
	}
	if !d.types.IsRoot(c.NodeTypeName) {
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeIsNotRoot, c.NodeTypeName)
	}

	covered := d.snap.Legal().Clone()
	b := &tetheredBuilder{d: d, ids: map[string]events.NodeID{}}
	b.out = append(b.out, &events.RootNodeAggregateWithNodeWasCreated{
		NodeAggregateID: c.NodeAggregateID,
		NodeTypeName:    c.NodeTypeName,
		NodeID:          c.NodeID,
		CoveredPoints:   covered,
	})
	parts := d.partition(d.topPoints(covered), covered)
	if err := b.create(c.NodeAggregateID, c.NodeTypeName, parts, ""); err != nil {
		return nil, err
	}
	return b.out, nil
}

func (d *decider) createNode(c CreateNodeAggregateWithNode) ([]events.Event, error) {
	origin := normalize(c.OriginPoint)
	if err := d.requireAbsent(c.NodeAggregateID); err != nil {
		return nil, err
	}
	if err := d.requireConcreteType(c.NodeTypeName); err != nil {
		return nil, err
	}
	if d.types.IsRoot(c.NodeTypeName) {
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeIsRoot, c.NodeTypeName)
	}
	if err := d.requireLegal(origin); err != nil {
		return nil, err
	}

	parent, err := d.aggregate(c.ParentNodeAggregateID)
	if err != nil {
		return nil, err
	}
	if !parent.Covered.Contains(origin) {
		return nil, fmt.Errorf("%w: parent %s at %s", ErrParentNodeNotVisible, parent.ID, origin)
	}
	if !d.allowsChild(parent, c.NodeTypeName) {
		return nil, fmt.Errorf("%w: %s does not allow %s", ErrNodeTypeConstraintViolation, parent.TypeName, c.NodeTypeName)
	}
	if c.NodeName != "" {
		if other, ok := d.g.ChildByName(parent.ID, c.NodeName); ok {
			return nil, fmt.Errorf("%w: %q is taken by %s", ErrNodeNameIsAlreadyOccupied, c.NodeName, other)
		}
	}
	if c.SucceedingSiblingID != "" && !contains(d.g.ChildAggregates(parent.ID), c.SucceedingSiblingID) {
		return nil, fmt.Errorf("%w: %s", ErrSucceedingSiblingNotFound, c.SucceedingSiblingID)
	}

	props := d.types.DefaultProperties(c.NodeTypeName)
	maps.Copy(props, c.Properties)
	if err := d.types.ValidateProperties(c.NodeTypeName, props); err != nil {
		return nil, err
	}

	covered := d.scope(origin, parent.Covered)
	b := &tetheredBuilder{d: d, ids: c.TetheredNodeIDs}
	b.out = append(b.out, &events.NodeAggregateWithNodeWasCreated{
		NodeAggregateID:       c.NodeAggregateID,
		NodeTypeName:          c.NodeTypeName,
		NodeID:                c.NodeID,
		OriginPoint:           origin.Clone(),
		CoveredPoints:         covered,
		ParentNodeAggregateID: parent.ID,
		NodeName:              c.NodeName,
		SucceedingSiblingID:   c.SucceedingSiblingID,
		Classification:        events.ClassificationRegular,
		Properties:            props,
	})
	if err := b.create(c.NodeAggregateID, c.NodeTypeName, []part{{origin: origin, covered: covered}}, ""); err != nil {
		return nil, err
	}
	return b.out, nil
}

// -----------------------------------------------------------------------------
// Variants
// -----------------------------------------------------------------------------

type variantKind int

const (
	variantSpecialization variantKind = iota
	variantGeneralization
	variantPeer
)

func (d *decider) createVariant(
	id events.NodeAggregateID,
	source, target dimension.Point,
	nodeID events.NodeID,
	tetheredIDs map[string]events.NodeID,
	kind variantKind,
) ([]events.Event, error) {
	source, target = normalize(source), normalize(target)
	info, err := d.aggregate(id)
	if err != nil {
		return nil, err
	}
	if info.Classification == events.ClassificationRoot {
		return nil, fmt.Errorf("%w: root aggregates have no variants", ErrNodeAggregateIsRoot)
	}
	if !info.Origins.Contains(source) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateDoesNotOccupyPoint, id, source)
	}
	if err := d.requireLegal(target); err != nil {
		return nil, err
	}

	switch kind {
	case variantSpecialization:
		if !d.vg.IsSpecializationOf(target, source) {
			return nil, fmt.Errorf("%w: %s is no specialization of %s", ErrDimensionSpacePointIsNoSpecialization, target, source)
		}
		if info.Origins.Contains(target) {
			return nil, fmt.Errorf("%w: %s is occupied", ErrNodeOccurrenceAlreadyCoversPoint, target)
		}
	case variantGeneralization:
		if !d.vg.IsGeneralizationOf(target, source) {
			return nil, fmt.Errorf("%w: %s is no generalization of %s", ErrDimensionSpacePointIsNoGeneralization, target, source)
		}
		if info.Covered.Contains(target) {
			return nil, fmt.Errorf("%w: %s is covered", ErrNodeOccurrenceAlreadyCoversPoint, target)
		}
	case variantPeer:
		if d.vg.IsSpecializationOf(target, source) || d.vg.IsGeneralizationOf(target, source) || target.Equal(source) {
			return nil, fmt.Errorf("%w: %s is related to %s", ErrDimensionSpacePointIsNoPeer, target, source)
		}
		if info.Covered.Contains(target) {
			return nil, fmt.Errorf("%w: %s is covered", ErrNodeOccurrenceAlreadyCoversPoint, target)
		}
	}

	parentID, ok := d.g.Parent(id, source)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no parent at %s", ErrNodeAggregateNotFound, id, source)
	}
	parent, err := d.aggregate(parentID)
	if err != nil {
		return nil, err
	}
	coverage := d.variantCoverage(id, target, parent.Covered)
	if !coverage.Contains(target) {
		return nil, fmt.Errorf("%w: parent %s at %s", ErrParentNodeNotVisible, parentID, target)
	}

	b := &tetheredBuilder{d: d, ids: tetheredIDs}
	b.out = append(b.out, d.variantEvent(id, nodeID, source, target, coverage, parentID))
	b.vary(id, source, target, info.Covered.Union(coverage), "")
	return b.out, nil
}

// -----------------------------------------------------------------------------
// Content
// -----------------------------------------------------------------------------

func (d *decider) setProperties(c SetNodeProperties) ([]events.Event, error) {
	origin := normalize(c.OriginPoint)
	info, err := d.aggregate(c.NodeAggregateID)
	if err != nil {
		return nil, err
	}
	if !info.Origins.Contains(origin) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateDoesNotOccupyPoint, info.ID, origin)
	}
	if len(c.Properties) == 0 && len(c.Unset) == 0 {
		return nil, fmt.Errorf("%w: no properties to set or unset", ErrInvalidCommandPayload)
	}
	if err := d.types.ValidateProperties(info.TypeName, c.Properties); err != nil {
		return nil, err
	}
	return []events.Event{&events.NodePropertiesWereSet{
		NodeAggregateID: info.ID,
		OriginPoint:     origin.Clone(),
		Properties:      maps.Clone(c.Properties),
		Unset:           append([]string(nil), c.Unset...),
	}}, nil
}

func (d *decider) setReferences(c SetNodeReferences) ([]events.Event, error) {
	origin := normalize(c.SourceOriginPoint)
	info, err := d.aggregate(c.SourceNodeAggregateID)
	if err != nil {
		return nil, err
	}
	if !info.Origins.Contains(origin) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateDoesNotOccupyPoint, info.ID, origin)
	}
	for _, target := range c.Targets {
		if !d.g.HasAggregate(target) {
			return nil, fmt.Errorf("%w: reference target %s", ErrNodeAggregateNotFound, target)
		}
	}
	return []events.Event{&events.NodeReferencesWereSet{
		NodeAggregateID: info.ID,
		OriginPoint:     origin.Clone(),
		ReferenceName:   c.ReferenceName,
		Targets:         append([]events.NodeAggregateID(nil), c.Targets...),
	}}, nil
}

func (d *decider) disable(c DisableNodeAggregate) ([]events.Event, error) {
	point := normalize(c.CoveredPoint)
	info, err := d.aggregate(c.NodeAggregateID)
	if err != nil {
		return nil, err
	}
	if !info.Covered.Contains(point) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateCurrentlyDoesNotCoverPoint, info.ID, point)
	}
	if info.Disabled.Contains(point) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateCurrentlyDisabled, info.ID, point)
	}
	return []events.Event{&events.NodeAggregateWasDisabled{
		NodeAggregateID: info.ID,
		AffectedPoints:  d.scope(point, info.Covered).Minus(info.Disabled),
	}}, nil
}

func (d *decider) enable(c EnableNodeAggregate) ([]events.Event, error) {
	point := normalize(c.CoveredPoint)
	info, err := d.aggregate(c.NodeAggregateID)
	if err != nil {
		return nil, err
	}
	if !info.Covered.Contains(point) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateCurrentlyDoesNotCoverPoint, info.ID, point)
	}
	if !info.Disabled.Contains(point) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateCurrentlyEnabled, info.ID, point)
	}
	return []events.Event{&events.NodeAggregateWasEnabled{
		NodeAggregateID: info.ID,
		AffectedPoints:  d.scope(point, info.Disabled),
	}}, nil
}

// -----------------------------------------------------------------------------
// Structure
// -----------------------------------------------------------------------------

// removable returns the aggregate if it may be removed directly.
func (d *decider) removable(id events.NodeAggregateID) (projection.AggregateInfo, error) {
	info, err := d.aggregate(id)
	if err != nil {
		return info, err
	}
	switch info.Classification {
	case events.ClassificationRoot:
		return info, fmt.Errorf("%w: %s cannot be removed", ErrNodeAggregateIsRoot, id)
	case events.ClassificationTethered:
		return info, fmt.Errorf("%w: %s is removed with its parent only", ErrTetheredNodeConstraintViolation, id)
	}
	return info, nil
}

func (d *decider) remove(c RemoveNodeAggregate) ([]events.Event, error) {
	info, err := d.removable(c.NodeAggregateID)
	if err != nil {
		return nil, err
	}
	return []events.Event{&events.NodeAggregateWasRemoved{
		NodeAggregateID: info.ID,
		CoveredPoints:   info.Covered,
	}}, nil
}

func (d *decider) removeFrom(c RemoveNodesFromAggregate) ([]events.Event, error) {
	point := normalize(c.CoveredPoint)
	info, err := d.removable(c.NodeAggregateID)
	if err != nil {
		return nil, err
	}
	if !info.Covered.Contains(point) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateCurrentlyDoesNotCoverPoint, info.ID, point)
	}
	return []events.Event{&events.NodeAggregateCoverageWasRemoved{
		NodeAggregateID: info.ID,
		CoveredPoints:   d.scope(point, info.Covered),
	}}, nil
}

// changeType decides a type change.
//
// Description:
//
//	Children the new type no longer allows are conflicts, and so are
//	tethered children the new type does not declare (or their children it
//	does not allow). With StrategyDeleteChildren every conflict is removed
//	first; with StrategyNoResolution or no strategy any conflict fails the
//	command with ErrNodeTypeConstraintConflict. Tethered children the new
//	type declares but the aggregate lacks are created last.
func (d *decider) changeType(c ChangeNodeAggregateType) ([]events.Event, error) {
	info, err := d.aggregate(c.NodeAggregateID)
	if err != nil {
		return nil, err
	}
	newType := c.NewNodeTypeName
	if err := d.requireConcreteType(newType); err != nil {
		return nil, err
	}
	isRoot := info.Classification == events.ClassificationRoot
	switch {
	case isRoot && !d.types.IsRoot(newType):
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeIsNotRoot, newType)
	case !isRoot && d.types.IsRoot(newType):
		return nil, fmt.Errorf("%w: %s", ErrNodeTypeIsRoot, newType)
	}
	if info.Classification != events.ClassificationTethered {
		for _, parentID := range d.g.ParentAggregates(info.ID) {
			parent, err := d.aggregate(parentID)
			if err != nil {
				return nil, err
			}
			if !d.allowsChild(parent, newType) {
				return nil, fmt.Errorf("%w: parent %s (%s) does not allow %s", ErrNodeTypeConstraintViolation, parentID, parent.TypeName, newType)
			}
		}
	}

	declared := map[string]string{}
	for _, tc := range d.types.TetheredChildren(newType) {
		declared[tc.Name] = tc.Type
	}

	b := &tetheredBuilder{d: d, ids: c.TetheredNodeIDs}
	var (
		conflicts []events.NodeAggregateID
		retyped   []events.Event
	)
	kept := map[string]bool{}
	for _, childID := range d.g.ChildAggregates(info.ID) {
		child, err := d.aggregate(childID)
		if err != nil {
			return nil, err
		}
		name := string(child.Name)
		if child.Classification == events.ClassificationTethered {
			if _, ok := declared[name]; !ok {
				conflicts = append(conflicts, childID)
				continue
			}
			kept[name] = true
			for _, gcID := range d.g.ChildAggregates(childID) {
				gc, err := d.aggregate(gcID)
				if err != nil {
					return nil, err
				}
				if gc.Classification != events.ClassificationTethered && !d.types.AllowsGrandchild(newType, name, gc.TypeName) {
					conflicts = append(conflicts, gcID)
				}
			}
			evs, cs, err := d.alignTethered(child, declared[name], b, name+"/")
			if err != nil {
				return nil, err
			}
			retyped = append(retyped, evs...)
			conflicts = append(conflicts, cs...)
			continue
		}
		_, clashes := declared[name]
		if clashes || !d.types.AllowsChild(newType, child.TypeName) {
			conflicts = append(conflicts, childID)
		}
	}

	var out []events.Event
	if len(conflicts) > 0 {
		if c.Strategy != StrategyDeleteChildren {
			ids := make([]string, 0, len(conflicts))
			for _, id := range conflicts {
				if !slices.Contains(ids, string(id)) {
					ids = append(ids, string(id))
				}
			}
			return nil, fmt.Errorf("%w: %s would not allow %s", ErrNodeTypeConstraintConflict, newType, strings.Join(ids, ", "))
		}
		removed := map[events.NodeAggregateID]bool{}
		for _, id := range conflicts {
			if removed[id] {
				continue
			}
			removed[id] = true
			child, _ := d.g.Aggregate(id)
			out = append(out, &events.NodeAggregateWasRemoved{NodeAggregateID: id, CoveredPoints: child.Covered})
		}
	}

	out = append(out, &events.NodeAggregateTypeWasChanged{NodeAggregateID: info.ID, NewNodeTypeName: newType})
	out = append(out, retyped...)

	parts := d.occurrenceParts(info)
	for _, tc := range d.types.TetheredChildren(newType) {
		if kept[tc.Name] {
			continue
		}
		if err := b.createOne(info.ID, tc.Name, tc.Type, parts, ""); err != nil {
			return nil, err
		}
	}
	return append(out, b.out...), nil
}

// alignTethered changes an existing tethered child to the type its
// parent now declares for it. Its tethered children follow the new type:
// undeclared ones are conflicts, missing ones are created through b.
// Removed conflicts take their descendants with them.
func (d *decider) alignTethered(child projection.AggregateInfo, typeName string, b *tetheredBuilder, prefix string) ([]events.Event, []events.NodeAggregateID, error) {
	if child.TypeName == typeName {
		return nil, nil, nil
	}
	out := []events.Event{&events.NodeAggregateTypeWasChanged{NodeAggregateID: child.ID, NewNodeTypeName: typeName}}

	declared := map[string]string{}
	for _, tc := range d.types.TetheredChildren(typeName) {
		declared[tc.Name] = tc.Type
	}
	var conflicts []events.NodeAggregateID
	have := map[string]bool{}
	for _, nestedID := range d.g.ChildAggregates(child.ID) {
		nested, err := d.aggregate(nestedID)
		if err != nil {
			return nil, nil, err
		}
		if nested.Classification != events.ClassificationTethered {
			if !d.types.AllowsChild(typeName, nested.TypeName) {
				conflicts = append(conflicts, nestedID)
			}
			continue
		}
		name := string(nested.Name)
		want, ok := declared[name]
		if !ok {
			conflicts = append(conflicts, nestedID)
			continue
		}
		have[name] = true
		evs, cs, err := d.alignTethered(nested, want, b, prefix+name+"/")
		if err != nil {
			return nil, nil, err
		}
		out = append(out, evs...)
		conflicts = append(conflicts, cs...)
	}

	parts := d.occurrenceParts(child)
	for _, tc := range d.types.TetheredChildren(typeName) {
		if have[tc.Name] {
			continue
		}
		if err := b.createOne(child.ID, tc.Name, tc.Type, parts, prefix); err != nil {
			return nil, nil, err
		}
	}
	return out, conflicts, nil
}

// createOne creates a single named tethered child and its descendants.
func (b *tetheredBuilder) createOne(parent events.NodeAggregateID, name, typeName string, parts []part, prefix string) error {
	if len(parts) == 0 {
		return nil
	}
	id := events.TetheredNodeAggregateID(parent, events.NodeName(name))
	path := prefix + name
	first := parts[0]
	b.out = append(b.out, &events.NodeAggregateWithNodeWasCreated{
		NodeAggregateID:       id,
		NodeTypeName:          typeName,
		NodeID:                b.nodeID(path),
		OriginPoint:           first.origin.Clone(),
		CoveredPoints:         first.covered.Clone(),
		ParentNodeAggregateID: parent,
		NodeName:              events.NodeName(name),
		Classification:        events.ClassificationTethered,
		Properties:            b.d.types.DefaultProperties(typeName),
	})
	for _, p := range parts[1:] {
		b.out = append(b.out, b.d.variantEvent(id, b.nodeID(path+"@"+p.origin.Hash()), first.origin, p.origin, p.covered, parent))
	}
	return b.create(id, typeName, parts, path+"/")
}

func (d *decider) move(c MoveNodeAggregate) ([]events.Event, error) {
	info, err := d.aggregate(c.NodeAggregateID)
	if err != nil {
		return nil, err
	}
	switch info.Classification {
	case events.ClassificationRoot:
		return nil, fmt.Errorf("%w: %s cannot be moved", ErrNodeAggregateIsRoot, info.ID)
	case events.ClassificationTethered:
		return nil, fmt.Errorf("%w: %s moves with its parent only", ErrTetheredNodeConstraintViolation, info.ID)
	}
	parent, err := d.aggregate(c.NewParentNodeAggregateID)
	if err != nil {
		return nil, err
	}
	if parent.ID == info.ID || d.g.IsDescendant(parent.ID, info.ID) {
		return nil, fmt.Errorf("%w: %s below %s", ErrMoveIntoOwnDescendant, info.ID, parent.ID)
	}
	if !d.allowsChild(parent, info.TypeName) {
		return nil, fmt.Errorf("%w: %s does not allow %s", ErrNodeTypeConstraintViolation, parent.TypeName, info.TypeName)
	}

	affected := info.Covered
	if len(c.CoveredPoint) > 0 {
		if !info.Covered.Contains(c.CoveredPoint) {
			return nil, fmt.Errorf("%w: %s at %s", ErrNodeAggregateCurrentlyDoesNotCoverPoint, info.ID, c.CoveredPoint)
		}
		affected = d.scope(c.CoveredPoint, info.Covered)
	}
	if missing := affected.Minus(parent.Covered); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s does not cover %s", ErrParentNodeNotVisible, parent.ID, strings.Join(missing.Hashes(), "; "))
	}
	if info.Name != "" {
		for _, sibling := range d.g.ChildAggregates(parent.ID) {
			if sibling == info.ID {
				continue
			}
			if s, ok := d.g.Aggregate(sibling); ok && s.Name == info.Name {
				return nil, fmt.Errorf("%w: %q is taken by %s", ErrNodeNameIsAlreadyOccupied, info.Name, sibling)
			}
		}
	}
	if c.NewSucceedingSiblingID != "" {
		if c.NewSucceedingSiblingID == info.ID || !contains(d.g.ChildAggregates(parent.ID), c.NewSucceedingSiblingID) {
			return nil, fmt.Errorf("%w: %s", ErrSucceedingSiblingNotFound, c.NewSucceedingSiblingID)
		}
	}

	return []events.Event{&events.NodeAggregateWasMoved{
		NodeAggregateID:     info.ID,
		NewParentID:         parent.ID,
		SucceedingSiblingID: c.NewSucceedingSiblingID,
		AffectedPoints:      affected.Clone(),
	}}, nil
}

func contains(ids []events.NodeAggregateID, id events.NodeAggregateID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
