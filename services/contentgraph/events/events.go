// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events defines the domain events recorded on content streams.
//
// Events form a closed set: every type implements Event through an
// unexported marker method, and Decode switches exhaustively over the
// type names. Each event states the exact points it affects, so applying
// it to the projection never consults the dimension configuration.
//
// Events do not carry the id of the stream they live on; the envelope
// does. This lets workspaces copy events between streams unchanged.
package events

import (
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
)

// Type is the persisted name of an event type.
type Type string

// Event type names. These strings are persisted and must never change.
const (
	TypeContentStreamWasCreated             Type = "ContentStreamWasCreated"
	TypeContentStreamWasForked              Type = "ContentStreamWasForked"
	TypeRootNodeAggregateWithNodeWasCreated Type = "RootNodeAggregateWithNodeWasCreated"
	TypeNodeAggregateWithNodeWasCreated     Type = "NodeAggregateWithNodeWasCreated"
	TypeNodeSpecializationVariantWasCreated Type = "NodeSpecializationVariantWasCreated"
	TypeNodeGeneralizationVariantWasCreated Type = "NodeGeneralizationVariantWasCreated"
	TypeNodePeerVariantWasCreated           Type = "NodePeerVariantWasCreated"
	TypeNodePropertiesWereSet               Type = "NodePropertiesWereSet"
	TypeNodeReferencesWereSet               Type = "NodeReferencesWereSet"
	TypeNodeAggregateWasDisabled            Type = "NodeAggregateWasDisabled"
	TypeNodeAggregateWasEnabled             Type = "NodeAggregateWasEnabled"
	TypeNodeAggregateWasRemoved             Type = "NodeAggregateWasRemoved"
	TypeNodeAggregateCoverageWasRemoved     Type = "NodeAggregateCoverageWasRemoved"
	TypeNodeAggregateTypeWasChanged         Type = "NodeAggregateTypeWasChanged"
	TypeNodeAggregateWasMoved               Type = "NodeAggregateWasMoved"
)

// Event is implemented by every domain event of this package only.
type Event interface {
	// EventType returns the persisted type name.
	EventType() Type

	// AffectedAggregates lists the aggregates whose state the event changes.
	AffectedAggregates() []NodeAggregateID

	isEvent()
}

// Informational reports whether e only documents stream lineage and has
// no effect on the graph. Such events are never copied between streams.
func Informational(e Event) bool {
	switch e.(type) {
	case *ContentStreamWasCreated, *ContentStreamWasForked:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Stream lineage
// -----------------------------------------------------------------------------

// ContentStreamWasCreated opens a fresh stream.
type ContentStreamWasCreated struct{}

// ContentStreamWasForked opens a fork and records where it branched.
type ContentStreamWasForked struct {
	SourceStream  string `json:"sourceStream"`
	SourceVersion uint64 `json:"sourceVersion"`
}

// -----------------------------------------------------------------------------
// Node creation
// -----------------------------------------------------------------------------

// RootNodeAggregateWithNodeWasCreated creates a root aggregate with one
// occurrence at the empty origin covering CoveredPoints.
type RootNodeAggregateWithNodeWasCreated struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	NodeTypeName    string             `json:"nodeTypeName"`
	NodeID          NodeID             `json:"nodeId"`
	CoveredPoints   dimension.PointSet `json:"coveredPoints"`
}

// NodeAggregateWithNodeWasCreated creates an aggregate below a parent with
// one occurrence at OriginPoint covering CoveredPoints.
//
// When SucceedingSiblingID is set and is a child of the parent at a
// covered point, the node is inserted before it there; otherwise appended.
type NodeAggregateWithNodeWasCreated struct {
	NodeAggregateID       NodeAggregateID    `json:"nodeAggregateId"`
	NodeTypeName          string             `json:"nodeTypeName"`
	NodeID                NodeID             `json:"nodeId"`
	OriginPoint           dimension.Point    `json:"originPoint"`
	CoveredPoints         dimension.PointSet `json:"coveredPoints"`
	ParentNodeAggregateID NodeAggregateID    `json:"parentNodeAggregateId"`
	NodeName              NodeName           `json:"nodeName,omitempty"`
	SucceedingSiblingID   NodeAggregateID    `json:"succeedingSiblingNodeAggregateId,omitempty"`
	Classification        Classification     `json:"classification"`
	Properties            map[string]any     `json:"properties,omitempty"`
}

// -----------------------------------------------------------------------------
// Variants
// -----------------------------------------------------------------------------

// NodeSpecializationVariantWasCreated adds an occurrence at a
// specialization of SourceOrigin. It takes over Coverage from whichever
// occurrences covered those points before.
type NodeSpecializationVariantWasCreated struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	NodeID          NodeID             `json:"nodeId"`
	SourceOrigin    dimension.Point    `json:"sourceOrigin"`
	TargetOrigin    dimension.Point    `json:"specializationOrigin"`
	Coverage        dimension.PointSet `json:"specializationCoverage"`
	ParentID        NodeAggregateID    `json:"parentNodeAggregateId,omitempty"`
}

// NodeGeneralizationVariantWasCreated adds an occurrence at a
// generalization of SourceOrigin. Points of Coverage not yet covered by
// the aggregate are attached below ParentID.
type NodeGeneralizationVariantWasCreated struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	NodeID          NodeID             `json:"nodeId"`
	SourceOrigin    dimension.Point    `json:"sourceOrigin"`
	TargetOrigin    dimension.Point    `json:"generalizationOrigin"`
	Coverage        dimension.PointSet `json:"generalizationCoverage"`
	ParentID        NodeAggregateID    `json:"parentNodeAggregateId,omitempty"`
}

// NodePeerVariantWasCreated adds an occurrence at a point that neither
// generalizes nor specializes SourceOrigin.
type NodePeerVariantWasCreated struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	NodeID          NodeID             `json:"nodeId"`
	SourceOrigin    dimension.Point    `json:"sourceOrigin"`
	TargetOrigin    dimension.Point    `json:"peerOrigin"`
	Coverage        dimension.PointSet `json:"peerCoverage"`
	ParentID        NodeAggregateID    `json:"parentNodeAggregateId,omitempty"`
}

// -----------------------------------------------------------------------------
// Content changes
// -----------------------------------------------------------------------------

// NodePropertiesWereSet merges Properties into the occurrence at
// OriginPoint and removes Unset.
type NodePropertiesWereSet struct {
	NodeAggregateID NodeAggregateID `json:"nodeAggregateId"`
	OriginPoint     dimension.Point `json:"originPoint"`
	Properties      map[string]any  `json:"properties,omitempty"`
	Unset           []string        `json:"unset,omitempty"`
}

// NodeReferencesWereSet replaces the named reference list of the
// occurrence at OriginPoint.
type NodeReferencesWereSet struct {
	NodeAggregateID NodeAggregateID   `json:"nodeAggregateId"`
	OriginPoint     dimension.Point   `json:"originPoint"`
	ReferenceName   string            `json:"referenceName"`
	Targets         []NodeAggregateID `json:"targets"`
}

// NodeAggregateWasDisabled hides the aggregate (and, for frontend
// queries, its descendants) at AffectedPoints.
type NodeAggregateWasDisabled struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	AffectedPoints  dimension.PointSet `json:"affectedDimensionSpacePoints"`
}

// NodeAggregateWasEnabled reverts NodeAggregateWasDisabled at
// AffectedPoints.
type NodeAggregateWasEnabled struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	AffectedPoints  dimension.PointSet `json:"affectedDimensionSpacePoints"`
}

// NodeAggregateWasRemoved removes the aggregate from every point it
// covered, cascading to its descendants at those points.
type NodeAggregateWasRemoved struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	CoveredPoints   dimension.PointSet `json:"affectedCoveredDimensionSpacePoints"`
}

// NodeAggregateCoverageWasRemoved removes the aggregate from a subset of
// its covered points, cascading to descendants at those points.
// Occurrences left without coverage disappear.
type NodeAggregateCoverageWasRemoved struct {
	NodeAggregateID NodeAggregateID    `json:"nodeAggregateId"`
	CoveredPoints   dimension.PointSet `json:"affectedCoveredDimensionSpacePoints"`
}

// NodeAggregateTypeWasChanged changes the node type of an aggregate.
type NodeAggregateTypeWasChanged struct {
	NodeAggregateID NodeAggregateID `json:"nodeAggregateId"`
	NewNodeTypeName string          `json:"newNodeTypeName"`
}

// NodeAggregateWasMoved attaches the aggregate below NewParentID at
// AffectedPoints, before SucceedingSiblingID where that sibling is present.
type NodeAggregateWasMoved struct {
	NodeAggregateID     NodeAggregateID    `json:"nodeAggregateId"`
	NewParentID         NodeAggregateID    `json:"newParentNodeAggregateId"`
	SucceedingSiblingID NodeAggregateID    `json:"newSucceedingSiblingNodeAggregateId,omitempty"`
	AffectedPoints      dimension.PointSet `json:"affectedDimensionSpacePoints"`
}

// -----------------------------------------------------------------------------
// Event interface implementations
// -----------------------------------------------------------------------------

func (*ContentStreamWasCreated) EventType() Type { return TypeContentStreamWasCreated }
func (*ContentStreamWasForked) EventType() Type  { return TypeContentStreamWasForked }
func (*RootNodeAggregateWithNodeWasCreated) EventType() Type {
	return TypeRootNodeAggregateWithNodeWasCreated
}
func (*NodeAggregateWithNodeWasCreated) EventType() Type { return TypeNodeAggregateWithNodeWasCreated }
func (*NodeSpecializationVariantWasCreated) EventType() Type {
	return TypeNodeSpecializationVariantWasCreated
}
func (*NodeGeneralizationVariantWasCreated) EventType() Type {
	return TypeNodeGeneralizationVariantWasCreated
}
func (*NodePeerVariantWasCreated) EventType() Type       { return TypeNodePeerVariantWasCreated }
func (*NodePropertiesWereSet) EventType() Type           { return TypeNodePropertiesWereSet }
func (*NodeReferencesWereSet) EventType() Type           { return TypeNodeReferencesWereSet }
func (*NodeAggregateWasDisabled) EventType() Type        { return TypeNodeAggregateWasDisabled }
func (*NodeAggregateWasEnabled) EventType() Type         { return TypeNodeAggregateWasEnabled }
func (*NodeAggregateWasRemoved) EventType() Type         { return TypeNodeAggregateWasRemoved }
func (*NodeAggregateCoverageWasRemoved) EventType() Type { return TypeNodeAggregateCoverageWasRemoved }
func (*NodeAggregateTypeWasChanged) EventType() Type     { return TypeNodeAggregateTypeWasChanged }
func (*NodeAggregateWasMoved) EventType() Type           { return TypeNodeAggregateWasMoved }

func (*ContentStreamWasCreated) AffectedAggregates() []NodeAggregateID { return nil }
func (*ContentStreamWasForked) AffectedAggregates() []NodeAggregateID  { return nil }
func (e *RootNodeAggregateWithNodeWasCreated) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeAggregateWithNodeWasCreated) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeSpecializationVariantWasCreated) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeGeneralizationVariantWasCreated) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodePeerVariantWasCreated) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodePropertiesWereSet) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeReferencesWereSet) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeAggregateWasDisabled) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeAggregateWasEnabled) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeAggregateWasRemoved) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeAggregateCoverageWasRemoved) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeAggregateTypeWasChanged) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}
func (e *NodeAggregateWasMoved) AffectedAggregates() []NodeAggregateID {
	return []NodeAggregateID{e.NodeAggregateID}
}

func (*ContentStreamWasCreated) isEvent()             {}
func (*ContentStreamWasForked) isEvent()              {}
func (*RootNodeAggregateWithNodeWasCreated) isEvent() {}
func (*NodeAggregateWithNodeWasCreated) isEvent()     {}
func (*NodeSpecializationVariantWasCreated) isEvent() {}
func (*NodeGeneralizationVariantWasCreated) isEvent() {}
func (*NodePeerVariantWasCreated) isEvent()           {}
func (*NodePropertiesWereSet) isEvent()               {}
func (*NodeReferencesWereSet) isEvent()               {}
func (*NodeAggregateWasDisabled) isEvent()            {}
func (*NodeAggregateWasEnabled) isEvent()             {}
func (*NodeAggregateWasRemoved) isEvent()             {}
func (*NodeAggregateCoverageWasRemoved) isEvent()     {}
func (*NodeAggregateTypeWasChanged) isEvent()         {}
func (*NodeAggregateWasMoved) isEvent()               {}
