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
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
)

// Type is the name of a command type as used in command payloads and
// recorded in event metadata.
type Type string

// Command type names.
const (
	TypeCreateRootNodeAggregateWithNode Type = "CreateRootNodeAggregateWithNode"
	TypeCreateNodeAggregateWithNode     Type = "CreateNodeAggregateWithNode"
	TypeCreateNodeSpecialization        Type = "CreateNodeSpecialization"
	TypeCreateNodeGeneralization        Type = "CreateNodeGeneralization"
	TypeCreateNodePeerVariant           Type = "CreateNodePeerVariant"
	TypeSetNodeProperties               Type = "SetNodeProperties"
	TypeSetNodeReferences               Type = "SetNodeReferences"
	TypeDisableNodeAggregate            Type = "DisableNodeAggregate"
	TypeEnableNodeAggregate             Type = "EnableNodeAggregate"
	TypeRemoveNodeAggregate             Type = "RemoveNodeAggregate"
	TypeRemoveNodesFromAggregate        Type = "RemoveNodesFromAggregate"
	TypeChangeNodeAggregateType         Type = "ChangeNodeAggregateType"
	TypeMoveNodeAggregate               Type = "MoveNodeAggregate"
)

// Types lists every command type in declaration order.
func Types() []Type {
	return []Type{
		TypeCreateRootNodeAggregateWithNode,
		TypeCreateNodeAggregateWithNode,
		TypeCreateNodeSpecialization,
		TypeCreateNodeGeneralization,
		TypeCreateNodePeerVariant,
		TypeSetNodeProperties,
		TypeSetNodeReferences,
		TypeDisableNodeAggregate,
		TypeEnableNodeAggregate,
		TypeRemoveNodeAggregate,
		TypeRemoveNodesFromAggregate,
		TypeChangeNodeAggregateType,
		TypeMoveNodeAggregate,
	}
}

// Command is implemented by the commands of this package only.
type Command interface {
	// CommandType returns the command's type name.
	CommandType() Type

	// withGeneratedIDs returns a copy with every omitted generated
	// identifier filled in, so that re-running the copy reproduces the
	// same events.
	withGeneratedIDs() Command
}

// ChangeTypeStrategy resolves children the new node type no longer allows.
type ChangeTypeStrategy string

// Strategies for ChangeNodeAggregateType.
const (
	// StrategyNone is the absent strategy: succeed only without conflicts.
	StrategyNone ChangeTypeStrategy = ""

	// StrategyDeleteChildren removes every conflicting child aggregate.
	StrategyDeleteChildren ChangeTypeStrategy = "delete-children"

	// StrategyNoResolution reports conflicts instead of fixing them.
	StrategyNoResolution ChangeTypeStrategy = "no-resolution"
)

// -----------------------------------------------------------------------------
// Creation
// -----------------------------------------------------------------------------

// CreateRootNodeAggregateWithNode creates a root aggregate covering the
// whole dimension space.
type CreateRootNodeAggregateWithNode struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	NodeTypeName    string                 `json:"nodeTypeName" validate:"required,nodetype"`
	NodeID          events.NodeID          `json:"nodeId,omitempty" validate:"omitempty,uuid"`
}

// CreateNodeAggregateWithNode creates an aggregate below a parent with
// one occurrence at OriginPoint, together with its tethered descendants.
type CreateNodeAggregateWithNode struct {
	NodeAggregateID       events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	NodeTypeName          string                 `json:"nodeTypeName" validate:"required,nodetype"`
	OriginPoint           dimension.Point        `json:"originDimensionSpacePoint"`
	ParentNodeAggregateID events.NodeAggregateID `json:"parentNodeAggregateId" validate:"required,aggregateid"`
	NodeName              events.NodeName        `json:"nodeName,omitempty" validate:"omitempty,nodename"`
	SucceedingSiblingID   events.NodeAggregateID `json:"succeedingSiblingNodeAggregateId,omitempty" validate:"omitempty,aggregateid"`
	Properties            map[string]any         `json:"initialPropertyValues,omitempty"`
	NodeID                events.NodeID          `json:"nodeId,omitempty" validate:"omitempty,uuid"`

	// TetheredNodeIDs maps tethered paths ("main", "main/footer") to the
	// node ids of their occurrences. Further occurrences of one path are
	// keyed "path@origin-hash".
	TetheredNodeIDs map[string]events.NodeID `json:"tetheredNodeIds,omitempty"`
}

// -----------------------------------------------------------------------------
// Variants
// -----------------------------------------------------------------------------

// CreateNodeSpecialization adds an occurrence at a specialization of the
// source origin.
type CreateNodeSpecialization struct {
	NodeAggregateID events.NodeAggregateID   `json:"nodeAggregateId" validate:"required,aggregateid"`
	SourceOrigin    dimension.Point          `json:"sourceOrigin"`
	TargetOrigin    dimension.Point          `json:"specializationOrigin"`
	NodeID          events.NodeID            `json:"nodeId,omitempty" validate:"omitempty,uuid"`
	TetheredNodeIDs map[string]events.NodeID `json:"tetheredNodeIds,omitempty"`
}

// CreateNodeGeneralization adds an occurrence at a generalization of the
// source origin.
type CreateNodeGeneralization struct {
	NodeAggregateID events.NodeAggregateID   `json:"nodeAggregateId" validate:"required,aggregateid"`
	SourceOrigin    dimension.Point          `json:"sourceOrigin"`
	TargetOrigin    dimension.Point          `json:"generalizationOrigin"`
	NodeID          events.NodeID            `json:"nodeId,omitempty" validate:"omitempty,uuid"`
	TetheredNodeIDs map[string]events.NodeID `json:"tetheredNodeIds,omitempty"`
}

// CreateNodePeerVariant adds an occurrence at a point unrelated to the
// source origin.
type CreateNodePeerVariant struct {
	NodeAggregateID events.NodeAggregateID   `json:"nodeAggregateId" validate:"required,aggregateid"`
	SourceOrigin    dimension.Point          `json:"sourceOrigin"`
	TargetOrigin    dimension.Point          `json:"peerOrigin"`
	NodeID          events.NodeID            `json:"nodeId,omitempty" validate:"omitempty,uuid"`
	TetheredNodeIDs map[string]events.NodeID `json:"tetheredNodeIds,omitempty"`
}

// -----------------------------------------------------------------------------
// Content
// -----------------------------------------------------------------------------

// SetNodeProperties merges property values into the occurrence at
// OriginPoint. Unset removes properties.
type SetNodeProperties struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	OriginPoint     dimension.Point        `json:"originDimensionSpacePoint"`
	Properties      map[string]any         `json:"propertyValues,omitempty"`
	Unset           []string               `json:"unsetPropertyNames,omitempty" validate:"dive,required"`
}

// SetNodeReferences replaces a named reference list of the occurrence at
// SourceOriginPoint. An empty target list clears it.
type SetNodeReferences struct {
	SourceNodeAggregateID events.NodeAggregateID   `json:"sourceNodeAggregateId" validate:"required,aggregateid"`
	SourceOriginPoint     dimension.Point          `json:"sourceOriginDimensionSpacePoint"`
	ReferenceName         string                   `json:"referenceName" validate:"required,max=64"`
	Targets               []events.NodeAggregateID `json:"destinationNodeAggregateIds" validate:"dive,aggregateid"`
}

// DisableNodeAggregate hides an aggregate at CoveredPoint and its covered
// specializations.
type DisableNodeAggregate struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	CoveredPoint    dimension.Point        `json:"coveredDimensionSpacePoint"`
}

// EnableNodeAggregate reverts DisableNodeAggregate at CoveredPoint and its
// specializations.
type EnableNodeAggregate struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	CoveredPoint    dimension.Point        `json:"coveredDimensionSpacePoint"`
}

// -----------------------------------------------------------------------------
// Structure
// -----------------------------------------------------------------------------

// RemoveNodeAggregate removes an aggregate everywhere, together with its
// descendants.
type RemoveNodeAggregate struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
}

// RemoveNodesFromAggregate removes an aggregate at CoveredPoint and its
// covered specializations.
type RemoveNodesFromAggregate struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	CoveredPoint    dimension.Point        `json:"coveredDimensionSpacePoint"`
}

// ChangeNodeAggregateType changes the node type of an aggregate.
type ChangeNodeAggregateType struct {
	NodeAggregateID events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	NewNodeTypeName string                 `json:"newNodeTypeName" validate:"required,nodetype"`
	Strategy        ChangeTypeStrategy     `json:"strategy,omitempty" validate:"omitempty,oneof=delete-children no-resolution"`

	// TetheredNodeIDs maps tethered paths of the new type to node ids.
	TetheredNodeIDs map[string]events.NodeID `json:"tetheredNodeIds,omitempty"`
}

// MoveNodeAggregate attaches an aggregate below a new parent. An empty
// CoveredPoint moves it at every covered point; otherwise at the point and
// its covered specializations.
type MoveNodeAggregate struct {
	NodeAggregateID          events.NodeAggregateID `json:"nodeAggregateId" validate:"required,aggregateid"`
	NewParentNodeAggregateID events.NodeAggregateID `json:"newParentNodeAggregateId" validate:"required,aggregateid"`
	NewSucceedingSiblingID   events.NodeAggregateID `json:"newSucceedingSiblingNodeAggregateId,omitempty" validate:"omitempty,aggregateid"`
	CoveredPoint             dimension.Point        `json:"coveredDimensionSpacePoint,omitempty"`
}

// -----------------------------------------------------------------------------
// Command interface implementations
// -----------------------------------------------------------------------------

func (CreateRootNodeAggregateWithNode) CommandType() Type { return TypeCreateRootNodeAggregateWithNode }
func (CreateNodeAggregateWithNode) CommandType() Type     { return TypeCreateNodeAggregateWithNode }
func (CreateNodeSpecialization) CommandType() Type        { return TypeCreateNodeSpecialization }
func (CreateNodeGeneralization) CommandType() Type        { return TypeCreateNodeGeneralization }
func (CreateNodePeerVariant) CommandType() Type           { return TypeCreateNodePeerVariant }
func (SetNodeProperties) CommandType() Type               { return TypeSetNodeProperties }
func (SetNodeReferences) CommandType() Type               { return TypeSetNodeReferences }
func (DisableNodeAggregate) CommandType() Type            { return TypeDisableNodeAggregate }
func (EnableNodeAggregate) CommandType() Type             { return TypeEnableNodeAggregate }
func (RemoveNodeAggregate) CommandType() Type             { return TypeRemoveNodeAggregate }
func (RemoveNodesFromAggregate) CommandType() Type        { return TypeRemoveNodesFromAggregate }
func (ChangeNodeAggregateType) CommandType() Type         { return TypeChangeNodeAggregateType }
func (MoveNodeAggregate) CommandType() Type               { return TypeMoveNodeAggregate }

func (c CreateRootNodeAggregateWithNode) withGeneratedIDs() Command {
	if c.NodeID == "" {
		c.NodeID = events.NewNodeID()
	}
	return c
}

func (c CreateNodeAggregateWithNode) withGeneratedIDs() Command {
	if c.NodeID == "" {
		c.NodeID = events.NewNodeID()
	}
	c.TetheredNodeIDs = cloneIDs(c.TetheredNodeIDs)
	return c
}

func (c CreateNodeSpecialization) withGeneratedIDs() Command {
	if c.NodeID == "" {
		c.NodeID = events.NewNodeID()
	}
	c.TetheredNodeIDs = cloneIDs(c.TetheredNodeIDs)
	return c
}

func (c CreateNodeGeneralization) withGeneratedIDs() Command {
	if c.NodeID == "" {
		c.NodeID = events.NewNodeID()
	}
	c.TetheredNodeIDs = cloneIDs(c.TetheredNodeIDs)
	return c
}

func (c CreateNodePeerVariant) withGeneratedIDs() Command {
	if c.NodeID == "" {
		c.NodeID = events.NewNodeID()
	}
	c.TetheredNodeIDs = cloneIDs(c.TetheredNodeIDs)
	return c
}

func (c ChangeNodeAggregateType) withGeneratedIDs() Command {
	c.TetheredNodeIDs = cloneIDs(c.TetheredNodeIDs)
	return c
}

func (c SetNodeProperties) withGeneratedIDs() Command        { return c }
func (c SetNodeReferences) withGeneratedIDs() Command        { return c }
func (c DisableNodeAggregate) withGeneratedIDs() Command     { return c }
func (c EnableNodeAggregate) withGeneratedIDs() Command      { return c }
func (c RemoveNodeAggregate) withGeneratedIDs() Command      { return c }
func (c RemoveNodesFromAggregate) withGeneratedIDs() Command { return c }
func (c MoveNodeAggregate) withGeneratedIDs() Command        { return c }

// cloneIDs copies a tethered id map so handlers can fill it in. The
// handler adds an id for every tethered occurrence it creates.
func cloneIDs(in map[string]events.NodeID) map[string]events.NodeID {
	out := make(map[string]events.NodeID, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
