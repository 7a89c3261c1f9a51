// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contentgraph

import (
	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/AleutianAI/contentgraph/services/contentgraph/events"
	"github.com/AleutianAI/contentgraph/services/contentgraph/eventstore"
	"github.com/AleutianAI/contentgraph/services/contentgraph/projection"
	"github.com/AleutianAI/contentgraph/services/contentgraph/workspace"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error kind: validation, not_found, concurrency,
	// invariant, consistency or internal.
	Code string `json:"code"`

	// Conflicts lists rebase or publish conflicts (optional).
	Conflicts []workspace.Conflict `json:"conflicts,omitempty"`
}

// HealthResponse is the response for GET /v1/contentgraph/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// DimensionsResponse describes the active dimension snapshot.
type DimensionsResponse struct {
	Hash        string                `json:"hash"`
	Dimensions  []dimension.Dimension `json:"dimensions"`
	LegalPoints dimension.PointSet    `json:"legalPoints"`
}

// CommandResponse is the response for POST /v1/contentgraph/commands/:type.
type CommandResponse struct {
	// Position is the stream head after the command's events.
	Position eventstore.Position `json:"position"`

	// Events lists the types of the appended events in order.
	Events []events.Type `json:"events"`

	// Applied is set when the projection applied the events before the
	// response was written.
	Applied bool `json:"applied"`
}

// NodeResponse wraps one node. Node is null when nothing is visible.
type NodeResponse struct {
	Node *projection.Node `json:"node"`
}

// NodesResponse is a page of child nodes.
type NodesResponse struct {
	Nodes []*projection.Node `json:"nodes"`

	// Total counts all matching children, ignoring limit and offset.
	Total int `json:"total"`
}

// SubtreeResponse holds the subtrees below the requested roots.
type SubtreeResponse struct {
	Subtrees []*projection.Subtree `json:"subtrees"`
}

// ReferencesResponse holds references in either direction.
type ReferencesResponse struct {
	References []projection.Reference `json:"references"`
}

// CreateWorkspaceRequest is the body of POST /v1/contentgraph/workspaces.
type CreateWorkspaceRequest struct {
	Name  string         `json:"name" binding:"required"`
	Kind  workspace.Kind `json:"kind" binding:"required,oneof=root personal shared"`
	Base  string         `json:"base" binding:"required_unless=Kind root"`
	Owner string         `json:"owner" binding:"required_if=Kind personal"`
	Title string         `json:"title"`
}

// PublishRequest is the body of POST /v1/contentgraph/workspaces/:workspace/publish.
// An empty target publishes to the base workspace.
type PublishRequest struct {
	Target string `json:"target"`
}

// WorkspacesResponse lists workspaces.
type WorkspacesResponse struct {
	Workspaces []workspace.Workspace `json:"workspaces"`
}

// HistoryResponse lists the content streams a workspace pointed at.
type HistoryResponse struct {
	History []workspace.Repoint `json:"history"`
}
